package coalesce

import (
	"crypto/sha1"
	"sync"
	"time"

	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/types"
)

// Resolver converts a filesystem path into its db_path. Implemented by
// pkg/pathutil.Resolver; kept as a narrow interface here so coalesce
// does not depend on the resolver's registration/lifecycle methods.
type Resolver interface {
	Resolve(fsPath string) (rootID string, dbPath string, err error)
}

const defaultShards = 16

// Map is a sharded coalescing task map: concurrent filesystem events
// for the same path collapse into a single pending index-or-delete
// action, keyed by sha1-sharded locks so unrelated paths never block
// each other.
type Map struct {
	shards    []*shard
	numShards int

	maxKeys int64
	sizeMu  sync.Mutex
	size    int64

	wakeMu sync.Mutex
	queued map[string]struct{}
	wake   chan string
}

type shard struct {
	mu    sync.Mutex
	tasks map[string]*types.CoalesceTask
}

// New builds an empty Map with the given shard count and key cap. A
// non-positive shardCount falls back to 16; a non-positive maxKeys
// disables the bound (not recommended outside tests).
func New(shardCount int, maxKeys int64) *Map {
	if shardCount <= 0 {
		shardCount = defaultShards
	}
	m := &Map{
		numShards: shardCount,
		maxKeys:   maxKeys,
		queued:    make(map[string]struct{}),
		wake:      make(chan string, 4096),
	}
	m.shards = make([]*shard, shardCount)
	for i := range m.shards {
		m.shards[i] = &shard{tasks: make(map[string]*types.CoalesceTask)}
	}
	return m
}

func (m *Map) shardFor(key string) *shard {
	sum := sha1.Sum([]byte(key))
	return m.shards[int(sum[0])%m.numShards]
}

// Size returns the current number of pending keys across all shards.
func (m *Map) Size() int64 {
	m.sizeMu.Lock()
	defer m.sizeMu.Unlock()
	return m.size
}

// Submit resolves a raw FsEvent to one or more coalesce-map mutations.
// MOVED events are split into (DELETE, src) and (INDEX, dest) before
// merging.
func (m *Map) Submit(ev types.FsEvent, resolver Resolver) {
	if ev.Kind == types.FsEventMoved {
		if _, dbPath, err := resolver.Resolve(ev.Path); err == nil {
			m.mergeOne(dbPath, types.ActionDelete, ev.TS)
		}
		if ev.DestPath != "" {
			if _, dbPath, err := resolver.Resolve(ev.DestPath); err == nil {
				m.mergeOne(dbPath, types.ActionIndex, ev.TS)
			}
		}
		return
	}

	_, dbPath, err := resolver.Resolve(ev.Path)
	if err != nil {
		return
	}
	action := types.ActionIndex
	if ev.Kind == types.FsEventDeleted {
		action = types.ActionDelete
	}
	m.mergeOne(dbPath, action, ev.TS)
}

// SubmitDBPath enqueues a task directly against an already-resolved
// db_path, bypassing FS-path resolution. Used by the indexer's full
// scan (ScanOnce) and the DLQ retry loop, which already work in db-path
// space.
func (m *Map) SubmitDBPath(dbPath string, action types.TaskAction) {
	m.mergeOne(dbPath, action, time.Now())
}

// mergeOne implements the per-key enqueue protocol: merge into an
// existing key under the shard lock alone, or reserve a global slot
// (via reserveSlot, which takes sizeMu on its own) before inserting a
// brand-new one. The shard lock and sizeMu are never held at the same
// time; a key that appears between the existence check and the
// reserved insert is treated as a race loss and merged into instead,
// releasing the slot this goroutine reserved.
func (m *Map) mergeOne(dbPath string, action types.TaskAction, ts time.Time) {
	if dbPath == "" {
		return
	}
	sh := m.shardFor(dbPath)

	sh.mu.Lock()
	if task, exists := sh.tasks[dbPath]; exists {
		mergeAction(task, action, ts)
		sh.mu.Unlock()
		metrics.CoalesceMapSize.Set(float64(m.Size()))
		m.publish(dbPath)
		return
	}
	sh.mu.Unlock()

	if !m.reserveSlot() {
		metrics.CoalesceDropDegradedTotal.Inc()
		return
	}

	sh.mu.Lock()
	if task, exists := sh.tasks[dbPath]; exists {
		mergeAction(task, action, ts)
		sh.mu.Unlock()
		m.releaseSlot()
	} else {
		sh.tasks[dbPath] = &types.CoalesceTask{
			Action:     action,
			DBPath:     dbPath,
			Attempts:   0,
			EnqueueTS:  ts.Unix(),
			LastSeenTS: ts.Unix(),
		}
		sh.mu.Unlock()
	}

	metrics.CoalesceMapSize.Set(float64(m.Size()))
	m.publish(dbPath)
}

// mergeAction folds a new action into an existing task: DELETE absorbs
// any prior or new DELETE, otherwise the task becomes INDEX.
func mergeAction(task *types.CoalesceTask, action types.TaskAction, ts time.Time) {
	if action == types.ActionDelete || task.Action == types.ActionDelete {
		task.Action = types.ActionDelete
	} else {
		task.Action = types.ActionIndex
	}
	task.LastSeenTS = ts.Unix()
}

// reserveSlot enforces max_keys on a brand-new key. sizeMu is always
// taken on its own here, never while a shard lock is held.
func (m *Map) reserveSlot() bool {
	if m.maxKeys <= 0 {
		m.sizeMu.Lock()
		m.size++
		m.sizeMu.Unlock()
		return true
	}
	m.sizeMu.Lock()
	defer m.sizeMu.Unlock()
	if m.size >= m.maxKeys {
		return false
	}
	m.size++
	return true
}

func (m *Map) releaseSlot() {
	m.sizeMu.Lock()
	if m.size > 0 {
		m.size--
	}
	m.sizeMu.Unlock()
}

// publish pushes a dedup'd wake-up for dbPath: if a wake is already
// queued for this key, this is a no-op since the canonical state lives
// in the map, not the wake-up queue.
func (m *Map) publish(dbPath string) {
	m.wakeMu.Lock()
	if _, already := m.queued[dbPath]; already {
		m.wakeMu.Unlock()
		return
	}
	m.queued[dbPath] = struct{}{}
	m.wakeMu.Unlock()

	select {
	case m.wake <- dbPath:
	default:
		// Wake channel saturated: the queued mark is cleared so a later
		// publish for this key is not deduplicated away, and one more
		// send is tried. If that also fails, no wake-up is queued for
		// the key until its next publish; the map entry itself is
		// unaffected.
		m.wakeMu.Lock()
		delete(m.queued, dbPath)
		m.wakeMu.Unlock()
		select {
		case m.wake <- dbPath:
			m.wakeMu.Lock()
			m.queued[dbPath] = struct{}{}
			m.wakeMu.Unlock()
		default:
		}
	}
}

// Next blocks up to timeout for a key to drain, removes its task from
// the map, and returns it. Returns ok=false on timeout.
func (m *Map) Next(timeout time.Duration) (*types.CoalesceTask, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case key := <-m.wake:
			m.wakeMu.Lock()
			delete(m.queued, key)
			m.wakeMu.Unlock()

			sh := m.shardFor(key)
			sh.mu.Lock()
			task, ok := sh.tasks[key]
			if ok {
				delete(sh.tasks, key)
			}
			sh.mu.Unlock()

			if !ok {
				// Raced with a concurrent drain of the same key; keep
				// waiting for the remaining timeout budget.
				continue
			}
			m.releaseSlot()
			metrics.CoalesceMapSize.Set(float64(m.Size()))
			return task, true
		case <-deadline.C:
			return nil, false
		}
	}
}
