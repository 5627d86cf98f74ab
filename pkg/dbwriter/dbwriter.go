package dbwriter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/baecheolhan/sari/pkg/log"
	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/types"
	"github.com/rs/zerolog"
)

// TaskKind selects which Store method a Task dispatches to.
type TaskKind int

const (
	KindDeletePath TaskKind = iota
	KindUpsertFiles
	KindUpsertSymbols
	KindUpsertRelations
	KindUpdateLastSeen
	KindUpsertRepoMeta
	KindUpsertSnippets
	KindUpsertContexts
	KindDLQUpsert
	KindDLQClear
	KindUpsertFilesStaging // turbo bulk-scan path, outside the canonical order
	KindStagingMerge       // turbo bulk-scan path, outside the canonical order
)

// canonicalOrder fixes the per-batch dispatch order, independent of
// arrival order within that batch: delete_path runs first so rows
// targeting a path deleted in the same batch can be filtered before
// insert, and the turbo staging kinds run last since they belong to a
// separate bulk-load path rather than the incremental write path.
var canonicalOrder = []TaskKind{
	KindDeletePath,
	KindUpsertFiles,
	KindUpsertSymbols,
	KindUpsertRelations,
	KindUpdateLastSeen,
	KindUpsertRepoMeta,
	KindUpsertSnippets,
	KindUpsertContexts,
	KindDLQUpsert,
	KindDLQClear,
	KindUpsertFilesStaging,
	KindStagingMerge,
}

// Task is one unit of database work.
type Task struct {
	Kind  TaskKind
	Rows  []types.File    // KindUpsertFiles, KindUpsertFilesStaging
	Sym   []types.Symbol  // KindUpsertSymbols
	Rel   []types.Relation // KindUpsertRelations
	DLQ   []types.FailedTask
	DLQClearPaths []string // KindDLQClear

	Path         string   // KindDeletePath
	Paths        []string // KindUpdateLastSeen
	RepoMeta     map[string]string
	SnippetRows  []Snippet
	ContextRows  []Context

	EngineDocs   []EngineDoc
	EngineDelete []string

	Attempts    int
	EnqueueTime time.Time
}

// Snippet is a user-pinned code excerpt, persisted independent of the
// indexing pipeline's own file/symbol rows.
type Snippet struct {
	Tag, RootID, Path, Content string
	StartLine, EndLine         int
}

// Context is a piece of durable project knowledge keyed by topic.
type Context struct {
	Topic, Content string
}

// EngineDoc is one document handed to the search Engine's upsert path.
type EngineDoc struct {
	DocID   string
	RootID  string
	DBPath  string
	Content string
}

// Store is the storage-layer surface the writer drives. RunBatch must
// invoke fn exactly once against a single transaction, committing only
// if fn returns nil and rolling back otherwise, so a batch's writes are
// all-or-nothing regardless of how many task kinds it touches.
// pkg/storage implements it against SQLite; tests implement it in memory.
type Store interface {
	RunBatch(fn func(TxStore) error) error
}

// TxStore is the per-kind write surface available inside one RunBatch
// transaction.
type TxStore interface {
	DeletePath(path string) error
	UpsertFiles(rows []types.File) error
	UpsertSymbols(rows []types.Symbol) error
	UpsertRelations(rows []types.Relation) error
	UpdateLastSeen(paths []string, ts int64) error
	UpsertRepoMeta(meta map[string]string) error
	UpsertSnippets(rows []Snippet) error
	UpsertContexts(rows []Context) error
	DLQUpsert(rows []types.FailedTask) error
	DLQClear(paths []string) error
	UpsertFilesStaging(rows []types.File) error
	FinalizeTurboBatch() error
}

// Engine is the search-index surface mirrored after a Store commit.
type Engine interface {
	UpsertDocuments(docs []EngineDoc) error
	DeleteDocuments(docIDs []string) error
}

// Writer is the single-goroutine batching database writer.
type Writer struct {
	store  Store
	engine Engine // nil disables engine co-commit
	logger zerolog.Logger

	maxBatch   int
	maxWait    time.Duration
	maxRetries int

	queue    chan Task
	inFlight int32

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
}

// Option configures a Writer at construction time.
type Option func(*Writer)

func WithMaxBatch(n int) Option          { return func(w *Writer) { w.maxBatch = n } }
func WithMaxWait(d time.Duration) Option { return func(w *Writer) { w.maxWait = d } }
func WithMaxRetries(n int) Option        { return func(w *Writer) { w.maxRetries = n } }
func WithEngine(e Engine) Option         { return func(w *Writer) { w.engine = e } }

// New builds a Writer over store, matching the original's defaults of
// a 100-task batch cap, 100ms max wait, and a single retry.
func New(store Store, opts ...Option) *Writer {
	w := &Writer{
		store:      store,
		logger:     log.WithComponent("dbwriter"),
		maxBatch:   100,
		maxWait:    100 * time.Millisecond,
		maxRetries: 1,
		queue:      make(chan Task, 4096),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue submits a task for the writer goroutine to process.
func (w *Writer) Enqueue(t Task) {
	if t.EnqueueTime.IsZero() {
		t.EnqueueTime = time.Now()
	}
	w.queue <- t
}

// QueueDepth returns the number of tasks not yet drained into a batch.
func (w *Writer) QueueDepth() int {
	return len(w.queue)
}

// Start launches the writer goroutine. Safe to call once.
func (w *Writer) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

// Stop signals the writer goroutine to drain and exit, blocking until
// it does.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	close(w.stopCh)
	<-w.doneCh
}

// Flush blocks until the queue is empty and no batch is in flight, or
// timeout elapses. Returns false on timeout.
func (w *Writer) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(w.queue) == 0 && atomic.LoadInt32(&w.inFlight) == 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return len(w.queue) == 0 && atomic.LoadInt32(&w.inFlight) == 0
}

func (w *Writer) run() {
	defer close(w.doneCh)
	for {
		batch := w.drainBatch()
		if len(batch) == 0 {
			select {
			case <-w.stopCh:
				if len(w.queue) == 0 {
					return
				}
			default:
			}
			continue
		}

		start := time.Now()
		if err := w.processBatch(batch); err != nil {
			w.requeueFailed(batch, err)
		}
		metrics.DBWriterBatchDuration.Observe(time.Since(start).Seconds())
		for _, t := range batch {
			metrics.DBWriterLatency.Observe(time.Since(t.EnqueueTime).Seconds())
		}
		atomic.AddInt32(&w.inFlight, -int32(len(batch)))

		select {
		case <-w.stopCh:
			if len(w.queue) == 0 && atomic.LoadInt32(&w.inFlight) == 0 {
				return
			}
		default:
		}
	}
}

// drainBatch blocks up to maxWait for the first task, then greedily
// drains up to maxBatch more without blocking.
func (w *Writer) drainBatch() []Task {
	var batch []Task
	select {
	case t := <-w.queue:
		batch = append(batch, t)
	case <-time.After(w.maxWait):
		return nil
	}
	for len(batch) < w.maxBatch {
		select {
		case t := <-w.queue:
			batch = append(batch, t)
		default:
			atomic.AddInt32(&w.inFlight, int32(len(batch)))
			return batch
		}
	}
	atomic.AddInt32(&w.inFlight, int32(len(batch)))
	return batch
}

// processBatch dispatches batch in canonical order within one Store
// transaction, filtering rows that target a path deleted within the
// same batch, and accumulating engine mutations to apply only after the
// transaction commits. A failure from any task kind rolls back every
// write the batch made, so a batch is never left partially applied.
func (w *Writer) processBatch(batch []Task) error {
	byKind := make(map[TaskKind][]Task, len(canonicalOrder))
	for _, t := range batch {
		byKind[t.Kind] = append(byKind[t.Kind], t)
	}

	deletedPaths := make(map[string]bool)
	for _, t := range byKind[KindDeletePath] {
		if t.Path != "" {
			deletedPaths[t.Path] = true
		}
	}

	var pendingUpserts []EngineDoc
	var pendingDeletes []string

	err := w.store.RunBatch(func(tx TxStore) error {
		for _, kind := range canonicalOrder {
			for _, t := range byKind[kind] {
				var err error
				switch kind {
				case KindDeletePath:
					if t.Path != "" {
						err = tx.DeletePath(t.Path)
						pendingDeletes = append(pendingDeletes, t.EngineDelete...)
					}
				case KindUpsertFiles:
					rows := filterDeletedFiles(t.Rows, deletedPaths)
					if len(rows) > 0 {
						err = tx.UpsertFiles(rows)
						pendingUpserts = append(pendingUpserts, t.EngineDocs...)
					}
				case KindUpsertSymbols:
					rows := filterDeletedSymbols(t.Sym, deletedPaths)
					if len(rows) > 0 {
						err = tx.UpsertSymbols(rows)
					}
				case KindUpsertRelations:
					rows := filterDeletedRelations(t.Rel, deletedPaths)
					if len(rows) > 0 {
						err = tx.UpsertRelations(rows)
					}
				case KindUpdateLastSeen:
					if len(t.Paths) > 0 {
						err = tx.UpdateLastSeen(t.Paths, time.Now().Unix())
					}
				case KindUpsertRepoMeta:
					if len(t.RepoMeta) > 0 {
						err = tx.UpsertRepoMeta(t.RepoMeta)
					}
				case KindUpsertSnippets:
					if len(t.SnippetRows) > 0 {
						err = tx.UpsertSnippets(t.SnippetRows)
					}
				case KindUpsertContexts:
					if len(t.ContextRows) > 0 {
						err = tx.UpsertContexts(t.ContextRows)
					}
				case KindDLQUpsert:
					if len(t.DLQ) > 0 {
						err = tx.DLQUpsert(t.DLQ)
					}
				case KindDLQClear:
					if len(t.DLQClearPaths) > 0 {
						err = tx.DLQClear(t.DLQClearPaths)
					}
				case KindUpsertFilesStaging:
					if len(t.Rows) > 0 {
						err = tx.UpsertFilesStaging(t.Rows)
					}
				case KindStagingMerge:
					err = tx.FinalizeTurboBatch()
				}
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if w.engine != nil {
		if len(pendingUpserts) > 0 {
			if err := w.engine.UpsertDocuments(pendingUpserts); err != nil {
				w.logger.Error().Err(err).Int("count", len(pendingUpserts)).Msg("engine upsert failed; DB commit kept")
			}
		}
		if len(pendingDeletes) > 0 {
			if err := w.engine.DeleteDocuments(pendingDeletes); err != nil {
				w.logger.Error().Err(err).Int("count", len(pendingDeletes)).Msg("engine delete failed; DB commit kept")
			}
		}
	}
	return nil
}

func filterDeletedFiles(rows []types.File, deleted map[string]bool) []types.File {
	if len(deleted) == 0 {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if !deleted[r.DBPath] {
			out = append(out, r)
		}
	}
	return out
}

func filterDeletedSymbols(rows []types.Symbol, deleted map[string]bool) []types.Symbol {
	if len(deleted) == 0 {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if !deleted[r.DBPath] {
			out = append(out, r)
		}
	}
	return out
}

func filterDeletedRelations(rows []types.Relation, deleted map[string]bool) []types.Relation {
	if len(deleted) == 0 {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if !deleted[r.FromPath] {
			out = append(out, r)
		}
	}
	return out
}

// requeueFailed retries tasks under maxRetries, counting and logging
// the rest as dropped.
func (w *Writer) requeueFailed(batch []Task, cause error) {
	var retry []Task
	dropped := 0
	for _, t := range batch {
		if t.Attempts < w.maxRetries {
			t.Attempts++
			retry = append(retry, t)
		} else {
			dropped++
		}
	}
	for _, t := range retry {
		select {
		case w.queue <- t:
		default:
			dropped++
		}
	}
	if len(retry) > 0 {
		w.logger.Warn().Err(cause).Int("count", len(retry)).Msg("write batch failed; requeued")
	}
	if dropped > 0 {
		metrics.DBWriterDropCriticalTotal.Add(float64(dropped))
		w.logger.Error().Err(cause).Int("dropped", dropped).Msg("write batch failed; dropped tasks")
	}
}
