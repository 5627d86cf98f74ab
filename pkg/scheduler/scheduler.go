package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/baecheolhan/sari/pkg/metrics"
)

// TaskKind classifies the origin of a unit of scheduled indexing work.
type TaskKind string

const (
	KindIndex    TaskKind = "index"
	KindDLQRetry TaskKind = "dlq_retry"
	KindRescan   TaskKind = "rescan"
)

// Task is one unit of indexing work submitted to the coordinator.
// BasePriority follows the convention of the priority queue it sits in:
// lower values are served first.
type Task struct {
	Kind         TaskKind
	Path         string
	RootID       string
	Payload      any
	BasePriority float64
	EnqueueTime  time.Time

	priority float64
	index    int // heap.Interface bookkeeping
}

// agingHeap is a container/heap min-heap over priority, recomputed from
// wait time before every pop so long-waiting low-priority tasks
// eventually surface. This mirrors the reference AgingPriorityQueue's
// apply_aging, traded for simplicity over incremental reheapify: queues
// are expected to stay in the hundreds of tasks, not millions.
type agingHeap struct {
	tasks     []*Task
	ageFactor float64
}

func (h *agingHeap) Len() int { return len(h.tasks) }
func (h *agingHeap) Less(i, j int) bool {
	return h.tasks[i].priority < h.tasks[j].priority
}
func (h *agingHeap) Swap(i, j int) {
	h.tasks[i], h.tasks[j] = h.tasks[j], h.tasks[i]
	h.tasks[i].index = i
	h.tasks[j].index = j
}
func (h *agingHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(h.tasks)
	h.tasks = append(h.tasks, t)
}
func (h *agingHeap) Pop() any {
	old := h.tasks
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	h.tasks = old[:n-1]
	return t
}

// applyAging recomputes every task's effective priority from its age
// before the heap is reordered, so a task that has waited long enough
// eventually outranks a fresher high-priority arrival.
func (h *agingHeap) applyAging(now time.Time) {
	for _, t := range h.tasks {
		age := now.Sub(t.EnqueueTime).Seconds()
		t.priority = t.BasePriority - age*h.ageFactor
	}
	heap.Init(h)
}

// Coordinator is the Scheduling Coordinator: a weighted-fair set of
// per-root aging priority queues, round-robined on dequeue so a single
// noisy root cannot starve the others, plus a grace window that lets
// search traffic throttle background indexing.
type Coordinator struct {
	mu     sync.Mutex
	queues map[string]*agingHeap
	order  []string // round-robin order of root_ids with pending work
	rrPos  int
	wake   chan struct{}

	ageFactor     float64
	graceWindow   time.Duration
	throttleSleep time.Duration
	lastSearch    time.Time

	stopCh  chan struct{}
	stopped bool
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithAgeFactor overrides the default aging rate (priority units lost
// per second of wait).
func WithAgeFactor(f float64) Option { return func(c *Coordinator) { c.ageFactor = f } }

// WithGraceWindow overrides how long after notify_search_start the
// indexer is expected to throttle itself.
func WithGraceWindow(d time.Duration) Option { return func(c *Coordinator) { c.graceWindow = d } }

// WithThrottleSleep overrides the per-task sleep injected during the
// grace window.
func WithThrottleSleep(d time.Duration) Option { return func(c *Coordinator) { c.throttleSleep = d } }

// NewCoordinator builds a Coordinator with sane defaults: 0.1
// priority-units-per-second aging, a 2s post-search grace window, and a
// 20ms inter-task throttle sleep during that window.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		queues:        make(map[string]*agingHeap),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		ageFactor:     0.1,
		graceWindow:   2 * time.Second,
		throttleSleep: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Enqueue adds a task to its root's aging queue with a default base
// priority of 10.0 if unset, matching the reference scheduler's
// default.
func (c *Coordinator) Enqueue(t Task) {
	if t.BasePriority == 0 {
		t.BasePriority = 10.0
	}
	if t.EnqueueTime.IsZero() {
		t.EnqueueTime = time.Now()
	}
	t.priority = t.BasePriority

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	task := t
	q, ok := c.queues[t.RootID]
	if !ok {
		q = &agingHeap{ageFactor: c.ageFactor}
		c.queues[t.RootID] = q
		c.order = append(c.order, t.RootID)
	}
	heap.Push(q, &task)
	c.mu.Unlock()

	c.signal()
}

// Dequeue blocks up to timeout for a task to become available, visiting
// roots in round-robin order so no root's backlog monopolizes the
// worker. Returns ok=false on timeout or after Stop.
func (c *Coordinator) Dequeue(timeout time.Duration) (Task, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if task, ok := c.popNext(); ok {
			metrics.SchedulingLatency.Observe(time.Since(task.EnqueueTime).Seconds())
			return task, true
		}
		select {
		case <-c.wake:
			continue
		case <-c.stopCh:
			return Task{}, false
		case <-deadline.C:
			// one last attempt in case work landed exactly at the deadline
			if task, ok := c.popNext(); ok {
				metrics.SchedulingLatency.Observe(time.Since(task.EnqueueTime).Seconds())
				return task, true
			}
			return Task{}, false
		}
	}
}

func (c *Coordinator) popNext() (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.order)
	if n == 0 {
		return Task{}, false
	}
	now := time.Now()
	for i := 0; i < n; i++ {
		pos := (c.rrPos + i) % n
		rootID := c.order[pos]
		q := c.queues[rootID]
		if q == nil || q.Len() == 0 {
			continue
		}
		q.applyAging(now)
		t := heap.Pop(q).(*Task)
		c.rrPos = (pos + 1) % n
		return *t, true
	}
	return Task{}, false
}

// Len returns the total number of queued tasks across all roots.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, q := range c.queues {
		total += q.Len()
	}
	return total
}

// RootLen returns the number of queued tasks for a single root.
func (c *Coordinator) RootLen(rootID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[rootID]
	if !ok {
		return 0
	}
	return q.Len()
}

// NotifySearchStart records that a search request just began, opening
// (or extending) the grace window during which Throttle will inject
// sleeps between indexing tasks.
func (c *Coordinator) NotifySearchStart() {
	c.mu.Lock()
	c.lastSearch = time.Now()
	c.mu.Unlock()
}

// InGraceWindow reports whether a search request landed within the
// configured grace window.
func (c *Coordinator) InGraceWindow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastSearch.IsZero() && time.Since(c.lastSearch) < c.graceWindow
}

// Throttle is called by the indexer between dispatched tasks. If a
// search request landed within the grace window it sleeps
// throttleSleep to yield CPU and I/O, and records the event.
func (c *Coordinator) Throttle() {
	if !c.InGraceWindow() {
		return
	}
	metrics.SearchThrottleEventsTotal.Inc()
	time.Sleep(c.throttleSleep)
}

// Stop wakes any blocked Dequeue callers and marks the coordinator
// closed; further Enqueue calls are silently dropped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	close(c.stopCh)
}
