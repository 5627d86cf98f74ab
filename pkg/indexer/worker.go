package indexer

import (
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/baecheolhan/sari/pkg/config"
	"github.com/baecheolhan/sari/pkg/coalesce"
	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/events"
	"github.com/baecheolhan/sari/pkg/log"
	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/parser"
	"github.com/baecheolhan/sari/pkg/pathutil"
	"github.com/baecheolhan/sari/pkg/scheduler"
	"github.com/baecheolhan/sari/pkg/storage"
	"github.com/baecheolhan/sari/pkg/types"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
)

// retryBackoffs is the fixed exponential backoff ladder applied before
// a transiently-failing file is retried: 0.5s, then 2.0s, each jittered
// +/-20%. A third failure persists the path to the dead-letter queue
// instead of retrying again.
var retryBackoffs = []time.Duration{500 * time.Millisecond, 2 * time.Second}

const maxInlineRetries = 2

// Worker is the indexing pipeline: it drains coalesced db_paths through
// the scheduling coordinator, classifies and parses their content, and
// hands the result to the database writer. It also owns the full-tree
// scan (ScanOnce, run by the daemon at startup and on RequestRescan; no
// timer repeats it) and the dead-letter retry loop.
type Worker struct {
	cfg      *config.Config
	store    *storage.Store
	writer   *dbwriter.Writer
	coal     *coalesce.Map
	resolver *pathutil.Resolver
	parsers  *parser.Registry
	sched    *scheduler.Coordinator
	broker   *events.Broker

	logger zerolog.Logger

	excl globSet
	incl globSet

	workers  int
	parseSem chan struct{} // bounds concurrent AST extraction, independent of drainLoop's count

	stopCh   chan struct{}
	doneCh   chan struct{}
	rescanCh chan string // root_id requested for an out-of-cycle rescan

	wg sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New builds a Worker. writer must already be Start()ed by the caller
// (pkg/daemon owns its lifecycle, and coal's, since both are also
// shared with the watcher and other consumers).
func New(cfg *config.Config, store *storage.Store, writer *dbwriter.Writer, coal *coalesce.Map, resolver *pathutil.Resolver, parsers *parser.Registry, sched *scheduler.Coordinator, broker *events.Broker) *Worker {
	workers := cfg.ParseTimeoutWorkers
	if workers <= 0 {
		workers = 2
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		writer:   writer,
		coal:     coal,
		resolver: resolver,
		parsers:  parsers,
		sched:    sched,
		broker:   broker,
		logger:   log.WithComponent("indexer"),
		excl:     newGlobSet(cfg.ExcludeGlobs),
		incl:     newGlobSet(cfg.IncludeGlobs),
		workers:  workers,
		parseSem: make(chan struct{}, workers),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		rescanCh: make(chan string, 8),
	}
}

// ScanOnce walks one root (rootID at canonicalPath) synchronously, submitting an
// INDEX task for every file whose (mtime, size) differ from the last
// recorded stat (or that has no row at all), then soft-deletes any
// previously-seen path that was not observed on this pass. It returns
// once the walk and soft-delete phase complete; dispatched tasks may
// still be draining through the coordinator when it returns.
func (w *Worker) ScanOnce(rootID, canonicalPath string) error {
	start := time.Now()
	w.publish(events.EventScanStarted, rootID, "")
	defer func() {
		metrics.ScanDuration.Observe(time.Since(start).Seconds())
		w.publish(events.EventScanCompleted, rootID, "")
	}()

	scanStartTS := start.Unix()
	seen := make(map[string]bool)

	err := filepath.WalkDir(canonicalPath, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn().Err(walkErr).Str("path", fsPath).Msg("scan: walk error")
			return nil
		}
		if d.IsDir() {
			if w.excl.matchesDir(canonicalPath, fsPath) {
				return filepath.SkipDir
			}
			return nil
		}

		rel := relOrSelf(canonicalPath, fsPath)
		if w.isExcludedRel(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		dbPath := rootID + "/" + filepath.ToSlash(rel)
		seen[dbPath] = true

		stat, ok, statErr := w.store.FileStatByPath(dbPath)
		if statErr == nil && ok && stat.Mtime == info.ModTime().Unix() && stat.Size == info.Size() {
			w.writer.Enqueue(dbwriter.Task{Kind: dbwriter.KindUpdateLastSeen, Paths: []string{dbPath}})
			return nil
		}

		w.coal.SubmitDBPath(dbPath, types.ActionIndex)
		return nil
	})
	if err != nil {
		return err
	}

	stale, err := w.store.StalePaths(rootID, scanStartTS)
	if err != nil {
		return err
	}
	for _, dbPath := range stale {
		if seen[dbPath] {
			continue
		}
		w.coal.SubmitDBPath(dbPath, types.ActionDelete)
	}
	return nil
}

// RequestRescan asks RunForever's rescan listener to run a ScanOnce
// pass against rootID, used when a caller suspects the
// watcher missed events (e.g. after resuming from sleep).
func (w *Worker) RequestRescan(rootID string) {
	select {
	case w.rescanCh <- rootID:
	default:
		w.logger.Warn().Str("root_id", rootID).Msg("rescan request dropped: queue full")
	}
}

// RunForever starts the coalesce-drain workers, the DLQ retry loop, and
// the rescan listener, and blocks until Stop is called.
func (w *Worker) RunForever(roots func() map[string]string) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()
	defer close(w.doneCh)

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.drainLoop()
	}

	w.wg.Add(1)
	go w.dlqLoop()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.stopCh:
				return
			case rootID := <-w.rescanCh:
				if path, ok := roots()[rootID]; ok {
					if err := w.ScanOnce(rootID, path); err != nil {
						w.logger.Error().Err(err).Str("root_id", rootID).Msg("rescan failed")
					}
				}
			}
		}
	}()

	<-w.stopCh
	w.wg.Wait()
}

// Stop signals every Worker goroutine to exit and blocks until they
// have, including an in-flight DLQ poll.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	close(w.stopCh)
	<-w.doneCh
}

// drainLoop pulls coalesced tasks, hands them to the scheduling
// coordinator, and processes whatever the coordinator dispatches next.
// Two stages exist (coalesce -> scheduler) so a burst of filesystem
// events collapses to one pending task per path before priority
// ordering and the search-traffic grace window ever see it.
func (w *Worker) drainLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		task, ok := w.coal.Next(200 * time.Millisecond)
		if !ok {
			continue
		}
		rootID, _, _ := splitDBPath(task.DBPath)
		w.sched.Enqueue(scheduler.Task{
			Kind:    scheduler.KindIndex,
			Path:    task.DBPath,
			RootID:  rootID,
			Payload: task,
		})

		st, ok := w.sched.Dequeue(50 * time.Millisecond)
		if !ok {
			continue
		}
		w.sched.Throttle()
		w.processOne(st)
	}
}

// processOne dispatches one scheduler task to deletion or
// classify-and-persist, retrying transient failures in-process before
// falling back to the dead-letter queue.
func (w *Worker) processOne(st scheduler.Task) {
	task, _ := st.Payload.(*types.CoalesceTask)
	if task == nil {
		return
	}

	if task.Action == types.ActionDelete {
		w.writer.Enqueue(dbwriter.Task{Kind: dbwriter.KindDeletePath, Path: task.DBPath, EngineDelete: []string{task.DBPath}})
		w.publish(events.EventFileDeleted, rootOf(task.DBPath), task.DBPath)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= maxInlineRetries; attempt++ {
		if attempt > 0 {
			sleepJittered(retryBackoffs[attempt-1])
			metrics.IndexerRetriesTotal.Inc()
		}
		if err := w.indexOne(task.DBPath); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		w.deadLetter(task.DBPath, lastErr)
	}
}

// indexOne resolves dbPath to its filesystem path, reads and
// classifies its content, runs the parser registry over it when
// eligible, and enqueues the resulting writes. A missing file is
// treated as a delete rather than an error, since the path may have
// been removed between coalescing and dispatch.
func (w *Worker) indexOne(dbPath string) error {
	fsPath, err := w.resolver.ToFSPath(dbPath)
	if err != nil {
		return err
	}

	info, err := os.Lstat(fsPath)
	if os.IsNotExist(err) {
		w.writer.Enqueue(dbwriter.Task{Kind: dbwriter.KindDeletePath, Path: dbPath, EngineDelete: []string{dbPath}})
		return nil
	}
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	raw, err := os.ReadFile(fsPath)
	if err != nil {
		return err
	}

	rootID, rel, _ := splitDBPath(dbPath)
	cls := classify(w.cfg, info.Size(), raw, w.isExcludedRel(rel))
	metrics.IndexerClassifiedTotal.WithLabelValues(string(cls.ParseReason)).Inc()

	astStatus := types.ASTStatusSkipped
	astReason := types.ReasonNone
	var symbols []types.Symbol
	var relations []types.Relation

	if cls.ParseStatus == types.ParseStatusOK && astAllowed(w.cfg, info.Size()) {
		symbols, relations, astStatus, astReason = w.extractSymbols(dbPath, rootID, string(cls.Content))
		if astStatus != types.ASTStatusOK {
			w.publish(events.EventFileFailed, rootID, dbPath)
		}
	}

	file := types.File{
		DBPath:      dbPath,
		RelPath:     strings.TrimPrefix(dbPath, rootID+"/"),
		RootID:      rootID,
		Mtime:       info.ModTime().Unix(),
		Size:        info.Size(),
		LastSeenTS:  time.Now().Unix(),
		ParseStatus: cls.ParseStatus,
		ParseReason: cls.ParseReason,
		IsBinary:    cls.IsBinary,
		IsMinified:  cls.IsMinified,
		Sampled:     cls.Sampled,
		ASTStatus:   astStatus,
		ASTReason:   astReason,
	}
	if cls.Content != nil {
		file.Content = cls.Content
		file.FTSContent = string(cls.Content)
	}

	task := dbwriter.Task{Kind: dbwriter.KindUpsertFiles, Rows: []types.File{file}}
	if cls.Content != nil {
		task.EngineDocs = []dbwriter.EngineDoc{{DocID: dbPath, RootID: rootID, DBPath: dbPath, Content: string(cls.Content)}}
	}
	w.writer.Enqueue(task)

	if len(symbols) > 0 {
		w.writer.Enqueue(dbwriter.Task{Kind: dbwriter.KindUpsertSymbols, Sym: symbols})
	}
	if len(relations) > 0 {
		w.writer.Enqueue(dbwriter.Task{Kind: dbwriter.KindUpsertRelations, Rel: relations})
	}

	w.publish(events.EventFileIndexed, rootID, dbPath)
	return nil
}

// extractSymbols runs the extension-dispatched parser over content
// under a per-file timeout and stamps the resulting symbols/relations
// with this file's db_path. The returned ASTStatus/Reason reflect the
// actual extraction outcome (ok, skipped for lack of a registered
// parser, timeout, or error) and are persisted on the file row itself.
func (w *Worker) extractSymbols(dbPath, rootID, content string) ([]types.Symbol, []types.Relation, types.ASTStatus, types.Reason) {
	p := w.parsers.Get(filepath.Ext(dbPath))
	if p == nil {
		return nil, nil, types.ASTStatusSkipped, types.ReasonNoParse
	}

	result, status, reason := w.extractWithTimeout(p, dbPath, content)
	if status != types.ASTStatusOK {
		return nil, nil, status, reason
	}

	symbols := make([]types.Symbol, 0, len(result.Symbols))
	byQualname := make(map[string]string, len(result.Symbols))
	for _, s := range result.Symbols {
		qualname := s.Qualname
		if qualname == "" {
			qualname = parser.Qualname(s.Parent, s.Name)
		}
		id := parser.SymbolID(dbPath, s.Kind, qualname)
		byQualname[qualname] = id
		symbols = append(symbols, types.Symbol{
			SymbolID: id,
			DBPath:   dbPath,
			RootID:   rootID,
			Name:     s.Name,
			Kind:     s.Kind,
			Line:     s.Line,
			EndLine:  s.EndLine,
			Content:  s.Content,
			Parent:   s.Parent,
			Qualname: qualname,
			MetaJSON: s.MetaJSON,
			Doc:      s.Doc,
		})
	}

	relations := make([]types.Relation, 0, len(result.Relations))
	for _, r := range result.Relations {
		relations = append(relations, types.Relation{
			FromPath:     dbPath,
			FromRootID:   rootID,
			FromSymbol:   r.FromQualname,
			FromSymbolID: byQualname[r.FromQualname],
			ToPath:       dbPath,
			ToRootID:     rootID,
			ToSymbol:     r.ToName,
			ToSymbolID:   byQualname[r.ToName],
			RelType:      types.RelationType(r.Kind),
			Line:         r.Line,
			Meta:         r.Meta,
		})
	}
	return symbols, relations, status, reason
}

// extractWithTimeout runs p.Extract on the dedicated parse-timeout
// pool (sized by cfg.ParseTimeoutWorkers) and bounds it by
// cfg.ParseTimeout when positive, so one pathological file can never
// stall the indexing pipeline indefinitely. The goroutine it spawns is
// left to finish on its own after a timeout; its result lands in a
// buffered channel nobody reads, and the semaphore slot is released
// when it does.
func (w *Worker) extractWithTimeout(p parser.Parser, dbPath, content string) (parser.Result, types.ASTStatus, types.Reason) {
	type outcome struct {
		result parser.Result
		err    error
	}
	done := make(chan outcome, 1)

	w.parseSem <- struct{}{}
	go func() {
		defer func() { <-w.parseSem }()
		result, err := p.Extract(dbPath, content)
		done <- outcome{result, err}
	}()

	if w.cfg.ParseTimeout <= 0 {
		o := <-done
		if o.err != nil {
			metrics.ParseErrorsTotal.Inc()
			return parser.Result{}, types.ASTStatusError, types.ReasonError
		}
		return o.result, types.ASTStatusOK, types.ReasonNone
	}

	select {
	case o := <-done:
		if o.err != nil {
			metrics.ParseErrorsTotal.Inc()
			return parser.Result{}, types.ASTStatusError, types.ReasonError
		}
		return o.result, types.ASTStatusOK, types.ReasonNone
	case <-time.After(w.cfg.ParseTimeout):
		metrics.ParseTimeoutsTotal.Inc()
		return parser.Result{}, types.ASTStatusTimeout, types.ReasonTimeout
	}
}

// isExcludedRel reports whether a root-relative path is excluded by
// the configured exclude globs, or fails to match a configured
// non-empty include set.
func (w *Worker) isExcludedRel(rel string) bool {
	return w.excl.matches(rel) || (w.incl.nonEmpty() && !w.incl.matches(rel))
}

// deadLetter persists a path that exhausted its inline retries to the
// dead-letter queue, scheduling it on the ladder rung that follows the
// attempts already recorded for it.
func (w *Worker) deadLetter(dbPath string, cause error) {
	now := time.Now()
	prior, _ := w.store.FailedTaskAttempts(dbPath)
	attempt := prior + 1
	w.writer.Enqueue(dbwriter.Task{Kind: dbwriter.KindDLQUpsert, DLQ: []types.FailedTask{{
		DBPath:      dbPath,
		Attempts:    attempt,
		LastError:   cause.Error(),
		TS:          now.Unix(),
		NextRetryTS: now.Add(dlqLadder(attempt)).Unix(),
	}}})
	w.publish(events.EventFileFailed, rootOf(dbPath), dbPath)
	w.logger.Warn().Err(cause).Str("db_path", dbPath).Msg("indexing failed; moved to dead-letter queue")
}

func (w *Worker) publish(t events.EventType, rootID, dbPath string) {
	if w.broker == nil {
		return
	}
	meta := map[string]string{"root_id": rootID}
	if dbPath != "" {
		meta["db_path"] = dbPath
	}
	w.broker.Publish(&events.Event{Type: t, Timestamp: time.Now(), Metadata: meta})
}

func rootOf(dbPath string) string {
	rootID, _, _ := splitDBPath(dbPath)
	return rootID
}

func splitDBPath(dbPath string) (rootID, rel string, ok bool) {
	idx := strings.IndexByte(dbPath, '/')
	if idx < 0 {
		return dbPath, "", false
	}
	return dbPath[:idx], dbPath[idx+1:], true
}

func relOrSelf(root, fsPath string) string {
	rel, err := filepath.Rel(root, fsPath)
	if err != nil {
		return fsPath
	}
	return rel
}

// sleepJittered sleeps base +/-20%, matching the retry policy's
// jittered exponential backoff.
func sleepJittered(base time.Duration) {
	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(base))
	time.Sleep(base + jitter)
}

// globSet wraps a set of doublestar patterns used for include/exclude
// matching against paths relative to a scanned root.
type globSet struct {
	patterns []string
}

func newGlobSet(patterns []string) globSet {
	return globSet{patterns: patterns}
}

func (g globSet) nonEmpty() bool { return len(g.patterns) > 0 }

func (g globSet) matches(relPath string) bool {
	rel := filepath.ToSlash(relPath)
	for _, p := range g.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// matchesDir reports whether a directory itself should be pruned from
// the walk, checked against its path relative to root with a
// trailing "/**" appended so a bare "node_modules" pattern still
// matches the directory entry, not just its contents.
func (g globSet) matchesDir(root, dirPath string) bool {
	if dirPath == root {
		return false
	}
	rel := filepath.ToSlash(relOrSelf(root, dirPath))
	for _, p := range g.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel+"/sentinel"); ok {
			return true
		}
	}
	return false
}
