package watcher

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/baecheolhan/sari/pkg/log"
	"github.com/baecheolhan/sari/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// gitBasenames are the non-".git"-directory paths that still count as
// git-internal events when they appear as the final path segment.
var gitBasenames = map[string]bool{
	"HEAD":        true,
	"index":       true,
	"packed-refs": true,
	"ORIG_HEAD":   true,
	"FETCH_HEAD":  true,
}

// EventCallback receives one debounced, classified non-git FsEvent.
type EventCallback func(types.FsEvent)

// GitCallback receives the single most recent path observed in a burst
// of git-internal events, once the git debounce window elapses.
type GitCallback func(path string)

// renamePairWindow bounds how long a bare Rename op waits for a
// same-named sibling Create before it is reported as a plain DELETE.
const renamePairWindow = 150 * time.Millisecond

// Watcher observes a set of canonical root paths and emits debounced,
// classified FsEvents.
type Watcher struct {
	roots   []string
	onEvent EventCallback
	onGit   GitCallback

	debounce        time.Duration
	gitDebounce     time.Duration
	monitorInterval time.Duration

	logger zerolog.Logger

	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	timers      map[string]*time.Timer
	pending     map[string]types.FsEvent
	gitTimer    *time.Timer
	gitPending  string
	pendingRen  map[string]*time.Timer // basename -> linger timer for unpaired renames
	renamePaths map[string]string      // basename -> source path awaiting a pair

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// Option configures a Watcher at construction time.
type Option func(*Watcher)

func WithDebounce(d time.Duration) Option       { return func(w *Watcher) { w.debounce = d } }
func WithGitDebounce(d time.Duration) Option    { return func(w *Watcher) { w.gitDebounce = d } }
func WithMonitorInterval(d time.Duration) Option { return func(w *Watcher) { w.monitorInterval = d } }

// New builds a Watcher over roots with 1s/3s default debounce windows
// and a 10s supervisor cadence.
func New(roots []string, onEvent EventCallback, onGit GitCallback, opts ...Option) *Watcher {
	w := &Watcher{
		roots:           roots,
		onEvent:         onEvent,
		onGit:           onGit,
		debounce:        time.Second,
		gitDebounce:     3 * time.Second,
		monitorInterval: 10 * time.Second,
		logger:          log.WithComponent("watcher"),
		timers:          make(map[string]*time.Timer),
		pending:         make(map[string]types.FsEvent),
		pendingRen:      make(map[string]*time.Timer),
		renamePaths:     make(map[string]string),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// isGitEvent reports whether path falls under a ".git" directory
// segment or matches one of the well-known git bookkeeping basenames.
func isGitEvent(path string) bool {
	norm := filepath.ToSlash(path)
	for _, seg := range strings.Split(norm, "/") {
		if seg == ".git" {
			return true
		}
	}
	return gitBasenames[filepath.Base(norm)]
}

func classify(op fsnotify.Op) (types.FsEventKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return types.FsEventCreated, true
	case op&fsnotify.Write != 0:
		return types.FsEventModified, true
	case op&fsnotify.Remove != 0:
		return types.FsEventDeleted, true
	case op&fsnotify.Rename != 0:
		return types.FsEventMoved, true
	default:
		return "", false
	}
}

// Start begins watching. If the underlying notification mechanism
// cannot be created, Start logs and returns nil; the indexer's full
// scans (at startup and on rescan request) are then the only source of
// changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn().Err(err).Msg("fsnotify unavailable; relying on full scans")
		w.mu.Unlock()
		return nil
	}
	w.fsw = fsw
	w.doneCh = make(chan struct{})
	startedAny := w.bindRootsLocked()
	w.running = startedAny
	w.mu.Unlock()

	if !startedAny {
		w.logger.Warn().Msg("no valid roots to watch")
		return nil
	}

	go w.runLoop()
	go w.monitorLoop()
	w.logger.Info().Strs("roots", w.roots).Msg("watcher started")
	return nil
}

// bindRootsLocked calls fsw.Add for every existing root and each
// directory already beneath it (fsnotify watches are not recursive).
// Caller must hold w.mu.
func (w *Watcher) bindRootsLocked() bool {
	started := false
	for _, root := range w.roots {
		if err := w.fsw.Add(root); err != nil {
			w.logger.Error().Err(err).Str("root", root).Msg("failed to watch root")
			continue
		}
		started = true
		_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d == nil || !d.IsDir() || p == root {
				return nil
			}
			if addErr := w.fsw.Add(p); addErr != nil {
				w.logger.Warn().Err(addErr).Str("dir", p).Msg("failed to watch directory")
			}
			return nil
		})
	}
	return started
}

// Stop halts the watcher and releases its resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	fsw := w.fsw
	for _, t := range w.timers {
		t.Stop()
	}
	if w.gitTimer != nil {
		w.gitTimer.Stop()
	}
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	<-w.doneCh
}

func (w *Watcher) runLoop() {
	defer close(w.doneCh)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.logger.Error().Msg("watcher event channel closed; supervisor will restart")
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		case <-w.stopCh:
			return
		}
	}
}

// handleRaw classifies one fsnotify event and, for non-directory
// events, routes it through the rename-pairing heuristic and debounce
// pipeline.
func (w *Watcher) handleRaw(ev fsnotify.Event) {
	kind, ok := classify(ev.Op)
	if !ok {
		return
	}

	base := filepath.Base(ev.Name)
	now := time.Now()

	w.mu.Lock()
	if kind == types.FsEventMoved {
		// fsnotify reports a rename as a bare op on the old path with no
		// destination; hold it briefly for a same-named Create to pair
		// into a real MOVED event, otherwise report a plain delete.
		w.renamePaths[base] = ev.Name
		if t, exists := w.pendingRen[base]; exists {
			t.Stop()
		}
		w.pendingRen[base] = time.AfterFunc(renamePairWindow, func() {
			w.mu.Lock()
			src, ok := w.renamePaths[base]
			delete(w.renamePaths, base)
			delete(w.pendingRen, base)
			w.mu.Unlock()
			if ok {
				w.scheduleEvent(types.FsEvent{Kind: types.FsEventDeleted, Path: src, TS: now})
			}
		})
		w.mu.Unlock()
		return
	}

	if kind == types.FsEventCreated {
		if src, exists := w.renamePaths[base]; exists {
			delete(w.renamePaths, base)
			if t, ok := w.pendingRen[base]; ok {
				t.Stop()
				delete(w.pendingRen, base)
			}
			w.mu.Unlock()
			w.scheduleEvent(types.FsEvent{Kind: types.FsEventMoved, Path: src, DestPath: ev.Name, TS: now})
			return
		}
	}
	w.mu.Unlock()

	w.scheduleEvent(types.FsEvent{Kind: kind, Path: ev.Name, TS: now})
}

// scheduleEvent applies the appropriate debounce window: git events
// debounce separately and call onGit with only the latest path; all
// other events debounce per path with the latest event winning.
func (w *Watcher) scheduleEvent(ev types.FsEvent) {
	if isGitEvent(ev.Path) {
		w.mu.Lock()
		w.gitPending = ev.Path
		if w.gitTimer != nil {
			w.gitTimer.Stop()
		}
		w.gitTimer = time.AfterFunc(w.gitDebounce, w.fireGit)
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	key := ev.Path
	w.pending[key] = ev
	if t, exists := w.timers[key]; exists {
		t.Stop()
	}
	w.timers[key] = time.AfterFunc(w.debounce, func() { w.fire(key) })
	w.mu.Unlock()
}

func (w *Watcher) fire(key string) {
	w.mu.Lock()
	ev, ok := w.pending[key]
	delete(w.pending, key)
	delete(w.timers, key)
	w.mu.Unlock()
	if ok && w.onEvent != nil {
		w.onEvent(ev)
	}
}

func (w *Watcher) fireGit() {
	w.mu.Lock()
	path := w.gitPending
	w.gitPending = ""
	w.mu.Unlock()
	if path != "" && w.onGit != nil {
		w.onGit(path)
	}
}

// monitorLoop polls the watcher's health and restarts it if its event
// loop has died.
func (w *Watcher) monitorLoop() {
	ticker := time.NewTicker(w.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.checkAndRestart()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) checkAndRestart() {
	w.mu.Lock()
	dead := false
	select {
	case <-w.doneCh:
		dead = w.running
	default:
	}
	w.mu.Unlock()

	if !dead {
		return
	}
	w.restart()
}

// restart rebuilds the fsnotify watcher and rebinds every configured
// root. Failures are logged, never propagated: the monitor loop will
// retry on its next tick.
func (w *Watcher) restart() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error().Err(err).Msg("watcher restart failed")
		w.running = false
		return
	}
	w.fsw = fsw
	w.doneCh = make(chan struct{})
	if w.bindRootsLocked() {
		w.running = true
		go w.runLoop()
		w.logger.Info().Msg("watcher restarted")
	} else {
		w.running = false
		w.logger.Error().Msg("watcher restart failed: no valid roots")
	}
}
