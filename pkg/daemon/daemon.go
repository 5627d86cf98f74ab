package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/baecheolhan/sari/pkg/coalesce"
	"github.com/baecheolhan/sari/pkg/config"
	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/events"
	"github.com/baecheolhan/sari/pkg/indexer"
	"github.com/baecheolhan/sari/pkg/lock"
	"github.com/baecheolhan/sari/pkg/log"
	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/parser"
	"github.com/baecheolhan/sari/pkg/pathutil"
	"github.com/baecheolhan/sari/pkg/registry"
	"github.com/baecheolhan/sari/pkg/scheduler"
	"github.com/baecheolhan/sari/pkg/search"
	"github.com/baecheolhan/sari/pkg/storage"
	"github.com/baecheolhan/sari/pkg/types"
	"github.com/baecheolhan/sari/pkg/watcher"
	"github.com/rs/zerolog"
)

// Version is stamped via ldflags at build time (see cmd/sari/main.go).
var Version = "dev"

// Daemon owns one process's copy of the full indexing pipeline:
// watcher -> coalesce -> indexer -> {dbwriter, search} -> storage, plus
// the registry heartbeat and leader lock that make it a safe
// participant in a multi-daemon, multi-workspace deployment.
type Daemon struct {
	cfg *config.Config

	BootID string

	Store    *storage.Store
	Writer   *dbwriter.Writer
	Coalesce *coalesce.Map
	Resolver *pathutil.Resolver
	Parsers  *parser.Registry
	Sched    *scheduler.Coordinator
	Broker   *events.Broker
	Watcher  *watcher.Watcher
	Indexer  *indexer.Worker
	Search   *search.Router
	Registry *registry.Registry
	Lock     *lock.IndexLock
	Metrics  *metrics.Collector

	logger zerolog.Logger

	mu    sync.RWMutex
	roots map[string]string // root_id -> canonical_path

	httpHost string
	httpPort int

	stopCh  chan struct{}
	started bool
}

// dbFileName is where the authoritative SQLite database lives relative
// to a workspace root, mirroring the source's convention of a single
// hidden data directory per indexed workspace.
const dbFileName = ".sari/index.db"

// New assembles every pipeline component but does not start any
// goroutines; call Start to begin watching, draining, and writing.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg.WorkspaceRoot == "" {
		return nil, fmt.Errorf("daemon: WORKSPACE_ROOT is required")
	}
	canonicalRoot, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("daemon: resolving workspace root: %w", err)
	}

	dbPath := filepath.Join(canonicalRoot, dbFileName)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("daemon: creating data directory: %w", err)
	}

	idxLock, err := lock.Acquire(dbPath, cfg.IndexerMode)
	if err != nil {
		// Leader mode failure is fatal; auto mode never returns an
		// error here (it downgrades internally).
		return nil, fmt.Errorf("daemon: acquiring index lock: %w", err)
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: opening storage: %w", err)
	}

	registryPath := cfg.RegistryFile
	if registryPath == "" {
		registryPath = registry.DefaultPath()
	}
	reg, err := registry.Open(registryPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("daemon: opening registry at %s: %w", registryPath, err)
	}

	broker := events.NewBroker()
	resolver := pathutil.NewResolver()
	rootID := resolver.Register(canonicalRoot)

	if err := store.UpsertRoot(types.Root{
		RootID:        rootID,
		CanonicalPath: canonicalRoot,
		Label:         filepath.Base(canonicalRoot),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}); err != nil {
		store.Close()
		return nil, fmt.Errorf("daemon: registering root: %w", err)
	}

	searchRouter := search.NewRouter(func(id string) search.Engine {
		sqliteEngine := search.NewSQLiteEngine(store.DB())
		selCfg := search.SelectionConfig{
			Requested:   search.Mode(cfg.EngineMode),
			EmbeddedDir: filepath.Join(canonicalRoot, ".sari", "bleve", id),
			MaxDocBytes: cfg.EngineMaxDocBytes,
			PreviewLen:  cfg.EnginePreviewBytes,
		}
		return search.NewEngineForRoot(selCfg, sqliteEngine, broker)
	}, broker)
	searchRouter.RegisterRoot(rootID)

	writer := dbwriter.New(store,
		dbwriter.WithMaxBatch(cfg.DBWriterMaxBatch),
		dbwriter.WithMaxWait(cfg.DBWriterMaxWait),
		dbwriter.WithMaxRetries(cfg.DBWriterMaxRetries),
		dbwriter.WithEngine(searchRouter),
	)

	coal := coalesce.New(cfg.CoalesceShards, int64(cfg.CoalesceMaxKeys))
	sched := scheduler.NewCoordinator()
	parsers := parser.NewRegistry()

	indexWorker := indexer.New(cfg, store, writer, coal, resolver, parsers, sched, broker)

	d := &Daemon{
		cfg:      cfg,
		BootID:   registry.NewBootID(),
		Store:    store,
		Writer:   writer,
		Coalesce: coal,
		Resolver: resolver,
		Parsers:  parsers,
		Sched:    sched,
		Broker:   broker,
		Indexer:  indexWorker,
		Search:   searchRouter,
		Registry: reg,
		Lock:     idxLock,
		logger:   log.WithComponent("daemon"),
		roots:    map[string]string{rootID: canonicalRoot},
		httpHost: cfg.HTTPAPIHost,
		httpPort: cfg.HTTPAPIPort,
		stopCh:   make(chan struct{}),
	}
	d.Metrics = metrics.NewCollector(d)

	d.Watcher = watcher.New(
		[]string{canonicalRoot},
		d.onFsEvent,
		d.onGitEvent,
		watcher.WithDebounce(cfg.NonGitDebounce),
		watcher.WithGitDebounce(cfg.GitCheckoutDebounce),
		watcher.WithMonitorInterval(cfg.WatcherMonitorSeconds),
	)

	return d, nil
}

// onFsEvent is the watcher's per-path callback: it hands the event
// straight to the coalesce map, which performs db-path resolution,
// MOVED-splitting, and absorption.
func (d *Daemon) onFsEvent(ev types.FsEvent) {
	d.Coalesce.Submit(ev, d.Resolver)
}

// onGitEvent requests a full rescan of every registered root once the
// git-debounce window elapses on a checkout/merge/rebase.
func (d *Daemon) onGitEvent(path string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for rootID := range d.roots {
		d.Indexer.RequestRescan(rootID)
	}
}

// Start registers this process with the daemon registry, binds the
// workspace, and launches the watcher, writer, and indexer pipelines.
// It returns once everything is running; RunForever blocks in its own
// goroutine rather than here.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	d.Broker.Start()
	d.Writer.Start()
	d.Metrics.Start()

	if err := d.Registry.RegisterDaemon(types.DaemonRegistryEntry{
		BootID:     d.BootID,
		Host:       d.cfg.DaemonHost,
		Port:       d.cfg.DaemonPort,
		PID:        os.Getpid(),
		Version:    Version,
		HTTPHost:   d.httpHost,
		HTTPPort:   d.httpPort,
		LastSeenTS: time.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("daemon: registering with registry: %w", err)
	}

	for _, canonicalRoot := range d.Roots() {
		if err := d.Registry.SetWorkspace(canonicalRoot, d.BootID, d.httpHost, d.httpPort); err != nil {
			d.logger.Error().Err(err).Str("root", canonicalRoot).Msg("failed to bind workspace")
		}
	}

	if d.cfg.IndexerMode != config.ModeFollower && d.cfg.IndexerMode != config.ModeOff {
		if err := d.Watcher.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("watcher failed to start; only full scans will detect changes")
		}
	}

	go d.Indexer.RunForever(d.Roots)

	if d.cfg.StartupIndex {
		go d.scanAllRoots()
	}

	go d.heartbeatLoop()

	d.logger.Info().Str("boot_id", d.BootID).Str("role", string(d.Lock.Role())).Msg("daemon started")
	return nil
}

// scanAllRoots runs a synchronous initial full scan of every registered
// root, logging (not failing) any per-root error so one bad root cannot
// prevent the others from being served.
func (d *Daemon) scanAllRoots() {
	for rootID, canonicalPath := range d.Roots() {
		if err := d.Indexer.ScanOnce(rootID, canonicalPath); err != nil {
			d.logger.Error().Err(err).Str("root_id", rootID).Msg("startup scan failed")
		}
	}
}

// heartbeatLoop keeps this daemon's registry entry fresh so liveness
// pruning by other processes never mistakes it for dead.
func (d *Daemon) heartbeatLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if err := d.Registry.Heartbeat(d.BootID); err != nil {
				d.logger.Warn().Err(err).Msg("registry heartbeat failed")
			}
		}
	}
}

// Stop drains every pipeline component within a bounded deadline and
// releases the leader lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)

	d.Watcher.Stop()
	d.Indexer.Stop()
	d.Writer.Flush(2 * time.Second)
	d.Writer.Stop()
	d.Metrics.Stop()
	d.Broker.Stop()

	if err := d.Registry.Deregister(d.BootID); err != nil {
		d.logger.Warn().Err(err).Msg("failed to deregister from registry")
	}
	if err := d.Lock.Release(); err != nil {
		d.logger.Warn().Err(err).Msg("failed to release index lock")
	}
	if err := d.Search.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("failed to close search router")
	}
	if err := d.Store.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("failed to close storage")
	}

	d.logger.Info().Str("boot_id", d.BootID).Msg("daemon stopped")
}

// Roots returns a snapshot of root_id -> canonical_path for every
// registered workspace root.
func (d *Daemon) Roots() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.roots))
	for k, v := range d.roots {
		out[k] = v
	}
	return out
}

// RegisterRoot adds a new workspace root to this daemon at runtime,
// registering it with the path resolver, storage, and search router
// before it becomes visible to Roots() (and therefore to scans and the
// watcher's supervisor restart, which rebinds every "valid root" on its
// next health-check cycle).
func (d *Daemon) RegisterRoot(canonicalPath, label string) (string, error) {
	canonicalPath, err := filepath.Abs(canonicalPath)
	if err != nil {
		return "", err
	}
	rootID := d.Resolver.Register(canonicalPath)

	if err := d.Store.UpsertRoot(types.Root{
		RootID:        rootID,
		CanonicalPath: canonicalPath,
		Label:         label,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}); err != nil {
		return "", err
	}
	d.Search.RegisterRoot(rootID)

	d.mu.Lock()
	d.roots[rootID] = canonicalPath
	d.mu.Unlock()

	if err := d.Registry.SetWorkspace(canonicalPath, d.BootID, d.httpHost, d.httpPort); err != nil {
		d.logger.Warn().Err(err).Str("root", canonicalPath).Msg("failed to bind new workspace")
	}

	d.Broker.Publish(&events.Event{
		Type:    events.EventRootRegistered,
		Message: "root registered",
		Metadata: map[string]string{"root_id": rootID, "path": canonicalPath},
	})

	go func() {
		if err := d.Indexer.ScanOnce(rootID, canonicalPath); err != nil {
			d.logger.Error().Err(err).Str("root_id", rootID).Msg("initial scan of new root failed")
		}
	}()

	return rootID, nil
}

// UnregisterRoot removes a workspace root entirely: the path resolver
// entry, the search engine for it, and its roots/files/symbols rows.
// This is the only path that destroys a Root.
func (d *Daemon) UnregisterRoot(rootID string) error {
	d.mu.Lock()
	canonicalPath, ok := d.roots[rootID]
	if ok {
		delete(d.roots, rootID)
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("daemon: unknown root_id %q", rootID)
	}

	if err := d.Search.UnregisterRoot(rootID); err != nil {
		d.logger.Warn().Err(err).Str("root_id", rootID).Msg("failed to close search engine for root")
	}
	d.Resolver.Unregister(rootID)

	if err := d.Store.DeleteRoot(rootID); err != nil {
		return err
	}

	d.Broker.Publish(&events.Event{
		Type:    events.EventRootUnregistered,
		Message: "root unregistered",
		Metadata: map[string]string{"root_id": rootID, "path": canonicalPath},
	})
	return nil
}

// RootStats implements metrics.Source.
func (d *Daemon) RootStats() map[string]metrics.RootStat {
	out := make(map[string]metrics.RootStat)
	for rootID := range d.Roots() {
		r, err := d.Store.GetRoot(rootID)
		if err != nil {
			continue
		}
		out[rootID] = metrics.RootStat{FileCount: r.FileCount, SymbolCount: r.SymbolCount}
	}
	return out
}

// CoalesceSize implements metrics.Source.
func (d *Daemon) CoalesceSize() int { return int(d.Coalesce.Size()) }

// DLQDepth implements metrics.Source.
func (d *Daemon) DLQDepth() int {
	n, err := d.Store.FailedTaskCount()
	if err != nil {
		return 0
	}
	return n
}

// RegistryDaemonCount implements metrics.Source.
func (d *Daemon) RegistryDaemonCount() int {
	daemons, _, _, err := d.Registry.Snapshot()
	if err != nil {
		return 0
	}
	return len(daemons)
}

// RepoIDsForRoots is a small helper used by the HTTP repo-candidates
// handler: it returns the root_id of every root this daemon serves, as
// the scope slice pkg/search's RepoCandidates takes.
func (d *Daemon) RepoIDsForRoots() []string {
	roots := d.Roots()
	out := make([]string, 0, len(roots))
	for id := range roots {
		out = append(out, id)
	}
	return out
}

// canonicalRootFromDBPath is a convenience for translating a failed
// task's db_path back into a human-readable "repo/relpath" form for the
// /errors endpoint, without needing a live resolver lookup.
func canonicalRootFromDBPath(dbPath string) (rootID, rel string) {
	parts := strings.SplitN(dbPath, "/", 2)
	if len(parts) != 2 {
		return dbPath, ""
	}
	return parts[0], parts[1]
}

// DescribeFailedTask resolves a DLQ row's db_path into its owning
// root_id, the path relative to that root, and the root's canonical
// filesystem path (empty if the root has since been unregistered).
func (d *Daemon) DescribeFailedTask(dbPath string) (rootID, relPath, canonicalPath string) {
	rootID, relPath = canonicalRootFromDBPath(dbPath)
	roots := d.Roots()
	canonicalPath = roots[rootID]
	return rootID, relPath, canonicalPath
}
