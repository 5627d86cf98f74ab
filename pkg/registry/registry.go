package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/baecheolhan/sari/pkg/log"
	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/types"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// SchemaVersion is the registry file's documented wire version.
const SchemaVersion = "2.0"

// ErrNoBinding is returned by ResolveEndpoint when no daemon is bound
// to the requested workspace and no override applies.
var ErrNoBinding = errors.New("registry: no daemon bound to workspace")

// document is the on-disk JSON shape of the shared registry file.
type document struct {
	Version    string                                `json:"version"`
	Daemons    map[string]types.DaemonRegistryEntry `json:"daemons"`
	Workspaces map[string]types.WorkspaceBinding    `json:"workspaces"`
	Deployment types.Deployment                     `json:"deployment"`
}

func emptyDocument() document {
	return document{
		Version:    SchemaVersion,
		Daemons:    make(map[string]types.DaemonRegistryEntry),
		Workspaces: make(map[string]types.WorkspaceBinding),
		Deployment: types.Deployment{State: types.DeploymentIdle},
	}
}

// Registry is a handle onto the shared registry file at Path.
type Registry struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex // serializes this process's own updates in addition to the cross-process flock
}

// DefaultPath returns the platform-specific registry location, honoring
// the REGISTRY_FILE environment override.
func DefaultPath() string {
	if v := os.Getenv("REGISTRY_FILE"); v != "" {
		return v
	}
	dir := os.TempDir()
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		dir = runtimeDir
	}
	return filepath.Join(dir, "sari", "registry.json")
}

// Open prepares a Registry at path, creating the parent directory (and
// an empty document) if absent. It does not hold the file lock between
// calls; update() takes and releases it per mutation.
func Open(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("registry: creating directory: %w", err)
	}
	r := &Registry{path: path, lock: flock.New(path + ".lock")}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := r.update(func(d *document) error { return nil }); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// read loads the current document, tolerating a missing or empty file
// as an empty document (first boot).
func (r *Registry) read() (document, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) || len(data) == 0 {
		return emptyDocument(), nil
	}
	if err != nil {
		return document{}, err
	}
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return document{}, fmt.Errorf("registry: corrupt file %s: %w", r.path, err)
	}
	if d.Daemons == nil {
		d.Daemons = make(map[string]types.DaemonRegistryEntry)
	}
	if d.Workspaces == nil {
		d.Workspaces = make(map[string]types.WorkspaceBinding)
	}
	if d.Version == "" {
		d.Version = SchemaVersion
	}
	return d, nil
}

// update performs one read-modify-write-rename cycle under an
// exclusive file lock: the mutator receives the live document,
// mutates it in place, and the result is marshaled to a sibling temp
// file and renamed over the original so any concurrently-reading
// process only ever observes a complete file.
func (r *Registry) update(mutate func(d *document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.lock.Lock(); err != nil {
		return fmt.Errorf("registry: acquiring lock: %w", err)
	}
	defer r.lock.Unlock()

	d, err := r.read()
	if err != nil {
		return err
	}
	if err := mutate(&d); err != nil {
		return err
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Snapshot returns a read-only copy of the current document's
// daemons/workspaces/deployment, for status endpoints and tests.
func (r *Registry) Snapshot() (map[string]types.DaemonRegistryEntry, map[string]types.WorkspaceBinding, types.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.read()
	if err != nil {
		return nil, nil, types.Deployment{}, err
	}
	return d.Daemons, d.Workspaces, d.Deployment, nil
}

// RegisterDaemon upserts one daemon's registry entry, called once at
// startup and refreshed by Heartbeat thereafter.
func (r *Registry) RegisterDaemon(entry types.DaemonRegistryEntry) error {
	entry.LastSeenTS = time.Now().Unix()
	return r.update(func(d *document) error {
		d.Daemons[entry.BootID] = entry
		metrics.RegistryDaemonsTotal.Set(float64(len(d.Daemons)))
		return nil
	})
}

// Heartbeat refreshes a daemon's last_seen_ts in place.
func (r *Registry) Heartbeat(bootID string) error {
	return r.update(func(d *document) error {
		e, ok := d.Daemons[bootID]
		if !ok {
			return nil
		}
		e.LastSeenTS = time.Now().Unix()
		d.Daemons[bootID] = e
		return nil
	})
}

// Deregister removes a daemon and every workspace binding pointing at
// it, called on clean shutdown.
func (r *Registry) Deregister(bootID string) error {
	return r.update(func(d *document) error {
		delete(d.Daemons, bootID)
		for root, b := range d.Workspaces {
			if b.BootID == bootID {
				delete(d.Workspaces, root)
			}
		}
		metrics.RegistryDaemonsTotal.Set(float64(len(d.Daemons)))
		return nil
	})
}

// processAlive performs the kill-0 liveness probe: sending signal 0
// succeeds iff the process exists and we have permission to signal it.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// PruneDead removes every daemon entry (and its workspace bindings)
// whose pid no longer answers a kill-0 probe.
func (r *Registry) PruneDead() (int, error) {
	pruned := 0
	err := r.update(func(d *document) error {
		for bootID, e := range d.Daemons {
			if !processAlive(e.PID) {
				delete(d.Daemons, bootID)
				pruned++
			}
		}
		for root, b := range d.Workspaces {
			if _, ok := d.Daemons[b.BootID]; !ok {
				delete(d.Workspaces, root)
			}
		}
		metrics.RegistryDaemonsTotal.Set(float64(len(d.Daemons)))
		return nil
	})
	return pruned, err
}

// SetWorkspace binds canonicalRoot to bootID. If a different,
// non-draining daemon already owned the binding, it is atomically
// marked draining=true in the same update: multi-daemon per workspace
// is only allowed transiently during upgrade.
func (r *Registry) SetWorkspace(canonicalRoot, bootID, httpHost string, httpPort int) error {
	return r.update(func(d *document) error {
		if prior, ok := d.Workspaces[canonicalRoot]; ok && prior.BootID != "" && prior.BootID != bootID {
			if e, ok := d.Daemons[prior.BootID]; ok {
				e.Draining = true
				d.Daemons[prior.BootID] = e
			}
		}
		d.Workspaces[canonicalRoot] = types.WorkspaceBinding{
			CanonicalRoot: canonicalRoot,
			BootID:        bootID,
			HTTPHost:      httpHost,
			HTTPPort:      httpPort,
		}
		return nil
	})
}

// Endpoint is a resolved daemon address.
type Endpoint struct {
	Host     string
	Port     int
	HTTPHost string
	HTTPPort int
	BootID   string
}

// ResolveEndpoint implements the resolution priority chain: prefer the
// non-draining daemon bound to root, else any daemon bound to root
// regardless of draining, else the environment override, else
// defaults. overrideEnabled corresponds to DAEMON_OVERRIDE=1, which
// bypasses the registry entirely for debugging.
func (r *Registry) ResolveEndpoint(canonicalRoot string, overrideEnabled bool, envFallback Endpoint) (Endpoint, error) {
	if overrideEnabled {
		return envFallback, nil
	}

	d, err := r.read()
	if err != nil {
		return Endpoint{}, err
	}

	if b, ok := d.Workspaces[canonicalRoot]; ok {
		if e, ok := d.Daemons[b.BootID]; ok && !e.Draining {
			return endpointFromEntry(e), nil
		}
	}
	if b, ok := d.Workspaces[canonicalRoot]; ok {
		if e, ok := d.Daemons[b.BootID]; ok {
			return endpointFromEntry(e), nil
		}
	}
	if envFallback.Host != "" || envFallback.Port != 0 {
		return envFallback, nil
	}
	return Endpoint{}, ErrNoBinding
}

func endpointFromEntry(e types.DaemonRegistryEntry) Endpoint {
	return Endpoint{
		Host: e.Host, Port: e.Port,
		HTTPHost: e.HTTPHost, HTTPPort: e.HTTPPort,
		BootID: e.BootID,
	}
}

// NewBootID generates a UUIDv7 boot identifier, stable for the
// lifetime of one daemon process.
func NewBootID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Extremely unlikely (entropy source failure); fall back to a
		// random v4 rather than panicking a daemon's startup path.
		log.WithComponent("registry").Error().Err(err).Msg("uuidv7 generation failed; falling back to v4")
		return uuid.NewString()
	}
	return id.String()
}
