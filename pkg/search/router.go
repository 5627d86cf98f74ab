package search

import (
	"sort"
	"strings"
	"sync"

	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/events"
	"github.com/baecheolhan/sari/pkg/metrics"
)

// Router owns one Engine instance per root and dispatches mutations by
// the root_id prefix of a doc_id ("<root_id>/<rel_path>"), merging
// search results across roots in score order when a query isn't scoped
// to a single root. It is itself an Engine, so the DB writer can hold a
// single Router in place of one backend.
type Router struct {
	mu      sync.RWMutex
	engines map[string]Engine
	factory func(rootID string) Engine
	broker  *events.Broker // optional; nil is fine
}

// NewRouter builds a Router that lazily constructs one Engine per
// root_id via factory on first use.
func NewRouter(factory func(rootID string) Engine, broker *events.Broker) *Router {
	return &Router{
		engines: make(map[string]Engine),
		factory: factory,
		broker:  broker,
	}
}

func rootIDFromDocID(docID string) string {
	if i := strings.Index(docID, "/"); i >= 0 {
		return docID[:i]
	}
	return docID
}

func (r *Router) engineFor(rootID string) Engine {
	r.mu.RLock()
	e, ok := r.engines[rootID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[rootID]; ok {
		return e
	}
	e = r.factory(rootID)
	r.engines[rootID] = e
	return e
}

// RegisterRoot eagerly constructs the engine for rootID (returning the
// existing one if the root already has an engine), so a caller can
// pre-warm a root instead of waiting for the first document to arrive.
func (r *Router) RegisterRoot(rootID string) Engine {
	return r.engineFor(rootID)
}

// UnregisterRoot closes and drops a root's engine, e.g. on workspace
// unregister.
func (r *Router) UnregisterRoot(rootID string) error {
	r.mu.Lock()
	e, ok := r.engines[rootID]
	if ok {
		delete(r.engines, rootID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return e.Close()
}

// UpsertDocuments groups docs by root_id and dispatches each group to
// its owning engine.
func (r *Router) UpsertDocuments(docs []dbwriter.EngineDoc) error {
	byRoot := make(map[string][]dbwriter.EngineDoc)
	for _, d := range docs {
		rootID := d.RootID
		if rootID == "" {
			rootID = rootIDFromDocID(d.DocID)
		}
		byRoot[rootID] = append(byRoot[rootID], d)
	}
	for rootID, group := range byRoot {
		if err := r.engineFor(rootID).UpsertDocuments(group); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocuments groups doc IDs by their root_id prefix and dispatches
// each group to its owning engine.
func (r *Router) DeleteDocuments(docIDs []string) error {
	byRoot := make(map[string][]string)
	for _, id := range docIDs {
		rootID := rootIDFromDocID(id)
		byRoot[rootID] = append(byRoot[rootID], id)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for rootID, group := range byRoot {
		e, ok := r.engines[rootID]
		if !ok {
			continue
		}
		if err := e.DeleteDocuments(group); err != nil {
			return err
		}
	}
	return nil
}

// Search dispatches to a single root's engine when Query.RootID is
// set, otherwise fans out to every known root and merges hits in
// descending score order before applying limit/offset.
func (r *Router) Search(q Query) (Result, error) {
	if q.RootID != "" {
		return r.engineFor(q.RootID).Search(q)
	}

	r.mu.RLock()
	engines := make([]Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.RUnlock()

	var merged []Hit
	total := 0
	for _, e := range engines {
		sub := q
		sub.Limit = 0 // gather everything per-engine, trim after merge
		sub.Offset = 0
		res, err := e.Search(sub)
		if err != nil {
			return Result{}, err
		}
		merged = append(merged, res.Hits...)
		if res.Total > 0 {
			total += res.Total
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	start := q.Offset
	if start > len(merged) {
		start = len(merged)
	}
	end := start + limit
	if end > len(merged) {
		end = len(merged)
	}

	out := Result{Hits: merged[start:end], Total: -1}
	if q.WithTotal {
		out.Total = total
	}
	return out, nil
}

// Status reports the router as ready once it has at least one
// underlying engine and none report a problem; an empty router is
// reported ready since it has nothing to be wrong about yet.
func (r *Router) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.engines) == 0 {
		return Status{Mode: ModeEmbedded, Ready: true, Reason: ReasonOK, Hint: "no roots registered yet"}
	}
	for _, e := range r.engines {
		if s := e.Status(); !s.Ready {
			return s
		}
	}
	return Status{Mode: ModeEmbedded, Ready: true, Reason: ReasonOK}
}

// StatusFor reports the status of the single engine backing rootID.
// Unlike Status, which summarizes the whole router, this reflects only
// that root's own fallback/readiness state.
func (r *Router) StatusFor(rootID string) Status {
	r.mu.RLock()
	e, ok := r.engines[rootID]
	r.mu.RUnlock()
	if !ok {
		return Status{Mode: ModeEmbedded, Ready: true, Reason: ReasonOK, Hint: "root not yet registered"}
	}
	return e.Status()
}

// Close closes every owned engine.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, e := range r.engines {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.engines, id)
	}
	return firstErr
}

// SelectionConfig drives NewEngineForRoot's fallback-governed choice
// between embedded and SQLite mode for one root.
type SelectionConfig struct {
	Requested   Mode // "" lets the policy decide
	EmbeddedDir string
	MaxDocBytes int
	PreviewLen  int
}

// NewEngineForRoot applies the engine selection policy: explicit
// config wins; otherwise embedded is preferred if it can be
// constructed, else SQLite. Every downgrade emits a fallback-governance
// event and increments EngineFallbackTotal.
func NewEngineForRoot(cfg SelectionConfig, sqlite Engine, broker *events.Broker) Engine {
	wantEmbedded := cfg.Requested == ModeEmbedded || cfg.Requested == ""
	if !wantEmbedded {
		return sqlite
	}

	if cfg.Requested == ModeEmbedded && !dirExists(cfg.EmbeddedDir) && cfg.EmbeddedDir != "" {
		emitFallback(broker, string(ReasonIndexMissing), cfg.EmbeddedDir)
		metrics.EngineFallbackTotal.WithLabelValues(string(ReasonIndexMissing)).Inc()
	}

	embedded, err := NewEmbeddedEngine(cfg.EmbeddedDir, cfg.MaxDocBytes, cfg.PreviewLen)
	if err != nil {
		reason := string(ReasonNotInstalled)
		logEmbeddedFallback(reason, err.Error())
		emitFallback(broker, reason, err.Error())
		metrics.EngineFallbackTotal.WithLabelValues(reason).Inc()
		return sqlite
	}
	return embedded
}

func emitFallback(broker *events.Broker, reason, hint string) {
	if broker == nil {
		return
	}
	broker.Publish(&events.Event{
		Type:    events.EventEngineFallback,
		Message: "engine fallback to sqlite",
		Metadata: map[string]string{
			"reason": reason,
			"hint":   hint,
		},
	})
}
