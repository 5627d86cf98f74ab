package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/baecheolhan/sari/pkg/config"
	"github.com/baecheolhan/sari/pkg/daemon"
	"github.com/baecheolhan/sari/pkg/log"
	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/search"
	"github.com/rs/zerolog"
)

// maxAutoPortAttempts bounds how many ascending ports the "auto" port
// strategy will try before giving up.
const maxAutoPortAttempts = 20

// Server is the loopback HTTP status/search API. It holds no pipeline
// state of its own; every handler reads through to d.
type Server struct {
	d      *daemon.Daemon
	mux    *http.ServeMux
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds a Server wired to d. Call Start to bind and serve.
func NewServer(d *daemon.Daemon) *Server {
	s := &Server{
		d:      d,
		mux:    http.NewServeMux(),
		logger: log.WithComponent("api"),
	}

	s.mux.HandleFunc("/health", s.instrument("/health", s.handleHealth))
	s.mux.HandleFunc("/status", s.instrument("/status", s.handleStatus))
	s.mux.HandleFunc("/search", s.instrument("/search", s.handleSearch))
	s.mux.HandleFunc("/repo-candidates", s.instrument("/repo-candidates", s.handleRepoCandidates))
	s.mux.HandleFunc("/rescan", s.instrument("/rescan", s.handleRescan))
	s.mux.HandleFunc("/errors", s.instrument("/errors", s.handleErrors))
	s.mux.HandleFunc("/workspaces", s.instrument("/workspaces", s.handleWorkspaces))
	s.mux.HandleFunc("/mcp", s.instrument("/mcp", s.handleMCPStub))
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// instrument wraps a handler with the APIRequestsTotal/APIRequestDuration
// bookkeeping pkg/metrics declares for every route.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Start binds the server to host:port per cfg's port strategy and
// serves until the context is cancelled. strict fails immediately if
// the port is taken; auto tries ascending ports up to
// maxAutoPortAttempts.
func (s *Server) Start(ctx context.Context, cfg *config.Config) error {
	host, port := cfg.HTTPAPIHost, cfg.HTTPAPIPort
	if !isLoopback(host) {
		return fmt.Errorf("api: refusing to bind non-loopback host %q", host)
	}

	var lis net.Listener
	var err error
	if cfg.HTTPAPIPortStrategy == config.PortStrategyAuto {
		for attempt := 0; attempt < maxAutoPortAttempts; attempt++ {
			lis, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port+attempt)))
			if err == nil {
				port += attempt
				break
			}
		}
	} else {
		lis, err = net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	}
	if err != nil {
		return fmt.Errorf("api: binding %s:%d: %w", host, port, err)
	}

	s.http = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("http api listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	if err := s.http.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	roots := s.d.Roots()
	rootStatuses := make([]map[string]any, 0, len(roots))
	for rootID, path := range roots {
		st := s.d.Search.StatusFor(rootID)
		rootStatuses = append(rootStatuses, map[string]any{
			"root_id":        rootID,
			"canonical_path": path,
			"engine_mode":    st.Mode,
			"engine_ready":   st.Ready,
			"engine_reason":  st.Reason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"boot_id":        s.d.BootID,
		"version":        daemon.Version,
		"roots":          rootStatuses,
		"coalesce_size":  s.d.CoalesceSize(),
		"dlq_depth":      s.d.DLQDepth(),
		"registry_count": s.d.RegistryDaemonCount(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}

	res, err := s.d.Search.Search(search.Query{
		Text:   q.Get("q"),
		Repo:   q.Get("repo"),
		RootID: q.Get("root_id"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRepoCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	candidates, err := search.RepoCandidates(s.d.Store.DB(), q.Get("q"), s.d.RepoIDsForRoots(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	rootID := r.URL.Query().Get("root_id")
	roots := s.d.Roots()
	if rootID != "" {
		if _, ok := roots[rootID]; !ok {
			writeError(w, http.StatusNotFound, "UNKNOWN_ROOT", fmt.Sprintf("no such root_id %q", rootID))
			return
		}
		s.d.Indexer.RequestRescan(rootID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "rescan requested", "root_id": rootID})
		return
	}
	for id := range roots {
		s.d.Indexer.RequestRescan(id)
	}
	writeJSON(w, http.StatusOK, map[string]int{"roots_requested": len(roots)})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	// DueFailedTasks filters on next_retry_ts <= now; a far-future
	// horizon effectively lists every DLQ row regardless of ladder
	// position, which is what an operator-facing /errors view wants.
	tasks, err := s.d.Store.DueFailedTasks(time.Now().Add(365 * 24 * time.Hour).Unix())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		rootID, relPath, canonicalPath := s.d.DescribeFailedTask(t.DBPath)
		out = append(out, map[string]any{
			"db_path":        t.DBPath,
			"root_id":        rootID,
			"rel_path":       relPath,
			"canonical_path": canonicalPath,
			"attempts":       t.Attempts,
			"last_error":     t.LastError,
			"ts":             t.TS,
			"next_retry_ts":  t.NextRetryTS,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"failed_tasks": out})
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	daemons, workspaces, deployment, err := s.d.Registry.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"daemons":    daemons,
		"workspaces": workspaces,
		"deployment": deployment,
		"local":      s.d.Roots(),
	})
}

// handleMCPStub is the explicit hand-off point to the (out of scope)
// MCP tool layer: this core only guarantees the pipeline the tool
// layer would sit on top of, not the JSON-RPC/PACK1 framing itself.
func (s *Server) handleMCPStub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "POST required")
		return
	}
	writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "MCP tool layer is not part of this core")
}
