package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/baecheolhan/sari/pkg/config"
	"github.com/baecheolhan/sari/pkg/daemon"
	"github.com/baecheolhan/sari/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	ws := t.TempDir()
	cfg := &config.Config{
		IndexerMode:           config.ModeAuto,
		CoalesceShards:        2,
		CoalesceMaxKeys:       1000,
		GitCheckoutDebounce:   time.Second,
		NonGitDebounce:        10 * time.Millisecond,
		WatcherMonitorSeconds: time.Hour,
		MaxParseBytes:         16 << 20,
		MaxASTBytes:           2 << 20,
		UTF8DecodePolicy:      config.DecodeLossy,
		EngineMaxDocBytes:     1 << 20,
		EnginePreviewBytes:    400,
		RegistryFile:          filepath.Join(t.TempDir(), "registry.json"),
		WorkspaceRoot:         ws,
		DaemonHost:            "127.0.0.1",
		HTTPAPIHost:           "127.0.0.1",
		HTTPAPIPortStrategy:   config.PortStrategyAuto,
		DBWriterMaxBatch:      10,
		DBWriterMaxWait:       10 * time.Millisecond,
		DBWriterMaxRetries:    1,
	}
	d, err := daemon.New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)
	return d
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHandleHealth(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewServer(d).mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestHandleStatusReportsEveryRoot(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewServer(d).mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeJSON(t, resp, &body)
	assert.Equal(t, d.BootID, body["boot_id"])
	roots, ok := body["roots"].([]any)
	require.True(t, ok)
	assert.Len(t, roots, len(d.Roots()))
}

func TestHandleSearchEmptyIndexReturnsNoHits(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewServer(d).mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/search?q=main")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct{ Hits []any }
	decodeJSON(t, resp, &body)
	assert.Empty(t, body.Hits)
}

func TestHandleRescanUnknownRootReturns404(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewServer(d).mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rescan?root_id=does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]any
	decodeJSON(t, resp, &body)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "UNKNOWN_ROOT", errObj["code"])
}

func TestHandleRescanAllRoots(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewServer(d).mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rescan")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleErrorsListsFailedTasksWithRootSplit(t *testing.T) {
	d := newTestDaemon(t)

	var rootID string
	for id := range d.Roots() {
		rootID = id
	}
	require.NoError(t, d.Store.DLQUpsert([]types.FailedTask{{
		DBPath:      rootID + "/broken.go",
		Attempts:    1,
		LastError:   "parse error",
		TS:          time.Now().Unix(),
		NextRetryTS: time.Now().Unix(),
	}}))

	srv := httptest.NewServer(NewServer(d).mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/errors")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeJSON(t, resp, &body)
	tasks, ok := body["failed_tasks"].([]any)
	require.True(t, ok)
	require.Len(t, tasks, 1)
	entry := tasks[0].(map[string]any)
	assert.Equal(t, rootID, entry["root_id"])
	assert.Equal(t, "broken.go", entry["rel_path"])
}

func TestHandleWorkspacesIncludesLocalRoots(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewServer(d).mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/workspaces")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeJSON(t, resp, &body)
	local, ok := body["local"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, local, len(d.Roots()))
}

func TestHandleMCPStubRejectsGet(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewServer(d).mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/mcp")
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleMCPStubReturnsNotImplementedOnPost(t *testing.T) {
	d := newTestDaemon(t)
	srv := httptest.NewServer(NewServer(d).mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("localhost"))
	assert.True(t, isLoopback("127.0.0.1"))
	assert.True(t, isLoopback("::1"))
	assert.False(t, isLoopback("0.0.0.0"))
	assert.False(t, isLoopback("10.0.0.5"))
}
