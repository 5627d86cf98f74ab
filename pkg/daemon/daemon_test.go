package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/baecheolhan/sari/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, workspace string) *config.Config {
	t.Helper()
	return &config.Config{
		IndexerMode:           config.ModeAuto,
		StartupIndex:          false,
		CoalesceShards:        2,
		CoalesceMaxKeys:       1000,
		GitCheckoutDebounce:   time.Second,
		NonGitDebounce:        10 * time.Millisecond,
		WatcherMonitorSeconds: time.Hour, // keep the restart supervisor quiet during tests
		MaxParseBytes:         16 << 20,
		MaxASTBytes:           2 << 20,
		UTF8DecodePolicy:      config.DecodeLossy,
		EngineMaxDocBytes:     1 << 20,
		EnginePreviewBytes:    400,
		RegistryFile:          filepath.Join(t.TempDir(), "registry.json"),
		WorkspaceRoot:         workspace,
		DaemonHost:            "127.0.0.1",
		DaemonPort:            0,
		HTTPAPIHost:           "127.0.0.1",
		HTTPAPIPort:           0,
		HTTPAPIPortStrategy:   config.PortStrategyAuto,
		DBWriterMaxBatch:      10,
		DBWriterMaxWait:       10 * time.Millisecond,
		DBWriterMaxRetries:    1,
	}
}

func TestNewRejectsMissingWorkspaceRoot(t *testing.T) {
	_, err := New(&config.Config{})
	require.Error(t, err)
}

func TestNewWiresEveryComponent(t *testing.T) {
	ws := t.TempDir()
	d, err := New(testConfig(t, ws))
	require.NoError(t, err)
	t.Cleanup(d.Stop)

	assert.NotEmpty(t, d.BootID)
	assert.NotNil(t, d.Store)
	assert.NotNil(t, d.Writer)
	assert.NotNil(t, d.Coalesce)
	assert.NotNil(t, d.Resolver)
	assert.NotNil(t, d.Parsers)
	assert.NotNil(t, d.Sched)
	assert.NotNil(t, d.Broker)
	assert.NotNil(t, d.Indexer)
	assert.NotNil(t, d.Search)
	assert.NotNil(t, d.Registry)
	assert.NotNil(t, d.Lock)
	assert.NotNil(t, d.Watcher)

	roots := d.Roots()
	require.Len(t, roots, 1)
	for _, path := range roots {
		assert.Equal(t, ws, path)
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	ws := t.TempDir()
	d, err := New(testConfig(t, ws))
	require.NoError(t, err)

	require.NoError(t, d.Start())
	require.NoError(t, d.Start()) // second call is a no-op, not an error

	daemons, _, _, err := d.Registry.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, daemons, d.BootID)

	d.Stop()
	d.Stop() // second call must not panic on an already-closed stopCh

	daemons, _, _, err = d.Registry.Snapshot()
	require.NoError(t, err)
	assert.NotContains(t, daemons, d.BootID)
}

func TestRegisterAndUnregisterRootAtRuntime(t *testing.T) {
	ws := t.TempDir()
	d, err := New(testConfig(t, ws))
	require.NoError(t, err)
	t.Cleanup(d.Stop)
	require.NoError(t, d.Start())

	second := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(second, "a.go"), []byte("package a\n"), 0o644))

	rootID, err := d.RegisterRoot(second, "second-repo")
	require.NoError(t, err)
	assert.Contains(t, d.Roots(), rootID)

	require.NoError(t, d.UnregisterRoot(rootID))
	assert.NotContains(t, d.Roots(), rootID)

	err = d.UnregisterRoot(rootID)
	assert.Error(t, err)
}

func TestMetricsSourceMethodsDoNotPanicOnEmptyState(t *testing.T) {
	ws := t.TempDir()
	d, err := New(testConfig(t, ws))
	require.NoError(t, err)
	t.Cleanup(d.Stop)

	assert.Equal(t, 0, d.CoalesceSize())
	assert.GreaterOrEqual(t, d.DLQDepth(), 0)
	assert.GreaterOrEqual(t, d.RegistryDaemonCount(), 0)
	assert.NotEmpty(t, d.RootStats())
}

func TestDescribeFailedTaskSplitsDBPath(t *testing.T) {
	ws := t.TempDir()
	d, err := New(testConfig(t, ws))
	require.NoError(t, err)
	t.Cleanup(d.Stop)

	var rootID string
	for id := range d.Roots() {
		rootID = id
	}

	gotRoot, rel, canonical := d.DescribeFailedTask(rootID + "/src/main.go")
	assert.Equal(t, rootID, gotRoot)
	assert.Equal(t, "src/main.go", rel)
	assert.Equal(t, ws, canonical)
}
