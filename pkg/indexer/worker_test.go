package indexer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/baecheolhan/sari/pkg/coalesce"
	"github.com/baecheolhan/sari/pkg/config"
	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/parser"
	"github.com/baecheolhan/sari/pkg/pathutil"
	"github.com/baecheolhan/sari/pkg/scheduler"
	"github.com/baecheolhan/sari/pkg/storage"
	"github.com/baecheolhan/sari/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHarness struct {
	worker   *Worker
	store    *storage.Store
	writer   *dbwriter.Writer
	coal     *coalesce.Map
	resolver *pathutil.Resolver
	dir      string
	rootID   string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(t.TempDir(), "sari.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	writer := dbwriter.New(store, dbwriter.WithMaxWait(10*time.Millisecond))
	writer.Start()
	t.Cleanup(writer.Stop)

	resolver := pathutil.NewResolver()
	rootID := resolver.Register(dir)
	require.NoError(t, store.UpsertRoot(types.Root{RootID: rootID, CanonicalPath: dir}))

	coal := coalesce.New(2, 0)
	sched := scheduler.NewCoordinator()
	t.Cleanup(sched.Stop)

	cfg := testConfig()
	w := New(cfg, store, writer, coal, resolver, parser.NewRegistry(), sched, nil)

	return &testHarness{worker: w, store: store, writer: writer, coal: coal, resolver: resolver, dir: dir, rootID: rootID}
}

func (h *testHarness) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanOnceEnqueuesNewFileForIndexing(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "a.go", "package a\nfunc F() {}\n")

	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))

	task, ok := h.coal.Next(time.Second)
	require.True(t, ok, "new file should produce a coalesced INDEX task")
	assert.Equal(t, types.ActionIndex, task.Action)
	assert.Equal(t, h.rootID+"/a.go", task.DBPath)
}

func TestScanOnceSkipsUnchangedFileAndUpdatesLastSeen(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "a.go", "package a\n")

	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))
	task, ok := h.coal.Next(time.Second)
	require.True(t, ok)
	require.NoError(t, h.worker.indexOne(task.DBPath))
	require.True(t, h.writer.Flush(2*time.Second))

	dbPath := h.rootID + "/a.go"
	old := time.Now().Add(-time.Hour).Unix()
	require.NoError(t, h.store.UpdateLastSeen([]string{dbPath}, old))

	// Second pass over an unchanged file must not produce a new
	// coalesced task; it only refreshes last_seen_ts.
	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))
	_, ok = h.coal.Next(200 * time.Millisecond)
	assert.False(t, ok, "unchanged file must not be re-queued for indexing")

	require.True(t, h.writer.Flush(2*time.Second))
	got, err := h.store.FileByPath(dbPath)
	require.NoError(t, err)
	assert.Greater(t, got.LastSeenTS, old)
}

func TestScanOnceDetectsModifiedFile(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "a.go", "package a\n")

	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))
	task, ok := h.coal.Next(time.Second)
	require.True(t, ok)
	require.NoError(t, h.worker.indexOne(task.DBPath))
	require.True(t, h.writer.Flush(2*time.Second))

	time.Sleep(1100 * time.Millisecond) // ensure a distinct mtime second
	h.writeFile(t, "a.go", "package a\n\nfunc Changed() {}\n")

	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))
	task, ok = h.coal.Next(time.Second)
	require.True(t, ok, "modified file must be re-queued")
	assert.Equal(t, types.ActionIndex, task.Action)
}

func TestScanOnceSoftDeletesStalePath(t *testing.T) {
	h := newHarness(t)
	path := h.writeFile(t, "a.go", "package a\n")

	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))
	task, ok := h.coal.Next(time.Second)
	require.True(t, ok)
	require.NoError(t, h.worker.indexOne(task.DBPath))
	require.True(t, h.writer.Flush(2*time.Second))

	// Push last_seen_ts into the past so the next scan treats the
	// (now-removed) file as stale without needing a real sleep across
	// a wall-clock second boundary.
	dbPath := h.rootID + "/a.go"
	require.NoError(t, h.store.UpdateLastSeen([]string{dbPath}, time.Now().Add(-time.Hour).Unix()))
	require.NoError(t, os.Remove(path))

	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))
	task, ok = h.coal.Next(time.Second)
	require.True(t, ok, "removed file must be queued for deletion")
	assert.Equal(t, types.ActionDelete, task.Action)
	assert.Equal(t, dbPath, task.DBPath)
}

func TestIndexOneRecordsASTStatusOKWithSymbols(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "a.go", "package a\nfunc F() {}\n")
	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))
	task, ok := h.coal.Next(time.Second)
	require.True(t, ok)

	require.NoError(t, h.worker.indexOne(task.DBPath))
	require.True(t, h.writer.Flush(2*time.Second))

	got, err := h.store.FileByPath(h.rootID + "/a.go")
	require.NoError(t, err)
	assert.Equal(t, types.ASTStatusOK, got.ASTStatus)
	assert.Equal(t, types.ReasonNone, got.ASTReason)

	syms, err := h.store.SymbolsByPath(h.rootID + "/a.go")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "F", syms[0].Name)
}

func TestIndexOneRecordsASTReasonNoParseForUnregisteredExtension(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "notes.md", "# just some text\n")
	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))
	task, ok := h.coal.Next(time.Second)
	require.True(t, ok)

	require.NoError(t, h.worker.indexOne(task.DBPath))
	require.True(t, h.writer.Flush(2*time.Second))

	got, err := h.store.FileByPath(h.rootID + "/notes.md")
	require.NoError(t, err)
	assert.Equal(t, types.ASTStatusSkipped, got.ASTStatus)
	assert.Equal(t, types.ReasonNoParse, got.ASTReason)
}

func TestIndexOneTreatsMissingFileAsDelete(t *testing.T) {
	h := newHarness(t)
	h.writeFile(t, "gone.go", "package a\n")
	require.NoError(t, h.worker.ScanOnce(h.rootID, h.dir))
	task, ok := h.coal.Next(time.Second)
	require.True(t, ok)

	require.NoError(t, os.Remove(filepath.Join(h.dir, "gone.go")))
	require.NoError(t, h.worker.indexOne(task.DBPath))
}

func TestDeadLetterUsesIncreasingLadderAcrossCycles(t *testing.T) {
	h := newHarness(t)
	dbPath := h.rootID + "/a.go"

	h.worker.deadLetter(dbPath, assertError{"boom"})
	require.True(t, h.writer.Flush(2*time.Second))
	attempts, err := h.store.FailedTaskAttempts(dbPath)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	h.worker.deadLetter(dbPath, assertError{"boom again"})
	require.True(t, h.writer.Flush(2*time.Second))
	attempts, err = h.store.FailedTaskAttempts(dbPath)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestDLQLadderRungs(t *testing.T) {
	assert.Equal(t, 60*time.Second, dlqLadder(1))
	assert.Equal(t, 5*time.Minute, dlqLadder(2))
	assert.Equal(t, time.Hour, dlqLadder(3))
	assert.Equal(t, time.Hour, dlqLadder(99), "ladder clamps to its final rung")
}

func TestGlobSetMatchesExcludePattern(t *testing.T) {
	g := newGlobSet([]string{"**/node_modules/**"})
	assert.True(t, g.matches("node_modules/left-pad/index.js"))
	assert.False(t, g.matches("src/main.go"))
}

func TestGlobSetIncludeRestrictsToMatchingPaths(t *testing.T) {
	g := newGlobSet([]string{"**/*.go"})
	assert.True(t, g.nonEmpty())
	assert.True(t, g.matches("pkg/foo/bar.go"))
	assert.False(t, g.matches("pkg/foo/bar.py"))
}
