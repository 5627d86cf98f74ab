package search

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/storage"
	"github.com/baecheolhan/sari/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "sari.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteEngineSearchFindsIndexedFile(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertRoot(types.Root{RootID: "abc12345", CanonicalPath: "/repo"}))
	require.NoError(t, s.UpsertFiles([]types.File{{
		DBPath: "abc12345/a.py", RelPath: "a.py", RootID: "abc12345", Repo: "repo",
		Mtime: 1, Size: 10, FTSContent: "def handler(): pass",
		ParseStatus: types.ParseStatusOK, ParseReason: types.ReasonNone,
	}}))

	eng := NewSQLiteEngine(s.DB())
	res, err := eng.Search(Query{Text: "handler", WithTotal: true})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "abc12345/a.py", res.Hits[0].DBPath)
	assert.Equal(t, 1, res.Total)
}

func TestSQLiteEngineSearchScopesToRoot(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertRoot(types.Root{RootID: "root1", CanonicalPath: "/r1"}))
	require.NoError(t, s.UpsertRoot(types.Root{RootID: "root2", CanonicalPath: "/r2"}))
	require.NoError(t, s.UpsertFiles([]types.File{
		{DBPath: "root1/a.py", RelPath: "a.py", RootID: "root1", Mtime: 1, Size: 1, FTSContent: "needle here"},
		{DBPath: "root2/b.py", RelPath: "b.py", RootID: "root2", Mtime: 1, Size: 1, FTSContent: "needle there"},
	}))

	eng := NewSQLiteEngine(s.DB())
	res, err := eng.Search(Query{Text: "needle", RootID: "root1"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "root1/a.py", res.Hits[0].DBPath)
}

func TestEmbeddedEngineUpsertAndSearch(t *testing.T) {
	eng, err := NewEmbeddedEngine("", 0, 0)
	require.NoError(t, err)
	defer eng.Close()

	require.NoError(t, eng.UpsertDocuments([]dbwriter.EngineDoc{
		{DocID: "root1/a.go", RootID: "root1", DBPath: "root1/a.go", Content: "func handleRequest() {}"},
	}))

	res, err := eng.Search(Query{Text: "handleRequest"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "root1/a.go", res.Hits[0].DocID)
}

func TestEmbeddedEngineDelete(t *testing.T) {
	eng, err := NewEmbeddedEngine("", 0, 0)
	require.NoError(t, err)
	defer eng.Close()

	require.NoError(t, eng.UpsertDocuments([]dbwriter.EngineDoc{
		{DocID: "root1/a.go", RootID: "root1", Content: "uniqueword"},
	}))
	require.NoError(t, eng.DeleteDocuments([]string{"root1/a.go"}))

	res, err := eng.Search(Query{Text: "uniqueword"})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 0)
}

func TestRouterDispatchesByDocIDPrefix(t *testing.T) {
	built := map[string]*EmbeddedEngine{}
	r := NewRouter(func(rootID string) Engine {
		e, _ := NewEmbeddedEngine("", 0, 0)
		built[rootID] = e
		return e
	}, nil)
	defer r.Close()

	require.NoError(t, r.UpsertDocuments([]dbwriter.EngineDoc{
		{DocID: "root1/a.go", RootID: "root1", Content: "alpha"},
		{DocID: "root2/b.go", RootID: "root2", Content: "beta"},
	}))

	res, err := r.Search(Query{Text: "alpha", RootID: "root1"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "root1/a.go", res.Hits[0].DocID)

	require.Len(t, built, 2)
}

func TestNormalizeSegmentsCJK(t *testing.T) {
	got := Normalize("检索テスト  search")
	assert.Contains(t, got, "search")
	assert.Contains(t, got, "检")
}

func TestRebuildReindexesFromStore(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertRoot(types.Root{RootID: "root1", CanonicalPath: "/repo"}))
	require.NoError(t, s.UpsertFiles([]types.File{
		{DBPath: "root1/a.py", RootID: "root1", RelPath: "a.py", Mtime: time.Now().Unix(), Size: 1, FTSContent: "rebuildable"},
	}))

	eng, err := NewEmbeddedEngine("", 0, 0)
	require.NoError(t, err)
	defer eng.Close()

	n, err := Rebuild(s, eng, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := eng.Search(Query{Text: "rebuildable"})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 1)
}
