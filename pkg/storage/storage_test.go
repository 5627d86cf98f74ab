package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/baecheolhan/sari/pkg/dbwriter"
	"github.com/baecheolhan/sari/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sari.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesSchemaAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sari.db")
	store, err := Open(path)
	require.NoError(t, err)
	store.Close()

	store2, err := Open(path)
	require.NoError(t, err)
	defer store2.Close()

	var version int
	require.NoError(t, store2.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestUpsertFilesThenFileByPathRoundTrips(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertRoot(types.Root{RootID: "abc12345", CanonicalPath: "/repo"}))

	err := store.UpsertFiles([]types.File{{
		DBPath: "abc12345/main.go", RelPath: "main.go", RootID: "abc12345",
		Mtime: 100, Size: 42, Hash: "h1", FTSContent: "package main",
		ParseStatus: types.ParseStatusOK, ParseReason: types.ReasonNone,
		ASTStatus: types.ASTStatusOK, ASTReason: types.ReasonNone,
	}})
	require.NoError(t, err)

	got, err := store.FileByPath("abc12345/main.go")
	require.NoError(t, err)
	assert.Equal(t, "main.go", got.RelPath)
	assert.Equal(t, int64(42), got.Size)
	assert.Equal(t, types.ParseStatusOK, got.ParseStatus)
}

func TestDeletePathIsSoftDelete(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertRoot(types.Root{RootID: "root1", CanonicalPath: "/r"}))
	require.NoError(t, store.UpsertFiles([]types.File{{DBPath: "root1/a.go", RelPath: "a.go", RootID: "root1", Mtime: 1, Size: 1}}))

	require.NoError(t, store.DeletePath("root1/a.go"))

	got, err := store.FileByPath("root1/a.go")
	require.NoError(t, err)
	assert.NotZero(t, got.DeletedTS)
}

func TestUpsertSymbolsAndRelationsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertRoot(types.Root{RootID: "r1", CanonicalPath: "/r"}))
	require.NoError(t, store.UpsertFiles([]types.File{{DBPath: "r1/a.go", RelPath: "a.go", RootID: "r1", Mtime: 1, Size: 1}}))

	require.NoError(t, store.UpsertSymbols([]types.Symbol{
		{SymbolID: "s1", DBPath: "r1/a.go", RootID: "r1", Name: "Foo", Kind: "function", Line: 1, EndLine: 3},
	}))
	require.NoError(t, store.UpsertRelations([]types.Relation{
		{FromPath: "r1/a.go", FromRootID: "r1", FromSymbol: "Foo", FromSymbolID: "s1",
			ToPath: "r1/a.go", ToRootID: "r1", ToSymbol: "Bar", ToSymbolID: "s2", RelType: types.RelationCalls, Line: 2},
	}))

	syms, err := store.SymbolsByPath("r1/a.go")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "Foo", syms[0].Name)

	rels, err := store.RelationsFrom("s1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, types.RelationCalls, rels[0].RelType)
}

func TestDLQUpsertThenClearRemovesRow(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.DLQUpsert([]types.FailedTask{{DBPath: "r1/x.go", Attempts: 1, LastError: "boom", TS: 1, NextRetryTS: 2}}))
	require.NoError(t, store.DLQClear([]string{"r1/x.go"}))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT count(*) FROM failed_tasks WHERE path = ?`, "r1/x.go").Scan(&count))
	assert.Zero(t, count)
}

func TestTurboStagingPathMergesIntoMainFiles(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertRoot(types.Root{RootID: "r1", CanonicalPath: "/r"}))

	require.NoError(t, store.UpsertFilesStaging([]types.File{
		{DBPath: "r1/a.go", RelPath: "a.go", RootID: "r1", Mtime: 1, Size: 10},
		{DBPath: "r1/b.go", RelPath: "b.go", RootID: "r1", Mtime: 1, Size: 20},
	}))
	require.NoError(t, store.FinalizeTurboBatch())

	got, err := store.FileByPath("r1/a.go")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Size)

	got2, err := store.FileByPath("r1/b.go")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got2.Size)
}

func TestUpsertSnippetsAndContextsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertSnippets([]dbwriter.Snippet{
		{Tag: "todo", RootID: "r1", Path: "r1/a.go", StartLine: 1, EndLine: 2, Content: "// todo"},
	}))
	require.NoError(t, store.UpsertContexts([]dbwriter.Context{
		{Topic: "architecture", Content: "single writer goroutine"},
	}))

	var snippetCount, contextCount int
	require.NoError(t, store.db.QueryRow(`SELECT count(*) FROM snippets`).Scan(&snippetCount))
	require.NoError(t, store.db.QueryRow(`SELECT count(*) FROM contexts`).Scan(&contextCount))
	assert.Equal(t, 1, snippetCount)
	assert.Equal(t, 1, contextCount)
}

func TestUpsertRepoMetaIsKeyed(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertRepoMeta(map[string]string{"last_scan": "100"}))
	require.NoError(t, store.UpsertRepoMeta(map[string]string{"last_scan": "200"}))

	var value string
	require.NoError(t, store.db.QueryRow(`SELECT value FROM meta_stats WHERE key = ?`, "last_scan").Scan(&value))
	assert.Equal(t, "200", value)
}

func TestListRootsAndDeleteRoot(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.UpsertRoot(types.Root{RootID: "r1", CanonicalPath: "/one", CreatedAt: time.Now()}))
	require.NoError(t, store.UpsertRoot(types.Root{RootID: "r2", CanonicalPath: "/two", CreatedAt: time.Now()}))

	roots, err := store.ListRoots()
	require.NoError(t, err)
	assert.Len(t, roots, 2)

	require.NoError(t, store.UpsertFiles([]types.File{{DBPath: "r1/a.go", RelPath: "a.go", RootID: "r1", Mtime: 1, Size: 1}}))
	require.NoError(t, store.DeleteRoot("r1"))

	_, err = store.GetRoot("r1")
	assert.ErrorIs(t, err, ErrRootNotFound)

	_, err = store.FileByPath("r1/a.go")
	require.Error(t, err)
}
