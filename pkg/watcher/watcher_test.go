package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/baecheolhan/sari/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsGitEvent(t *testing.T) {
	assert.True(t, isGitEvent("/repo/.git/HEAD"))
	assert.True(t, isGitEvent("/repo/.git/refs/heads/main"))
	assert.True(t, isGitEvent("/repo/.git/index"))
	assert.False(t, isGitEvent("/repo/src/main.go"))
	assert.False(t, isGitEvent("/repo/gitignore.go"))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		op   fsnotify.Op
		want types.FsEventKind
		ok   bool
	}{
		{fsnotify.Create, types.FsEventCreated, true},
		{fsnotify.Write, types.FsEventModified, true},
		{fsnotify.Remove, types.FsEventDeleted, true},
		{fsnotify.Rename, types.FsEventMoved, true},
		{fsnotify.Chmod, "", false},
	}
	for _, c := range cases {
		kind, ok := classify(c.op)
		assert.Equal(t, c.ok, ok)
		if ok {
			assert.Equal(t, c.want, kind)
		}
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := New([]string{dir}, func(types.FsEvent) {}, nil)
	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}

func TestWatcherEmitsModifiedEventAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	var mu sync.Mutex
	var seen []types.FsEvent
	w := New([]string{dir}, func(ev types.FsEvent) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	}, nil, WithDebounce(50*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(file, []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(file, []byte("z"), 0o644))
	require.NoError(t, os.WriteFile(file, []byte("w"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, file, seen[0].Path)
}

func TestWithOptionsOverrideDefaults(t *testing.T) {
	w := New(nil, nil, nil,
		WithDebounce(2*time.Second),
		WithGitDebounce(5*time.Second),
		WithMonitorInterval(30*time.Second),
	)
	assert.Equal(t, 2*time.Second, w.debounce)
	assert.Equal(t, 5*time.Second, w.gitDebounce)
	assert.Equal(t, 30*time.Second, w.monitorInterval)
}

func TestGitEventUsesSeparateDebounceWindow(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	headFile := filepath.Join(gitDir, "HEAD")
	require.NoError(t, os.WriteFile(headFile, []byte("ref: refs/heads/main"), 0o644))

	var mu sync.Mutex
	var gitPaths []string
	w := New([]string{dir}, func(types.FsEvent) {}, func(path string) {
		mu.Lock()
		gitPaths = append(gitPaths, path)
		mu.Unlock()
	}, WithGitDebounce(50*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(headFile, []byte("ref: refs/heads/dev"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gitPaths) >= 1
	}, 2*time.Second, 20*time.Millisecond)
}
