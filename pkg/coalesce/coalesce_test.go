package coalesce

import (
	"errors"
	"testing"
	"time"

	"github.com/baecheolhan/sari/pkg/metrics"
	"github.com/baecheolhan/sari/pkg/types"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	root string
}

func (r stubResolver) Resolve(fsPath string) (string, string, error) {
	if fsPath == "" {
		return "", "", errors.New("empty path")
	}
	return r.root, r.root + "/" + fsPath, nil
}

func TestSubmitModifiedThenDelete_DeleteWins(t *testing.T) {
	m := New(4, 0)
	r := stubResolver{root: "root1"}

	m.Submit(types.FsEvent{Kind: types.FsEventModified, Path: "a.go", TS: time.Now()}, r)
	m.Submit(types.FsEvent{Kind: types.FsEventDeleted, Path: "a.go", TS: time.Now()}, r)

	task, ok := m.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, types.ActionDelete, task.Action, "DELETE is absorbing")
	assert.Equal(t, "root1/a.go", task.DBPath)
}

func TestSubmitDeleteThenModified_DeleteStillWins(t *testing.T) {
	m := New(4, 0)
	r := stubResolver{root: "root1"}

	m.Submit(types.FsEvent{Kind: types.FsEventDeleted, Path: "a.go", TS: time.Now()}, r)
	m.Submit(types.FsEvent{Kind: types.FsEventModified, Path: "a.go", TS: time.Now()}, r)

	task, ok := m.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, types.ActionDelete, task.Action)
}

func TestMovedSplitsIntoDeleteAndIndex(t *testing.T) {
	m := New(4, 0)
	r := stubResolver{root: "root1"}

	m.Submit(types.FsEvent{Kind: types.FsEventMoved, Path: "old.go", DestPath: "new.go", TS: time.Now()}, r)

	seen := map[string]types.TaskAction{}
	for i := 0; i < 2; i++ {
		task, ok := m.Next(time.Second)
		require.True(t, ok)
		seen[task.DBPath] = task.Action
	}
	assert.Equal(t, types.ActionDelete, seen["root1/old.go"])
	assert.Equal(t, types.ActionIndex, seen["root1/new.go"])
}

func TestOnePendingTaskPerKeyAfterCoalescing(t *testing.T) {
	m := New(4, 0)
	r := stubResolver{root: "root1"}

	for i := 0; i < 50; i++ {
		m.Submit(types.FsEvent{Kind: types.FsEventModified, Path: "hot.go", TS: time.Now()}, r)
	}

	_, ok := m.Next(time.Second)
	require.True(t, ok)
	_, ok = m.Next(50 * time.Millisecond)
	assert.False(t, ok, "bursty events on one path must coalesce to a single task")
}

func TestMaxKeysBoundDropsNewKeysAndIncrementsDegraded(t *testing.T) {
	m := New(4, 2)
	r := stubResolver{root: "root1"}

	var before, after dto.Metric
	require.NoError(t, metrics.CoalesceDropDegradedTotal.Write(&before))

	m.Submit(types.FsEvent{Kind: types.FsEventModified, Path: "a.go", TS: time.Now()}, r)
	m.Submit(types.FsEvent{Kind: types.FsEventModified, Path: "b.go", TS: time.Now()}, r)
	m.Submit(types.FsEvent{Kind: types.FsEventModified, Path: "c.go", TS: time.Now()}, r)

	assert.LessOrEqual(t, m.Size(), int64(2))
	require.NoError(t, metrics.CoalesceDropDegradedTotal.Write(&after))
	assert.Equal(t, 1.0, after.GetCounter().GetValue()-before.GetCounter().GetValue())
}

func TestUnresolvablePathIsDropped(t *testing.T) {
	m := New(4, 0)
	m.Submit(types.FsEvent{Kind: types.FsEventModified, Path: "", TS: time.Now()}, stubResolver{root: "root1"})
	assert.Equal(t, int64(0), m.Size())
}

func TestSubmitDBPathBypassesResolver(t *testing.T) {
	m := New(4, 0)
	m.SubmitDBPath("root1/direct.go", types.ActionIndex)
	task, ok := m.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, "root1/direct.go", task.DBPath)
}
