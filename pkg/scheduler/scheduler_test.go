package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueLowestPriorityFirstWithinRoot(t *testing.T) {
	c := NewCoordinator(WithAgeFactor(0))
	c.Enqueue(Task{Kind: KindIndex, Path: "a.go", RootID: "root1", BasePriority: 5})
	c.Enqueue(Task{Kind: KindIndex, Path: "b.go", RootID: "root1", BasePriority: 1})

	task, ok := c.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "b.go", task.Path, "lower base priority should be served first")

	task, ok = c.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "a.go", task.Path)
}

func TestDequeueTimesOutWhenEmpty(t *testing.T) {
	c := NewCoordinator()
	_, ok := c.Dequeue(20 * time.Millisecond)
	assert.False(t, ok)
}

func TestRoundRobinAcrossRoots(t *testing.T) {
	c := NewCoordinator(WithAgeFactor(0))
	c.Enqueue(Task{Kind: KindIndex, Path: "r1-a", RootID: "root1"})
	c.Enqueue(Task{Kind: KindIndex, Path: "r1-b", RootID: "root1"})
	c.Enqueue(Task{Kind: KindIndex, Path: "r2-a", RootID: "root2"})

	var roots []string
	for i := 0; i < 3; i++ {
		task, ok := c.Dequeue(time.Second)
		require.True(t, ok)
		roots = append(roots, task.RootID)
	}

	// root2's single task must not be starved behind both of root1's.
	assert.Contains(t, roots[:2], "root2")
}

func TestAgingPromotesStarvedTask(t *testing.T) {
	c := NewCoordinator(WithAgeFactor(1000))
	c.Enqueue(Task{Kind: KindIndex, Path: "old", RootID: "root1", BasePriority: 10, EnqueueTime: time.Now().Add(-time.Second)})
	c.Enqueue(Task{Kind: KindIndex, Path: "new", RootID: "root1", BasePriority: 1})

	task, ok := c.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "old", task.Path, "a long-waiting task should eventually outrank a fresher higher-priority one")
}

func TestWakeUnblocksConcurrentDequeue(t *testing.T) {
	c := NewCoordinator()
	var wg sync.WaitGroup
	wg.Add(1)

	var got Task
	var ok bool
	go func() {
		defer wg.Done()
		got, ok = c.Dequeue(2 * time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Enqueue(Task{Kind: KindRescan, Path: "x", RootID: "rootX"})
	wg.Wait()

	require.True(t, ok)
	assert.Equal(t, "x", got.Path)
}

func TestStopUnblocksDequeue(t *testing.T) {
	c := NewCoordinator()
	done := make(chan struct{})
	go func() {
		_, ok := c.Dequeue(5 * time.Second)
		assert.False(t, ok)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock Dequeue")
	}
}

func TestThrottleOnlyWithinGraceWindow(t *testing.T) {
	c := NewCoordinator(WithGraceWindow(50*time.Millisecond), WithThrottleSleep(5*time.Millisecond))
	assert.False(t, c.InGraceWindow())

	c.NotifySearchStart()
	assert.True(t, c.InGraceWindow())

	start := time.Now()
	c.Throttle()
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.False(t, c.InGraceWindow())
}

func TestLenTracksAcrossRoots(t *testing.T) {
	c := NewCoordinator()
	c.Enqueue(Task{RootID: "root1", Path: "a"})
	c.Enqueue(Task{RootID: "root2", Path: "b"})
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, c.RootLen("root1"))

	_, ok := c.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, c.Len())
}
