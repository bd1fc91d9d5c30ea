package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuluhq/zulu/pkg/executor"
)

func openQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "data", "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestAddAndGet(t *testing.T) {
	q := openQueue(t)

	id, err := q.Add(executor.TaskWebResearch, "research the market", 0, "",
		map[string]any{"domains": []any{"example.com"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	task, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, executor.TaskWebResearch, task.TaskType)
	assert.Equal(t, StatusPending, task.Status)
	assert.NotEmpty(t, task.CreatedAt)

	_, err = q.Get(999)
	assert.ErrorContains(t, err, "task not found")
}

func TestPendingOrdering(t *testing.T) {
	q := openQueue(t)

	low, err := q.Add(executor.TaskWebResearch, "low", 0, "", nil)
	require.NoError(t, err)
	high, err := q.Add(executor.TaskWebResearch, "high", 5, "", nil)
	require.NoError(t, err)
	alsoLow, err := q.Add(executor.TaskWebResearch, "also low", 0, "", nil)
	require.NoError(t, err)

	tasks, err := q.Pending(10)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	// Priority first, then age
	assert.Equal(t, high, tasks[0].ID)
	assert.Equal(t, low, tasks[1].ID)
	assert.Equal(t, alsoLow, tasks[2].ID)
}

func TestPendingHonorsSchedule(t *testing.T) {
	q := openQueue(t)

	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339Nano)
	_, err := q.Add(executor.TaskWebResearch, "later", 0, future, nil)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano)
	due, err := q.Add(executor.TaskWebResearch, "now", 0, past, nil)
	require.NoError(t, err)

	tasks, err := q.Pending(10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, due, tasks[0].ID)
}

func TestPendingLimit(t *testing.T) {
	q := openQueue(t)
	for i := 0; i < 5; i++ {
		_, err := q.Add(executor.TaskWebResearch, "task", 0, "", nil)
		require.NoError(t, err)
	}

	tasks, err := q.Pending(3)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestStatusTransitions(t *testing.T) {
	q := openQueue(t)

	id, err := q.Add(executor.TaskReportDrafting, "draft", 0, "", nil)
	require.NoError(t, err)

	require.NoError(t, q.MarkRunning(id))
	task, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, task.Status)

	require.NoError(t, q.MarkCompleted(id, map[string]any{"output": "done"}))
	task, err = q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, "done", task.Result["output"])
	assert.NotEmpty(t, task.CompletedAt)

	// Completed tasks never show up as pending again
	tasks, err := q.Pending(10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCompletedSince(t *testing.T) {
	q := openQueue(t)

	done, err := q.Add(executor.TaskWebResearch, "a", 0, "", nil)
	require.NoError(t, err)
	failed, err := q.Add(executor.TaskWebResearch, "b", 0, "", nil)
	require.NoError(t, err)
	_, err = q.Add(executor.TaskWebResearch, "still pending", 0, "", nil)
	require.NoError(t, err)

	since := executor.Now()
	require.NoError(t, q.MarkCompleted(done, map[string]any{"output": "x"}))
	require.NoError(t, q.MarkFailed(failed, "boom"))

	tasks, err := q.CompletedSince(since)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, done, tasks[0].ID)
	assert.Equal(t, failed, tasks[1].ID)
	assert.Equal(t, "boom", tasks[1].Error)
}

func TestCountByStatus(t *testing.T) {
	q := openQueue(t)

	a, err := q.Add(executor.TaskWebResearch, "a", 0, "", nil)
	require.NoError(t, err)
	_, err = q.Add(executor.TaskWebResearch, "b", 0, "", nil)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(a, nil))

	counts, err := q.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusCompleted])
}
