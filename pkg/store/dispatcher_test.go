package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuluhq/zulu/pkg/executor"
)

type stubBackend struct {
	mu       sync.Mutex
	requests []*executor.Request
	respond  func(req *executor.Request) (*executor.Response, error)
}

func (b *stubBackend) Dispatch(_ context.Context, req *executor.Request) (*executor.Response, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	return b.respond(req)
}

func testDispatcher(t *testing.T, backend Backend) (*Dispatcher, *Queue, string) {
	t.Helper()
	q := openQueue(t)
	reportDir := filepath.Join(t.TempDir(), "reports")
	cfg := DispatcherConfig{
		ReportDir:      reportDir,
		CheckInterval:  time.Minute,
		QuietStart:     22,
		QuietEnd:       6,
		MaxTasksPerRun: 10,
	}
	d := NewDispatcher(cfg, q, backend, executor.NewCredentials("key", "anthropic"))
	return d, q, reportDir
}

func atHour(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 3, 14, hour, 30, 0, 0, time.Local)
	}
}

func TestQuietHoursOvernightWrap(t *testing.T) {
	d, _, _ := testDispatcher(t, nil)

	for hour, want := range map[int]bool{23: true, 2: true, 5: true, 6: false, 12: false, 21: false} {
		d.now = atHour(hour)
		assert.Equal(t, want, d.InQuietHours(), "hour %d", hour)
	}
}

func TestQuietHoursDaytimeWindow(t *testing.T) {
	d, _, _ := testDispatcher(t, nil)
	d.cfg.QuietStart = 9
	d.cfg.QuietEnd = 17

	d.now = atHour(12)
	assert.True(t, d.InQuietHours())
	d.now = atHour(18)
	assert.False(t, d.InQuietHours())
}

func TestRunOnceSkipsOutsideQuietHours(t *testing.T) {
	d, _, _ := testDispatcher(t, nil)
	d.now = atHour(12)

	summary, err := d.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Equal(t, "not_quiet_hours", summary.Reason)
}

func TestRunOnceProcessesBatch(t *testing.T) {
	backend := &stubBackend{respond: func(req *executor.Request) (*executor.Response, error) {
		return &executor.Response{
			TaskID:     req.TaskID,
			Status:     executor.StatusCompleted,
			Output:     map[string]any{"content": "findings"},
			StepsTaken: 3,
		}, nil
	}}
	d, q, reportDir := testDispatcher(t, backend)
	d.now = atHour(23)

	id, err := q.Add(executor.TaskWebResearch, "research the market", 0, "",
		map[string]any{"domains": []any{"example.com"}})
	require.NoError(t, err)

	summary, err := d.RunOnce(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalTasks)
	assert.Equal(t, 1, summary.Completed)
	assert.Zero(t, summary.Failed)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, fmt.Sprintf("nightshift-%d", id), req.TaskID)
	assert.Equal(t, []string{"example.com"}, req.DomainAllowlist)
	assert.True(t, req.Tools.WebBrowse)
	assert.True(t, req.Tools.WebFetch)
	assert.NotEmpty(t, req.Credentials.IssuedAt)

	task, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, float64(3), task.Result["steps_taken"])

	entries, err := os.ReadDir(reportDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var md string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".md") {
			data, err := os.ReadFile(filepath.Join(reportDir, e.Name()))
			require.NoError(t, err)
			md = string(data)
		}
	}
	assert.Contains(t, md, "# NightShift Report")
	assert.Contains(t, md, "✅ Task 1 (web_research)")
}

func TestRunOnceMarksFailures(t *testing.T) {
	backend := &stubBackend{respond: func(req *executor.Request) (*executor.Response, error) {
		return &executor.Response{
			TaskID: req.TaskID,
			Status: executor.StatusError,
			Error:  "worker exploded",
		}, nil
	}}
	d, q, _ := testDispatcher(t, backend)

	id, err := q.Add(executor.TaskReportDrafting, "draft it", 0, "", nil)
	require.NoError(t, err)

	summary, err := d.RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	task, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "worker exploded", task.Error)
}

func TestRunOnceDispatchErrorMarksFailed(t *testing.T) {
	backend := &stubBackend{respond: func(req *executor.Request) (*executor.Response, error) {
		return nil, fmt.Errorf("connection refused")
	}}
	d, q, _ := testDispatcher(t, backend)

	id, err := q.Add(executor.TaskWebResearch, "go", 0, "", nil)
	require.NoError(t, err)

	summary, err := d.RunOnce(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	task, err := q.Get(id)
	require.NoError(t, err)
	assert.Contains(t, task.Error, "connection refused")
}

func TestTaskToolsMinimalGrants(t *testing.T) {
	assert.True(t, taskTools(executor.TaskCodeReview).CodeAnalyze)
	assert.False(t, taskTools(executor.TaskCodeReview).WebBrowse)
	assert.True(t, taskTools(executor.TaskReportDrafting).LLMChat)
	assert.False(t, taskTools(executor.TaskReportDrafting).WebFetch)
	// Unknown types get chat only
	assert.Equal(t, executor.ToolAllowlist{LLMChat: true}, taskTools(executor.TaskType("mystery")))
}
