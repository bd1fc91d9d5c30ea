package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		ListenPort:  8080,
		MaxDuration: 300,
		MaxMemoryMB: 1024,
		Workspace:   t.TempDir(),
	}
}

func TestPing(t *testing.T) {
	r := NewRunner(testConfig(t))
	result := r.Execute(context.Background(), &Task{TaskID: "t1", TaskType: "ping"})

	require.Equal(t, "completed", result.Status)
	assert.Equal(t, true, result.Result["pong"])
	assert.NotEmpty(t, result.CompletedAt)
}

func TestWebFetch(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	r := NewRunner(testConfig(t))
	result := r.Execute(context.Background(), &Task{
		TaskID:            "t1",
		TaskType:          "web_fetch",
		Params:            map[string]any{"url": srv.URL},
		ScopedCredentials: map[string]any{"auth_header": "Bearer scoped"},
	})

	require.Equal(t, "completed", result.Status)
	assert.Equal(t, "Bearer scoped", gotAuth)
	assert.Equal(t, 200, result.Result["status_code"])
	assert.Equal(t, "<html>hello</html>", result.Result["content"])
	assert.Equal(t, 18, result.Result["content_length"])
}

func TestWebFetchTruncates(t *testing.T) {
	big := strings.Repeat("x", maxFetchChars+500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(big))
	}))
	defer srv.Close()

	r := NewRunner(testConfig(t))
	result := r.Execute(context.Background(), &Task{
		TaskID:   "t1",
		TaskType: "web_fetch",
		Params:   map[string]any{"url": srv.URL},
	})

	require.Equal(t, "completed", result.Status)
	assert.Len(t, result.Result["content"], maxFetchChars)
	assert.Equal(t, len(big), result.Result["content_length"])
}

func TestWebFetchMissingURL(t *testing.T) {
	r := NewRunner(testConfig(t))
	result := r.Execute(context.Background(), &Task{TaskID: "t1", TaskType: "web_fetch"})

	require.Equal(t, "error", result.Status)
	assert.Contains(t, result.Error, "missing 'url'")
}

func TestSummarizePreprocesses(t *testing.T) {
	text := strings.Repeat("y", maxPreprocessChars+100)
	r := NewRunner(testConfig(t))
	result := r.Execute(context.Background(), &Task{
		TaskID:   "t1",
		TaskType: "summarize",
		Params:   map[string]any{"text": text, "max_length": float64(200)},
	})

	require.Equal(t, "completed", result.Status)
	assert.Len(t, result.Result["preprocessed_text"], maxPreprocessChars)
	assert.Equal(t, len(text), result.Result["char_count"])
	assert.Equal(t, true, result.Result["needs_llm"])
	assert.Equal(t, "Summarize in 200 chars", result.Result["suggested_prompt"])
}

func TestTransformJSONExtract(t *testing.T) {
	r := NewRunner(testConfig(t))
	result := r.Execute(context.Background(), &Task{
		TaskID:   "t1",
		TaskType: "transform",
		Params: map[string]any{
			"transform_type": "json_extract",
			"data":           map[string]any{"a": 1.0, "b": 2.0, "c": 3.0},
			"keys":           []any{"a", "c"},
		},
	})

	require.Equal(t, "completed", result.Status)
	extracted := result.Result["extracted"].(map[string]any)
	assert.Equal(t, map[string]any{"a": 1.0, "c": 3.0}, extracted)
}

func TestTransformIdentity(t *testing.T) {
	r := NewRunner(testConfig(t))
	result := r.Execute(context.Background(), &Task{
		TaskID:   "t1",
		TaskType: "transform",
		Params:   map[string]any{"data": "unchanged"},
	})

	require.Equal(t, "completed", result.Status)
	assert.Equal(t, "unchanged", result.Result["data"])
	assert.Equal(t, "identity", result.Result["transform"])
}

func TestCodeExecAlwaysRejected(t *testing.T) {
	r := NewRunner(testConfig(t))
	result := r.Execute(context.Background(), &Task{
		TaskID:   "t1",
		TaskType: "code_exec",
		Params:   map[string]any{"code": "os.Exit(1)"},
	})

	require.Equal(t, "completed", result.Status)
	assert.Equal(t, "rejected", result.Result["status"])
	assert.Contains(t, result.Result["reason"], "additional sandboxing")
}

func TestUnknownTaskType(t *testing.T) {
	r := NewRunner(testConfig(t))
	result := r.Execute(context.Background(), &Task{TaskID: "t1", TaskType: "fork_bomb"})

	require.Equal(t, "error", result.Status)
	assert.Contains(t, result.Error, "unknown task type")
}

func TestTimeoutCapsAtGlobalMax(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDuration = 0 // every task expires immediately

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	r := NewRunner(cfg)
	result := r.Execute(context.Background(), &Task{
		TaskID:     "t1",
		TaskType:   "web_fetch",
		Params:     map[string]any{"url": srv.URL},
		TimeoutSec: 600,
	})

	require.Equal(t, "timeout", result.Status)
	assert.Contains(t, result.Error, "exceeded 0s limit")
}

func TestWorkspaceWipedAfterTask(t *testing.T) {
	cfg := testConfig(t)
	leftover := filepath.Join(cfg.Workspace, "stale.txt")
	require.NoError(t, os.WriteFile(leftover, []byte("stale"), 0o644))

	r := NewRunner(cfg)
	result := r.Execute(context.Background(), &Task{TaskID: "t1", TaskType: "ping"})
	require.Equal(t, "completed", result.Status)

	_, err := os.Stat(leftover)
	assert.True(t, os.IsNotExist(err))
}

func TestServerSurface(t *testing.T) {
	srv := httptest.NewServer(NewServer(testConfig(t)).Handler())
	defer srv.Close()

	// Missing required fields
	resp, err := http.Post(srv.URL+"/task", "application/json",
		bytes.NewReader([]byte(`{"task_type": "ping"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Valid ping
	resp, err = http.Post(srv.URL+"/task", "application/json",
		bytes.NewReader([]byte(`{"task_id": "t1", "task_type": "ping"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "completed", result.Status)

	// Health
	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(health.Body).Decode(&body))
	assert.Equal(t, "zulu-runner", body["service"])
}
