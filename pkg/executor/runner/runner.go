package runner

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/log"
)

// Truncation limits. The runner returns previews, never full payloads.
const (
	maxFetchChars      = 10000
	maxPreprocessChars = 5000
	defaultSummaryLen  = 500
)

// Task is the runner's input: a primitive operation with parameters and
// one-time scoped credentials. Nothing here survives the task.
type Task struct {
	TaskID            string         `json:"task_id"`
	TaskType          string         `json:"task_type"`
	Params            map[string]any `json:"params,omitempty"`
	ScopedCredentials map[string]any `json:"scoped_credentials,omitempty"`
	TimeoutSec        int            `json:"timeout_seconds,omitempty"`
}

// Result is the runner's structured reply
type Result struct {
	TaskID         string         `json:"task_id"`
	Status         string         `json:"status"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	CompletedAt    string         `json:"completed_at,omitempty"`
}

// Config holds runner settings sourced from the environment
type Config struct {
	ListenPort  int
	MaxDuration int
	MaxMemoryMB int
	Workspace   string
}

// ConfigFromEnv reads runner configuration with defaults:
//
//	CLAWD_LISTEN_PORT        8080
//	CLAWD_MAX_TASK_DURATION  300 (seconds)
//	CLAWD_MAX_MEMORY_MB      1024
//	CLAWD_WORKSPACE          /app/workspace
func ConfigFromEnv() Config {
	return Config{
		ListenPort:  envInt("CLAWD_LISTEN_PORT", 8080),
		MaxDuration: envInt("CLAWD_MAX_TASK_DURATION", 300),
		MaxMemoryMB: envInt("CLAWD_MAX_MEMORY_MB", 1024),
		Workspace:   envStr("CLAWD_WORKSPACE", "/app/workspace"),
	}
}

// Runner executes scoped tasks within the configured ceilings
type Runner struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRunner builds a runner
func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.WithComponent("runner"),
	}
}

// Execute runs one task with a timeout capped by the global maximum and
// wipes the workspace afterward, success or not
func (r *Runner) Execute(ctx context.Context, task *Task) *Result {
	timeout := task.TimeoutSec
	if timeout <= 0 || timeout > r.cfg.MaxDuration {
		timeout = r.cfg.MaxDuration
	}

	r.logger.Info().
		Str("task_id", task.TaskID).
		Str("task_type", task.TaskType).
		Int("timeout", timeout).
		Msg("task started")
	start := time.Now()
	defer r.cleanWorkspace()

	taskCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := r.dispatch(taskCtx, task)
		done <- outcome{result, err}
	}()

	select {
	case <-taskCtx.Done():
		elapsed := roundSeconds(time.Since(start))
		r.logger.Warn().Str("task_id", task.TaskID).Float64("elapsed", elapsed).Msg("task killed on timeout")
		return &Result{
			TaskID:         task.TaskID,
			Status:         "timeout",
			Error:          fmt.Sprintf("Task exceeded %ds limit", timeout),
			ElapsedSeconds: elapsed,
		}
	case out := <-done:
		elapsed := roundSeconds(time.Since(start))
		if out.err != nil {
			r.logger.Error().Str("task_id", task.TaskID).Err(out.err).Msg("task failed")
			return &Result{
				TaskID:         task.TaskID,
				Status:         "error",
				Error:          out.err.Error(),
				ElapsedSeconds: elapsed,
			}
		}
		r.logger.Info().Str("task_id", task.TaskID).Float64("elapsed", elapsed).Msg("task completed")
		return &Result{
			TaskID:         task.TaskID,
			Status:         "completed",
			Result:         out.result,
			ElapsedSeconds: elapsed,
			CompletedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		}
	}
}

// dispatch routes to a handler. The table is closed.
func (r *Runner) dispatch(ctx context.Context, task *Task) (map[string]any, error) {
	switch task.TaskType {
	case "web_fetch":
		return r.handleWebFetch(ctx, task)
	case "summarize":
		return r.handleSummarize(task), nil
	case "transform":
		return r.handleTransform(task), nil
	case "code_exec":
		return r.handleCodeExec(), nil
	case "ping":
		return r.handlePing(), nil
	default:
		return nil, fmt.Errorf("unknown task type: %s", task.TaskType)
	}
}

// handleWebFetch retrieves one URL. Credentials are per-request only.
func (r *Runner) handleWebFetch(ctx context.Context, task *Task) (map[string]any, error) {
	url, _ := task.Params["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("missing 'url' in params")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if auth, ok := task.ScopedCredentials["auth_header"].(string); ok && auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	content := string(body)
	truncated := content
	if len(truncated) > maxFetchChars {
		truncated = truncated[:maxFetchChars]
	}
	return map[string]any{
		"url":            url,
		"status_code":    resp.StatusCode,
		"content_length": len(content),
		"content":        truncated,
	}, nil
}

// handleSummarize preprocesses text for upstream LLM inference. The runner
// itself never calls a model.
func (r *Runner) handleSummarize(task *Task) map[string]any {
	text, _ := task.Params["text"].(string)
	maxLength := defaultSummaryLen
	if v, ok := task.Params["max_length"].(float64); ok && v > 0 {
		maxLength = int(v)
	}

	preprocessed := text
	if len(preprocessed) > maxPreprocessChars {
		preprocessed = preprocessed[:maxPreprocessChars]
	}
	return map[string]any{
		"preprocessed_text": preprocessed,
		"char_count":        len(text),
		"needs_llm":         true,
		"suggested_prompt":  fmt.Sprintf("Summarize in %d chars", maxLength),
	}
}

// handleTransform applies a pure transformation, no side effects
func (r *Runner) handleTransform(task *Task) map[string]any {
	data := task.Params["data"]
	transformType, _ := task.Params["transform_type"].(string)

	if transformType == "json_extract" {
		if obj, ok := data.(map[string]any); ok {
			keys := stringSlice(task.Params["keys"])
			extracted := make(map[string]any, len(keys))
			for _, k := range keys {
				extracted[k] = obj[k]
			}
			return map[string]any{"extracted": extracted}
		}
	}
	return map[string]any{"data": data, "transform": "identity"}
}

// handleCodeExec always refuses. Arbitrary code needs a stronger sandbox
// than this runner provides.
func (r *Runner) handleCodeExec() map[string]any {
	return map[string]any{
		"status": "rejected",
		"reason": "code_exec requires additional sandboxing — not enabled",
	}
}

func (r *Runner) handlePing() map[string]any {
	return map[string]any{
		"pong":      true,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// cleanWorkspace wipes the workspace directory after every task
func (r *Runner) cleanWorkspace() {
	if r.cfg.Workspace == "" {
		return
	}
	if _, err := os.Stat(r.cfg.Workspace); os.IsNotExist(err) {
		return
	}
	if err := os.RemoveAll(r.cfg.Workspace); err != nil {
		r.logger.Warn().Err(err).Msg("workspace cleanup failed")
		return
	}
	if err := os.MkdirAll(r.cfg.Workspace, 0o755); err != nil {
		r.logger.Warn().Err(err).Msg("workspace recreate failed")
	}
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
