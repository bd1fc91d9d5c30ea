package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/log"
)

// DispatcherConfig holds night-shift settings sourced from the environment
type DispatcherConfig struct {
	DBPath         string
	ReportDir      string
	CheckInterval  time.Duration
	QuietStart     int
	QuietEnd       int
	MaxTasksPerRun int
}

// DispatcherConfigFromEnv reads dispatcher configuration with defaults:
//
//	NIGHTSHIFT_DB_PATH         /app/data/nightshift_queue.db
//	NIGHTSHIFT_REPORT_DIR      /app/reports
//	NIGHTSHIFT_CHECK_INTERVAL  1800 (seconds)
//	NIGHTSHIFT_QUIET_START     22 (hour, 0-23)
//	NIGHTSHIFT_QUIET_END       6 (hour, 0-23)
//	NIGHTSHIFT_MAX_TASKS       10
func DispatcherConfigFromEnv() DispatcherConfig {
	return DispatcherConfig{
		DBPath:         envStr("NIGHTSHIFT_DB_PATH", "/app/data/nightshift_queue.db"),
		ReportDir:      envStr("NIGHTSHIFT_REPORT_DIR", "/app/reports"),
		CheckInterval:  time.Duration(envInt("NIGHTSHIFT_CHECK_INTERVAL", 1800)) * time.Second,
		QuietStart:     envInt("NIGHTSHIFT_QUIET_START", 22),
		QuietEnd:       envInt("NIGHTSHIFT_QUIET_END", 6),
		MaxTasksPerRun: envInt("NIGHTSHIFT_MAX_TASKS", 10),
	}
}

// Backend dispatches one task to a worker
type Backend interface {
	Dispatch(ctx context.Context, req *executor.Request) (*executor.Response, error)
}

// TaskOutcome is one task's result within a run summary
type TaskOutcome struct {
	TaskID   int64          `json:"task_id"`
	Status   string         `json:"status"`
	TaskType string         `json:"task_type"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// RunSummary describes one dispatcher batch
type RunSummary struct {
	Skipped    bool          `json:"skipped,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	RunStart   string        `json:"run_start,omitempty"`
	RunEnd     string        `json:"run_end,omitempty"`
	TotalTasks int           `json:"total_tasks"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Tasks      []TaskOutcome `json:"tasks,omitempty"`
}

// Dispatcher drains the night-shift queue through a worker backend during
// quiet hours and writes "work done while you slept" reports. Tasks are
// pre-defined, never self-generated.
type Dispatcher struct {
	cfg     DispatcherConfig
	queue   *Queue
	backend Backend
	creds   executor.Credentials
	now     func() time.Time
	logger  zerolog.Logger
}

// NewDispatcher builds a dispatcher over a queue and backend
func NewDispatcher(cfg DispatcherConfig, queue *Queue, backend Backend,
	creds executor.Credentials) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		queue:   queue,
		backend: backend,
		creds:   creds,
		now:     time.Now,
		logger:  log.WithComponent("nightshift"),
	}
}

// InQuietHours reports whether the local hour is inside the work window.
// An overnight window (start > end) wraps midnight.
func (d *Dispatcher) InQuietHours() bool {
	hour := d.now().Hour()
	start, end := d.cfg.QuietStart, d.cfg.QuietEnd
	if start > end {
		return hour >= start || hour < end
	}
	return start <= hour && hour < end
}

// RunOnce processes one batch of due tasks. Outside quiet hours it is a
// no-op unless force is set.
func (d *Dispatcher) RunOnce(ctx context.Context, force bool) (*RunSummary, error) {
	if !force && !d.InQuietHours() {
		d.logger.Info().Msg("not in quiet hours, skipping run")
		return &RunSummary{Skipped: true, Reason: "not_quiet_hours"}, nil
	}

	runStart := executor.Now()
	tasks, err := d.queue.Pending(d.cfg.MaxTasksPerRun)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(tasks) == 0 {
		d.logger.Info().Msg("no pending tasks")
		return &RunSummary{RunStart: runStart, RunEnd: executor.Now()}, nil
	}

	d.logger.Info().Int("tasks", len(tasks)).Msg("processing batch")

	outcomes := make([]TaskOutcome, 0, len(tasks))
	for _, task := range tasks {
		outcomes = append(outcomes, d.processTask(ctx, task))
	}

	summary := &RunSummary{
		RunStart:   runStart,
		RunEnd:     executor.Now(),
		TotalTasks: len(outcomes),
		Tasks:      outcomes,
	}
	for _, o := range outcomes {
		if o.Status == StatusCompleted {
			summary.Completed++
		} else {
			summary.Failed++
		}
	}

	if err := d.writeReports(summary); err != nil {
		d.logger.Error().Err(err).Msg("failed to write report")
	}
	return summary, nil
}

// RunDaemon checks the queue on an interval until the context is cancelled
func (d *Dispatcher) RunDaemon(ctx context.Context) error {
	d.logger.Info().
		Dur("interval", d.cfg.CheckInterval).
		Int("quiet_start", d.cfg.QuietStart).
		Int("quiet_end", d.cfg.QuietEnd).
		Msg("starting night-shift daemon")

	ticker := time.NewTicker(d.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := d.RunOnce(ctx, false); err != nil {
				d.logger.Error().Err(err).Msg("night-shift run failed")
			}
		}
	}
}

func (d *Dispatcher) processTask(ctx context.Context, task *Task) TaskOutcome {
	d.logger.Info().Int64("task_id", task.ID).
		Str("task_type", string(task.TaskType)).Msg("processing task")

	if err := d.queue.MarkRunning(task.ID); err != nil {
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark running")
	}

	req := executor.NewRequest(fmt.Sprintf("nightshift-%d", task.ID), task.TaskType, task.Prompt)
	req.Tools = taskTools(task.TaskType)
	req.DomainAllowlist = contextDomains(task.Context)
	req.Credentials = d.creds.Refresh()
	req.Context = task.Context

	resp, err := d.backend.Dispatch(ctx, req)
	if err != nil {
		return d.fail(task, err.Error())
	}
	if !resp.Succeeded() {
		reason := resp.Error
		if reason == "" {
			reason = "Unknown error"
		}
		return d.fail(task, reason)
	}

	result := map[string]any{
		"output":          resp.Output,
		"steps_taken":     resp.StepsTaken,
		"elapsed_seconds": resp.ElapsedSeconds,
	}
	if err := d.queue.MarkCompleted(task.ID, result); err != nil {
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark completed")
	}
	return TaskOutcome{
		TaskID:   task.ID,
		Status:   StatusCompleted,
		TaskType: string(task.TaskType),
		Output:   resp.Output,
	}
}

func (d *Dispatcher) fail(task *Task, reason string) TaskOutcome {
	if err := d.queue.MarkFailed(task.ID, reason); err != nil {
		d.logger.Error().Err(err).Int64("task_id", task.ID).Msg("failed to mark failed")
	}
	return TaskOutcome{
		TaskID:   task.ID,
		Status:   StatusFailed,
		TaskType: string(task.TaskType),
		Error:    reason,
	}
}

// writeReports saves the machine-readable and human-readable reports
func (d *Dispatcher) writeReports(summary *RunSummary) error {
	if err := os.MkdirAll(d.cfg.ReportDir, 0755); err != nil {
		return err
	}

	stamp := d.now().Format("20060102_150405")
	jsonPath := filepath.Join(d.cfg.ReportDir, fmt.Sprintf("nightshift_report_%s.json", stamp))
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return err
	}
	d.logger.Info().Str("path", jsonPath).Msg("report saved")

	mdPath := filepath.Join(d.cfg.ReportDir, fmt.Sprintf("nightshift_report_%s.md", stamp))
	if err := os.WriteFile(mdPath, []byte(renderReport(summary)), 0644); err != nil {
		return err
	}
	d.logger.Info().Str("path", mdPath).Msg("readable report saved")
	return nil
}

// renderReport builds the markdown "work done while you slept" report
func renderReport(summary *RunSummary) string {
	lines := []string{
		"# NightShift Report",
		"",
		fmt.Sprintf("**Run started:** %s", summary.RunStart),
		fmt.Sprintf("**Run ended:** %s", summary.RunEnd),
		"",
		"## Summary",
		"",
		fmt.Sprintf("- **Total tasks:** %d", summary.TotalTasks),
		fmt.Sprintf("- **Completed:** %d", summary.Completed),
		fmt.Sprintf("- **Failed:** %d", summary.Failed),
		"",
		"## Task Details",
		"",
	}

	for _, task := range summary.Tasks {
		emoji := "✅"
		if task.Status != StatusCompleted {
			emoji = "❌"
		}
		lines = append(lines,
			fmt.Sprintf("### %s Task %d (%s)", emoji, task.TaskID, task.TaskType), "")

		switch {
		case task.Status == StatusCompleted && len(task.Output) > 0:
			encoded, _ := json.MarshalIndent(task.Output, "", "  ")
			lines = append(lines, "**Output:**", "```json",
				clip(string(encoded), 2000), "```")
		case task.Error != "":
			lines = append(lines, fmt.Sprintf("**Error:** %s", task.Error))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// taskTools maps a task type to its minimum tool grant
func taskTools(taskType executor.TaskType) executor.ToolAllowlist {
	switch taskType {
	case executor.TaskWebResearch:
		return executor.ToolAllowlist{WebBrowse: true, WebFetch: true, LLMChat: true}
	case executor.TaskDocumentSynthesis:
		return executor.ToolAllowlist{DocumentRead: true, LLMChat: true}
	case executor.TaskComparativeAnalysis:
		return executor.ToolAllowlist{WebFetch: true, LLMChat: true}
	case executor.TaskReportDrafting:
		return executor.ToolAllowlist{LLMChat: true}
	case executor.TaskCodeReview:
		return executor.ToolAllowlist{CodeAnalyze: true, LLMChat: true}
	case executor.TaskDataExtraction:
		return executor.ToolAllowlist{WebFetch: true, LLMChat: true}
	default:
		return executor.ToolAllowlist{LLMChat: true}
	}
}

func contextDomains(context map[string]any) []string {
	raw, ok := context["domains"].([]any)
	if !ok {
		return nil
	}
	domains := make([]string, 0, len(raw))
	for _, d := range raw {
		if s, ok := d.(string); ok {
			domains = append(domains, s)
		}
	}
	return domains
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
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
