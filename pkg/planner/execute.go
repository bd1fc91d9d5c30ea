package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/metrics"
	"github.com/zuluhq/zulu/pkg/provider"
)

// Backend dispatches one task to a worker. Both the local and the gateway
// adapters satisfy it.
type Backend interface {
	Dispatch(ctx context.Context, req *executor.Request) (*executor.Response, error)
}

// AttestationPolicy decides whether a worker must prove itself before
// receiving tasks
type AttestationPolicy interface {
	RequiresAttestation(worker string) bool
}

// AttestFunc runs one challenge-response round trip with the worker
type AttestFunc func(ctx context.Context) error

// Executor runs task graphs through a backend, respecting dependencies.
// Independent ready tasks run in parallel.
type Executor struct {
	backend   Backend
	creds     executor.Credentials
	extractor *ResultExtractor
	cfg       Config

	attestPolicy AttestationPolicy
	workerName   string
	attest       AttestFunc

	logger zerolog.Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithAttestationGate requires a successful attestation round trip before
// any task is dispatched to the named worker
func WithAttestationGate(policy AttestationPolicy, worker string, fn AttestFunc) ExecutorOption {
	return func(e *Executor) {
		e.attestPolicy = policy
		e.workerName = worker
		e.attest = fn
	}
}

// NewExecutor builds a graph executor
func NewExecutor(backend Backend, creds executor.Credentials,
	extractor *ResultExtractor, cfg Config, opts ...ExecutorOption) *Executor {
	e := &Executor{
		backend:   backend,
		creds:     creds,
		extractor: extractor,
		cfg:       cfg,
		logger:    log.WithComponent("planner"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every task in the graph. Pending tasks whose dependencies
// failed are marked failed, never silently skipped.
func (e *Executor) Execute(ctx context.Context, graph *TaskGraph) *ExecutionResult {
	start := time.Now()
	results := make(map[string]map[string]any)
	errs := make(map[string]string)
	var mu sync.Mutex

	for !graph.IsComplete() {
		ready := graph.ReadyTasks()
		if len(ready) == 0 {
			// Graph not complete but nothing runnable: remaining tasks are
			// blocked behind failures
			for _, t := range graph.Tasks {
				if t.Status == TaskPending {
					t.Status = TaskFailed
					t.Error = "Blocked: dependency failed or missing"
					errs[t.TaskID] = t.Error
				}
			}
			break
		}

		if len(ready) == 1 {
			e.runTask(ctx, ready[0], graph.RequestID, results, errs, &mu)
			continue
		}

		e.logger.Info().Int("tasks", len(ready)).Msg("executing independent tasks in parallel")
		var wg sync.WaitGroup
		for _, task := range ready {
			wg.Add(1)
			go func(t *PlannedTask) {
				defer wg.Done()
				e.runTask(ctx, t, graph.RequestID, results, errs, &mu)
			}(task)
		}
		wg.Wait()
	}

	completed, failed := 0, 0
	for _, t := range graph.Tasks {
		switch t.Status {
		case TaskCompleted:
			completed++
		case TaskFailed:
			failed++
		}
	}
	metrics.TasksCompleted.Add(float64(completed))
	metrics.TasksFailed.Add(float64(failed))

	return &ExecutionResult{
		RequestID:      graph.RequestID,
		Success:        failed == 0 && completed > 0,
		TasksCompleted: completed,
		TasksFailed:    failed,
		Results:        results,
		Errors:         errs,
		Summary:        e.summarize(graph, results, errs),
		ElapsedSeconds: time.Since(start).Seconds(),
		Graph:          graph,
	}
}

func (e *Executor) runTask(ctx context.Context, task *PlannedTask, requestID string,
	results map[string]map[string]any, errs map[string]string, mu *sync.Mutex) {
	mu.Lock()
	task.Status = TaskRunning
	mu.Unlock()

	e.logger.Info().
		Str("task_id", task.TaskID).
		Str("task_type", string(task.TaskType)).
		Msg("executing task")

	depContext := e.dependencyContext(ctx, task, results, mu)
	prompt := task.Prompt
	if depContext != "" {
		prompt = fmt.Sprintf("%s\n\n--- Context from previous tasks ---\n%s", task.Prompt, depContext)
	}

	if e.attestPolicy != nil && e.attestPolicy.RequiresAttestation(e.workerName) {
		if err := e.verifyWorker(ctx); err != nil {
			e.failTask(task, fmt.Sprintf("attestation failed: %v", err), errs, mu)
			return
		}
	}

	req := executor.NewRequest(requestID+"-"+task.TaskID, task.TaskType, prompt)
	req.Tools = task.Tools
	req.DomainAllowlist = task.DomainAllowlist
	// Re-stamp credentials per dispatch so long graphs don't hit TTL expiry
	req.Credentials = e.creds.Refresh()
	if task.TimeoutSec > 0 {
		req.TimeoutSec = task.TimeoutSec
	}
	req.Context = map[string]any{"dependency_results": depContext}

	resp, err := e.backend.Dispatch(ctx, req)
	if err != nil {
		if executor.IsConnectionError(err) {
			e.logger.Warn().Str("task_id", task.TaskID).
				Msg("worker unavailable, falling back to direct LLM")
			e.runViaLLM(ctx, task, prompt, results, errs, mu)
			return
		}
		e.failTask(task, err.Error(), errs, mu)
		return
	}

	if resp.Succeeded() {
		mu.Lock()
		task.Status = TaskCompleted
		task.Result = resp.Output
		results[task.TaskID] = resp.Output
		mu.Unlock()
		e.logger.Info().Str("task_id", task.TaskID).Msg("task completed")
		return
	}

	if isConnectionMessage(resp.Error) {
		e.logger.Warn().Str("task_id", task.TaskID).
			Msg("worker unavailable, falling back to direct LLM")
		e.runViaLLM(ctx, task, prompt, results, errs, mu)
		return
	}
	e.failTask(task, resp.Error, errs, mu)
}

// runViaLLM completes a task with a plain model call when the worker is
// unreachable. The result is marked so downstream consumers know it skipped
// the sandbox.
func (e *Executor) runViaLLM(ctx context.Context, task *PlannedTask, prompt string,
	results map[string]map[string]any, errs map[string]string, mu *sync.Mutex) {
	llmPrompt := fmt.Sprintf(`You are a research assistant. Complete this task thoroughly.

TASK TYPE: %s

REQUEST:
%s

Provide a comprehensive, well-structured response. Include specific details, facts, and actionable information.`,
		task.TaskType, prompt)

	req := provider.UserRequest(e.extractor.model, "", llmPrompt)
	req.Temperature = 0.3
	req.MaxTokens = 4096

	text, err := e.extractor.provider.Complete(ctx, req)
	if err != nil {
		e.failTask(task, fmt.Sprintf("LLM fallback failed: %v", err), errs, mu)
		return
	}

	result := map[string]any{"summary": text, "source": "direct_llm"}
	mu.Lock()
	task.Status = TaskCompleted
	task.Result = result
	results[task.TaskID] = result
	mu.Unlock()
	e.logger.Info().Str("task_id", task.TaskID).Msg("task completed via direct LLM fallback")
}

func (e *Executor) verifyWorker(ctx context.Context) error {
	if e.attest == nil {
		return fmt.Errorf("worker %s requires attestation but no attestation channel is configured", e.workerName)
	}
	return e.attest(ctx)
}

func (e *Executor) failTask(task *PlannedTask, reason string,
	errs map[string]string, mu *sync.Mutex) {
	mu.Lock()
	task.Status = TaskFailed
	task.Error = reason
	errs[task.TaskID] = reason
	mu.Unlock()
	e.logger.Error().Str("task_id", task.TaskID).Str("error", reason).Msg("task failed")
}

// dependencyContext extracts each dependency's result, in parallel, and
// renders them as labeled sections
func (e *Executor) dependencyContext(ctx context.Context, task *PlannedTask,
	results map[string]map[string]any, mu *sync.Mutex) string {
	if len(task.DependsOn) == 0 {
		return ""
	}

	type depResult struct {
		id     string
		result map[string]any
	}
	var deps []depResult
	mu.Lock()
	for _, depID := range task.DependsOn {
		if r, ok := results[depID]; ok {
			deps = append(deps, depResult{depID, r})
		}
	}
	mu.Unlock()
	if len(deps) == 0 {
		return ""
	}

	parts := make([]string, len(deps))
	var wg sync.WaitGroup
	for i, dep := range deps {
		wg.Add(1)
		go func(i int, dep depResult) {
			defer wg.Done()
			extracted := e.extractor.ExtractForDependent(ctx, dep.result, task)
			parts[i] = fmt.Sprintf("[%s]:\n%s", dep.id, extracted)
		}(i, dep)
	}
	wg.Wait()
	return strings.Join(parts, "\n\n")
}

func (e *Executor) summarize(graph *TaskGraph,
	results map[string]map[string]any, errs map[string]string) string {
	var lines []string

	if len(errs) > 0 {
		lines = append(lines, fmt.Sprintf("⚠️ %d task(s) encountered issues.", len(errs)))
	}
	if len(results) > 0 {
		lines = append(lines, fmt.Sprintf("✅ %d task(s) completed successfully.", len(results)))
		for _, t := range graph.Tasks {
			result, ok := results[t.TaskID]
			if !ok {
				continue
			}
			lines = append(lines, fmt.Sprintf("\n**%s**: %s", t.TaskType, resultSummary(result)))
		}
	}

	if len(lines) == 0 {
		return "No results."
	}
	return strings.Join(lines, "\n")
}

func resultSummary(result map[string]any) string {
	if s, ok := result["summary"].(string); ok && s != "" {
		return s
	}
	if s, ok := result["output"].(string); ok && s != "" {
		return s
	}
	if s, ok := result["content"].(string); ok && s != "" {
		return truncate(s, 300)
	}
	encoded, _ := json.Marshal(result)
	return truncate(string(encoded), 300)
}

func isConnectionMessage(msg string) bool {
	return strings.Contains(msg, "Cannot connect") ||
		strings.Contains(msg, "getaddrinfo") ||
		strings.Contains(msg, "Connection refused")
}
