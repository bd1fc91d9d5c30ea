package sandbox

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/provider"
)

// Hard caps independent of the per-task limits
const (
	maxURLsPerTask     = 5
	maxDocsPerTask     = 10
	maxDocChars        = 10000
	maxFetchChars      = 20000
	llmResponseTokens  = 4096
	synthesizeSystem   = "You are a research assistant. Synthesize the provided sources according to the user's prompt. Be concise and factual."
	analyzeSystem      = "You are an analyst. Analyze the provided data according to the user's prompt. Be thorough but concise."
	reportSystemPrefix = "You are a report generator. Generate output that strictly matches the following JSON schema:\n"
)

// ProviderFactory builds an LLM provider from per-task credentials
type ProviderFactory func(name, apiKey string) (provider.Provider, error)

func defaultProviderFactory(name, apiKey string) (provider.Provider, error) {
	return provider.New(name, apiKey, "")
}

// Runner executes a single task within strict constraints. It cannot spawn
// sub-tasks, modify its prompt, exceed the step limit, reach domains outside
// the allowlist, or use tools outside the allowlist. One Runner per task.
type Runner struct {
	req        *executor.Request
	steps      int
	newLLM     ProviderFactory
	fetch      Fetcher
	logger     zerolog.Logger
}

// NewRunner builds a runner for one task
func NewRunner(req *executor.Request, opts ...RunnerOption) *Runner {
	r := &Runner{
		req:    req,
		newLLM: defaultProviderFactory,
		fetch:  httpFetch,
		logger: log.WithComponent("sandbox").With().Str("task_id", req.TaskID).Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithProviderFactory overrides LLM construction, for tests
func WithProviderFactory(fn ProviderFactory) RunnerOption {
	return func(r *Runner) { r.newLLM = fn }
}

// WithFetcher overrides URL fetching, for tests
func WithFetcher(fn Fetcher) RunnerOption {
	return func(r *Runner) { r.fetch = fn }
}

// Execute runs the task to completion and returns its structured result.
// Never returns an error; failures are encoded in the response status.
func (r *Runner) Execute(ctx context.Context) *executor.Response {
	start := time.Now()

	timeout := time.Duration(r.req.TimeoutSec) * time.Second
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := r.run(taskCtx)
	elapsed := roundSeconds(time.Since(start))

	if err != nil {
		if taskCtx.Err() == context.DeadlineExceeded {
			r.logger.Warn().Float64("elapsed", elapsed).Msg("task timeout")
			return &executor.Response{
				TaskID:         r.req.TaskID,
				Status:         executor.StatusTimeout,
				Error:          fmt.Sprintf("Task exceeded %ds limit", r.req.TimeoutSec),
				ErrorCode:      executor.CodeTimeout,
				StepsTaken:     r.steps,
				ElapsedSeconds: elapsed,
			}
		}
		r.logger.Error().Err(err).Msg("task failed")
		return &executor.Response{
			TaskID:         r.req.TaskID,
			Status:         executor.StatusError,
			Error:          err.Error(),
			ErrorCode:      executor.CategorizeError(err.Error()),
			StepsTaken:     r.steps,
			ElapsedSeconds: elapsed,
		}
	}

	return &executor.Response{
		TaskID:         r.req.TaskID,
		Status:         executor.StatusCompleted,
		Output:         output,
		StepsTaken:     r.steps,
		ElapsedSeconds: elapsed,
		CompletedAt:    executor.Now(),
	}
}

// run routes to the handler for the task type. The dispatch table is closed;
// nothing outside it can execute.
func (r *Runner) run(ctx context.Context) (map[string]any, error) {
	switch r.req.TaskType {
	case executor.TaskWebResearch:
		return r.handleWebResearch(ctx)
	case executor.TaskDocumentSynthesis:
		return r.handleDocumentSynthesis(ctx)
	case executor.TaskComparativeAnalysis:
		return r.handleComparativeAnalysis(ctx)
	case executor.TaskReportDrafting:
		return r.handleReportDrafting(ctx)
	case executor.TaskCodeReview:
		return r.handleCodeReview(ctx)
	case executor.TaskDataExtraction:
		return r.handleDataExtraction(ctx)
	case executor.TaskPing:
		return r.handlePing(), nil
	default:
		return nil, fmt.Errorf("unknown task type: %s", r.req.TaskType)
	}
}

// checkStep consumes one step, failing when the budget is exhausted
func (r *Runner) checkStep() error {
	r.steps++
	if r.steps > r.req.MaxSteps {
		return fmt.Errorf("step limit exceeded: %d > %d", r.steps, r.req.MaxSteps)
	}
	return nil
}

// checkDomain matches the URL's host against the allowlist glob patterns.
// An empty allowlist means no access.
func (r *Runner) checkDomain(rawURL string) bool {
	if len(r.req.DomainAllowlist) == 0 {
		return false
	}
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(host)
	for _, pattern := range r.req.DomainAllowlist {
		if ok, err := doublestar.Match(strings.ToLower(pattern), host); err == nil && ok {
			return true
		}
	}
	return false
}

func (r *Runner) checkTool(tool string) bool {
	return r.req.Tools.Allows(tool)
}

func (r *Runner) llmAvailable() bool {
	return r.checkTool("llm_chat") && r.req.Credentials.LLMAPIKey != ""
}

// handleWebResearch fetches allowlisted URLs from the task context and
// synthesizes them when LLM access is granted
func (r *Runner) handleWebResearch(ctx context.Context) (map[string]any, error) {
	if !r.checkTool("web_fetch") {
		return map[string]any{"error": "web_fetch not allowed for this task"}, nil
	}
	if err := r.checkStep(); err != nil {
		return nil, err
	}

	urls := stringSlice(r.req.Context["urls"])
	if len(urls) > maxURLsPerTask {
		urls = urls[:maxURLsPerTask]
	}

	sources := make([]map[string]any, 0, len(urls))
	for _, u := range urls {
		if !r.checkDomain(u) {
			sources = append(sources, map[string]any{"url": u, "error": "domain not in allowlist"})
			continue
		}
		if err := r.checkStep(); err != nil {
			return nil, err
		}
		content, err := r.fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		sources = append(sources, map[string]any{"url": u, "content": content})
	}

	if r.llmAvailable() {
		if err := r.checkStep(); err != nil {
			return nil, err
		}
		synthesis, err := r.llmText(ctx, synthesizeSystem, r.req.Prompt, sources)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sources": sources, "synthesis": synthesis}, nil
	}
	return map[string]any{"sources": sources, "synthesis": nil}, nil
}

// handleDocumentSynthesis merges documents passed in the context. Documents
// arrive as content, not paths; the sandbox never reads the host filesystem.
func (r *Runner) handleDocumentSynthesis(ctx context.Context) (map[string]any, error) {
	if !r.checkTool("document_read") {
		return map[string]any{"error": "document_read not allowed for this task"}, nil
	}
	if err := r.checkStep(); err != nil {
		return nil, err
	}

	docs := mapSlice(r.req.Context["documents"])
	if len(docs) > maxDocsPerTask {
		docs = docs[:maxDocsPerTask]
	}

	processed := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		if err := r.checkStep(); err != nil {
			return nil, err
		}
		title, _ := doc["title"].(string)
		if title == "" {
			title = "untitled"
		}
		content, _ := doc["content"].(string)
		if len(content) > maxDocChars {
			content = content[:maxDocChars]
		}
		processed = append(processed, map[string]any{"title": title, "content": content})
	}

	if r.llmAvailable() {
		if err := r.checkStep(); err != nil {
			return nil, err
		}
		synthesis, err := r.llmText(ctx, synthesizeSystem, r.req.Prompt, processed)
		if err != nil {
			return nil, err
		}
		return map[string]any{"documents": len(processed), "synthesis": synthesis}, nil
	}
	return map[string]any{"documents": processed, "synthesis": nil}, nil
}

func (r *Runner) handleComparativeAnalysis(ctx context.Context) (map[string]any, error) {
	if err := r.checkStep(); err != nil {
		return nil, err
	}

	items := r.req.Context["items"]
	criteria := r.req.Context["criteria"]

	if r.llmAvailable() {
		if err := r.checkStep(); err != nil {
			return nil, err
		}
		analysis, err := r.llmText(ctx, analyzeSystem, r.req.Prompt,
			map[string]any{"items": items, "criteria": criteria})
		if err != nil {
			return nil, err
		}
		return map[string]any{"analysis": analysis}, nil
	}
	return map[string]any{"items": items, "criteria": criteria, "analysis": nil}, nil
}

func (r *Runner) handleReportDrafting(ctx context.Context) (map[string]any, error) {
	if err := r.checkStep(); err != nil {
		return nil, err
	}
	if r.req.OutputSchema == nil {
		return map[string]any{"error": "no output_schema provided for report drafting"}, nil
	}
	if !r.llmAvailable() {
		return map[string]any{"error": "llm_chat required for report drafting"}, nil
	}
	if err := r.checkStep(); err != nil {
		return nil, err
	}
	report, err := r.llmStructured(ctx, r.req.Prompt, r.req.Context, r.req.OutputSchema)
	if err != nil {
		return nil, err
	}
	return map[string]any{"report": report}, nil
}

func (r *Runner) handleCodeReview(ctx context.Context) (map[string]any, error) {
	if !r.checkTool("code_analyze") {
		return map[string]any{"error": "code_analyze not allowed for this task"}, nil
	}
	if err := r.checkStep(); err != nil {
		return nil, err
	}

	snippets := r.req.Context["code"]

	if r.llmAvailable() {
		if err := r.checkStep(); err != nil {
			return nil, err
		}
		review, err := r.llmText(ctx, analyzeSystem, r.req.Prompt, map[string]any{"code": snippets})
		if err != nil {
			return nil, err
		}
		return map[string]any{"review": review}, nil
	}
	return map[string]any{"code_snippets": lenAny(snippets), "review": nil}, nil
}

// handleDataExtraction pulls schema-shaped data out of text passed in the
// context
func (r *Runner) handleDataExtraction(ctx context.Context) (map[string]any, error) {
	if err := r.checkStep(); err != nil {
		return nil, err
	}
	if !r.llmAvailable() {
		return map[string]any{"error": "llm_chat required for data extraction"}, nil
	}
	if err := r.checkStep(); err != nil {
		return nil, err
	}
	schema := r.req.OutputSchema
	extracted, err := r.llmStructured(ctx, r.req.Prompt, r.req.Context, schema)
	if err != nil {
		return nil, err
	}
	return map[string]any{"extracted": extracted}, nil
}

func (r *Runner) handlePing() map[string]any {
	return map[string]any{
		"pong":      true,
		"timestamp": executor.Now(),
		"task_id":   r.req.TaskID,
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

func mapSlice(v any) []map[string]any {
	switch vals := v.(type) {
	case []map[string]any:
		return vals
	case []any:
		out := make([]map[string]any, 0, len(vals))
		for _, item := range vals {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func lenAny(v any) int {
	switch vals := v.(type) {
	case []any:
		return len(vals)
	case []string:
		return len(vals)
	default:
		return 0
	}
}
