package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/metrics"
	"github.com/zuluhq/zulu/pkg/provider"
)

// Planner is the main planning interface: natural language in, task graph
// or clarification out.
//
// Planning and execution credentials are separate on purpose: planning
// calls bill to the control plane's key, execution credentials travel with
// each dispatched task.
type Planner struct {
	provider  provider.Provider
	models    provider.ModelConfig
	execCreds executor.Credentials
	backend   Backend
	cfg       Config

	intentParser *IntentParser
	decomposer   *TaskDecomposer
	extractor    *ResultExtractor
	execOpts     []ExecutorOption

	logger zerolog.Logger
}

// PlannerOption configures a Planner
type PlannerOption func(*Planner)

// WithConfig overrides the env-derived planner configuration
func WithConfig(cfg Config) PlannerOption {
	return func(p *Planner) { p.cfg = cfg }
}

// WithExecutorOptions forwards options to every Executor the planner builds
func WithExecutorOptions(opts ...ExecutorOption) PlannerOption {
	return func(p *Planner) { p.execOpts = opts }
}

// NewPlanner builds a planner. The backend receives the dispatched tasks;
// the provider powers intent parsing, decomposition, and extraction.
func NewPlanner(llm provider.Provider, models provider.ModelConfig,
	execCreds executor.Credentials, backend Backend, opts ...PlannerOption) *Planner {
	p := &Planner{
		provider:  llm,
		models:    models,
		execCreds: execCreds,
		backend:   backend,
		cfg:       ConfigFromEnv(),
		logger:    log.WithComponent("planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.intentParser = NewIntentParser(llm, models.IntentModel)
	p.decomposer = NewTaskDecomposer(llm, models.PlanningModel, p.cfg)
	p.extractor = NewResultExtractor(llm, models.ExtractionModel)
	return p
}

// Plan turns one user message into a task graph, a clarification question,
// or a chitchat reply
func (p *Planner) Plan(ctx context.Context, input string) *PlanResult {
	p.logger.Info().Str("input", truncate(input, 100)).Msg("planning")

	intent := p.intentParser.Parse(ctx, input)
	metrics.PlanRequestsTotal.WithLabelValues(string(intent.Type)).Inc()
	p.logger.Info().
		Str("intent", string(intent.Type)).
		Float64("confidence", intent.Confidence).
		Bool("needs_clarification", intent.NeedsClarification).
		Msg("parsed intent")

	if intent.Type == IntentChitchat {
		return &PlanResult{
			Success:          true,
			IsChitchat:       true,
			ChitchatResponse: chitchatResponse(intent),
		}
	}

	if intent.NeedsClarification || intent.Confidence < p.cfg.AmbiguityThreshold {
		question := intent.ClarificationQuestion
		if question == "" {
			question = "Could you tell me more about what you'd like me to help with?"
		}
		return &PlanResult{
			Success:               true,
			NeedsClarification:    true,
			ClarificationQuestion: question,
		}
	}

	tasks := p.decomposer.Decompose(ctx, intent)
	if len(tasks) == 0 {
		return &PlanResult{
			Success: false,
			Err:     "Could not decompose request into actionable tasks.",
		}
	}

	graph := &TaskGraph{
		RequestID:     newRequestID(),
		Tasks:         tasks,
		OriginalInput: input,
		Intent:        intent,
		CreatedAt:     executor.Now(),
	}
	p.logger.Info().
		Str("request_id", graph.RequestID).
		Int("tasks", len(tasks)).
		Msg("created task graph")

	return &PlanResult{Success: true, Graph: graph}
}

// Execute runs a planned task graph
func (p *Planner) Execute(ctx context.Context, graph *TaskGraph) *ExecutionResult {
	exec := NewExecutor(p.backend, p.execCreds, p.extractor, p.cfg, p.execOpts...)
	return exec.Execute(ctx, graph)
}

// PlanAndExecute plans and, when the plan is actionable, executes it in one
// call. The PlanResult is returned as-is for chitchat, clarification, and
// planning failures.
func (p *Planner) PlanAndExecute(ctx context.Context, input string) (*PlanResult, *ExecutionResult) {
	plan := p.Plan(ctx, input)
	if !plan.Success || plan.NeedsClarification || plan.IsChitchat {
		return plan, nil
	}
	return plan, p.Execute(ctx, plan.Graph)
}

// Close releases the model provider
func (p *Planner) Close() error {
	return p.provider.Close()
}

var greetingWords = []string{
	"hey", "hi", "hello", "how are you", "what's up", "good morning", "good evening",
}

func chitchatResponse(intent ParsedIntent) string {
	lower := strings.ToLower(intent.RawInput)
	for _, g := range greetingWords {
		if strings.Contains(lower, g) {
			return "Hey! I'm Zulu, your AI research assistant. What can I help you with today?"
		}
	}
	return "I'm here to help with research, analysis, and document drafting. What would you like me to work on?"
}

func newRequestID() string {
	return fmt.Sprintf("req-%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
