package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/provider"
)

const decomposeSystemPrompt = `You are Zulu's task decomposer. Given a parsed intent, create a plan of concrete tasks.

Available task types:
- web_research: Search the web and gather information
- document_synthesis: Create a document from provided information
- comparative_analysis: Compare multiple items against criteria
- report_drafting: Write a report or document
- code_review: Review code for issues
- data_extraction: Extract structured data from sources

Rules:
1. Break complex requests into 1-5 simple tasks
2. Each task should have a single clear objective
3. Tasks can depend on other tasks (use their output)
4. Be specific in prompts — vague prompts produce vague results
5. First task index is 0

Respond with JSON array:
[
    {
        "task_type": "web_research",
        "prompt": "specific prompt for this task",
        "depends_on": [],
        "tools_needed": ["web_browse", "web_fetch"],
        "domains": [],
        "timeout_seconds": 300
    }
]

Tools available: web_browse, web_fetch, document_read, document_write, llm_chat, code_analyze

Respond ONLY with JSON array.`

var decomposeSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_type": map[string]any{
				"type": "string",
				"enum": []string{"web_research", "document_synthesis", "comparative_analysis",
					"report_drafting", "code_review", "data_extraction"},
			},
			"prompt":          map[string]any{"type": "string"},
			"depends_on":      map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
			"tools_needed":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"domains":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"timeout_seconds": map[string]any{"type": "integer"},
		},
		"required": []string{"task_type", "prompt"},
	},
}

// Fallback task type per intent when decomposition fails
var intentTaskTypes = map[IntentType]executor.TaskType{
	IntentResearch:   executor.TaskWebResearch,
	IntentSynthesize: executor.TaskDocumentSynthesis,
	IntentAnalyze:    executor.TaskComparativeAnalysis,
	IntentDraft:      executor.TaskReportDrafting,
	IntentReview:     executor.TaskCodeReview,
	IntentExtract:    executor.TaskDataExtraction,
}

// TaskDecomposer turns parsed intent into a task DAG
type TaskDecomposer struct {
	provider provider.Provider
	model    string
	cfg      Config
	logger   zerolog.Logger
}

// NewTaskDecomposer builds a decomposer using the given planning model
func NewTaskDecomposer(p provider.Provider, model string, cfg Config) *TaskDecomposer {
	return &TaskDecomposer{
		provider: p,
		model:    model,
		cfg:      cfg,
		logger:   log.WithComponent("planner"),
	}
}

// Decompose plans tasks for one intent. Chitchat and clarification intents
// yield no tasks. Any model or validation failure degrades to a single
// fallback task, never an error.
func (d *TaskDecomposer) Decompose(ctx context.Context, intent ParsedIntent) []*PlannedTask {
	if intent.Type == IntentChitchat || intent.NeedsClarification {
		return nil
	}

	req := provider.UserRequest(d.model, decomposeSystemPrompt, d.decompositionPrompt(intent))
	req.Temperature = 0.2

	parsed, err := d.provider.CompleteJSON(ctx, req, decomposeSchema)
	if err != nil {
		d.logger.Error().Err(err).Msg("task decomposition failed")
		return []*PlannedTask{d.fallbackTask(intent)}
	}

	// Array results come back wrapped
	items, ok := parsed["items"].([]any)
	if !ok {
		d.logger.Warn().Msg("decomposition returned no task list, using fallback")
		return []*PlannedTask{d.fallbackTask(intent)}
	}

	var tasks []*PlannedTask
	for i, raw := range items {
		if i >= d.cfg.MaxTasksPerRequest {
			break
		}
		data, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		deps := make([]string, 0)
		if rawDeps, ok := data["depends_on"].([]any); ok {
			for _, dep := range rawDeps {
				if n, ok := dep.(float64); ok {
					deps = append(deps, fmt.Sprintf("task-%d", int(n)))
				}
			}
		}

		tools := stringsField(data, "tools_needed")
		if len(tools) == 0 {
			tools = []string{"llm_chat"}
		}

		taskType := executor.TaskType(stringField(data, "task_type"))
		if !executor.IsKnownTaskType(taskType) {
			taskType = executor.TaskWebResearch
		}

		timeout := d.cfg.DefaultTimeoutSec
		if v, ok := data["timeout_seconds"].(float64); ok && v > 0 {
			timeout = int(v)
		}

		tasks = append(tasks, &PlannedTask{
			TaskID:          fmt.Sprintf("task-%d", i),
			TaskType:        taskType,
			Prompt:          stringField(data, "prompt"),
			DependsOn:       deps,
			Tools:           toolAllowlist(tools),
			DomainAllowlist: stringsField(data, "domains"),
			TimeoutSec:      timeout,
			Status:          TaskPending,
		})
	}

	if len(tasks) == 0 {
		return []*PlannedTask{d.fallbackTask(intent)}
	}

	if err := validateGraph(tasks); err != nil {
		d.logger.Warn().Err(err).Msg("invalid task graph, using fallback")
		return []*PlannedTask{d.fallbackTask(intent)}
	}
	return tasks
}

func (d *TaskDecomposer) decompositionPrompt(intent ParsedIntent) string {
	deliverable := intent.Deliverable
	if deliverable == "" {
		deliverable = "not specified"
	}
	parts := []string{
		fmt.Sprintf("Intent type: %s", intent.Type),
		fmt.Sprintf("Subject: %s", intent.Subject),
		fmt.Sprintf("Deliverable: %s", deliverable),
	}
	if len(intent.Constraints) > 0 {
		parts = append(parts, fmt.Sprintf("Constraints: %s", strings.Join(intent.Constraints, ", ")))
	}
	parts = append(parts, fmt.Sprintf("Original request: %s", intent.RawInput))
	return strings.Join(parts, "\n")
}

func (d *TaskDecomposer) fallbackTask(intent ParsedIntent) *PlannedTask {
	taskType, ok := intentTaskTypes[intent.Type]
	if !ok {
		taskType = executor.TaskWebResearch
	}
	return &PlannedTask{
		TaskID:     "task-0",
		TaskType:   taskType,
		Prompt:     intent.RawInput,
		Tools:      executor.ToolAllowlist{WebBrowse: true, WebFetch: true, LLMChat: true},
		TimeoutSec: d.cfg.DefaultTimeoutSec,
		Status:     TaskPending,
	}
}

// validateGraph rejects orphaned dependencies and cycles
func validateGraph(tasks []*PlannedTask) error {
	byID := make(map[string]*PlannedTask, len(tasks))
	for _, t := range tasks {
		byID[t.TaskID] = t
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, exists := byID[dep]; !exists {
				return fmt.Errorf("task %s depends on non-existent task %s", t.TaskID, dep)
			}
		}
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, dep := range byID[id].DependsOn {
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if onStack[dep] {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, t := range tasks {
		if !visited[t.TaskID] {
			if hasCycle(t.TaskID) {
				return fmt.Errorf("circular dependency detected in task graph")
			}
		}
	}
	return nil
}

func toolAllowlist(tools []string) executor.ToolAllowlist {
	var allow executor.ToolAllowlist
	for _, tool := range tools {
		switch tool {
		case "web_browse":
			allow.WebBrowse = true
		case "web_fetch":
			allow.WebFetch = true
		case "document_read":
			allow.DocumentRead = true
		case "document_write":
			allow.DocumentWrite = true
		case "llm_chat":
			allow.LLMChat = true
		case "code_analyze":
			allow.CodeAnalyze = true
		}
	}
	return allow
}
