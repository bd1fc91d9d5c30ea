package planner

import (
	"github.com/zuluhq/zulu/pkg/executor"
)

// Task statuses
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// IntentType classifies what the user wants
type IntentType string

const (
	IntentResearch   IntentType = "research"
	IntentSynthesize IntentType = "synthesize"
	IntentAnalyze    IntentType = "analyze"
	IntentDraft      IntentType = "draft"
	IntentReview     IntentType = "review"
	IntentExtract    IntentType = "extract"
	IntentClarify    IntentType = "clarify"
	IntentChitchat   IntentType = "chitchat"
	IntentUnknown    IntentType = "unknown"
)

var knownIntents = map[IntentType]bool{
	IntentResearch: true, IntentSynthesize: true, IntentAnalyze: true,
	IntentDraft: true, IntentReview: true, IntentExtract: true,
	IntentClarify: true, IntentChitchat: true, IntentUnknown: true,
}

// ParsedIntent is the structured reading of one user message
type ParsedIntent struct {
	Type                  IntentType
	Confidence            float64
	Subject               string
	Deliverable           string
	Constraints           []string
	RawInput              string
	NeedsClarification    bool
	ClarificationQuestion string
}

// PlannedTask is one node of an execution plan
type PlannedTask struct {
	TaskID          string
	TaskType        executor.TaskType
	Prompt          string
	DependsOn       []string
	Tools           executor.ToolAllowlist
	DomainAllowlist []string
	TimeoutSec      int
	Context         map[string]any

	Status string
	Result map[string]any
	Error  string
}

// TaskGraph is a DAG of planned tasks for one request
type TaskGraph struct {
	RequestID     string
	Tasks         []*PlannedTask
	OriginalInput string
	Intent        ParsedIntent
	CreatedAt     string
}

// ReadyTasks returns pending tasks whose dependencies are all completed
func (g *TaskGraph) ReadyTasks() []*PlannedTask {
	completed := g.idsWithStatus(TaskCompleted)
	var ready []*PlannedTask
	for _, t := range g.Tasks {
		if t.Status != TaskPending {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// IsComplete reports whether every task finished, one way or the other
func (g *TaskGraph) IsComplete() bool {
	for _, t := range g.Tasks {
		if t.Status != TaskCompleted && t.Status != TaskFailed {
			return false
		}
	}
	return true
}

// HasRunnableTasks reports whether any pending task can still make progress
func (g *TaskGraph) HasRunnableTasks() bool {
	if g.IsComplete() {
		return false
	}
	completed := g.idsWithStatus(TaskCompleted)
	failed := g.idsWithStatus(TaskFailed)
	for _, t := range g.Tasks {
		if t.Status != TaskPending {
			continue
		}
		satisfied := true
		blocked := false
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				satisfied = false
			}
			if failed[dep] {
				blocked = true
			}
		}
		if satisfied && !blocked {
			return true
		}
	}
	return false
}

// FinalResults aggregates outputs of all completed tasks keyed by task id
func (g *TaskGraph) FinalResults() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, t := range g.Tasks {
		if t.Status == TaskCompleted && t.Result != nil {
			out[t.TaskID] = t.Result
		}
	}
	return out
}

func (g *TaskGraph) task(id string) *PlannedTask {
	for _, t := range g.Tasks {
		if t.TaskID == id {
			return t
		}
	}
	return nil
}

func (g *TaskGraph) idsWithStatus(status string) map[string]bool {
	ids := make(map[string]bool)
	for _, t := range g.Tasks {
		if t.Status == status {
			ids[t.TaskID] = true
		}
	}
	return ids
}

// PlanResult is the outcome of planning one user message
type PlanResult struct {
	Success               bool
	Graph                 *TaskGraph
	NeedsClarification    bool
	ClarificationQuestion string
	IsChitchat            bool
	ChitchatResponse      string
	Err                   string
}

// ExecutionResult summarizes one graph execution
type ExecutionResult struct {
	RequestID      string
	Success        bool
	TasksCompleted int
	TasksFailed    int
	Results        map[string]map[string]any
	Errors         map[string]string
	Summary        string
	ElapsedSeconds float64
	Graph          *TaskGraph
}
