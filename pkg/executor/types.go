package executor

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"
)

// TaskType enumerates the task shapes a worker accepts
type TaskType string

const (
	TaskWebResearch         TaskType = "web_research"
	TaskDocumentSynthesis   TaskType = "document_synthesis"
	TaskComparativeAnalysis TaskType = "comparative_analysis"
	TaskReportDrafting      TaskType = "report_drafting"
	TaskCodeReview          TaskType = "code_review"
	TaskDataExtraction      TaskType = "data_extraction"
	TaskPing                TaskType = "ping"
)

// KnownTaskTypes lists every dispatchable task type
var KnownTaskTypes = []TaskType{
	TaskWebResearch,
	TaskDocumentSynthesis,
	TaskComparativeAnalysis,
	TaskReportDrafting,
	TaskCodeReview,
	TaskDataExtraction,
	TaskPing,
}

// IsKnownTaskType reports whether t is a dispatchable task type
func IsKnownTaskType(t TaskType) bool {
	for _, known := range KnownTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Status values reported by workers
const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// ErrorCode classifies dispatch failures. Workers should return these
// directly; string matching is only a fallback.
type ErrorCode string

const (
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeRateLimited   ErrorCode = "RATE_LIMITED"
	CodeAuthFailed    ErrorCode = "AUTH_FAILED"
	CodeDomainBlocked ErrorCode = "DOMAIN_BLOCKED"
	CodeToolBlocked   ErrorCode = "TOOL_BLOCKED"
	CodeStepLimit     ErrorCode = "STEP_LIMIT"
	CodeInvalidTask   ErrorCode = "INVALID_TASK"
	CodeInternalError ErrorCode = "INTERNAL_ERROR"
	CodeUnknown       ErrorCode = "UNKNOWN"
)

// ToolAllowlist declares explicit tool permissions for one task. LLMChat
// defaults to true via NewToolAllowlist since every task shape needs model
// access.
type ToolAllowlist struct {
	WebBrowse     bool `json:"web_browse"`
	WebFetch      bool `json:"web_fetch"`
	DocumentRead  bool `json:"document_read"`
	DocumentWrite bool `json:"document_write"`
	LLMChat       bool `json:"llm_chat"`
	CodeAnalyze   bool `json:"code_analyze"`
}

// NewToolAllowlist returns the default allowlist (LLM chat only)
func NewToolAllowlist() ToolAllowlist {
	return ToolAllowlist{LLMChat: true}
}

// Allows reports whether the named tool is enabled
func (t ToolAllowlist) Allows(tool string) bool {
	switch tool {
	case "web_browse":
		return t.WebBrowse
	case "web_fetch":
		return t.WebFetch
	case "document_read":
		return t.DocumentRead
	case "document_write":
		return t.DocumentWrite
	case "llm_chat":
		return t.LLMChat
	case "code_analyze":
		return t.CodeAnalyze
	default:
		return false
	}
}

// Validation bounds
const (
	MaxPromptChars = 100000
	MinSteps       = 1
	MaxSteps       = 50
	DefaultSteps   = 10
	MinTimeoutSec  = 5
	MaxTimeoutSec  = 3600
	DefaultTimeout = 300
)

var (
	taskIDPattern = regexp.MustCompile(`^[\w\-\.]+$`)
	domainPattern = regexp.MustCompile(`^[\w\.\-\*]+$`)
)

// Request is one validated task handed to a worker
type Request struct {
	TaskID          string         `json:"task_id"`
	TaskType        TaskType       `json:"task_type"`
	Prompt          string         `json:"prompt"`
	Tools           ToolAllowlist  `json:"tool_allowlist"`
	DomainAllowlist []string       `json:"domain_allowlist"`
	MaxSteps        int            `json:"max_steps"`
	TimeoutSec      int            `json:"timeout_seconds"`
	OutputSchema    map[string]any `json:"output_schema,omitempty"`
	Credentials     Credentials    `json:"credentials"`
	Context         map[string]any `json:"context,omitempty"`
}

// NewRequest creates a request with defaulted steps, timeout, tools, and
// fresh credentials
func NewRequest(taskID string, taskType TaskType, prompt string) *Request {
	return &Request{
		TaskID:      taskID,
		TaskType:    taskType,
		Prompt:      prompt,
		Tools:       NewToolAllowlist(),
		MaxSteps:    DefaultSteps,
		TimeoutSec:  DefaultTimeout,
		Credentials: NewCredentials("", ""),
	}
}

// Validate enforces the adapter contract's input bounds
func (r *Request) Validate() error {
	if r.TaskID == "" || !taskIDPattern.MatchString(r.TaskID) {
		return &ValidationError{Field: "task_id",
			Reason: fmt.Sprintf("task_id %q must be non-empty and match [\\w\\-\\.]+", r.TaskID)}
	}
	if !IsKnownTaskType(r.TaskType) {
		return &ValidationError{Field: "task_type",
			Reason: fmt.Sprintf("unknown task type %q", r.TaskType)}
	}
	// Empty prompt is valid for ping
	if r.TaskType != TaskPing && r.Prompt == "" {
		return &ValidationError{Field: "prompt", Reason: "prompt is required"}
	}
	// Characters, not bytes: multi-byte prompts count by rune
	if utf8.RuneCountInString(r.Prompt) > MaxPromptChars {
		return &ValidationError{Field: "prompt",
			Reason: fmt.Sprintf("prompt exceeds %d chars", MaxPromptChars)}
	}
	for _, domain := range r.DomainAllowlist {
		if !domainPattern.MatchString(domain) {
			return &ValidationError{Field: "domain_allowlist",
				Reason: fmt.Sprintf("invalid domain pattern %q", domain)}
		}
	}
	if r.MaxSteps < MinSteps || r.MaxSteps > MaxSteps {
		return &ValidationError{Field: "max_steps",
			Reason: fmt.Sprintf("max_steps %d outside [%d, %d]", r.MaxSteps, MinSteps, MaxSteps)}
	}
	if r.TimeoutSec < MinTimeoutSec || r.TimeoutSec > MaxTimeoutSec {
		return &ValidationError{Field: "timeout_seconds",
			Reason: fmt.Sprintf("timeout %ds outside [%d, %d]", r.TimeoutSec, MinTimeoutSec, MaxTimeoutSec)}
	}
	return nil
}

// Response is a worker's structured reply to one task
type Response struct {
	TaskID         string         `json:"task_id"`
	Status         string         `json:"status"`
	Output         map[string]any `json:"output,omitempty"`
	Error          string         `json:"error,omitempty"`
	ErrorCode      ErrorCode      `json:"error_code,omitempty"`
	StepsTaken     int            `json:"steps_taken,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	CompletedAt    string         `json:"completed_at,omitempty"`
}

// Succeeded reports whether the task completed
func (r *Response) Succeeded() bool {
	return r.Status == StatusCompleted
}

// WasRejected reports whether the worker refused the task
func (r *Response) WasRejected() bool {
	return r.Status == StatusRejected
}

// Now returns an RFC3339 UTC timestamp for wire payloads
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
