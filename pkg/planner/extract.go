package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/provider"
)

const (
	// Results under this length pass to dependents verbatim
	extractVerbatimLimit = 2000
	// Larger results are truncated before summarization
	extractInputLimit = 8000
)

const extractSystemPrompt = `You are extracting key information from task results to pass to dependent tasks.

Given a task result, extract the most relevant information in a clear, structured format.
Focus on facts, data points, and conclusions that would be useful for follow-up tasks.

Respond with a concise summary (max 2000 chars) that captures the essential information.`

// ResultExtractor condenses task results for dependent tasks
type ResultExtractor struct {
	provider provider.Provider
	model    string
	logger   zerolog.Logger
}

// NewResultExtractor builds an extractor using the given model
func NewResultExtractor(p provider.Provider, model string) *ResultExtractor {
	return &ResultExtractor{
		provider: p,
		model:    model,
		logger:   log.WithComponent("planner"),
	}
}

// ExtractForDependent returns the result content sized for a dependent
// task's prompt: verbatim when short, summarized when long, truncated when
// summarization fails
func (e *ResultExtractor) ExtractForDependent(ctx context.Context,
	result map[string]any, dependent *PlannedTask) string {
	if len(result) == 0 {
		return ""
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return ""
	}
	resultStr := string(encoded)

	if len(resultStr) < extractVerbatimLimit {
		return resultStr
	}

	prompt := fmt.Sprintf(`Task result to extract from:
%s

Dependent task that needs this information:
Type: %s
Prompt: %s

Extract the most relevant information for the dependent task.`,
		truncate(resultStr, extractInputLimit), dependent.TaskType, dependent.Prompt)

	req := provider.UserRequest(e.model, extractSystemPrompt, prompt)
	req.Temperature = 0.1
	req.MaxTokens = 1024

	extracted, err := e.provider.Complete(ctx, req)
	if err != nil {
		e.logger.Error().Err(err).Msg("result extraction failed")
		return truncate(resultStr, extractVerbatimLimit)
	}
	return extracted
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
