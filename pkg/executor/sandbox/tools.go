package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zuluhq/zulu/pkg/provider"
)

// Fetcher retrieves the content of one URL
type Fetcher func(ctx context.Context, url string) (string, error)

// httpFetch performs a plain GET with a per-request timeout and truncates
// the body
func httpFetch(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchChars+1))
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if len(body) > maxFetchChars {
		body = body[:maxFetchChars]
	}
	return string(body), nil
}

// llm builds a provider from the task's scoped credentials
func (r *Runner) llm() (provider.Provider, error) {
	name := r.req.Credentials.LLMProvider
	if name == "" {
		name = "anthropic"
	}
	return r.newLLM(name, r.req.Credentials.LLMAPIKey)
}

// llmText sends the prompt plus serialized data and returns the model's text
func (r *Runner) llmText(ctx context.Context, system, prompt string, data any) (string, error) {
	p, err := r.llm()
	if err != nil {
		return "", err
	}
	defer p.Close()

	serialized, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize task data: %w", err)
	}

	req := provider.UserRequest(r.modelID(), system,
		fmt.Sprintf("%s\n\nData:\n%s", prompt, serialized))
	req.MaxTokens = llmResponseTokens
	return p.Complete(ctx, req)
}

// llmStructured returns schema-shaped JSON output
func (r *Runner) llmStructured(ctx context.Context, prompt string, taskCtx, schema map[string]any) (map[string]any, error) {
	p, err := r.llm()
	if err != nil {
		return nil, err
	}
	defer p.Close()

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize schema: %w", err)
	}
	ctxJSON, err := json.MarshalIndent(taskCtx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize context: %w", err)
	}

	system := reportSystemPrefix + string(schemaJSON) + "\n\nReturn ONLY valid JSON, no explanation."
	req := provider.UserRequest(r.modelID(), system,
		fmt.Sprintf("%s\n\nContext:\n%s", prompt, ctxJSON))
	req.MaxTokens = llmResponseTokens
	return p.CompleteJSON(ctx, req, schema)
}

// modelID picks the model for in-task LLM calls
func (r *Runner) modelID() string {
	return provider.ModelConfigFromEnv().PlanningModel
}
