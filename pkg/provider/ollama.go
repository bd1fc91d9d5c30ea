package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const ollamaDefaultURL = "http://localhost:11434"

// Ollama implements Provider for local inference. No API key; JSON output is
// instructed through the system prompt and recovered by parsing.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllama builds an Ollama provider. An empty baseURL falls back to
// OLLAMA_BASE_URL, then localhost.
func NewOllama(baseURL string) *Ollama {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Local models can be slow to first token
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (o *Ollama) chat(ctx context.Context, req *Request, system string) (string, error) {
	if req.Model == "" {
		return "", errors.New("ollama: model identifier is required")
	}
	msgs := make([]Message, 0, len(req.Messages)+1)
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, req.Messages...)

	payload, err := json.Marshal(ollamaChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   false,
		Options: map[string]any{
			"temperature": req.temperature(),
			"num_predict": req.maxTokens(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama: HTTP %d: %s", resp.StatusCode, firstChars(string(respBody), 500))
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("ollama: unmarshal response: %w", err)
	}
	return parsed.Message.Content, nil
}

func (o *Ollama) Complete(ctx context.Context, req *Request) (string, error) {
	return o.chat(ctx, req, req.System)
}

func (o *Ollama) CompleteJSON(ctx context.Context, req *Request, _ map[string]any) (map[string]any, error) {
	system := req.System
	if system != "" {
		system += "\n\n"
	}
	system += "Respond ONLY with valid JSON. No other text."

	text, err := o.chat(ctx, req, system)
	if err != nil {
		return nil, err
	}
	return ExtractJSON(text), nil
}

func (o *Ollama) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
