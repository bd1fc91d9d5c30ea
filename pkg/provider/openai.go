package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	oa "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAI implements Provider on the Chat Completions API. Groq shares the
// implementation through a base URL override since its API is
// OpenAI-compatible.
type OpenAI struct {
	client oa.Client
	name   string
}

// NewOpenAI builds an OpenAI provider
func NewOpenAI(apiKey, baseURL string) (*OpenAI, error) {
	return newOpenAICompatible("openai", apiKey, baseURL)
}

// NewGroq builds a Groq provider on the OpenAI-compatible endpoint
func NewGroq(apiKey, baseURL string) (*OpenAI, error) {
	if baseURL == "" {
		baseURL = groqBaseURL
	}
	return newOpenAICompatible("groq", apiKey, baseURL)
}

func newOpenAICompatible(name, apiKey, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key required", name)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: oa.NewClient(opts...), name: name}, nil
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) params(req *Request) (oa.ChatCompletionNewParams, error) {
	if req.Model == "" {
		return oa.ChatCompletionNewParams{}, fmt.Errorf("%s: model identifier is required", o.name)
	}
	msgs := make([]oa.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, oa.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, oa.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, oa.UserMessage(m.Content))
		}
	}
	if len(msgs) == 0 {
		return oa.ChatCompletionNewParams{}, errors.New("messages are required")
	}
	return oa.ChatCompletionNewParams{
		Model:       oa.ChatModel(req.Model),
		Messages:    msgs,
		MaxTokens:   oa.Int(int64(req.maxTokens())),
		Temperature: oa.Float(req.temperature()),
	}, nil
}

func (o *OpenAI) Complete(ctx context.Context, req *Request) (string, error) {
	params, err := o.params(req)
	if err != nil {
		return "", err
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices in response", o.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON uses the native json_object response format. The schema is
// advisory; models honor it through the system prompt.
func (o *OpenAI) CompleteJSON(ctx context.Context, req *Request, schema map[string]any) (map[string]any, error) {
	params, err := o.params(req)
	if err != nil {
		return nil, err
	}
	params.ResponseFormat = oa.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONObject: &oa.ResponseFormatJSONObjectParam{},
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response", o.name)
	}

	content := resp.Choices[0].Message.Content
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err == nil {
		return out, nil
	}
	return ExtractJSON(content), nil
}

func (o *OpenAI) Close() error { return nil }
