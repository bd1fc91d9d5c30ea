package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// structuredOutputTool is the synthetic tool used to force schema-shaped
// output from Claude
const structuredOutputTool = "structured_output"

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Anthropic implements Provider on the Claude Messages API. Schema requests
// use tool use for structured output; plain JSON requests complete and parse.
type Anthropic struct {
	msg MessagesClient
}

// NewAnthropic builds the provider from an API key and optional base URL
func NewAnthropic(apiKey, baseURL string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := sdk.NewClient(opts...)
	return &Anthropic{msg: &client.Messages}, nil
}

// NewAnthropicWithClient builds the provider around an existing Messages
// client, for tests
func NewAnthropicWithClient(msg MessagesClient) *Anthropic {
	return &Anthropic{msg: msg}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) params(req *Request) (sdk.MessageNewParams, error) {
	if req.Model == "" {
		return sdk.MessageNewParams{}, errors.New("anthropic: model identifier is required")
	}
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(block))
		default:
			msgs = append(msgs, sdk.NewUserMessage(block))
		}
	}
	if len(msgs) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		Messages:    msgs,
		MaxTokens:   int64(req.maxTokens()),
		Temperature: sdk.Float(req.temperature()),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	return params, nil
}

func (a *Anthropic) Complete(ctx context.Context, req *Request) (string, error) {
	params, err := a.params(req)
	if err != nil {
		return "", err
	}
	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func (a *Anthropic) CompleteJSON(ctx context.Context, req *Request, schema map[string]any) (map[string]any, error) {
	if schema == nil {
		text, err := a.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		return ExtractJSON(text), nil
	}

	params, err := a.params(req)
	if err != nil {
		return nil, err
	}
	tool := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, structuredOutputTool)
	if tool.OfTool != nil {
		tool.OfTool.Description = sdk.String("Return structured data matching the schema")
	}
	params.Tools = []sdk.ToolUnionParam{tool}
	params.ToolChoice = sdk.ToolChoiceParamOfTool(structuredOutputTool)

	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == structuredOutputTool {
			var out map[string]any
			if err := json.Unmarshal(block.Input, &out); err != nil {
				return nil, fmt.Errorf("anthropic: decode tool input: %w", err)
			}
			return out, nil
		}
	}
	// The model answered in prose instead of calling the tool
	for _, block := range msg.Content {
		if block.Type == "text" {
			return ExtractJSON(block.Text), nil
		}
	}
	return map[string]any{}, nil
}

func (a *Anthropic) Close() error { return nil }
