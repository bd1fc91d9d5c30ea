package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestAnthropicComplete(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello "},
				{Type: "text", Text: "world"},
			},
		},
	}
	p := NewAnthropicWithClient(stub)

	text, err := p.Complete(context.Background(),
		UserRequest("claude-haiku-4-5-20251001", "be brief", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	assert.Equal(t, sdk.Model("claude-haiku-4-5-20251001"), stub.lastParams.Model)
	require.Len(t, stub.lastParams.System, 1)
	assert.Equal(t, "be brief", stub.lastParams.System[0].Text)
	assert.Equal(t, int64(DefaultMaxTokens), stub.lastParams.MaxTokens)
}

func TestAnthropicCompleteRequiresModel(t *testing.T) {
	p := NewAnthropicWithClient(&stubMessagesClient{})
	_, err := p.Complete(context.Background(), UserRequest("", "", "hi"))
	assert.Error(t, err)
}

func TestAnthropicCompleteJSONToolUse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{
					Type:  "tool_use",
					Name:  "structured_output",
					Input: json.RawMessage(`{"intent": "research", "confidence": 0.8}`),
				},
			},
		},
	}
	p := NewAnthropicWithClient(stub)

	schema := map[string]any{"type": "object"}
	out, err := p.CompleteJSON(context.Background(),
		UserRequest("claude-haiku-4-5-20251001", "", "classify"), schema)
	require.NoError(t, err)
	assert.Equal(t, "research", out["intent"])

	require.Len(t, stub.lastParams.Tools, 1)
	require.NotNil(t, stub.lastParams.Tools[0].OfTool)
	assert.NotNil(t, stub.lastParams.ToolChoice.OfTool)
}

func TestAnthropicCompleteJSONTextFallback(t *testing.T) {
	// Model answered in prose instead of calling the tool
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: `Here you go: {"intent": "draft"}`},
			},
		},
	}
	p := NewAnthropicWithClient(stub)

	out, err := p.CompleteJSON(context.Background(),
		UserRequest("claude-haiku-4-5-20251001", "", "classify"),
		map[string]any{"type": "object"})
	require.NoError(t, err)
	assert.Equal(t, "draft", out["intent"])
}

func TestAnthropicCompleteJSONNoSchema(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: `{"summary": "ok"}`},
			},
		},
	}
	p := NewAnthropicWithClient(stub)

	out, err := p.CompleteJSON(context.Background(),
		UserRequest("claude-haiku-4-5-20251001", "", "summarize"), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out["summary"])
	assert.Empty(t, stub.lastParams.Tools)
}

func TestAnthropicCompleteError(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("overloaded")}
	p := NewAnthropicWithClient(stub)

	_, err := p.Complete(context.Background(),
		UserRequest("claude-haiku-4-5-20251001", "", "hi"))
	assert.ErrorContains(t, err, "overloaded")
}
