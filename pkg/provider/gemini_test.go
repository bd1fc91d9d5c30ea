package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiReply(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	}
}

func TestGeminiComplete(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(geminiReply("the answer"))
	}))
	defer srv.Close()

	p, err := NewGemini("AIza-test", srv.URL)
	require.NoError(t, err)

	text, err := p.Complete(context.Background(),
		UserRequest("gemini-2.0-flash", "be factual", "question"))
	require.NoError(t, err)

	assert.Equal(t, "the answer", text)
	assert.Equal(t, "/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "AIza-test", gotKey)
	assert.Contains(t, gotBody, "systemInstruction")
}

func TestGeminiCompleteJSONSetsMimeAndSchema(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(geminiReply(`{"intent": "extract"}`))
	}))
	defer srv.Close()

	p, err := NewGemini("AIza-test", srv.URL)
	require.NoError(t, err)

	out, err := p.CompleteJSON(context.Background(),
		UserRequest("gemini-2.0-flash", "", "classify"),
		map[string]any{"type": "object"})
	require.NoError(t, err)
	assert.Equal(t, "extract", out["intent"])

	genCfg := gotBody["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", genCfg["responseMimeType"])
	assert.Contains(t, genCfg, "responseSchema")
}

func TestGeminiHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewGemini("AIza-test", srv.URL)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), UserRequest("gemini-2.0-flash", "", "q"))
	assert.ErrorContains(t, err, "HTTP 429")
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	_, err := NewGemini("", "")
	assert.Error(t, err)
}
