package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuluhq/zulu/pkg/executor"
)

func testConfig(url string) Config {
	return Config{
		URL:             url,
		GatewayToken:    "tok",
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
		ConnTimeout:     time.Second,
		ResponseTimeout: 300 * time.Second,
		CredentialTTL:   time.Hour,
		AuditRingSize:   100,
	}
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := NewAdapter(WithConfig(testConfig(srv.URL)))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestGetClientConcurrentInit(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})

	clients := make([]*http.Client, 8)
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i] = a.getClient()
		}(i)
	}
	wg.Wait()

	require.NotNil(t, clients[0])
	for _, c := range clients[1:] {
		assert.Same(t, clients[0], c)
	}
}

func eventNames(entries []map[string]any) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e["event"].(string))
	}
	return names
}

func TestNewAdapterRequiresURLAndToken(t *testing.T) {
	_, err := NewAdapter(WithConfig(Config{GatewayToken: "tok"}))
	var vErr *executor.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "url", vErr.Field)

	_, err = NewAdapter(WithConfig(Config{URL: "https://worker.example.dev"}))
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "gateway_token", vErr.Field)
}

func TestDispatchPostsTask(t *testing.T) {
	var gotPayload map[string]any
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		writeBody(w, 200, map[string]any{
			"status": "completed",
			"result": map[string]any{"content": "the answer"},
		})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CFAccessClientID = "cf-id"
	cfg.CFAccessClientSecret = "cf-secret"
	a, err := NewAdapter(WithConfig(cfg))
	require.NoError(t, err)
	defer a.Close()

	req := executor.NewRequest("t1", executor.TaskWebResearch, "What changed in the standard?")
	req.DomainAllowlist = []string{"example.com"}

	resp, err := a.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, executor.StatusCompleted, resp.Status)
	assert.Equal(t, "the answer", resp.Output["content"])
	assert.Equal(t, "moltworker", resp.Output["backend"])
	assert.NotEmpty(t, resp.CompletedAt)

	assert.Equal(t, "zulu-t1", gotPayload["session_id"])
	assert.Equal(t, float64(300000), gotPayload["timeout"])
	message := gotPayload["message"].(string)
	assert.Contains(t, message, "[Task: web_research]")
	assert.Contains(t, message, "Research the following topic thoroughly using web search. Cite your sources.")
	assert.Contains(t, message, "[Allowed domains: example.com]")
	assert.Contains(t, message, "What changed in the standard?")

	assert.Equal(t, "cf-id", gotHeader.Get("CF-Access-Client-Id"))
	assert.Equal(t, "cf-secret", gotHeader.Get("CF-Access-Client-Secret"))

	assert.Equal(t, []string{"dispatch_start", "dispatch_complete"}, eventNames(a.AuditLog()))
}

func TestBuildPromptSections(t *testing.T) {
	req := executor.NewRequest("t1", executor.TaskComparativeAnalysis, "Compare A and B.")
	req.Context = map[string]any{"items": []string{"A", "B"}}
	req.OutputSchema = map[string]any{"type": "object"}

	prompt := buildPrompt(req)

	assert.Contains(t, prompt, "[Task: comparative_analysis]\nPerform a detailed comparative analysis of the following.\n")
	assert.Contains(t, prompt, "Compare A and B.")
	assert.Contains(t, prompt, `[Additional context: {"items":["A","B"]}]`)
	assert.Contains(t, prompt, `[Please structure your response as JSON matching this schema: {"type":"object"}]`)
	assert.NotContains(t, prompt, "[Allowed domains:")

	sections := strings.Split(prompt, "\n\n")
	assert.Len(t, sections, 4)
}

func TestDispatchTimeoutStatus(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 200, map[string]any{"status": "timeout", "error": "Agent timed out"})
	})

	resp, err := a.Dispatch(context.Background(),
		executor.NewRequest("t1", executor.TaskWebResearch, "slow"))
	require.NoError(t, err)
	assert.Equal(t, executor.StatusTimeout, resp.Status)
	assert.Equal(t, "Agent timed out", resp.Error)
}

func TestHTTPErrorBecomesErrorResponse(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 500, map[string]any{"error": "invalid token"})
	})

	resp, err := a.Dispatch(context.Background(),
		executor.NewRequest("t1", executor.TaskWebResearch, "go"))
	require.NoError(t, err)
	assert.Equal(t, executor.StatusError, resp.Status)
	assert.Equal(t, "invalid token", resp.Error)
	assert.Equal(t, executor.CodeAuthFailed, resp.ErrorCode)
}

func TestRetriesOnGarbageResponse(t *testing.T) {
	calls := 0
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream connect error")
			return
		}
		writeBody(w, 200, map[string]any{
			"status": "completed",
			"result": "plain string result",
		})
	})

	resp, err := a.Dispatch(context.Background(),
		executor.NewRequest("t1", executor.TaskWebResearch, "go"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "plain string result", resp.Output["content"])
	assert.Contains(t, eventNames(a.AuditLog()), "dispatch_retry")
}

func TestExhaustsRetries(t *testing.T) {
	calls := 0
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream connect error")
	})

	_, err := a.Dispatch(context.Background(),
		executor.NewRequest("t1", executor.TaskWebResearch, "go"))
	require.Error(t, err)
	assert.True(t, executor.IsConnectionError(err))
	assert.Equal(t, 2, calls)
}

func TestRejectedNotRetried(t *testing.T) {
	calls := 0
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeBody(w, 200, map[string]any{
			"status":     "rejected",
			"error":      "domain blocked: example.org",
			"error_code": "DOMAIN_BLOCKED",
		})
	})

	_, err := a.Dispatch(context.Background(),
		executor.NewRequest("t1", executor.TaskWebResearch, "go"))

	var rejErr *executor.RejectedError
	require.ErrorAs(t, err, &rejErr)
	assert.Equal(t, executor.CodeDomainBlocked, rejErr.Code)
	assert.Equal(t, 1, calls)
	assert.Contains(t, eventNames(a.AuditLog()), "task_rejected")
}

func TestExpiredCredentialsNeverDispatched(t *testing.T) {
	calls := 0
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	req := executor.NewRequest("t1", executor.TaskWebResearch, "go")
	req.Credentials.IssuedAt = time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)

	_, err := a.Dispatch(context.Background(), req)

	var credErr *executor.CredentialExpiredError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, 0, calls)
	assert.Equal(t, []string{"credential_expired"}, eventNames(a.AuditLog()))
}

func TestDeadlineBecomesTimeoutError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now())
	defer cancel()

	_, err := a.Dispatch(ctx, executor.NewRequest("t1", executor.TaskWebResearch, "go"))

	var timeoutErr *executor.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, eventNames(a.AuditLog()), "dispatch_timeout")
}

func TestPing(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sandbox-health", r.URL.Path)
		writeBody(w, 200, map[string]any{"status": "healthy"})
	})

	resp, err := a.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, executor.StatusCompleted, resp.Status)
	assert.Equal(t, true, resp.Output["pong"])
	assert.Equal(t, "moltworker", resp.Output["backend"])
	assert.Equal(t, []string{"ping_start", "ping_success"}, eventNames(a.AuditLog()))
}

func TestPingFailure(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "container stopped")
	})

	resp, err := a.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, executor.StatusError, resp.Status)
	assert.Contains(t, resp.Error, "HTTP 503")
	assert.Equal(t, []string{"ping_start", "ping_failed"}, eventNames(a.AuditLog()))
}

func TestWebSocketFallsBackToHTTP(t *testing.T) {
	// No websocket endpoint here, only the task endpoint; the adapter must
	// fall back after the failed upgrade
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/task" {
			http.NotFound(w, r)
			return
		}
		writeBody(w, 200, map[string]any{
			"status": "completed",
			"result": map[string]any{"content": "via http"},
		})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.UseWebSocket = true
	a, err := NewAdapter(WithConfig(cfg))
	require.NoError(t, err)
	defer a.Close()

	resp, err := a.Dispatch(context.Background(),
		executor.NewRequest("t1", executor.TaskWebResearch, "go"))
	require.NoError(t, err)
	assert.Equal(t, "via http", resp.Output["content"])
}

func writeBody(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
