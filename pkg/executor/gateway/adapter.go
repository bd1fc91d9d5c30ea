package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/metrics"
)

const backendName = "moltworker"

var _ executor.Executor = (*Adapter)(nil)

// Adapter dispatches tasks to a remote gateway worker behind Cloudflare.
//
// The gateway wraps the worker's websocket RPC behind an HTTP task endpoint,
// so the primary transport is POST {url}/api/task. When UseWebSocket is set
// the adapter speaks the RPC protocol directly and falls back to HTTP if the
// session fails. Either way the dispatch contract matches the local adapter:
// credential TTL checks, bounded audit ring, typed errors, retry on
// transport failure only.
type Adapter struct {
	cfg Config

	clientMu sync.Mutex
	client   *http.Client

	sessMu sync.Mutex
	sess   *Session

	ring   *executor.AuditRing
	logger zerolog.Logger
}

// Option configures an Adapter
type Option func(*Adapter)

// WithConfig overrides the env-derived configuration
func WithConfig(cfg Config) Option {
	return func(a *Adapter) { a.cfg = cfg }
}

// WithAuditFlush wires the audit ring's flush callback
func WithAuditFlush(fn executor.FlushFunc) Option {
	return func(a *Adapter) { a.ring = executor.NewAuditRing(a.cfg.AuditRingSize, fn) }
}

// WithHTTPClient injects a client, for tests
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) { a.client = client }
}

// NewAdapter builds a gateway adapter. URL and token are required.
func NewAdapter(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		cfg:    ConfigFromEnv(),
		logger: log.WithComponent("gateway"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cfg.URL = strings.TrimRight(a.cfg.URL, "/")

	if a.cfg.URL == "" {
		return nil, &executor.ValidationError{Field: "url",
			Reason: "MOLTWORKER_URL is required"}
	}
	if a.cfg.GatewayToken == "" {
		return nil, &executor.ValidationError{Field: "gateway_token",
			Reason: "MOLTWORKER_GATEWAY_TOKEN is required"}
	}
	if a.ring == nil {
		a.ring = executor.NewAuditRing(a.cfg.AuditRingSize, nil)
	}
	return a, nil
}

// URL returns the gateway base URL
func (a *Adapter) URL() string { return a.cfg.URL }

func (a *Adapter) getClient() *http.Client {
	a.clientMu.Lock()
	defer a.clientMu.Unlock()
	if a.client == nil {
		a.client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				DialContext: (&net.Dialer{
					Timeout: a.cfg.ConnTimeout,
				}).DialContext,
			},
		}
	}
	return a.client
}

func (a *Adapter) audit(event, taskID string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["backend"] = backendName
	a.ring.Record(event, taskID, fields)
}

// Dispatch sends a task through the gateway with validation, credential TTL
// checks, and retry on transport failure.
func (a *Adapter) Dispatch(ctx context.Context, req *executor.Request) (*executor.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.Credentials.Expired(a.cfg.CredentialTTL) {
		a.audit("credential_expired", req.TaskID, nil)
		return nil, &executor.CredentialExpiredError{
			TaskID: req.TaskID,
			AgeSec: req.Credentials.Age().Seconds(),
		}
	}

	a.audit("dispatch_start", req.TaskID, map[string]any{
		"task_type": string(req.TaskType),
	})
	metrics.DispatchesTotal.WithLabelValues(backendName, string(req.TaskType)).Inc()
	start := time.Now()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.cfg.RetryBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	attempt := 0
	var response *executor.Response
	operation := func() error {
		attempt++
		resp, err := a.execute(ctx, req)
		if err != nil {
			var connErr *executor.ConnectionError
			if errors.As(err, &connErr) {
				a.audit("dispatch_retry", req.TaskID, map[string]any{
					"attempt": attempt,
					"error":   err.Error(),
				})
				metrics.DispatchRetriesTotal.WithLabelValues(backendName).Inc()
				if attempt >= a.cfg.MaxRetries {
					return backoff.Permanent(err)
				}
				return err
			}
			return backoff.Permanent(err)
		}

		if resp.WasRejected() {
			a.audit("task_rejected", req.TaskID, map[string]any{
				"reason":     resp.Error,
				"error_code": string(resp.ErrorCode),
			})
			return backoff.Permanent(&executor.RejectedError{
				TaskID: req.TaskID,
				Code:   resp.ErrorCode,
				Reason: resp.Error,
			})
		}

		response = resp
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	if err != nil {
		var connErr *executor.ConnectionError
		if errors.As(err, &connErr) {
			return nil, fmt.Errorf("dispatch failed after %d attempts: %w", attempt, err)
		}
		return nil, err
	}

	a.audit("dispatch_complete", req.TaskID, map[string]any{
		"status":  response.Status,
		"elapsed": response.ElapsedSeconds,
	})
	metrics.DispatchDuration.WithLabelValues(backendName).Observe(time.Since(start).Seconds())
	return response, nil
}

// execute performs one dispatch attempt, websocket first when enabled
func (a *Adapter) execute(ctx context.Context, req *executor.Request) (*executor.Response, error) {
	prompt := buildPrompt(req)
	sessionID := "zulu-" + req.TaskID

	if a.cfg.UseWebSocket {
		resp, err := a.executeViaGateway(ctx, req, prompt, sessionID)
		if err == nil {
			return resp, nil
		}
		var timeoutErr *executor.TimeoutError
		if errors.As(err, &timeoutErr) {
			return nil, err
		}
		a.logger.Warn().Err(err).Str("task_id", req.TaskID).
			Msg("gateway websocket failed, falling back to HTTP")
	}
	return a.executeViaHTTP(ctx, req, prompt, sessionID)
}

func (a *Adapter) getSession(ctx context.Context) (*Session, error) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()

	if a.sess != nil && a.sess.Alive() {
		return a.sess, nil
	}
	a.sess = nil

	header := http.Header{}
	a.setAccessHeaders(header)

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnTimeout)
	defer cancel()

	sess, err := DialSession(dialCtx, gatewayURL(a.cfg.URL), a.cfg.GatewayToken, header)
	if err != nil {
		return nil, &executor.ConnectionError{URL: a.cfg.URL, Err: err}
	}
	a.sess = sess
	return sess, nil
}

func (a *Adapter) executeViaGateway(ctx context.Context, req *executor.Request,
	prompt, sessionID string) (*executor.Response, error) {
	sess, err := a.getSession(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, a.timeoutFor(req))
	defer cancel()

	text, err := sess.RunAgent(runCtx, sessionID, prompt)
	if err != nil {
		sess.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			a.audit("dispatch_timeout", req.TaskID, nil)
			return nil, &executor.TimeoutError{TaskID: req.TaskID, Timeout: req.TimeoutSec}
		}
		return nil, &executor.ConnectionError{URL: a.cfg.URL, Err: err}
	}

	return &executor.Response{
		TaskID:         req.TaskID,
		Status:         executor.StatusCompleted,
		Output:         map[string]any{"content": text, "backend": backendName},
		ElapsedSeconds: roundSeconds(time.Since(start)),
		CompletedAt:    executor.Now(),
	}, nil
}

// executeViaHTTP posts the task to {url}/api/task. The endpoint drives the
// worker's RPC protocol internally and blocks until the agent finishes.
func (a *Adapter) executeViaHTTP(ctx context.Context, req *executor.Request,
	prompt, sessionID string) (*executor.Response, error) {
	start := time.Now()

	payload, err := json.Marshal(map[string]any{
		"message":    prompt,
		"session_id": sessionID,
		"timeout":    req.TimeoutSec * 1000, // endpoint takes milliseconds
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}

	// The worker enforces the task timeout; the cushion covers transport
	reqCtx, cancel := context.WithTimeout(ctx, a.timeoutFor(req)+30*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		a.cfg.URL+"/api/task", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.setAccessHeaders(httpReq.Header)

	a.logger.Info().
		Str("task_id", req.TaskID).
		Int("timeout", req.TimeoutSec).
		Msg("posting task to gateway")

	resp, err := a.getClient().Do(httpReq)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			a.audit("dispatch_timeout", req.TaskID, nil)
			return nil, &executor.TimeoutError{TaskID: req.TaskID, Timeout: req.TimeoutSec}
		}
		return nil, &executor.ConnectionError{URL: a.cfg.URL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &executor.ConnectionError{URL: a.cfg.URL, Err: err}
	}
	elapsed := roundSeconds(time.Since(start))

	var parsed struct {
		Status    string             `json:"status"`
		Result    json.RawMessage    `json:"result"`
		Error     string             `json:"error"`
		ErrorCode executor.ErrorCode `json:"error_code"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &executor.ConnectionError{URL: a.cfg.URL,
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, firstChars(string(raw), 200))}
	}

	if resp.StatusCode != http.StatusOK {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		status := executor.StatusError
		if parsed.Status == executor.StatusRejected {
			status = executor.StatusRejected
		}
		return &executor.Response{
			TaskID:         req.TaskID,
			Status:         status,
			Error:          msg,
			ErrorCode:      errorCodeOr(parsed.ErrorCode, msg),
			ElapsedSeconds: elapsed,
		}, nil
	}

	switch parsed.Status {
	case executor.StatusCompleted:
		return &executor.Response{
			TaskID:         req.TaskID,
			Status:         executor.StatusCompleted,
			Output:         map[string]any{"content": resultContent(parsed.Result), "backend": backendName},
			ElapsedSeconds: elapsed,
			CompletedAt:    executor.Now(),
		}, nil
	case executor.StatusTimeout:
		msg := parsed.Error
		if msg == "" {
			msg = "Agent timed out"
		}
		return &executor.Response{
			TaskID:         req.TaskID,
			Status:         executor.StatusTimeout,
			Error:          msg,
			ElapsedSeconds: elapsed,
		}, nil
	case executor.StatusRejected:
		return &executor.Response{
			TaskID:         req.TaskID,
			Status:         executor.StatusRejected,
			Error:          parsed.Error,
			ErrorCode:      errorCodeOr(parsed.ErrorCode, parsed.Error),
			ElapsedSeconds: elapsed,
		}, nil
	default:
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("unknown status: %s", parsed.Status)
		}
		return &executor.Response{
			TaskID:         req.TaskID,
			Status:         executor.StatusError,
			Error:          msg,
			ErrorCode:      errorCodeOr(parsed.ErrorCode, msg),
			ElapsedSeconds: elapsed,
		}, nil
	}
}

// Ping checks whether the gateway and its container are reachable. The
// health endpoint is public, no access token needed. Failures come back as
// error-status responses, never as a Go error.
func (a *Adapter) Ping(ctx context.Context) (*executor.Response, error) {
	taskID := fmt.Sprintf("ping-%d", time.Now().Unix())
	a.audit("ping_start", taskID, nil)

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(pingCtx, http.MethodGet,
		a.cfg.URL+"/sandbox-health", nil)
	if err != nil {
		return &executor.Response{TaskID: taskID, Status: executor.StatusError, Error: err.Error()}, nil
	}

	resp, err := a.getClient().Do(httpReq)
	if err != nil {
		a.audit("ping_error", taskID, map[string]any{"error": err.Error()})
		return &executor.Response{
			TaskID: taskID,
			Status: executor.StatusError,
			Error:  fmt.Sprintf("gateway unreachable: %v", err),
		}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusOK {
		a.audit("ping_success", taskID, nil)
		return &executor.Response{
			TaskID: taskID,
			Status: executor.StatusCompleted,
			Output: map[string]any{"pong": true, "backend": backendName, "http_status": 200},
		}, nil
	}

	a.audit("ping_failed", taskID, map[string]any{"status": resp.StatusCode})
	return &executor.Response{
		TaskID: taskID,
		Status: executor.StatusError,
		Error: fmt.Sprintf("gateway returned HTTP %d: %s",
			resp.StatusCode, firstChars(string(body), 200)),
	}, nil
}

// WebResearch dispatches a browsing task scoped to the given domains
func (a *Adapter) WebResearch(ctx context.Context, taskID, prompt string,
	domains []string, creds executor.Credentials, timeoutSec int) (*executor.Response, error) {
	if timeoutSec <= 0 {
		timeoutSec = executor.DefaultTimeout
	}
	req := executor.NewRequest(taskID, executor.TaskWebResearch, prompt)
	req.Tools = executor.ToolAllowlist{WebBrowse: true, WebFetch: true, LLMChat: true}
	req.DomainAllowlist = domains
	req.Credentials = creds
	req.TimeoutSec = timeoutSec
	return a.Dispatch(ctx, req)
}

// ComparativeAnalysis dispatches an LLM-only comparison task
func (a *Adapter) ComparativeAnalysis(ctx context.Context, taskID string,
	items, criteria []string, creds executor.Credentials, timeoutSec int) (*executor.Response, error) {
	if timeoutSec <= 0 {
		timeoutSec = 120
	}
	prompt := fmt.Sprintf("Compare the following items: %s. Evaluate against these criteria: %s.",
		strings.Join(items, ", "), strings.Join(criteria, ", "))

	req := executor.NewRequest(taskID, executor.TaskComparativeAnalysis, prompt)
	req.Credentials = creds
	req.TimeoutSec = timeoutSec
	req.Context = map[string]any{"items": items, "criteria": criteria}
	return a.Dispatch(ctx, req)
}

// AuditLog returns buffered audit entries without clearing
func (a *Adapter) AuditLog() []map[string]any {
	return a.ring.Entries()
}

// FlushAuditLog drains the audit ring, triggering its flush callback
func (a *Adapter) FlushAuditLog() []map[string]any {
	return a.ring.Flush()
}

// Close shuts the session and connection pool and flushes the audit ring
func (a *Adapter) Close() error {
	a.sessMu.Lock()
	if a.sess != nil {
		a.sess.Close()
		a.sess = nil
	}
	a.sessMu.Unlock()

	a.clientMu.Lock()
	if a.client != nil {
		a.client.CloseIdleConnections()
		a.client = nil
	}
	a.clientMu.Unlock()

	if a.ring.Len() > 0 && !a.ring.HasFlushFunc() {
		a.logger.Warn().
			Int("entries", a.ring.Len()).
			Msg("closing adapter without audit flush callback, entries discarded")
	}
	a.ring.Flush()
	return nil
}

func (a *Adapter) setAccessHeaders(h http.Header) {
	if a.cfg.CFAccessClientID != "" && a.cfg.CFAccessClientSecret != "" {
		h.Set("CF-Access-Client-Id", a.cfg.CFAccessClientID)
		h.Set("CF-Access-Client-Secret", a.cfg.CFAccessClientSecret)
	}
}

// timeoutFor returns the task deadline, capped by the response ceiling
func (a *Adapter) timeoutFor(req *executor.Request) time.Duration {
	d := time.Duration(req.TimeoutSec) * time.Second
	if a.cfg.ResponseTimeout > 0 && d > a.cfg.ResponseTimeout {
		d = a.cfg.ResponseTimeout
	}
	return d
}

// Per-task-type instructions prepended to the agent prompt
var taskInstructions = map[executor.TaskType]string{
	executor.TaskWebResearch:         "Research the following topic thoroughly using web search. Cite your sources.",
	executor.TaskDocumentSynthesis:   "Synthesize the following information into a well-structured document.",
	executor.TaskComparativeAnalysis: "Perform a detailed comparative analysis of the following.",
	executor.TaskReportDrafting:      "Draft a professional report on the following topic.",
	executor.TaskCodeReview:          "Review the following code and provide detailed feedback.",
	executor.TaskDataExtraction:      "Extract structured data from the following sources.",
}

// buildPrompt translates task metadata into natural language instructions
// for the remote agent
func buildPrompt(req *executor.Request) string {
	var parts []string

	if instruction, ok := taskInstructions[req.TaskType]; ok {
		parts = append(parts, fmt.Sprintf("[Task: %s]\n%s\n", req.TaskType, instruction))
	}
	if len(req.DomainAllowlist) > 0 {
		parts = append(parts, fmt.Sprintf("[Allowed domains: %s]",
			strings.Join(req.DomainAllowlist, ", ")))
	}

	parts = append(parts, req.Prompt)

	if len(req.Context) > 0 {
		ctxJSON, _ := json.Marshal(req.Context)
		parts = append(parts, fmt.Sprintf("\n[Additional context: %s]", ctxJSON))
	}
	if len(req.OutputSchema) > 0 {
		schemaJSON, _ := json.Marshal(req.OutputSchema)
		parts = append(parts, fmt.Sprintf(
			"\n[Please structure your response as JSON matching this schema: %s]", schemaJSON))
	}
	return strings.Join(parts, "\n\n")
}

// errorCodeOr keeps the worker's structured code, falling back to string
// matching on the message
func errorCodeOr(code executor.ErrorCode, msg string) executor.ErrorCode {
	if code != "" {
		return code
	}
	return categorize(msg)
}

// categorize maps gateway error strings to structured codes. Token and
// pairing failures are auth errors on this backend.
func categorize(msg string) executor.ErrorCode {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return executor.CodeTimeout
	case strings.Contains(lower, "rate limit"):
		return executor.CodeRateLimited
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "token"),
		strings.Contains(lower, "pairing"):
		return executor.CodeAuthFailed
	case strings.Contains(lower, "domain"):
		return executor.CodeDomainBlocked
	default:
		return executor.CodeUnknown
	}
}

func resultContent(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(result, &obj); err == nil {
		if content, ok := obj["content"].(string); ok {
			return content
		}
		return ""
	}
	var str string
	if err := json.Unmarshal(result, &str); err == nil {
		return str
	}
	return ""
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func firstChars(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
