package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/events"
	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/metrics"
)

// Adapter dispatches tasks to a constrained worker over HTTP POST /task.
//
// Features:
//   - Connection pooling (lazily initialized client)
//   - Exponential backoff retry for transient transport failures
//   - Credential TTL validation before any network call
//   - Bounded audit ring with optional flush into the audit chain
//   - Structured error codes with string-matching fallback
type Adapter struct {
	url  string
	name string
	cfg  Config

	clientMu sync.Mutex
	client   *http.Client

	ring   *AuditRing
	logger zerolog.Logger
}

var _ Executor = (*Adapter)(nil)

// AdapterOption configures an Adapter
type AdapterOption func(*Adapter)

// WithURL overrides the worker base URL
func WithURL(url string) AdapterOption {
	return func(a *Adapter) { a.url = strings.TrimRight(url, "/") }
}

// WithName sets the backend name used in logs and metrics
func WithName(name string) AdapterOption {
	return func(a *Adapter) { a.name = name }
}

// WithConfig overrides the env-derived configuration
func WithConfig(cfg Config) AdapterOption {
	return func(a *Adapter) { a.cfg = cfg }
}

// WithAuditFlush wires the audit ring's flush callback
func WithAuditFlush(fn FlushFunc) AdapterOption {
	return func(a *Adapter) { a.ring = NewAuditRing(a.cfg.AuditRingSize, fn) }
}

// WithHTTPClient injects a client, for tests
func WithHTTPClient(client *http.Client) AdapterOption {
	return func(a *Adapter) { a.client = client }
}

// NewAdapter builds an adapter from the environment plus options
func NewAdapter(opts ...AdapterOption) *Adapter {
	cfg := ConfigFromEnv()
	a := &Adapter{
		url:    strings.TrimRight(cfg.WorkerURL, "/"),
		name:   "openclaw",
		cfg:    cfg,
		ring:   NewAuditRing(cfg.AuditRingSize, nil),
		logger: log.WithComponent("executor"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// URL returns the worker base URL
func (a *Adapter) URL() string { return a.url }

// getClient lazily initializes the pooled HTTP client. The lock is held for
// the whole call so concurrent dispatches share one pool.
func (a *Adapter) getClient() *http.Client {
	a.clientMu.Lock()
	defer a.clientMu.Unlock()
	if a.client == nil {
		a.client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        a.cfg.PoolSize,
				MaxIdleConnsPerHost: a.cfg.PoolSize,
				DialContext: (&net.Dialer{
					Timeout: a.cfg.ConnTimeout,
				}).DialContext,
			},
		}
	}
	return a.client
}

func (a *Adapter) audit(event, taskID string, fields map[string]any) {
	a.ring.Record(event, taskID, fields)
}

// Dispatch sends a task to the worker with validation, credential TTL
// checks, and retry.
//
// Returns a typed error on failure:
//   - ValidationError: malformed request, nothing sent
//   - CredentialExpiredError: credentials aged past TTL, nothing sent
//   - RejectedError: the worker refused the task; never retried
//   - TimeoutError: the task exceeded its deadline
//   - ConnectionError: transport failed after all retries
func (a *Adapter) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.Credentials.Expired(a.cfg.CredentialTTL) {
		a.audit("credential_expired", req.TaskID, nil)
		return nil, &CredentialExpiredError{
			TaskID: req.TaskID,
			AgeSec: req.Credentials.Age().Seconds(),
		}
	}

	a.audit("dispatch_start", req.TaskID, map[string]any{
		"task_type": string(req.TaskType),
		"backend":   a.name,
	})
	metrics.DispatchesTotal.WithLabelValues(a.name, string(req.TaskType)).Inc()
	events.Emit(events.EventDispatchStarted, string(req.TaskType),
		map[string]string{"task_id": req.TaskID, "backend": a.name})
	start := time.Now()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.cfg.RetryBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	attempt := 0
	var response *Response
	operation := func() error {
		attempt++
		resp, err := a.sendRequest(ctx, req)
		if err != nil {
			var connErr *ConnectionError
			if errors.As(err, &connErr) {
				a.audit("dispatch_retry", req.TaskID, map[string]any{
					"attempt": attempt,
					"error":   err.Error(),
				})
				metrics.DispatchRetriesTotal.WithLabelValues(a.name).Inc()
				events.Emit(events.EventDispatchRetried, err.Error(),
					map[string]string{"task_id": req.TaskID, "backend": a.name})
				if attempt >= a.cfg.MaxRetries {
					return backoff.Permanent(err)
				}
				return err
			}
			// Timeouts and everything else are not retried
			return backoff.Permanent(err)
		}

		if resp.WasRejected() {
			a.audit("task_rejected", req.TaskID, map[string]any{
				"reason":     resp.Error,
				"error_code": string(resp.ErrorCode),
			})
			return backoff.Permanent(&RejectedError{
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
		events.Emit(events.EventDispatchFailed, err.Error(),
			map[string]string{"task_id": req.TaskID, "backend": a.name})
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return nil, fmt.Errorf("dispatch failed after %d attempts: %w", attempt, err)
		}
		return nil, err
	}

	a.audit("dispatch_complete", req.TaskID, map[string]any{
		"status":  response.Status,
		"steps":   response.StepsTaken,
		"elapsed": response.ElapsedSeconds,
	})
	metrics.DispatchDuration.WithLabelValues(a.name).Observe(time.Since(start).Seconds())
	events.Emit(events.EventDispatchCompleted, string(response.Status),
		map[string]string{"task_id": req.TaskID, "backend": a.name})
	return response, nil
}

// sendRequest performs one HTTP round trip to the worker
func (a *Adapter) sendRequest(ctx context.Context, req *Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	// The worker enforces the task timeout; the cushion covers transport
	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutSec)*time.Second+30*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		a.url+"/task", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.getClient().Do(httpReq)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			a.audit("dispatch_timeout", req.TaskID, nil)
			return nil, &TimeoutError{TaskID: req.TaskID, Timeout: req.TimeoutSec}
		}
		return nil, &ConnectionError{URL: a.url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{URL: a.url, Err: err}
	}

	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode >= 500 {
			return nil, &ConnectionError{URL: a.url,
				Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, firstChars(string(body), 200))}
		}
		return nil, fmt.Errorf("failed to decode worker response (HTTP %d): %w",
			resp.StatusCode, err)
	}
	if parsed.TaskID == "" {
		parsed.TaskID = req.TaskID
	}
	if parsed.Status == "" {
		parsed.Status = StatusError
	}
	// Prefer the worker's structured code, fall back to string matching
	if parsed.ErrorCode == "" && parsed.Error != "" {
		parsed.ErrorCode = CategorizeError(parsed.Error)
	}
	if resp.StatusCode == http.StatusBadRequest && parsed.Status != StatusRejected {
		parsed.Status = StatusRejected
	}
	return &parsed, nil
}

// Ping performs a health check round trip. An empty prompt is valid for the
// ping task type.
func (a *Adapter) Ping(ctx context.Context) (*Response, error) {
	req := NewRequest(fmt.Sprintf("ping-%d", time.Now().Unix()), TaskPing, "")
	req.MaxSteps = 1
	req.TimeoutSec = 10
	return a.Dispatch(ctx, req)
}

// WebResearch dispatches a browsing task scoped to the given domains
func (a *Adapter) WebResearch(ctx context.Context, taskID, prompt string,
	domains []string, creds Credentials, timeoutSec int) (*Response, error) {
	if timeoutSec <= 0 {
		timeoutSec = DefaultTimeout
	}
	req := NewRequest(taskID, TaskWebResearch, prompt)
	req.Tools = ToolAllowlist{WebBrowse: true, WebFetch: true, LLMChat: true}
	req.DomainAllowlist = domains
	req.Credentials = creds
	req.TimeoutSec = timeoutSec
	return a.Dispatch(ctx, req)
}

// ComparativeAnalysis dispatches an LLM-only comparison task
func (a *Adapter) ComparativeAnalysis(ctx context.Context, taskID string,
	items, criteria []string, creds Credentials, timeoutSec int) (*Response, error) {
	if timeoutSec <= 0 {
		timeoutSec = 120
	}
	prompt := fmt.Sprintf("Compare the following items: %s. Evaluate against these criteria: %s.",
		strings.Join(items, ", "), strings.Join(criteria, ", "))

	req := NewRequest(taskID, TaskComparativeAnalysis, prompt)
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

// Close shuts the connection pool and flushes the audit ring
func (a *Adapter) Close() error {
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

func firstChars(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
