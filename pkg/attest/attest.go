package attest

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/audit"
	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/metrics"
)

// DefaultNonceTTL bounds how long an issued nonce stays valid
const DefaultNonceTTL = 60 * time.Second

// Attestation event names
const (
	EventNonceIssued       = "NONCE_ISSUED"
	EventNonceDenied       = "NONCE_DENIED"
	EventAttestationOK     = "ATTESTATION_OK"
	EventAttestationFailed = "ATTESTATION_FAILED"
	EventWorkerRevoked     = "WORKER_REVOKED"
)

// Verification failure reasons, in check order
const (
	ReasonOK               = "ok"
	ReasonNonceNotFound    = "nonce_not_found"
	ReasonWorkerMismatch   = "nonce_worker_mismatch"
	ReasonNonceExpired     = "nonce_expired"
	ReasonNonceAlreadyUsed = "nonce_already_used"
	ReasonSigMismatch      = "signature_mismatch"
	ReasonUnknownWorker    = "unknown_worker"
)

// issuedNonce tracks a nonce handed to a specific worker
type issuedNonce struct {
	workerID  string
	issuedAt  time.Time
	expiresAt time.Time
	used      bool
}

// Authority issues nonces and validates worker attestations. It runs on
// zulu-core, the only component that knows worker secrets.
type Authority struct {
	mu           sync.Mutex
	knownWorkers map[string]string
	nonceTTL     time.Duration
	issued       map[string]*issuedNonce
	eventLog     []map[string]any
	now          func() time.Time
	logger       zerolog.Logger
}

// AuthorityOption configures an Authority
type AuthorityOption func(*Authority)

// WithNonceTTL overrides the nonce lifetime
func WithNonceTTL(ttl time.Duration) AuthorityOption {
	return func(a *Authority) {
		if ttl > 0 {
			a.nonceTTL = ttl
		}
	}
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) AuthorityOption {
	return func(a *Authority) { a.now = now }
}

// NewAuthority creates an authority over the given worker_id -> secret map
func NewAuthority(knownWorkers map[string]string, opts ...AuthorityOption) *Authority {
	a := &Authority{
		knownWorkers: knownWorkers,
		nonceTTL:     DefaultNonceTTL,
		issued:       make(map[string]*issuedNonce),
		now:          time.Now,
		logger:       log.WithComponent("attest"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IssueNonce generates a single-use nonce for a worker. Returns an empty
// string for unknown workers.
func (a *Authority) IssueNonce(workerID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.knownWorkers[workerID]; !ok {
		a.logger.Warn().Str("worker_id", workerID).Msg("nonce requested by unknown worker")
		a.logEvent(EventNonceDenied, workerID, map[string]any{"reason": ReasonUnknownWorker})
		return ""
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		a.logger.Error().Err(err).Msg("failed to generate nonce")
		return ""
	}
	nonce := hex.EncodeToString(buf)
	now := a.now()

	a.issued[nonce] = &issuedNonce{
		workerID:  workerID,
		issuedAt:  now,
		expiresAt: now.Add(a.nonceTTL),
	}

	a.logEvent(EventNonceIssued, workerID, map[string]any{"nonce_prefix": nonce[:16]})
	return nonce
}

// Verify validates a worker's attestation. Returns whether it is valid and
// the failure reason ("ok" on success). A valid attestation consumes the
// nonce and lazily prunes expired nonces.
func (a *Authority) Verify(workerID, nonce, signature string) (valid bool, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() {
		result := "failed"
		if valid {
			result = "verified"
		}
		metrics.AttestationsTotal.WithLabelValues(result).Inc()
	}()

	issued, ok := a.issued[nonce]
	if !ok {
		a.logEvent(EventAttestationFailed, workerID, map[string]any{"reason": ReasonNonceNotFound})
		return false, ReasonNonceNotFound
	}

	if issued.workerID != workerID {
		a.logEvent(EventAttestationFailed, workerID, map[string]any{"reason": ReasonWorkerMismatch})
		return false, ReasonWorkerMismatch
	}

	if a.now().After(issued.expiresAt) {
		a.logEvent(EventAttestationFailed, workerID, map[string]any{"reason": ReasonNonceExpired})
		delete(a.issued, nonce)
		return false, ReasonNonceExpired
	}

	// Replay protection
	if issued.used {
		a.logEvent(EventAttestationFailed, workerID, map[string]any{"reason": ReasonNonceAlreadyUsed})
		return false, ReasonNonceAlreadyUsed
	}

	expected := Signature(nonce, a.knownWorkers[workerID])
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		a.logEvent(EventAttestationFailed, workerID, map[string]any{"reason": ReasonSigMismatch})
		return false, ReasonSigMismatch
	}

	issued.used = true
	a.logEvent(EventAttestationOK, workerID, nil)
	a.cleanupExpired()
	return true, ReasonOK
}

// RevokeWorker deletes all nonces for a worker, e.g. after a kill
func (a *Authority) RevokeWorker(workerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	revoked := 0
	for nonce, issued := range a.issued {
		if issued.workerID == workerID {
			delete(a.issued, nonce)
			revoked++
		}
	}
	if revoked > 0 {
		a.logEvent(EventWorkerRevoked, workerID, map[string]any{"nonces_revoked": revoked})
	}
}

// cleanupExpired removes expired nonces. Caller holds the lock.
func (a *Authority) cleanupExpired() {
	now := a.now()
	for nonce, issued := range a.issued {
		if now.After(issued.expiresAt) {
			delete(a.issued, nonce)
		}
	}
}

func (a *Authority) logEvent(event, workerID string, details map[string]any) {
	entry := map[string]any{
		"ts":        a.now().UTC().Format(time.RFC3339Nano),
		"event":     event,
		"worker_id": workerID,
	}
	for k, v := range details {
		entry[k] = v
	}
	a.eventLog = append(a.eventLog, entry)
	a.logger.Info().Str("event", event).Str("worker_id", workerID).Msg("attest")
}

// Log returns a copy of the in-memory attestation event log
func (a *Authority) Log() []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := make([]map[string]any, len(a.eventLog))
	copy(entries, a.eventLog)
	return entries
}

// FlushLog drains the in-memory event log, typically into the audit chain
func (a *Authority) FlushLog() []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	entries := a.eventLog
	a.eventLog = nil
	return entries
}

// FlushTo drains the event log into an audit chain
func (a *Authority) FlushTo(chain *audit.Chain) {
	for _, entry := range a.FlushLog() {
		event, _ := entry["event"].(string)
		details := make(map[string]any, len(entry))
		for k, v := range entry {
			if k != "event" {
				details[k] = v
			}
		}
		chain.Append(event, details)
	}
}

// Signature computes the shared attestation signature, the hex digest of
// nonce + secret. Authority and worker must agree on this exactly.
func Signature(nonce, secret string) string {
	return audit.HashHex(audit.DefaultAlgo, []byte(nonce+secret))
}

// Attester runs inside the worker container and signs nonces to prove
// identity to the authority.
type Attester struct {
	WorkerID string
	secret   string
}

// NewAttester creates a worker-side attester
func NewAttester(workerID, secret string) *Attester {
	return &Attester{WorkerID: workerID, secret: secret}
}

// SignNonce signs a nonce with this worker's secret
func (w *Attester) SignNonce(nonce string) string {
	return Signature(nonce, w.secret)
}

// BuildAttestation builds a complete attestation payload for HTTP
func (w *Attester) BuildAttestation(nonce string) map[string]any {
	return map[string]any{
		"worker_id": w.WorkerID,
		"nonce":     nonce,
		"signature": w.SignNonce(nonce),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
}
