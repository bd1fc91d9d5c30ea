package attest

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zuluhq/zulu/pkg/metrics"
)

var testWorkers = map[string]string{
	"clawd-runner":        "secret-for-clawd",
	"openclaw-nightshift": "secret-for-openclaw",
}

func TestIssueNonce(t *testing.T) {
	authority := NewAuthority(testWorkers)

	nonce := authority.IssueNonce("clawd-runner")
	require.NotEmpty(t, nonce)
	assert.Len(t, nonce, 64) // 32 random bytes, hex encoded

	second := authority.IssueNonce("clawd-runner")
	assert.NotEqual(t, nonce, second)
}

func TestIssueNonceUnknownWorker(t *testing.T) {
	authority := NewAuthority(testWorkers)

	nonce := authority.IssueNonce("rogue")
	assert.Empty(t, nonce)

	log := authority.Log()
	require.Len(t, log, 1)
	assert.Equal(t, EventNonceDenied, log[0]["event"])
	assert.Equal(t, ReasonUnknownWorker, log[0]["reason"])
}

func TestVerifyRoundTrip(t *testing.T) {
	authority := NewAuthority(testWorkers)
	attester := NewAttester("clawd-runner", "secret-for-clawd")

	nonce := authority.IssueNonce("clawd-runner")
	require.NotEmpty(t, nonce)

	ok, reason := authority.Verify("clawd-runner", nonce, attester.SignNonce(nonce))
	assert.True(t, ok)
	assert.Equal(t, ReasonOK, reason)
}

func TestVerifyNonceNotFound(t *testing.T) {
	authority := NewAuthority(testWorkers)

	ok, reason := authority.Verify("clawd-runner", "deadbeef", "sig")
	assert.False(t, ok)
	assert.Equal(t, ReasonNonceNotFound, reason)
}

func TestVerifyWorkerMismatch(t *testing.T) {
	authority := NewAuthority(testWorkers)

	nonce := authority.IssueNonce("clawd-runner")
	ok, reason := authority.Verify("openclaw-nightshift", nonce, "sig")
	assert.False(t, ok)
	assert.Equal(t, ReasonWorkerMismatch, reason)
}

func TestVerifyExpiredNonce(t *testing.T) {
	current := time.Now()
	authority := NewAuthority(testWorkers,
		WithNonceTTL(time.Minute),
		WithClock(func() time.Time { return current }))
	attester := NewAttester("clawd-runner", "secret-for-clawd")

	nonce := authority.IssueNonce("clawd-runner")
	current = current.Add(2 * time.Minute)

	ok, reason := authority.Verify("clawd-runner", nonce, attester.SignNonce(nonce))
	assert.False(t, ok)
	assert.Equal(t, ReasonNonceExpired, reason)

	// Expired nonce is removed, not retryable
	ok, reason = authority.Verify("clawd-runner", nonce, attester.SignNonce(nonce))
	assert.False(t, ok)
	assert.Equal(t, ReasonNonceNotFound, reason)
}

func TestVerifyReplayRejected(t *testing.T) {
	authority := NewAuthority(testWorkers)
	attester := NewAttester("clawd-runner", "secret-for-clawd")

	nonce := authority.IssueNonce("clawd-runner")
	signature := attester.SignNonce(nonce)

	ok, _ := authority.Verify("clawd-runner", nonce, signature)
	require.True(t, ok)

	ok, reason := authority.Verify("clawd-runner", nonce, signature)
	assert.False(t, ok)
	assert.Equal(t, ReasonNonceAlreadyUsed, reason)
}

func TestVerifyBadSignature(t *testing.T) {
	authority := NewAuthority(testWorkers)
	wrong := NewAttester("clawd-runner", "wrong-secret")

	nonce := authority.IssueNonce("clawd-runner")
	ok, reason := authority.Verify("clawd-runner", nonce, wrong.SignNonce(nonce))
	assert.False(t, ok)
	assert.Equal(t, ReasonSigMismatch, reason)
}

func TestRevokeWorker(t *testing.T) {
	authority := NewAuthority(testWorkers)
	attester := NewAttester("clawd-runner", "secret-for-clawd")

	nonce := authority.IssueNonce("clawd-runner")
	other := authority.IssueNonce("openclaw-nightshift")

	authority.RevokeWorker("clawd-runner")

	ok, reason := authority.Verify("clawd-runner", nonce, attester.SignNonce(nonce))
	assert.False(t, ok)
	assert.Equal(t, ReasonNonceNotFound, reason)

	// Other workers keep their nonces
	nightshift := NewAttester("openclaw-nightshift", "secret-for-openclaw")
	ok, _ = authority.Verify("openclaw-nightshift", other, nightshift.SignNonce(other))
	assert.True(t, ok)
}

func TestFlushLog(t *testing.T) {
	authority := NewAuthority(testWorkers)
	authority.IssueNonce("clawd-runner")
	authority.IssueNonce("rogue")

	entries := authority.FlushLog()
	assert.Len(t, entries, 2)
	assert.Empty(t, authority.Log())
}

func TestBuildAttestation(t *testing.T) {
	attester := NewAttester("clawd-runner", "secret-for-clawd")
	payload := attester.BuildAttestation("abc123")

	assert.Equal(t, "clawd-runner", payload["worker_id"])
	assert.Equal(t, "abc123", payload["nonce"])
	assert.Equal(t, Signature("abc123", "secret-for-clawd"), payload["signature"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestVerifyBumpsAttestationCounters(t *testing.T) {
	authority := NewAuthority(testWorkers)
	attester := NewAttester("clawd-runner", "secret-for-clawd")

	verified := metrics.AttestationsTotal.WithLabelValues("verified")
	failed := metrics.AttestationsTotal.WithLabelValues("failed")
	verifiedBefore := testutil.ToFloat64(verified)
	failedBefore := testutil.ToFloat64(failed)

	nonce := authority.IssueNonce("clawd-runner")
	ok, _ := authority.Verify("clawd-runner", nonce, attester.SignNonce(nonce))
	require.True(t, ok)

	ok, _ = authority.Verify("clawd-runner", "no-such-nonce", "sig")
	require.False(t, ok)

	assert.Equal(t, verifiedBefore+1, testutil.ToFloat64(verified))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}
