package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPolicy = `
version: "1.0"
workers:
  clawd-runner:
    max_runtime_sec: 300
    max_cpu_pct: 90
    max_memory_mb: 1024
    require_attestation: true
  openclaw-nightshift:
    max_runtime_sec: 600
    max_cpu_pct: 80
    max_memory_mb: 2048
    require_attestation: false
    deny_outbound: true
global:
  max_concurrent_tasks: 5
  kill_on_violation: true
  kill_unknown_workers: true
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultPolicyWhenFileMissing(t *testing.T) {
	engine := NewEngine(filepath.Join(t.TempDir(), "missing.yaml"))

	wp, ok := engine.WorkerPolicy("clawd-runner")
	require.True(t, ok)
	assert.Equal(t, 300, wp.MaxRuntimeSec)
	assert.Equal(t, float64(1024), wp.MaxMemoryMB)

	wp, ok = engine.WorkerPolicy("openclaw-nightshift")
	require.True(t, ok)
	assert.Equal(t, float64(2048), wp.MaxMemoryMB)

	assert.NotEmpty(t, engine.Fingerprint())
	assert.Equal(t, 0, engine.LoadCount())
}

func TestCheckCompliant(t *testing.T) {
	engine := NewEngine(writePolicy(t, testPolicy))

	violations := engine.Check("clawd-runner", Usage{
		CPUPercent: 50,
		MemoryMB:   512,
	}, 100)
	assert.Empty(t, violations)
}

func TestCheckMemoryViolationIsKill(t *testing.T) {
	engine := NewEngine(writePolicy(t, testPolicy))

	violations := engine.Check("clawd-runner", Usage{MemoryMB: 2000}, 0)
	require.Len(t, violations, 1)
	assert.Equal(t, "max_memory_mb", violations[0].Rule)
	assert.Equal(t, SeverityKill, violations[0].Severity)
	assert.True(t, engine.ShouldKill(violations))
}

func TestCheckCPUViolationIsWarn(t *testing.T) {
	engine := NewEngine(writePolicy(t, testPolicy))

	violations := engine.Check("clawd-runner", Usage{CPUPercent: 95}, 0)
	require.Len(t, violations, 1)
	assert.Equal(t, "max_cpu_pct", violations[0].Rule)
	assert.Equal(t, SeverityWarn, violations[0].Severity)
	assert.False(t, engine.ShouldKill(violations))
}

func TestCheckRuntimeViolation(t *testing.T) {
	engine := NewEngine(writePolicy(t, testPolicy))

	violations := engine.Check("clawd-runner", Usage{}, 301)
	require.Len(t, violations, 1)
	assert.Equal(t, "max_runtime_sec", violations[0].Rule)
	assert.Equal(t, SeverityKill, violations[0].Severity)
}

func TestCheckDenyOutbound(t *testing.T) {
	engine := NewEngine(writePolicy(t, testPolicy))

	violations := engine.Check("openclaw-nightshift", Usage{NetworkTxBytes: 4096}, 0)
	require.Len(t, violations, 1)
	assert.Equal(t, "deny_outbound", violations[0].Rule)
	assert.Equal(t, SeverityKill, violations[0].Severity)
}

func TestCheckViolationOrder(t *testing.T) {
	engine := NewEngine(writePolicy(t, testPolicy))

	violations := engine.Check("openclaw-nightshift", Usage{
		CPUPercent:     99,
		MemoryMB:       4096,
		NetworkTxBytes: 1,
	}, 700)
	require.Len(t, violations, 4)
	assert.Equal(t, "max_runtime_sec", violations[0].Rule)
	assert.Equal(t, "max_cpu_pct", violations[1].Rule)
	assert.Equal(t, "max_memory_mb", violations[2].Rule)
	assert.Equal(t, "deny_outbound", violations[3].Rule)
}

func TestCheckUnknownWorker(t *testing.T) {
	engine := NewEngine(writePolicy(t, testPolicy))

	violations := engine.Check("rogue-container", Usage{}, 0)
	require.Len(t, violations, 1)
	assert.Equal(t, "unknown_worker", violations[0].Rule)
	assert.Equal(t, SeverityKill, violations[0].Severity)
}

func TestCheckUnknownWorkerIgnoredByDefault(t *testing.T) {
	engine := NewEngine(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Empty(t, engine.Check("rogue-container", Usage{}, 0))
}

func TestShouldKillDisabled(t *testing.T) {
	engine := NewEngine(writePolicy(t, `
workers:
  clawd-runner:
    max_memory_mb: 100
global:
  kill_on_violation: false
`))

	violations := engine.Check("clawd-runner", Usage{MemoryMB: 500}, 0)
	require.NotEmpty(t, violations)
	assert.False(t, engine.ShouldKill(violations))
}

func TestRequiresAttestation(t *testing.T) {
	engine := NewEngine(writePolicy(t, testPolicy))

	assert.True(t, engine.RequiresAttestation("clawd-runner"))
	assert.False(t, engine.RequiresAttestation("openclaw-nightshift"))
	// Unlisted workers default to requiring attestation
	assert.True(t, engine.RequiresAttestation("rogue-container"))
}

func TestReloadFingerprint(t *testing.T) {
	path := writePolicy(t, testPolicy)
	engine := NewEngine(path)

	first := engine.Fingerprint()
	assert.NotEmpty(t, first)
	assert.Equal(t, 1, engine.LoadCount())

	// Unchanged file is a no-op
	assert.False(t, engine.Reload())
	assert.Equal(t, 1, engine.LoadCount())

	require.NoError(t, os.WriteFile(path, []byte(`
workers:
  clawd-runner:
    max_memory_mb: 256
global:
  kill_on_violation: true
`), 0644))

	assert.True(t, engine.Reload())
	assert.Equal(t, 2, engine.LoadCount())
	assert.NotEqual(t, first, engine.Fingerprint())

	wp, ok := engine.WorkerPolicy("clawd-runner")
	require.True(t, ok)
	assert.Equal(t, float64(256), wp.MaxMemoryMB)
}

func TestReloadBadYAMLKeepsPolicy(t *testing.T) {
	path := writePolicy(t, testPolicy)
	engine := NewEngine(path)
	fingerprint := engine.Fingerprint()

	require.NoError(t, os.WriteFile(path, []byte("workers: [not: valid"), 0644))
	assert.False(t, engine.Reload())
	assert.Equal(t, fingerprint, engine.Fingerprint())

	_, ok := engine.WorkerPolicy("clawd-runner")
	assert.True(t, ok)
}
