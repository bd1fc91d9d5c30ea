package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/zuluhq/zulu/pkg/audit"
	"github.com/zuluhq/zulu/pkg/log"
)

// Severity classifies how the watchdog reacts to a violation
type Severity string

const (
	SeverityKill Severity = "kill"
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation is a single policy violation detected by the engine
type Violation struct {
	Container string
	Rule      string
	Reason    string
	Severity  Severity
	Details   map[string]any
}

// ToMap serializes a violation for audit records
func (v Violation) ToMap() map[string]any {
	return map[string]any{
		"container": v.Container,
		"rule":      v.Rule,
		"reason":    v.Reason,
		"severity":  string(v.Severity),
		"details":   v.Details,
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// WorkerPolicy holds per-worker resource limits
type WorkerPolicy struct {
	MaxRuntimeSec      int      `yaml:"max_runtime_sec" json:"max_runtime_sec"`
	MaxCPUPct          float64  `yaml:"max_cpu_pct" json:"max_cpu_pct"`
	MaxMemoryMB        float64  `yaml:"max_memory_mb" json:"max_memory_mb"`
	RequireAttestation *bool    `yaml:"require_attestation" json:"require_attestation"`
	AllowFilesystem    []string `yaml:"allow_filesystem" json:"allow_filesystem"`
	DenyOutbound       bool     `yaml:"deny_outbound" json:"deny_outbound"`
	DenyDNS            bool     `yaml:"deny_dns" json:"deny_dns"`
	KillAction         string   `yaml:"kill_action,omitempty" json:"kill_action,omitempty"`
}

// GlobalPolicy holds cluster-wide settings
type GlobalPolicy struct {
	MaxConcurrentTasks   int   `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`
	KillOnViolation      *bool `yaml:"kill_on_violation" json:"kill_on_violation"`
	KillUnknownWorkers   bool  `yaml:"kill_unknown_workers" json:"kill_unknown_workers"`
	AuditAllChecks       bool  `yaml:"audit_all_checks" json:"audit_all_checks"`
	PolicyReloadInterval int   `yaml:"policy_reload_interval,omitempty" json:"policy_reload_interval,omitempty"`
}

// Policy is the full policy document
type Policy struct {
	Version string                  `yaml:"version" json:"version"`
	Workers map[string]WorkerPolicy `yaml:"workers" json:"workers"`
	Global  GlobalPolicy            `yaml:"global" json:"global"`
}

func boolPtr(b bool) *bool { return &b }

// DefaultPolicy is used when no policy file is present
func DefaultPolicy() Policy {
	return Policy{
		Version: "1.0",
		Workers: map[string]WorkerPolicy{
			"clawd-runner": {
				MaxRuntimeSec:      300,
				MaxCPUPct:          90,
				MaxMemoryMB:        1024,
				RequireAttestation: boolPtr(true),
				AllowFilesystem:    []string{"/tmp", "/app/workspace"},
			},
			"openclaw-nightshift": {
				MaxRuntimeSec:      300,
				MaxCPUPct:          90,
				MaxMemoryMB:        2048,
				RequireAttestation: boolPtr(true),
				AllowFilesystem:    []string{"/tmp", "/app/workspace", "/app/output"},
			},
		},
		Global: GlobalPolicy{
			MaxConcurrentTasks: 5,
			KillOnViolation:    boolPtr(true),
		},
	}
}

// Usage is a point-in-time resource sample for one container
type Usage struct {
	CPUPercent     float64
	MemoryMB       float64
	NetworkTxBytes int64
}

// Engine loads and enforces policy rules. The policy file is typically
// mounted read-only in the watchdog container; changes take effect on the
// next reload with no redeploy.
type Engine struct {
	mu         sync.RWMutex
	policyPath string
	policy     Policy
	policyHash string
	loadCount  int
	logger     zerolog.Logger
}

// NewEngine creates an engine from the given YAML file. A missing or empty
// path falls back to the default policy.
func NewEngine(policyPath string) *Engine {
	e := &Engine{
		policyPath: policyPath,
		logger:     log.WithComponent("policy"),
	}

	if policyPath != "" {
		if _, err := os.Stat(policyPath); err == nil {
			e.Reload()
			return e
		}
	}

	e.logger.Info().Msg("no policy file found, using defaults")
	e.policy = DefaultPolicy()
	if raw, err := json.Marshal(e.policy); err == nil {
		e.policyHash = audit.HashHex(audit.DefaultAlgo, raw)
	}
	return e
}

// Reload re-reads the policy file. Returns true when the policy changed;
// an unchanged fingerprint is a no-op.
func (e *Engine) Reload() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.policyPath == "" {
		return false
	}
	raw, err := os.ReadFile(e.policyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.Error().Err(err).Msg("failed to reload policy")
		}
		return false
	}

	newHash := audit.HashHex(audit.DefaultAlgo, raw)
	if newHash == e.policyHash {
		return false
	}

	var newPolicy Policy
	if err := yaml.Unmarshal(raw, &newPolicy); err != nil {
		e.logger.Error().Err(err).Msg("failed to parse policy")
		return false
	}

	e.policy = newPolicy
	e.policyHash = newHash
	e.loadCount++
	e.logger.Info().
		Int("version", e.loadCount).
		Str("hash", newHash[:16]).
		Msg("policy reloaded")
	return true
}

// WorkerPolicy returns the rules for a specific worker; ok is false for
// workers not present in the policy.
func (e *Engine) WorkerPolicy(containerName string) (WorkerPolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	wp, ok := e.policy.Workers[containerName]
	return wp, ok
}

// Check validates a container's current state against policy.
// Returns the violations found, in rule order; empty means compliant.
func (e *Engine) Check(containerName string, usage Usage, runtimeSeconds float64) []Violation {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []Violation

	wp, ok := e.policy.Workers[containerName]
	if !ok {
		// Unknown worker is itself a violation when configured
		if e.policy.Global.KillUnknownWorkers {
			violations = append(violations, Violation{
				Container: containerName,
				Rule:      "unknown_worker",
				Reason:    fmt.Sprintf("Worker '%s' not in policy", containerName),
				Severity:  SeverityKill,
				Details:   map[string]any{},
			})
		}
		return violations
	}

	maxRuntime := wp.MaxRuntimeSec
	if maxRuntime == 0 {
		maxRuntime = 300
	}
	if runtimeSeconds > float64(maxRuntime) {
		violations = append(violations, Violation{
			Container: containerName,
			Rule:      "max_runtime_sec",
			Reason: fmt.Sprintf("Runtime %.0fs exceeds policy limit %ds",
				runtimeSeconds, maxRuntime),
			Severity: SeverityKill,
			Details: map[string]any{
				"runtime": runtimeSeconds,
				"limit":   maxRuntime,
			},
		})
	}

	maxCPU := wp.MaxCPUPct
	if maxCPU == 0 {
		maxCPU = 90
	}
	if usage.CPUPercent > maxCPU {
		// CPU is warn; the watchdog escalates to kill on persistence
		violations = append(violations, Violation{
			Container: containerName,
			Rule:      "max_cpu_pct",
			Reason: fmt.Sprintf("CPU %.1f%% exceeds policy limit %.0f%%",
				usage.CPUPercent, maxCPU),
			Severity: SeverityWarn,
			Details: map[string]any{
				"cpu_percent": usage.CPUPercent,
				"limit":       maxCPU,
			},
		})
	}

	maxMemory := wp.MaxMemoryMB
	if maxMemory == 0 {
		maxMemory = 1024
	}
	if usage.MemoryMB > maxMemory {
		violations = append(violations, Violation{
			Container: containerName,
			Rule:      "max_memory_mb",
			Reason: fmt.Sprintf("Memory %.0fMB exceeds policy limit %.0fMB",
				usage.MemoryMB, maxMemory),
			Severity: SeverityKill,
			Details: map[string]any{
				"memory_mb": usage.MemoryMB,
				"limit":     maxMemory,
			},
		})
	}

	// Advisory; real enforcement happens at the network level
	if wp.DenyOutbound && usage.NetworkTxBytes > 0 {
		violations = append(violations, Violation{
			Container: containerName,
			Rule:      "deny_outbound",
			Reason: fmt.Sprintf("Outbound network detected (%d bytes)",
				usage.NetworkTxBytes),
			Severity: SeverityKill,
			Details:  map[string]any{"network_tx_bytes": usage.NetworkTxBytes},
		})
	}

	return violations
}

// ShouldKill reports whether any violation warrants a kill, honoring the
// global kill_on_violation switch.
func (e *Engine) ShouldKill(violations []Violation) bool {
	e.mu.RLock()
	killOnViolation := e.policy.Global.KillOnViolation == nil || *e.policy.Global.KillOnViolation
	e.mu.RUnlock()

	if !killOnViolation {
		return false
	}
	for _, v := range violations {
		if v.Severity == SeverityKill {
			return true
		}
	}
	return false
}

// RequiresAttestation reports whether a worker must attest before task
// dispatch. Unlisted workers and unset fields default to true.
func (e *Engine) RequiresAttestation(containerName string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	wp, ok := e.policy.Workers[containerName]
	if !ok || wp.RequireAttestation == nil {
		return true
	}
	return *wp.RequireAttestation
}

// Global returns the global policy section
func (e *Engine) Global() GlobalPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Global
}

// Workers returns the names of all workers in the policy
func (e *Engine) Workers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.policy.Workers))
	for name := range e.policy.Workers {
		names = append(names, name)
	}
	return names
}

// Fingerprint returns the current policy hash for audit chaining
func (e *Engine) Fingerprint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policyHash
}

// LoadCount returns how many times the policy was reloaded
func (e *Engine) LoadCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadCount
}
