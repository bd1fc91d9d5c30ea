package watchdog

import (
	"os"
	"strconv"
	"time"
)

// Config holds watchdog settings sourced from the environment
type Config struct {
	Containers    []string
	MaxMemoryMB   float64
	MaxCPUPercent float64
	CheckInterval time.Duration
	AuditLogPath  string
	PolicyPath    string
	KillAction    string
}

// ConfigFromEnv reads watchdog configuration with defaults:
//
//	WATCHDOG_CLAWD_CONTAINER     clawd-runner
//	WATCHDOG_OPENCLAW_CONTAINER  openclaw-nightshift
//	WATCHDOG_MAX_MEMORY_MB       1024
//	WATCHDOG_MAX_CPU_PERCENT     90
//	WATCHDOG_CHECK_INTERVAL      10 (seconds)
//	WATCHDOG_AUDIT_LOG           /app/logs/watchdog-audit.jsonl
//	WATCHDOG_POLICY_PATH         /app/policy/policy.yaml
//	WATCHDOG_KILL_ACTION         restart (restart | stop)
//
// The memory and CPU ceilings are fallbacks for workers the policy file
// does not cover.
func ConfigFromEnv() Config {
	return Config{
		Containers: []string{
			envStr("WATCHDOG_CLAWD_CONTAINER", "clawd-runner"),
			envStr("WATCHDOG_OPENCLAW_CONTAINER", "openclaw-nightshift"),
		},
		MaxMemoryMB:   envFloat("WATCHDOG_MAX_MEMORY_MB", 1024),
		MaxCPUPercent: envFloat("WATCHDOG_MAX_CPU_PERCENT", 90),
		CheckInterval: envDurationSec("WATCHDOG_CHECK_INTERVAL", 10*time.Second),
		AuditLogPath:  envStr("WATCHDOG_AUDIT_LOG", "/app/logs/watchdog-audit.jsonl"),
		PolicyPath:    envStr("WATCHDOG_POLICY_PATH", "/app/policy/policy.yaml"),
		KillAction:    envStr("WATCHDOG_KILL_ACTION", "restart"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationSec(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}
