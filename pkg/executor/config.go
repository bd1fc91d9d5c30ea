package executor

import (
	"os"
	"strconv"
	"time"
)

// Config holds adapter settings sourced from the environment.
// Values are read when the adapter is built, not at import, so test
// fixtures can set env vars first.
type Config struct {
	WorkerURL     string
	MaxRetries    int
	RetryBackoff  time.Duration
	ConnTimeout   time.Duration
	PoolSize      int
	CredentialTTL time.Duration
	AuditRingSize int
}

// ConfigFromEnv reads adapter configuration with defaults:
//
//	OPENCLAW_URL             http://openclaw-nightshift:8090
//	OPENCLAW_MAX_RETRIES     3
//	OPENCLAW_RETRY_BACKOFF   1.0 (seconds, exponential base)
//	OPENCLAW_CONN_TIMEOUT    10 (seconds)
//	OPENCLAW_POOL_SIZE       10
//	OPENCLAW_CRED_TTL        3600 (seconds)
//	OPENCLAW_AUDIT_MAX_SIZE  1000
func ConfigFromEnv() Config {
	return Config{
		WorkerURL:     envStr("OPENCLAW_URL", "http://openclaw-nightshift:8090"),
		MaxRetries:    envInt("OPENCLAW_MAX_RETRIES", 3),
		RetryBackoff:  envDurationSec("OPENCLAW_RETRY_BACKOFF", time.Second),
		ConnTimeout:   envDurationSec("OPENCLAW_CONN_TIMEOUT", 10*time.Second),
		PoolSize:      envInt("OPENCLAW_POOL_SIZE", 10),
		CredentialTTL: envDurationSec("OPENCLAW_CRED_TTL", time.Hour),
		AuditRingSize: envInt("OPENCLAW_AUDIT_MAX_SIZE", DefaultAuditRingSize),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
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
