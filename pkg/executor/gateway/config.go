package gateway

import (
	"os"
	"strconv"
	"time"
)

// Config holds gateway adapter settings sourced from the environment
type Config struct {
	URL                  string
	GatewayToken         string
	MaxRetries           int
	RetryBackoff         time.Duration
	ConnTimeout          time.Duration
	ResponseTimeout      time.Duration
	CredentialTTL        time.Duration
	AuditRingSize        int
	CFAccessClientID     string
	CFAccessClientSecret string
	UseWebSocket         bool
}

// ConfigFromEnv reads gateway configuration with defaults:
//
//	MOLTWORKER_URL               (required)
//	MOLTWORKER_GATEWAY_TOKEN     (required)
//	MOLTWORKER_MAX_RETRIES       2
//	MOLTWORKER_RETRY_BACKOFF     2.0 (seconds, exponential base)
//	MOLTWORKER_CONN_TIMEOUT      30 (seconds)
//	MOLTWORKER_RESPONSE_TIMEOUT  300 (seconds)
//	MOLTWORKER_CRED_TTL          3600 (seconds)
//	MOLTWORKER_AUDIT_MAX_SIZE    1000
//	MOLTWORKER_USE_WS            false
//	CF_ACCESS_CLIENT_ID          optional service token
//	CF_ACCESS_CLIENT_SECRET      optional service token
func ConfigFromEnv() Config {
	return Config{
		URL:                  os.Getenv("MOLTWORKER_URL"),
		GatewayToken:         os.Getenv("MOLTWORKER_GATEWAY_TOKEN"),
		MaxRetries:           envInt("MOLTWORKER_MAX_RETRIES", 2),
		RetryBackoff:         envDurationSec("MOLTWORKER_RETRY_BACKOFF", 2*time.Second),
		ConnTimeout:          envDurationSec("MOLTWORKER_CONN_TIMEOUT", 30*time.Second),
		ResponseTimeout:      envDurationSec("MOLTWORKER_RESPONSE_TIMEOUT", 300*time.Second),
		CredentialTTL:        envDurationSec("MOLTWORKER_CRED_TTL", time.Hour),
		AuditRingSize:        envInt("MOLTWORKER_AUDIT_MAX_SIZE", 1000),
		CFAccessClientID:     os.Getenv("CF_ACCESS_CLIENT_ID"),
		CFAccessClientSecret: os.Getenv("CF_ACCESS_CLIENT_SECRET"),
		UseWebSocket:         envBool("MOLTWORKER_USE_WS", false),
	}
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
