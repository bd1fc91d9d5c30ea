package executor

import (
	"fmt"
	"time"
)

var reservedCredentialKeys = map[string]struct{}{
	"llm_api_key":  {},
	"llm_provider": {},
	"issued_at":    {},
}

// Credentials are short-lived, per-task secrets.
//
// Lifecycle:
//  1. Created by the planner with an issued_at timestamp
//  2. Validated by the adapter before dispatch (TTL check)
//  3. Passed to the worker in the request
//  4. Never persisted by the worker
//  5. Expire after the adapter's credential TTL
type Credentials struct {
	LLMAPIKey   string         `json:"llm_api_key"`
	LLMProvider string         `json:"llm_provider"`
	IssuedAt    string         `json:"issued_at"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// NewCredentials stamps fresh credentials for one dispatch
func NewCredentials(apiKey, provider string) Credentials {
	if provider == "" {
		provider = "anthropic"
	}
	return Credentials{
		LLMAPIKey:   apiKey,
		LLMProvider: provider,
		IssuedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// WithExtra attaches namespaced extra fields, rejecting reserved keys
func (c Credentials) WithExtra(extra map[string]any) (Credentials, error) {
	for key := range extra {
		if _, reserved := reservedCredentialKeys[key]; reserved {
			return c, fmt.Errorf("credentials extra cannot contain reserved key %q", key)
		}
	}
	c.Extra = extra
	return c, nil
}

// Refresh re-stamps issued_at, keeping key and provider
func (c Credentials) Refresh() Credentials {
	c.IssuedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return c
}

// Expired reports whether the credentials exceeded maxAge. An unparseable
// timestamp counts as expired.
func (c Credentials) Expired(maxAge time.Duration) bool {
	issued, err := time.Parse(time.RFC3339Nano, c.IssuedAt)
	if err != nil {
		issued, err = time.Parse(time.RFC3339, c.IssuedAt)
		if err != nil {
			return true
		}
	}
	return time.Since(issued) > maxAge
}

// Age returns how old the credentials are; 0 when unparseable
func (c Credentials) Age() time.Duration {
	issued, err := time.Parse(time.RFC3339Nano, c.IssuedAt)
	if err != nil {
		return 0
	}
	return time.Since(issued)
}
