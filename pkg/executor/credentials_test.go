package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentialsDefaults(t *testing.T) {
	creds := NewCredentials("sk-test", "")
	assert.Equal(t, "sk-test", creds.LLMAPIKey)
	assert.Equal(t, "anthropic", creds.LLMProvider)
	assert.NotEmpty(t, creds.IssuedAt)
	assert.False(t, creds.Expired(time.Hour))
}

func TestCredentialsExpiry(t *testing.T) {
	creds := NewCredentials("sk-test", "openai")
	creds.IssuedAt = time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)

	assert.True(t, creds.Expired(time.Hour))
	assert.False(t, creds.Expired(3*time.Hour))
	assert.Greater(t, creds.Age(), time.Hour)
}

func TestCredentialsUnparseableIssuedAt(t *testing.T) {
	creds := Credentials{LLMAPIKey: "sk-test", IssuedAt: "yesterday"}
	assert.True(t, creds.Expired(time.Hour))
	assert.Equal(t, time.Duration(0), creds.Age())
}

func TestCredentialsRefresh(t *testing.T) {
	creds := NewCredentials("sk-test", "groq")
	creds.IssuedAt = time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339Nano)
	require.True(t, creds.Expired(time.Hour))

	fresh := creds.Refresh()
	assert.False(t, fresh.Expired(time.Hour))
	assert.Equal(t, creds.LLMAPIKey, fresh.LLMAPIKey)
	assert.Equal(t, creds.LLMProvider, fresh.LLMProvider)
}

func TestCredentialsWithExtra(t *testing.T) {
	creds := NewCredentials("sk-test", "")

	withExtra, err := creds.WithExtra(map[string]any{"workspace": "/tmp/w1"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/w1", withExtra.Extra["workspace"])

	_, err = creds.WithExtra(map[string]any{"llm_api_key": "override"})
	assert.Error(t, err)
	_, err = creds.WithExtra(map[string]any{"issued_at": "never"})
	assert.Error(t, err)
}
