package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Default sampling settings applied when a request leaves them zero
const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2048
)

// Message is one turn of a conversation
type Message struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// Request is one completion call. Model is required; System is optional.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// UserRequest builds a single-turn request
func UserRequest(model, system, prompt string) *Request {
	return &Request{
		Model:    model,
		System:   system,
		Messages: []Message{{Role: "user", Content: prompt}},
	}
}

func (r *Request) temperature() float64 {
	if r.Temperature > 0 {
		return r.Temperature
	}
	return DefaultTemperature
}

func (r *Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

// Provider is the model facade. Implementations handle provider quirks
// internally; structured output is an optimization, not a requirement.
type Provider interface {
	// Name returns the provider identifier (anthropic, openai, ...)
	Name() string

	// Complete sends the request and returns the assistant's text
	Complete(ctx context.Context, req *Request) (string, error)

	// CompleteJSON returns parsed JSON. Providers with native JSON or
	// tool-use modes use them when a schema is given; others instruct via
	// prompt and parse.
	CompleteJSON(ctx context.Context, req *Request, schema map[string]any) (map[string]any, error)

	// Close releases held connections
	Close() error
}

// KnownProviders maps provider names to the env var carrying their API key.
// An empty value means no key is needed.
var KnownProviders = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GOOGLE_API_KEY",
	"groq":      "GROQ_API_KEY",
	"ollama":    "",
}

// Factory builds a provider from an API key and optional base URL override
type Factory func(apiKey, baseURL string) (Provider, error)

var registry = map[string]Factory{}

// Register adds a provider factory, replacing any existing entry
func Register(name string, factory Factory) {
	registry[name] = factory
}

func init() {
	Register("anthropic", func(key, url string) (Provider, error) { return NewAnthropic(key, url) })
	Register("openai", func(key, url string) (Provider, error) { return NewOpenAI(key, url) })
	Register("groq", func(key, url string) (Provider, error) { return NewGroq(key, url) })
	Register("gemini", func(key, url string) (Provider, error) { return NewGemini(key, url) })
	Register("ollama", func(_, url string) (Provider, error) { return NewOllama(url), nil })
}

// New builds a named provider. An empty key falls back to the provider's
// env var from KnownProviders.
func New(name, apiKey, baseURL string) (Provider, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q, available: %s", name, availableProviders())
	}
	if apiKey == "" {
		if envKey := KnownProviders[name]; envKey != "" {
			apiKey = os.Getenv(envKey)
		}
	}
	if apiKey == "" && KnownProviders[name] != "" {
		return nil, fmt.Errorf("API key required for provider %q", name)
	}
	return factory(apiKey, baseURL)
}

// FromEnv builds the provider selected by ZULU_LLM_PROVIDER (default
// anthropic), with ZULU_LLM_BASE_URL as the optional endpoint override.
func FromEnv() (Provider, error) {
	name := os.Getenv("ZULU_LLM_PROVIDER")
	if name == "" {
		name = "anthropic"
	}
	if _, ok := KnownProviders[name]; !ok {
		return nil, fmt.Errorf("unknown provider %q in ZULU_LLM_PROVIDER, available: %s",
			name, availableProviders())
	}
	return New(name, "", os.Getenv("ZULU_LLM_BASE_URL"))
}

func availableProviders() string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
