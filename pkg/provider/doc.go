// Package provider is the model facade: one minimal interface over several
// LLM backends so the planner never touches provider-specific wire formats.
//
// # Architecture
//
//	            ┌──────────────────────────┐
//	planner ───▶│   Provider interface     │
//	            │  Complete / CompleteJSON │
//	            └────────────┬─────────────┘
//	                         │
//	     ┌─────────┬─────────┼──────────┬─────────┐
//	     ▼         ▼         ▼          ▼         ▼
//	 anthropic   openai    groq      gemini    ollama
//	  (SDK)      (SDK)   (SDK+URL)   (HTTP)    (HTTP)
//
// Structured output is an optimization, not a requirement: anthropic forces
// a "structured_output" tool call, openai and groq use the json_object
// response format, gemini sets responseMimeType/responseSchema, and ollama
// instructs via the system prompt. All of them fall back to ExtractJSON,
// which recovers a JSON object from prose-wrapped output.
//
// # Selection
//
// Providers are looked up by name from a registry:
//
//	p, err := provider.New("anthropic", apiKey, "")
//	p, err := provider.FromEnv() // ZULU_LLM_PROVIDER + per-provider key env
//
// Per-role models (intent, planning, extraction) come from ModelConfig.
package provider
