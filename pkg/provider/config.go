package provider

import "os"

// Default per-role models. Intent and extraction use the cheap model,
// planning uses the stronger one.
const (
	DefaultIntentModel     = "claude-haiku-4-5-20251001"
	DefaultPlanningModel   = "claude-sonnet-4-5-20250929"
	DefaultExtractionModel = "claude-haiku-4-5-20251001"
)

// ModelConfig selects a model per planner role
type ModelConfig struct {
	IntentModel     string
	PlanningModel   string
	ExtractionModel string
}

// ModelConfigFromEnv reads per-role model overrides:
//
//	ZULU_INTENT_MODEL
//	ZULU_PLANNING_MODEL
//	ZULU_EXTRACTION_MODEL
func ModelConfigFromEnv() ModelConfig {
	return ModelConfig{
		IntentModel:     envOr("ZULU_INTENT_MODEL", DefaultIntentModel),
		PlanningModel:   envOr("ZULU_PLANNING_MODEL", DefaultPlanningModel),
		ExtractionModel: envOr("ZULU_EXTRACTION_MODEL", DefaultExtractionModel),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
