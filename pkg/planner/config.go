package planner

import (
	"os"
	"strconv"
)

// Config tunes planner behavior
type Config struct {
	// Confidence below this asks for clarification instead of planning
	AmbiguityThreshold float64
	MaxTasksPerRequest int
	DefaultTimeoutSec  int
	MaxRetriesPerTask  int
}

// DefaultConfig returns the stock planner settings
func DefaultConfig() Config {
	return Config{
		AmbiguityThreshold: 0.4,
		MaxTasksPerRequest: 5,
		DefaultTimeoutSec:  300,
		MaxRetriesPerTask:  2,
	}
}

// ConfigFromEnv reads planner configuration with defaults:
//
//	ZULU_AMBIGUITY_THRESHOLD   0.4
//	ZULU_MAX_TASKS_PER_REQUEST 5
//	ZULU_DEFAULT_TASK_TIMEOUT  300 (seconds)
//	ZULU_MAX_RETRIES_PER_TASK  2
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("ZULU_AMBIGUITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AmbiguityThreshold = f
		}
	}
	if v := os.Getenv("ZULU_MAX_TASKS_PER_REQUEST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTasksPerRequest = n
		}
	}
	if v := os.Getenv("ZULU_DEFAULT_TASK_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultTimeoutSec = n
		}
	}
	if v := os.Getenv("ZULU_MAX_RETRIES_PER_TASK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetriesPerTask = n
		}
	}
	return cfg
}
