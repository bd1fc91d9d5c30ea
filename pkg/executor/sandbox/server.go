package sandbox

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/executor"
	"github.com/zuluhq/zulu/pkg/log"
)

// ServerConfig holds worker settings sourced from the environment
type ServerConfig struct {
	ListenPort  int
	MaxDuration int
	MaxSteps    int
	Workspace   string
	OutputDir   string
}

// ServerConfigFromEnv reads worker configuration with defaults:
//
//	OPENCLAW_LISTEN_PORT        8081
//	OPENCLAW_MAX_TASK_DURATION  600 (seconds)
//	OPENCLAW_MAX_STEPS          10
//	OPENCLAW_WORKSPACE          /app/workspace
//	OPENCLAW_OUTPUT_DIR         /app/output
func ServerConfigFromEnv() ServerConfig {
	return ServerConfig{
		ListenPort:  envInt("OPENCLAW_LISTEN_PORT", 8081),
		MaxDuration: envInt("OPENCLAW_MAX_TASK_DURATION", 600),
		MaxSteps:    envInt("OPENCLAW_MAX_STEPS", 10),
		Workspace:   envStr("OPENCLAW_WORKSPACE", "/app/workspace"),
		OutputDir:   envStr("OPENCLAW_OUTPUT_DIR", "/app/output"),
	}
}

// Server is the worker's HTTP surface: POST /task and GET /health. It boots,
// receives one task at a time, executes within constraints, wipes the
// workspace, and returns the result. No state survives a task.
type Server struct {
	cfg    ServerConfig
	opts   []RunnerOption
	logger zerolog.Logger
}

// NewServer builds the worker server. Runner options apply to every task.
func NewServer(cfg ServerConfig, opts ...RunnerOption) *Server {
	return &Server{
		cfg:    cfg,
		opts:   opts,
		logger: log.WithComponent("sandbox"),
	}
}

// Handler returns the worker's HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /task", s.handleTask)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe runs the worker on the configured port
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.cfg.ListenPort)
	s.logger.Info().
		Int("port", s.cfg.ListenPort).
		Int("max_task_duration", s.cfg.MaxDuration).
		Int("max_steps", s.cfg.MaxSteps).
		Str("workspace", s.cfg.Workspace).
		Msg("constrained worker starting")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req executor.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON"})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, &executor.Response{
			TaskID:    req.TaskID,
			Status:    executor.StatusRejected,
			Error:     fmt.Sprintf("invalid task spec: %v", err),
			ErrorCode: executor.CodeInvalidTask,
		})
		return
	}

	// Server-side ceilings override whatever the request asked for
	if req.TimeoutSec > s.cfg.MaxDuration {
		req.TimeoutSec = s.cfg.MaxDuration
	}
	if req.MaxSteps > s.cfg.MaxSteps {
		req.MaxSteps = s.cfg.MaxSteps
	}

	s.logger.Info().
		Str("task_id", req.TaskID).
		Str("task_type", string(req.TaskType)).
		Msg("task received")

	result := NewRunner(&req, s.opts...).Execute(r.Context())

	// The workspace is wiped after every task, success or not
	s.cleanWorkspace()

	s.logger.Info().
		Str("task_id", req.TaskID).
		Str("status", result.Status).
		Int("steps", result.StepsTaken).
		Float64("elapsed", result.ElapsedSeconds).
		Msg("task finished")

	status := http.StatusOK
	switch result.Status {
	case executor.StatusCompleted:
		status = http.StatusOK
	case executor.StatusTimeout:
		status = http.StatusRequestTimeout
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"service":           "zulu-sandbox",
		"timestamp":         executor.Now(),
		"max_task_duration": s.cfg.MaxDuration,
		"max_steps":         s.cfg.MaxSteps,
	})
}

// cleanWorkspace wipes the workspace and output directories
func (s *Server) cleanWorkspace() {
	for _, dir := range []string{s.cfg.Workspace, s.cfg.OutputDir} {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("workspace cleanup failed")
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("workspace recreate failed")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
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
