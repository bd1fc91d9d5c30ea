package runner

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/log"
)

// Server exposes the runner over HTTP: POST /task and GET /health
type Server struct {
	cfg    Config
	runner *Runner
	logger zerolog.Logger
}

// NewServer builds the runner server
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:    cfg,
		runner: NewRunner(cfg),
		logger: log.WithComponent("runner"),
	}
}

// Handler returns the runner's HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /task", s.handleTask)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe runs the runner on the configured port
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.cfg.ListenPort)
	s.logger.Info().
		Int("port", s.cfg.ListenPort).
		Int("max_task_duration", s.cfg.MaxDuration).
		Int("max_memory_mb", s.cfg.MaxMemoryMB).
		Str("workspace", s.cfg.Workspace).
		Msg("runner starting")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var task Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON"})
		return
	}
	if task.TaskID == "" || task.TaskType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing task_id or task_type"})
		return
	}

	result := s.runner.Execute(r.Context(), &task)

	status := http.StatusOK
	switch result.Status {
	case "completed":
		status = http.StatusOK
	case "timeout":
		status = http.StatusRequestTimeout
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"service":           "zulu-runner",
		"timestamp":         time.Now().UTC().Format(time.RFC3339Nano),
		"max_task_duration": s.cfg.MaxDuration,
		"workspace":         s.cfg.Workspace,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
