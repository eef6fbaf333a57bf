package agentos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is the HTTP facade over a Scheduler: task submission, task and
// stats inspection, and the tool catalogue.
type Server struct {
	scheduler *Scheduler
	logger    *slog.Logger

	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLogger sets the structured logger for request handling.
func ServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer wraps a scheduler with the HTTP API.
func NewServer(scheduler *Scheduler, opts ...ServerOption) *Server {
	s := &Server{scheduler: scheduler}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	return s
}

// Handler returns the route mux. Exposed separately so tests can drive the
// API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", s.handleSubmitTask)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /stats", s.handleGetStats)
	mux.HandleFunc("GET /tools", s.handleGetTools)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// Start binds addr and serves in the background. Returns once the listener
// is open, so a caller can immediately submit tasks.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server started", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// submitTaskRequest is the POST /tasks body.
type submitTaskRequest struct {
	Name     string   `json:"name"`
	TaskType string   `json:"task_type"`
	Payload  Payload  `json:"payload"`
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// handleSubmitTask accepts a root task and returns 202 with its snapshot.
// Execution is asynchronous; payloads that turn out to be unrunnable fail
// at admission, observable via GET /tasks/{id}.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	taskType, err := ParseTaskType(req.TaskType)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := NewTask(req.Name, taskType, req.Payload)
	if req.Priority != 0 {
		t.Priority = req.Priority
	}
	t.Tags = req.Tags

	if err := s.scheduler.AddTask(t); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	snap, _ := s.scheduler.GetTask(t.ID)
	s.logger.Info("task submitted", "task", t.ID, "name", t.Name, "type", t.Type)
	s.writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.scheduler.GetTask(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no task with id "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.GetStats())
}

func (s *Server) handleGetTools(w http.ResponseWriter, r *http.Request) {
	defs := s.scheduler.ToolCatalogue()
	if defs == nil {
		defs = []ToolDefinition{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
