package agentos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*Server, *Scheduler) {
	t.Helper()
	provider := &routeProvider{fn: func(req ChatRequest) (ChatResponse, error) {
		return ChatResponse{Content: "ok"}, nil
	}}
	reg := NewToolRegistry()
	reg.Add(mockTool{})
	s := NewScheduler(provider, reg)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return NewServer(s), s
}

func TestSubmitTaskAccepted(t *testing.T) {
	srv, s := newTestServer(t)

	body := `{"name":"hello","task_type":"reasoning","payload":{"prompt":"hi"},"tags":["demo"]}`
	req := httptest.NewRequest("POST", "/tasks", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var snap TaskSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID == "" || snap.Name != "hello" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Tags) != 1 || snap.Tags[0] != "demo" {
		t.Errorf("tags = %v", snap.Tags)
	}

	// The submitted task actually runs.
	waitForTerminal(t, s, snap.ID)
}

func TestSubmitTaskValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{oops`},
		{"missing name", `{"task_type":"reasoning","payload":{"prompt":"x"}}`},
		{"bad type", `{"name":"x","task_type":"juggling","payload":{"prompt":"x"}}`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("POST", "/tasks", strings.NewReader(tc.body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, w.Code)
		}
	}
}

func TestGetTask(t *testing.T) {
	srv, s := newTestServer(t)
	task := NewTask("lookup", TypeReasoning, Payload{Prompt: "x"})
	if err := s.AddTask(task); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/tasks/"+task.ID, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap TaskSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID != task.ID {
		t.Errorf("got task %s, want %s", snap.ID, task.ID)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/tasks/nope", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if !stats.IsRunning {
		t.Error("is_running = false, want true")
	}
	if stats.MaxConcurrentTasks != DefaultMaxConcurrentTasks {
		t.Errorf("max_concurrent_tasks = %d", stats.MaxConcurrentTasks)
	}
}

func TestGetToolsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/tools", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != "greet" {
		t.Errorf("tools = %+v", out.Tools)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}
