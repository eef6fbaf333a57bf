package agentos

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockProvider is a test Provider that returns canned responses in order.
// Safe for concurrent use; it also records every request it saw.
type mockProvider struct {
	mu        sync.Mutex
	name      string
	responses []ChatResponse // popped in order
	errs      []error        // parallel to responses; nil entries mean success
	idx       int
	requests  []ChatRequest
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.idx >= len(m.responses) {
		return ChatResponse{Content: "exhausted"}, nil
	}
	resp := m.responses[m.idx]
	var err error
	if m.idx < len(m.errs) {
		err = m.errs[m.idx]
	}
	m.idx++
	return resp, err
}

func (m *mockProvider) recorded() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// routeProvider answers each request through fn. Used by scheduler tests
// where concurrent tasks hit the provider in nondeterministic order, so the
// response must be chosen from the request content rather than a script.
type routeProvider struct {
	mu       sync.Mutex
	fn       func(req ChatRequest) (ChatResponse, error)
	requests []ChatRequest
}

func (r *routeProvider) Name() string { return "route" }

func (r *routeProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	fn := r.fn
	r.mu.Unlock()
	return fn(req)
}

func (r *routeProvider) recorded() []ChatRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// lastUserContent returns the content of the last user message in a request.
func lastUserContent(req ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

// --- Tool mocks ---

type mockTool struct{}

func (m mockTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "greet", Description: "Say hello"}}
}

func (m mockTool) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "hello from " + name}, nil
}

type mockToolCalc struct{}

func (m mockToolCalc) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "calc", Description: "Calculate"}}
}
func (m mockToolCalc) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "result from " + name}, nil
}

type errTool struct{}

func (e errTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "fail", Description: "Always fails"}}
}
func (e errTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{}, errors.New("tool broken")
}

type panicTool struct{}

func (p panicTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "explode", Description: "Panics"}}
}
func (p panicTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	panic("kaboom")
}

// blockTool blocks until release is closed or the context ends.
type blockTool struct {
	release chan struct{}
	started chan struct{} // closed once, on first Execute entry
	once    sync.Once
}

func newBlockTool() *blockTool {
	return &blockTool{release: make(chan struct{}), started: make(chan struct{})}
}

func (b *blockTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "block", Description: "Blocks until released"}}
}

func (b *blockTool) Execute(ctx context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return ToolResult{Content: "released"}, nil
	case <-ctx.Done():
		return ToolResult{}, ctx.Err()
	}
}

// --- Async assertions ---

// waitForStatus polls until the task reaches the wanted status or the
// deadline passes.
func waitForStatus(t *testing.T, s *Scheduler, id string, want TaskStatus) TaskSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last TaskSnapshot
	for time.Now().Before(deadline) {
		snap, ok := s.GetTask(id)
		if ok {
			last = snap
			if snap.Status == want {
				return snap
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s, last status %s (result %q)", id, want, last.Status, last.Result)
	return last
}

// waitForTerminal polls until the task is completed or failed.
func waitForTerminal(t *testing.T, s *Scheduler, id string) TaskSnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := s.GetTask(id)
		if ok && snap.Status.IsTerminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := s.GetTask(id)
	t.Fatalf("task %s never became terminal, status %s", id, snap.Status)
	return snap
}

// planJSON builds a plan response body from subtask maps.
func planJSON(subtasks ...map[string]any) string {
	b, err := json.Marshal(map[string]any{"subtasks": subtasks})
	if err != nil {
		panic(err)
	}
	return string(b)
}

// hasSubstring is a tiny readability helper for result assertions.
func hasSubstring(s, sub string) bool { return strings.Contains(s, sub) }
