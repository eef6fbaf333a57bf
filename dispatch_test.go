package agentos

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInvokeSuccess(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(mockTool{})
	d := NewDispatcher(reg)

	msg := d.Invoke(context.Background(), ToolCall{ID: "1", Name: "greet", Args: json.RawMessage(`{}`)})
	if msg.Role != "tool" || msg.ToolCallID != "1" {
		t.Errorf("result message wrong: %+v", msg)
	}
	if msg.Content != "hello from greet" {
		t.Errorf("Content = %q", msg.Content)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	d := NewDispatcher(NewToolRegistry())

	msg := d.Invoke(context.Background(), ToolCall{ID: "1", Name: "missing"})
	if !hasSubstring(msg.Content, `"error"`) || !hasSubstring(msg.Content, "unknown tool") {
		t.Errorf("Content = %q, want error content", msg.Content)
	}
}

func TestInvokeToolError(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(errTool{})
	d := NewDispatcher(reg)

	msg := d.Invoke(context.Background(), ToolCall{ID: "1", Name: "fail"})
	if !hasSubstring(msg.Content, "tool broken") {
		t.Errorf("Content = %q, want tool broken", msg.Content)
	}
}

func TestInvokeToolPanicRecovered(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(panicTool{})
	d := NewDispatcher(reg)

	msg := d.Invoke(context.Background(), ToolCall{ID: "1", Name: "explode"})
	if !hasSubstring(msg.Content, "panic") || !hasSubstring(msg.Content, "kaboom") {
		t.Errorf("Content = %q, want panic error content", msg.Content)
	}
}

func TestInvokeRejectsMalformedArgs(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(mockTool{})
	d := NewDispatcher(reg)

	msg := d.Invoke(context.Background(), ToolCall{ID: "1", Name: "greet", Args: json.RawMessage(`{oops`)})
	if !hasSubstring(msg.Content, "not valid JSON") {
		t.Errorf("Content = %q, want JSON validation error", msg.Content)
	}
}

// orderTool returns its call index after a per-call delay, so batch tests
// can detect reordering.
type orderTool struct {
	delays map[string]time.Duration
	mu     sync.Mutex
	order  []string
}

func (o *orderTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "echo", Description: "Echo with delay"}}
}

func (o *orderTool) Execute(_ context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	var p struct {
		Key string `json:"key"`
	}
	_ = json.Unmarshal(args, &p)
	time.Sleep(o.delays[p.Key])
	o.mu.Lock()
	o.order = append(o.order, p.Key)
	o.mu.Unlock()
	return ToolResult{Content: "echo:" + p.Key}, nil
}

func TestInvokeBatchPreservesRequestOrder(t *testing.T) {
	tool := &orderTool{delays: map[string]time.Duration{
		"slow": 50 * time.Millisecond,
		"fast": 0,
	}}
	reg := NewToolRegistry()
	reg.Add(tool)
	d := NewDispatcher(reg)

	calls := []ToolCall{
		{ID: "c1", Name: "echo", Args: json.RawMessage(`{"key":"slow"}`)},
		{ID: "c2", Name: "echo", Args: json.RawMessage(`{"key":"fast"}`)},
	}
	results := d.InvokeBatch(context.Background(), calls)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// fast finishes first but the slow call's result must still come back
	// at index 0 with the matching call id.
	if results[0].ToolCallID != "c1" || results[0].Content != "echo:slow" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].ToolCallID != "c2" || results[1].Content != "echo:fast" {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestInvokeBatchMixedOutcomes(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(mockTool{})
	reg.Add(errTool{})
	d := NewDispatcher(reg)

	calls := []ToolCall{
		{ID: "1", Name: "greet"},
		{ID: "2", Name: "fail"},
		{ID: "3", Name: "nope"},
	}
	results := d.InvokeBatch(context.Background(), calls)

	if results[0].Content != "hello from greet" {
		t.Errorf("results[0] = %q", results[0].Content)
	}
	if !hasSubstring(results[1].Content, "tool broken") {
		t.Errorf("results[1] = %q", results[1].Content)
	}
	if !hasSubstring(results[2].Content, "unknown tool") {
		t.Errorf("results[2] = %q", results[2].Content)
	}
}

func TestInvokeBatchLargeBatchBounded(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(mockTool{})
	d := NewDispatcher(reg)

	var calls []ToolCall
	for i := range 25 {
		calls = append(calls, ToolCall{ID: fmt.Sprintf("c%d", i), Name: "greet"})
	}
	results := d.InvokeBatch(context.Background(), calls)
	if len(results) != 25 {
		t.Fatalf("got %d results, want 25", len(results))
	}
	for i, r := range results {
		if r.ToolCallID != calls[i].ID {
			t.Errorf("results[%d].ToolCallID = %s, want %s", i, r.ToolCallID, calls[i].ID)
		}
	}
}

func TestInvokeBatchCancelledContext(t *testing.T) {
	tool := newBlockTool()
	reg := NewToolRegistry()
	reg.Add(tool)
	d := NewDispatcher(reg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-tool.started
		cancel()
	}()

	calls := []ToolCall{
		{ID: "1", Name: "block"},
		{ID: "2", Name: "block"},
	}
	results := d.InvokeBatch(ctx, calls)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if r.ToolCallID != calls[i].ID {
			t.Errorf("results[%d] has wrong call id %s", i, r.ToolCallID)
		}
		if !hasSubstring(r.Content, "error") {
			t.Errorf("results[%d] = %q, want error content", i, r.Content)
		}
	}
}
