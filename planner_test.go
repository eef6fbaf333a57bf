package agentos

import (
	"context"
	"errors"
	"testing"
)

func plannerWith(resp string) (*Planner, *mockProvider) {
	provider := &mockProvider{responses: []ChatResponse{{Content: resp}}}
	reg := NewToolRegistry()
	reg.Add(mockTool{})
	return NewPlanner(provider, reg), provider
}

func TestPlanValidDecomposition(t *testing.T) {
	body := planJSON(
		map[string]any{"name": "find_weather", "task_type": "tool_call",
			"payload": map[string]any{"tool_name": "greet", "parameters": map[string]any{}}},
		map[string]any{"name": "pick_outfit", "task_type": "reasoning",
			"payload": map[string]any{"prompt": "suggest an outfit"}, "dependencies": []string{"find_weather"}},
		map[string]any{"name": "summary", "task_type": "final_summary",
			"payload":      map[string]any{},
			"dependencies": []string{"find_weather", "pick_outfit"}},
	)
	p, provider := plannerWith(body)

	plan, err := p.Plan(context.Background(), "plan my day")
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Subtasks) != 3 {
		t.Fatalf("got %d subtasks, want 3", len(plan.Subtasks))
	}

	req := provider.recorded()[0]
	if !req.JSONMode {
		t.Error("planning request must use JSON mode")
	}
	if len(req.Tools) != 0 {
		t.Error("planner must not offer tools for calling")
	}
	if !hasSubstring(req.Messages[0].Content, "greet") {
		t.Error("tool catalogue missing from system prompt")
	}

	tasks := plan.tasks()
	if tasks[1].Type != TypeReasoning || len(tasks[1].dependencyNames) != 1 {
		t.Errorf("materialized task wrong: %+v", tasks[1])
	}
}

func TestPlanStripsCodeFences(t *testing.T) {
	body := "```json\n" + planJSON(
		map[string]any{"name": "think", "task_type": "reasoning", "payload": map[string]any{"prompt": "x"}},
		map[string]any{"name": "summary", "task_type": "final_summary", "payload": map[string]any{}, "dependencies": []string{"think"}},
	) + "\n```"
	p, _ := plannerWith(body)

	plan, err := p.Plan(context.Background(), "goal")
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Subtasks) != 2 {
		t.Errorf("got %d subtasks, want 2", len(plan.Subtasks))
	}
}

func TestPlanRejectsInvalidJSON(t *testing.T) {
	p, _ := plannerWith("I think we should split this into steps...")
	_, err := p.Plan(context.Background(), "goal")
	var planErr *PlanError
	if !errors.As(err, &planErr) {
		t.Fatalf("err = %v, want *PlanError", err)
	}
}

func TestPlanRejectsMissingFinalSummary(t *testing.T) {
	body := planJSON(
		map[string]any{"name": "a", "task_type": "reasoning", "payload": map[string]any{"prompt": "x"}},
	)
	p, _ := plannerWith(body)
	_, err := p.Plan(context.Background(), "goal")
	if err == nil || !hasSubstring(err.Error(), "final_summary") {
		t.Fatalf("err = %v, want missing final_summary", err)
	}
}

func TestPlanRejectsMultipleSummaries(t *testing.T) {
	body := planJSON(
		map[string]any{"name": "s1", "task_type": "final_summary", "payload": map[string]any{}},
		map[string]any{"name": "s2", "task_type": "final_summary", "payload": map[string]any{}},
	)
	p, _ := plannerWith(body)
	if _, err := p.Plan(context.Background(), "goal"); err == nil {
		t.Fatal("two summaries accepted")
	}
}

func TestPlanRejectsNestedPlanning(t *testing.T) {
	body := planJSON(
		map[string]any{"name": "again", "task_type": "planning", "payload": map[string]any{"prompt": "x"}},
		map[string]any{"name": "summary", "task_type": "final_summary", "payload": map[string]any{}},
	)
	p, _ := plannerWith(body)
	if _, err := p.Plan(context.Background(), "goal"); err == nil || !hasSubstring(err.Error(), "nested planning") {
		t.Fatalf("nested planning accepted: %v", err)
	}
}

func TestPlanRejectsToolCallWithoutToolName(t *testing.T) {
	body := planJSON(
		map[string]any{"name": "a", "task_type": "tool_call", "payload": map[string]any{}},
		map[string]any{"name": "summary", "task_type": "final_summary", "payload": map[string]any{}},
	)
	p, _ := plannerWith(body)
	if _, err := p.Plan(context.Background(), "goal"); err == nil {
		t.Fatal("tool_call without tool_name accepted")
	}
}

func TestPlanForcesSummaryDependencies(t *testing.T) {
	// The model "forgot" the summary's dependency edges.
	body := planJSON(
		map[string]any{"name": "a", "task_type": "reasoning", "payload": map[string]any{"prompt": "x"}},
		map[string]any{"name": "b", "task_type": "reasoning", "payload": map[string]any{"prompt": "y"}},
		map[string]any{"name": "summary", "task_type": "final_summary", "payload": map[string]any{}},
	)
	p, _ := plannerWith(body)

	plan, err := p.Plan(context.Background(), "goal")
	if err != nil {
		t.Fatal(err)
	}
	var summary *PlanSubtask
	for i := range plan.Subtasks {
		if plan.Subtasks[i].TaskType == "final_summary" {
			summary = &plan.Subtasks[i]
		}
	}
	if summary == nil || len(summary.Dependencies) != 2 {
		t.Fatalf("summary deps = %v, want both siblings", summary)
	}
}

func TestPlanProviderErrorPassesThrough(t *testing.T) {
	provider := &mockProvider{
		responses: []ChatResponse{{}},
		errs:      []error{&ErrHTTP{Status: 429, Body: "slow down"}},
	}
	p := NewPlanner(provider, NewToolRegistry())
	_, err := p.Plan(context.Background(), "goal")
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *ErrHTTP", err)
	}
}

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":               `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}
