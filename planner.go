package agentos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Plan is the parsed decomposition of a planning task's goal.
type Plan struct {
	Subtasks []PlanSubtask `json:"subtasks"`
}

// PlanSubtask is one entry of a plan. Dependencies reference siblings by
// name; the task graph resolves them into direct references at link time.
type PlanSubtask struct {
	Name         string   `json:"name"`
	TaskType     string   `json:"task_type"`
	Payload      Payload  `json:"payload"`
	Dependencies []string `json:"dependencies"`
}

// Planner decomposes a goal into a plan with a single JSON-mode model call.
// It never emits tool calls itself; the tool catalogue only informs the
// prompt so the model knows what tool_call subtasks are possible.
type Planner struct {
	provider Provider
	registry *ToolRegistry
	logger   *slog.Logger
	tracer   Tracer
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// PlannerLogger sets the structured logger for planning events.
func PlannerLogger(l *slog.Logger) PlannerOption {
	return func(p *Planner) { p.logger = l }
}

// PlannerTracer sets the tracer for planning spans.
func PlannerTracer(t Tracer) PlannerOption {
	return func(p *Planner) { p.tracer = t }
}

// NewPlanner creates a Planner over the given provider and tool catalogue.
func NewPlanner(provider Provider, registry *ToolRegistry, opts ...PlannerOption) *Planner {
	p := &Planner{provider: provider, registry: registry}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = nopLogger
	}
	return p
}

const planSchemaPrompt = `You are a task planner. Decompose the user's goal into subtasks and respond with a single JSON object of this exact shape:

{"subtasks": [{"name": "<unique_snake_case_name>",
               "task_type": "tool_call" | "reasoning" | "final_summary",
               "payload": {"tool_name": "<tool>", "parameters": {...}} or {"prompt": "<text>"},
               "dependencies": ["<sibling_name>", ...]}]}

Rules:
- tool_call subtasks use a payload with "tool_name" and "parameters", choosing only from the tools listed below.
- reasoning subtasks use a payload with "prompt".
- Include exactly ONE subtask of task_type "final_summary". Its payload may be empty; its prompt is generated from its dependencies' results.
- The final_summary subtask must depend on every other subtask.
- Dependencies may only name sibling subtasks and must not form a cycle.
- Respond with JSON only, no prose.`

// Plan issues one JSON-mode completion and parses the result. Any JSON or
// schema violation returns a *PlanError and no subtasks are created.
func (p *Planner) Plan(ctx context.Context, goal string) (*Plan, error) {
	planCtx := ctx
	var span Span
	if p.tracer != nil {
		planCtx, span = p.tracer.Start(ctx, "planner.plan")
		defer span.End()
	}

	messages := []ChatMessage{
		SystemMessage(planSchemaPrompt + "\n\nAvailable tools:\n" + p.catalogueText()),
		UserMessage(goal),
	}

	resp, err := p.provider.Chat(planCtx, ChatRequest{Messages: messages, JSONMode: true})
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return nil, err
	}

	plan, err := parsePlan(resp.Content)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return nil, err
	}

	if span != nil {
		span.SetAttr(IntAttr("subtask_count", len(plan.Subtasks)))
	}
	p.logger.Info("plan produced", "subtasks", len(plan.Subtasks))
	return plan, nil
}

// catalogueText renders the tool catalogue for the planning prompt.
func (p *Planner) catalogueText() string {
	defs := p.registry.AllDefinitions()
	if len(defs) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		if len(d.Parameters) > 0 {
			fmt.Fprintf(&b, "  parameters: %s\n", string(d.Parameters))
		}
	}
	return b.String()
}

// parsePlan decodes and validates the model's plan JSON. Validation covers
// the schema only; the sibling DAG property is verified when the scheduler
// links the subtasks.
func parsePlan(content string) (*Plan, error) {
	content = stripFences(content)

	var plan Plan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return nil, &PlanError{Reason: "not valid JSON: " + err.Error()}
	}
	if len(plan.Subtasks) == 0 {
		return nil, &PlanError{Reason: "no subtasks"}
	}

	summaries := 0
	var summaryIdx int
	for i, st := range plan.Subtasks {
		if st.Name == "" {
			return nil, &PlanError{Reason: fmt.Sprintf("subtask %d has no name", i)}
		}
		tt, err := ParseTaskType(st.TaskType)
		if err != nil {
			return nil, &PlanError{Reason: err.Error()}
		}
		switch tt {
		case TypePlanning:
			return nil, &PlanError{Reason: fmt.Sprintf("subtask %q has nested planning type", st.Name)}
		case TypeFinalSummary:
			summaries++
			summaryIdx = i
		case TypeToolCall:
			if st.Payload.ToolName == "" {
				return nil, &PlanError{Reason: fmt.Sprintf("tool_call subtask %q has no tool_name", st.Name)}
			}
		case TypeReasoning:
			if st.Payload.Prompt == "" && len(st.Payload.Messages) == 0 {
				return nil, &PlanError{Reason: fmt.Sprintf("reasoning subtask %q has no prompt", st.Name)}
			}
		}
	}
	if summaries == 0 {
		return nil, &PlanError{Reason: "missing final_summary subtask"}
	}
	if summaries > 1 {
		return nil, &PlanError{Reason: fmt.Sprintf("%d final_summary subtasks, want exactly 1", summaries)}
	}

	// Force every non-summary subtask onto the summary's dependency list,
	// even when the model omitted those edges.
	summary := &plan.Subtasks[summaryIdx]
	have := make(map[string]bool, len(summary.Dependencies))
	for _, dep := range summary.Dependencies {
		have[dep] = true
	}
	for i, st := range plan.Subtasks {
		if i == summaryIdx || have[st.Name] {
			continue
		}
		summary.Dependencies = append(summary.Dependencies, st.Name)
	}

	return &plan, nil
}

// tasks materializes the plan entries into queued Task values with their
// name-based dependency references attached for graph linking.
func (pl *Plan) tasks() []*Task {
	out := make([]*Task, 0, len(pl.Subtasks))
	for _, st := range pl.Subtasks {
		tt, _ := ParseTaskType(st.TaskType)
		t := NewTask(st.Name, tt, st.Payload)
		t.dependencyNames = append(t.dependencyNames, st.Dependencies...)
		out = append(out, t)
	}
	return out
}

// stripFences removes a surrounding markdown code fence, which some models
// emit even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
