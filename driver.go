package agentos

import (
	"context"
	"fmt"
	"log/slog"
)

// driver runs a single leaf task as a pausable conversation against the
// model. The scheduler owns one driver per running task and alternates
// between Step (issue a model call) and OnToolResults (feed back a completed
// tool batch) until Step reports a final answer.
//
// The driver holds no lock and performs no graph mutation; it only talks to
// the Provider. Suspension is structural: after Step returns a tool-call
// batch the driver sits inert (holding no goroutine and no semaphore slot)
// until the scheduler hands it the results.
type driver struct {
	task     *Task
	provider Provider
	tools    []ToolDefinition
	// toolChoice forces the named tool on the first model call. Used for
	// tool_call tasks; cleared after the first Step so the model can
	// conclude the conversation after seeing the result.
	toolChoice string

	conversation []ChatMessage
	pending      []ToolCall
	usage        Usage

	logger *slog.Logger
	tracer Tracer
}

// newDriver builds a driver and its initial message list from the task
// payload: messages are used verbatim, a prompt becomes one user turn, and a
// tool_name payload becomes a user turn instructing the model to call that
// tool with the given parameters.
func newDriver(task *Task, provider Provider, tools []ToolDefinition, logger *slog.Logger, tracer Tracer) (*driver, error) {
	if err := task.Payload.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = nopLogger
	}

	d := &driver{
		task:     task,
		provider: provider,
		tools:    tools,
		logger:   logger,
		tracer:   tracer,
	}

	p := task.Payload
	switch {
	case len(p.Messages) > 0:
		d.conversation = append(d.conversation, p.Messages...)
	case p.Prompt != "":
		d.conversation = append(d.conversation, UserMessage(p.Prompt))
	default:
		params := string(p.Parameters)
		if params == "" {
			params = "{}"
		}
		d.conversation = append(d.conversation, UserMessage(fmt.Sprintf(
			"Call the tool %q with these arguments: %s. After you receive the result, report it concisely.",
			p.ToolName, params)))
		d.toolChoice = p.ToolName
	}
	return d, nil
}

// Step submits the conversation to the model. It returns either a tool-call
// batch (the task must suspend until results arrive) or the final answer
// text. A transport error terminates the task: the driver never retries.
func (d *driver) Step(ctx context.Context) (batch []ToolCall, final string, err error) {
	if len(d.pending) > 0 {
		return nil, "", fmt.Errorf("step with %d tool results outstanding", len(d.pending))
	}

	stepCtx := ctx
	var span Span
	if d.tracer != nil {
		stepCtx, span = d.tracer.Start(ctx, "driver.step",
			StringAttr("task.id", d.task.ID),
			IntAttr("conversation_len", len(d.conversation)))
		defer span.End()
	}

	req := ChatRequest{Messages: d.conversation, Tools: d.tools, ToolChoice: d.toolChoice}
	d.toolChoice = ""

	resp, err := d.provider.Chat(stepCtx, req)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		return nil, "", err
	}
	d.usage.InputTokens += resp.Usage.InputTokens
	d.usage.OutputTokens += resp.Usage.OutputTokens

	if len(resp.ToolCalls) > 0 {
		d.conversation = append(d.conversation, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		d.pending = resp.ToolCalls
		if span != nil {
			span.SetAttr(IntAttr("tool_count", len(resp.ToolCalls)))
		}
		d.logger.Debug("driver suspended on tool batch", "task", d.task.ID, "tools", len(resp.ToolCalls))
		return resp.ToolCalls, "", nil
	}

	d.conversation = append(d.conversation, AssistantMessage(resp.Content))
	return nil, resp.Content, nil
}

// OnToolResults resumes a suspended driver with the tool-result messages for
// the last emitted batch. Results must arrive in request order so each
// message carries the tool_call_id of the matching request.
func (d *driver) OnToolResults(results []ChatMessage) error {
	if len(results) != len(d.pending) {
		return fmt.Errorf("got %d tool results, want %d", len(results), len(d.pending))
	}
	for i, r := range results {
		if r.ToolCallID != d.pending[i].ID {
			return fmt.Errorf("tool result %d carries call id %s, want %s", i, r.ToolCallID, d.pending[i].ID)
		}
	}
	d.conversation = append(d.conversation, results...)
	d.pending = nil
	return nil
}

// Pending returns the tool calls awaiting results, in emission order.
func (d *driver) Pending() []ToolCall {
	return d.pending
}

// Conversation returns the full message log accumulated so far.
func (d *driver) Conversation() []ChatMessage {
	return d.conversation
}

// TotalUsage returns aggregate token usage across all model calls.
func (d *driver) TotalUsage() Usage {
	return d.usage
}
