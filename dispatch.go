package agentos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// maxParallelDispatch caps the number of concurrent tool call goroutines in
// a single batch to avoid overwhelming external services.
const maxParallelDispatch = 10

// Dispatcher translates model-emitted tool calls into actual tool
// invocations. It never returns an error to the caller: every failure
// (unknown tool, malformed arguments, a tool error, even a tool panic)
// becomes a role:"tool" message whose content is {"error": "..."}, so the
// owning agent conversation always stays resumable and the model decides
// whether to recover.
//
// The Dispatcher is stateless apart from the registry and is safe to call
// from many tasks at once.
type Dispatcher struct {
	registry *ToolRegistry
	logger   *slog.Logger
	tracer   Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// DispatcherLogger sets the structured logger for dispatch events.
func DispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// DispatcherTracer sets the tracer for per-invocation spans.
func DispatcherTracer(t Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

// NewDispatcher creates a Dispatcher over the given tool catalogue.
func NewDispatcher(registry *ToolRegistry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = nopLogger
	}
	return d
}

// Invoke executes one tool call and returns the tool-result message carrying
// the matching tool_call_id.
func (d *Dispatcher) Invoke(ctx context.Context, tc ToolCall) ChatMessage {
	start := time.Now()

	invokeCtx := ctx
	var span Span
	if d.tracer != nil {
		invokeCtx, span = d.tracer.Start(ctx, "tool.invoke", StringAttr("tool.name", tc.Name))
		defer span.End()
	}

	content := d.invoke(invokeCtx, tc)
	d.logger.Debug("tool dispatched", "tool", tc.Name, "call_id", tc.ID, "duration", time.Since(start))
	return ToolResultMessage(tc.ID, tc.Name, content)
}

// invoke runs the call with panic recovery and error capture.
func (d *Dispatcher) invoke(ctx context.Context, tc ToolCall) (content string) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("tool panic", "tool", tc.Name, "panic", p)
			content = errorContent(fmt.Sprintf("tool %q panic: %v", tc.Name, p))
		}
	}()

	if len(tc.Args) > 0 && !json.Valid(tc.Args) {
		return errorContent(fmt.Sprintf("arguments for %q are not valid JSON", tc.Name))
	}

	result, err := d.registry.Execute(ctx, tc.Name, tc.Args)
	if err != nil {
		d.logger.Warn("tool failed", "tool", tc.Name, "error", err)
		return errorContent(err.Error())
	}
	if result.Error != "" {
		d.logger.Warn("tool returned error", "tool", tc.Name, "error", result.Error)
		return errorContent(result.Error)
	}
	return result.Content
}

// InvokeBatch executes a batch of tool calls concurrently and returns the
// tool-result messages in the same order as the requests, so each message
// lines up with the tool_call_id the model emitted. A single call runs
// inline; larger batches use a fixed worker pool of
// min(len(calls), maxParallelDispatch) goroutines.
//
// Collection is context-aware: if ctx is cancelled mid-batch, messages for
// unfinished calls carry the context error instead of blocking.
func (d *Dispatcher) InvokeBatch(ctx context.Context, calls []ToolCall) []ChatMessage {
	if len(calls) == 0 {
		return nil
	}
	if len(calls) == 1 {
		return []ChatMessage{d.Invoke(ctx, calls[0])}
	}

	type indexed struct {
		idx int
		msg ChatMessage
	}
	type workItem struct {
		idx int
		tc  ToolCall
	}

	workCh := make(chan workItem, len(calls))
	for i, tc := range calls {
		workCh <- workItem{idx: i, tc: tc}
	}
	close(workCh)

	resultCh := make(chan indexed, len(calls))
	numWorkers := min(len(calls), maxParallelDispatch)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexed{w.idx, ToolResultMessage(w.tc.ID, w.tc.Name, errorContent(ctx.Err().Error()))}
					continue
				}
				resultCh <- indexed{w.idx, d.Invoke(ctx, w.tc)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]ChatMessage, len(calls))
	seen := make([]bool, len(calls))
collect:
	for received := 0; received < len(calls); received++ {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			results[r.idx] = r.msg
			seen[r.idx] = true
		case <-ctx.Done():
			break collect
		}
	}
	for i := range results {
		if !seen[i] {
			errMsg := "result not received"
			if ctx.Err() != nil {
				errMsg = ctx.Err().Error()
			}
			results[i] = ToolResultMessage(calls[i].ID, calls[i].Name, errorContent(errMsg))
		}
	}
	return results
}

// errorContent encodes an error description as the {"error": ...} JSON the
// model sees in a failed tool-result message.
func errorContent(desc string) string {
	b, err := json.Marshal(map[string]string{"error": desc})
	if err != nil {
		return `{"error":"unserializable error"}`
	}
	return string(b)
}
