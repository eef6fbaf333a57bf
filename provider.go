package agentos

import "context"

// Provider abstracts the LLM backend. Implementations must be safe for
// concurrent use: the scheduler issues calls from many tasks at once.
type Provider interface {
	// Chat sends a request and returns the complete response. When
	// req.Tools is non-empty the response may contain ToolCalls; when
	// req.JSONMode is set the content is a single JSON object.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai").
	Name() string
}
