package agentos

import "encoding/json"

// --- LLM protocol types ---

// ChatMessage is one turn of a model conversation. Role is "system", "user",
// "assistant", or "tool". A "tool" message carries the result of an earlier
// tool call and must set ToolCallID to the ID the assistant emitted.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model-emitted request to invoke a named tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	// ToolChoice forces the model to call the named tool. Empty means the
	// model chooses freely among req.Tools.
	ToolChoice string `json:"tool_choice,omitempty"`
	// JSONMode asks the provider to constrain output to a single JSON
	// object (response_format "json_object" on OpenAI-compatible APIs).
	// Used by the planner.
	JSONMode bool `json:"json_mode,omitempty"`
}

// ChatResponse is the provider's reply: either final Content or a batch of
// ToolCalls the caller must execute and feed back.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage tracks token consumption for a single model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes one callable tool for the model and the planner.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, name, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID, Name: name}
}
