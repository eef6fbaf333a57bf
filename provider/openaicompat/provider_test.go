package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mfadhil/agentos"
)

func TestChatSendsOpenAIRequest(t *testing.T) {
	var got ChatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(ChatResponse{
			Choices: []Choice{{Message: &ChoiceMessage{Content: "hi there"}}},
			Usage:   &Usage{PromptTokens: 5, CompletionTokens: 2},
		})
	}))
	defer srv.Close()

	p := NewProvider("sk-test", "gpt-4o-mini", srv.URL)
	resp, err := p.Chat(context.Background(), agentos.ChatRequest{
		Messages: []agentos.ChatMessage{agentos.UserMessage("hello")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hi there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("auth = %q", auth)
	}
	if got.Model != "gpt-4o-mini" || len(got.Messages) != 1 {
		t.Errorf("request body = %+v", got)
	}
}

func TestChatMapsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	p := NewProvider("k", "m", srv.URL)
	_, err := p.Chat(context.Background(), agentos.ChatRequest{
		Messages: []agentos.ChatMessage{agentos.UserMessage("x")},
	})

	var httpErr *agentos.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *ErrHTTP", err)
	}
	if httpErr.Status != 429 || httpErr.Body != "rate limited" {
		t.Errorf("httpErr = %+v", httpErr)
	}
	if httpErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", httpErr.RetryAfter)
	}
}

func TestChatDecodeErrorIsErrLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p := NewProvider("k", "m", srv.URL, WithName("local"))
	_, err := p.Chat(context.Background(), agentos.ChatRequest{
		Messages: []agentos.ChatMessage{agentos.UserMessage("x")},
	})

	var llmErr *agentos.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("err = %v, want *ErrLLM", err)
	}
	if llmErr.Provider != "local" {
		t.Errorf("provider = %q", llmErr.Provider)
	}
}

func TestChatNoAuthHeaderWithoutKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(ChatResponse{})
	}))
	defer srv.Close()

	// Local endpoints like Ollama take no key.
	p := NewProvider("", "llama3", srv.URL)
	if _, err := p.Chat(context.Background(), agentos.ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	if auth != "" {
		t.Errorf("auth = %q, want empty", auth)
	}
}
