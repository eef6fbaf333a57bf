package agentos

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrLLM is a model-transport failure (auth, malformed response, decode).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-200 response from the model endpoint. RetryAfter carries
// the parsed Retry-After header when the server sent one (429/503).
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// PlanError is a planner failure: invalid JSON, schema violation, missing or
// duplicated final-summary entry, or a dependency cycle in the plan.
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string {
	return "invalid plan: " + e.Reason
}

// ParseRetryAfter parses an HTTP Retry-After header value. Supports the
// delay-seconds form ("120") and the HTTP-date form. Returns 0 when the
// value is empty or unparseable.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
