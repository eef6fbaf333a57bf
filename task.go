package agentos

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a Task. Transitions are driven
// exclusively by the Scheduler, under its lock.
type TaskStatus string

const (
	StatusQueued             TaskStatus = "queued"
	StatusRunning            TaskStatus = "running"
	StatusWaitingForTool     TaskStatus = "waiting_for_tool"
	StatusWaitingForSubtasks TaskStatus = "waiting_for_subtasks"
	StatusCompleted          TaskStatus = "completed"
	StatusFailed             TaskStatus = "failed"
	StatusPreempted          TaskStatus = "preempted"
)

// IsTerminal reports whether the status is final. Once terminal, neither
// status nor result changes again.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskType classifies how a task is executed.
type TaskType string

const (
	// TypePlanning tasks are decomposed into subtasks before running.
	TypePlanning TaskType = "planning"
	// TypeToolCall leaves drive the model toward one named tool invocation.
	TypeToolCall TaskType = "tool_call"
	// TypeFinalSummary is the one plan leaf that synthesises the root result
	// from its siblings' results. Its prompt is assembled at admission time.
	TypeFinalSummary TaskType = "final_summary"
	// TypeReasoning leaves drive the model with a free-form prompt and may
	// or may not invoke tools.
	TypeReasoning TaskType = "reasoning"
)

// ParseTaskType converts a wire string into a TaskType.
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TypePlanning, TypeToolCall, TypeFinalSummary, TypeReasoning:
		return TaskType(s), nil
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

// Payload is the structured input of a task. Exactly one of Messages,
// Prompt, or ToolName is expected for a leaf task.
type Payload struct {
	Messages   []ChatMessage   `json:"messages,omitempty"`
	Prompt     string          `json:"prompt,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// validate checks that a leaf payload carries something executable.
func (p Payload) validate() error {
	if len(p.Messages) == 0 && p.Prompt == "" && p.ToolName == "" {
		return fmt.Errorf("payload has none of messages, prompt, or tool_name")
	}
	return nil
}

// Task is one node of the execution graph. All fields below the ID block are
// guarded by the owning Scheduler's lock; a Task has no lock of its own.
type Task struct {
	ID       string
	Name     string
	Type     TaskType
	Priority int // advisory FIFO tiebreak only
	Tags     []string

	Payload Payload
	Status  TaskStatus
	// Result is the terminal output: the model's final text, a tool result,
	// the synthesised summary, or the error description on failure.
	// Written exactly once, on the terminal transition.
	Result string

	Parent       *Task
	Dependencies []*Task
	Subtasks     []*Task

	// dependencyNames holds planner-emitted sibling names until Link
	// resolves them into Dependencies.
	dependencyNames []string
	// dependents is the reverse adjacency, built once at link time so
	// terminal resolution is O(|dependents|) without name lookups.
	dependents []*Task

	// waitingDeps is the set of unfinished dependencies, keyed by task ID.
	// The task becomes ready when it empties.
	waitingDeps map[string]*Task
	// waitingSubtasks is the set of non-terminal subtasks, keyed by task ID.
	// A planning task closes when it empties.
	waitingSubtasks map[string]struct{}

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	// WaitTime is CreatedAt→StartedAt, ExecutionTime is StartedAt→CompletedAt.
	WaitTime      time.Duration
	ExecutionTime time.Duration
}

// NewTask constructs a queued task with a fresh ID.
func NewTask(name string, taskType TaskType, payload Payload) *Task {
	return &Task{
		ID:              NewID(),
		Name:            name,
		Type:            taskType,
		Priority:        1,
		Payload:         payload,
		Status:          StatusQueued,
		waitingDeps:     make(map[string]*Task),
		waitingSubtasks: make(map[string]struct{}),
		CreatedAt:       time.Now(),
	}
}

// start marks the task running and records wait time.
func (t *Task) start() {
	t.Status = StatusRunning
	t.StartedAt = time.Now()
	t.WaitTime = t.StartedAt.Sub(t.CreatedAt)
}

// complete moves the task to its terminal success state. No-op when the
// task is already terminal (terminality invariant).
func (t *Task) complete(result string) {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusCompleted
	t.Result = result
	t.closeTimestamps()
}

// fail moves the task to its terminal failure state, storing the error
// description as the result. No-op when already terminal.
func (t *Task) fail(errMsg string) {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusFailed
	t.Result = errMsg
	t.closeTimestamps()
}

// preempt marks the task preempted (non-terminal) on scheduler shutdown.
func (t *Task) preempt() {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusPreempted
}

func (t *Task) closeTimestamps() {
	t.CompletedAt = time.Now()
	if !t.StartedAt.IsZero() {
		t.ExecutionTime = t.CompletedAt.Sub(t.StartedAt)
	}
}

// ready reports whether the task is eligible for admission: queued with no
// unfinished dependencies.
func (t *Task) ready() bool {
	return t.Status == StatusQueued && len(t.waitingDeps) == 0
}

func (t *Task) String() string {
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("<task %s(%s) %s %s>", t.Name, id, t.Type, t.Status)
}

// TaskSnapshot is a point-in-time copy of a task for external observers.
// Taken under the scheduler lock; safe to serialize without further locking.
type TaskSnapshot struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Type          TaskType   `json:"task_type"`
	Status        TaskStatus `json:"status"`
	Priority      int        `json:"priority"`
	Tags          []string   `json:"tags,omitempty"`
	Result        string     `json:"result,omitempty"`
	ParentID      string     `json:"parent_id,omitempty"`
	Dependencies  []string   `json:"dependencies,omitempty"`
	Subtasks      []string   `json:"subtasks,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	WaitTime      float64    `json:"wait_time,omitempty"`
	ExecutionTime float64    `json:"execution_time,omitempty"`
}

// snapshot copies the externally visible fields. Caller holds the lock.
func (t *Task) snapshot() TaskSnapshot {
	s := TaskSnapshot{
		ID:        t.ID,
		Name:      t.Name,
		Type:      t.Type,
		Status:    t.Status,
		Priority:  t.Priority,
		Tags:      t.Tags,
		Result:    t.Result,
		CreatedAt: t.CreatedAt,
	}
	if t.Parent != nil {
		s.ParentID = t.Parent.ID
	}
	for _, d := range t.Dependencies {
		s.Dependencies = append(s.Dependencies, d.ID)
	}
	for _, st := range t.Subtasks {
		s.Subtasks = append(s.Subtasks, st.ID)
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		s.StartedAt = &started
		s.WaitTime = t.WaitTime.Seconds()
	}
	if !t.CompletedAt.IsZero() {
		completed := t.CompletedAt
		s.CompletedAt = &completed
		s.ExecutionTime = t.ExecutionTime.Seconds()
	}
	return s
}
