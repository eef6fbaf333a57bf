package agentos

import (
	"testing"
	"time"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("fetch_weather", TypeToolCall, Payload{ToolName: "get_weather"})

	if task.ID == "" {
		t.Error("ID is empty")
	}
	if task.Status != StatusQueued {
		t.Errorf("Status = %s, want %s", task.Status, StatusQueued)
	}
	if task.Priority != 1 {
		t.Errorf("Priority = %d, want 1", task.Priority)
	}
	if task.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if !task.ready() {
		t.Error("task with no dependencies should be ready")
	}
}

func TestTaskLifecycleTimestamps(t *testing.T) {
	task := NewTask("t", TypeReasoning, Payload{Prompt: "hi"})

	task.start()
	if task.Status != StatusRunning {
		t.Fatalf("Status = %s, want %s", task.Status, StatusRunning)
	}
	if task.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
	if task.WaitTime < 0 {
		t.Errorf("WaitTime = %v, want >= 0", task.WaitTime)
	}

	time.Sleep(time.Millisecond)
	task.complete("done")
	if task.Status != StatusCompleted {
		t.Fatalf("Status = %s, want %s", task.Status, StatusCompleted)
	}
	if task.Result != "done" {
		t.Errorf("Result = %q, want %q", task.Result, "done")
	}
	if task.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
	if task.ExecutionTime <= 0 {
		t.Errorf("ExecutionTime = %v, want > 0", task.ExecutionTime)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	task := NewTask("t", TypeReasoning, Payload{Prompt: "hi"})
	task.start()
	task.complete("first")

	task.fail("should not overwrite")
	if task.Status != StatusCompleted || task.Result != "first" {
		t.Errorf("terminal task mutated: status=%s result=%q", task.Status, task.Result)
	}

	task.complete("also should not overwrite")
	if task.Result != "first" {
		t.Errorf("Result = %q, want %q", task.Result, "first")
	}

	task.preempt()
	if task.Status != StatusCompleted {
		t.Errorf("preempt changed terminal status to %s", task.Status)
	}
}

func TestFailedIsTerminalToo(t *testing.T) {
	task := NewTask("t", TypeReasoning, Payload{Prompt: "hi"})
	task.start()
	task.fail("boom")

	if !task.Status.IsTerminal() {
		t.Error("failed task should be terminal")
	}
	task.complete("nope")
	if task.Status != StatusFailed || task.Result != "boom" {
		t.Errorf("failed task mutated: status=%s result=%q", task.Status, task.Result)
	}
}

func TestPreemptIsNotTerminal(t *testing.T) {
	task := NewTask("t", TypeReasoning, Payload{Prompt: "hi"})
	task.start()
	task.preempt()

	if task.Status != StatusPreempted {
		t.Fatalf("Status = %s, want %s", task.Status, StatusPreempted)
	}
	if task.Status.IsTerminal() {
		t.Error("preempted must not be terminal")
	}
}

func TestParseTaskType(t *testing.T) {
	for _, s := range []string{"planning", "tool_call", "final_summary", "reasoning"} {
		if _, err := ParseTaskType(s); err != nil {
			t.Errorf("ParseTaskType(%q) error: %v", s, err)
		}
	}
	if _, err := ParseTaskType("juggling"); err == nil {
		t.Error("ParseTaskType accepted unknown type")
	}
}

func TestPayloadValidate(t *testing.T) {
	if err := (Payload{}).validate(); err == nil {
		t.Error("empty payload should be invalid")
	}
	if err := (Payload{Prompt: "x"}).validate(); err != nil {
		t.Errorf("prompt payload invalid: %v", err)
	}
	if err := (Payload{ToolName: "get_weather"}).validate(); err != nil {
		t.Errorf("tool payload invalid: %v", err)
	}
	if err := (Payload{Messages: []ChatMessage{UserMessage("x")}}).validate(); err != nil {
		t.Errorf("messages payload invalid: %v", err)
	}
}

func TestSnapshotFields(t *testing.T) {
	parent := NewTask("root", TypePlanning, Payload{Prompt: "goal"})
	child := NewTask("child", TypeReasoning, Payload{Prompt: "step"})
	g := newTaskGraph()
	if err := g.add(parent); err != nil {
		t.Fatal(err)
	}
	if err := g.link(parent, []*Task{child}); err != nil {
		t.Fatal(err)
	}

	child.start()
	child.complete("out")
	snap := child.snapshot()

	if snap.ID != child.ID || snap.Name != "child" {
		t.Errorf("identity fields wrong: %+v", snap)
	}
	if snap.ParentID != parent.ID {
		t.Errorf("ParentID = %q, want %q", snap.ParentID, parent.ID)
	}
	if snap.StartedAt == nil || snap.CompletedAt == nil {
		t.Error("timestamps missing from snapshot")
	}
	if snap.Result != "out" {
		t.Errorf("Result = %q, want %q", snap.Result, "out")
	}
}
