// Package agentos is an OS-inspired task scheduler for LLM agents.
//
// A caller submits a high-level goal as a planning task. The scheduler asks
// the model to decompose it into a dependency graph of subtasks, drives each
// ready subtask as a pausable agent against the model under a concurrency
// cap, dispatches tool calls the model emits mid-conversation, and closes the
// root task with the result of the plan's final-summary subtask.
//
// The package is organized around five pieces:
//
//   - Task / taskGraph: the in-memory DAG of tasks (task.go, graph.go)
//   - Dispatcher: tool-call execution with ordered batch reassembly (dispatch.go)
//   - driver: the per-task pausable conversation state machine (driver.go)
//   - Planner: goal decomposition via a JSON-mode model call (planner.go)
//   - Scheduler: admission, suspension, dependency resolution (scheduler.go)
//
// LLM transport is abstracted behind Provider; provider/openaicompat speaks
// the OpenAI chat-completions wire format. Tool backends implement Tool and
// register in a ToolRegistry. The HTTP facade in server.go exposes task
// submission and inspection; cmd/agentos wires everything together.
package agentos
