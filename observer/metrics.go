package observer

import (
	"context"

	"github.com/mfadhil/agentos"

	"go.opentelemetry.io/otel/metric"
)

// Instruments implements agentos.TaskMetrics, so it can be passed straight
// to agentos.WithTaskMetrics. The scheduler invokes these on task lifecycle
// transitions; OTEL counter and histogram recording never blocks.

func (i *Instruments) TaskAdmitted(taskType agentos.TaskType) {
	i.TaskAdmissions.Add(context.Background(), 1, metric.WithAttributes(
		AttrTaskType.String(string(taskType)),
	))
}

func (i *Instruments) TaskCompleted(taskType agentos.TaskType, waitSeconds, execSeconds float64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(AttrTaskType.String(string(taskType)))
	i.TaskCompletions.Add(ctx, 1, attrs)
	i.TaskWaitTime.Record(ctx, waitSeconds, attrs)
	i.TaskExecTime.Record(ctx, execSeconds, attrs)
}

func (i *Instruments) TaskFailed(taskType agentos.TaskType, waitSeconds, execSeconds float64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(AttrTaskType.String(string(taskType)))
	i.TaskFailures.Add(ctx, 1, attrs)
	i.TaskWaitTime.Record(ctx, waitSeconds, attrs)
	i.TaskExecTime.Record(ctx, execSeconds, attrs)
}

func (i *Instruments) TaskPreempted(taskType agentos.TaskType) {
	i.TaskPreemptions.Add(context.Background(), 1, metric.WithAttributes(
		AttrTaskType.String(string(taskType)),
	))
}

var _ agentos.TaskMetrics = (*Instruments)(nil)
