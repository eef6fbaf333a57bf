// Package observer provides OTEL-based observability for the task scheduler.
//
// It exposes instruments for task admissions, completions, failures, model
// calls, and tool executions, emitted via OpenTelemetry. Users export to any
// OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/mfadhil/agentos/observer"

// Instruments holds all OTEL instruments used by the scheduler wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	TaskAdmissions  metric.Int64Counter
	TaskCompletions metric.Int64Counter
	TaskFailures    metric.Int64Counter
	TaskPreemptions metric.Int64Counter
	LLMRequests     metric.Int64Counter
	ToolExecutions  metric.Int64Counter
	TokenUsage      metric.Int64Counter

	// Histograms
	TaskWaitTime metric.Float64Histogram
	TaskExecTime metric.Float64Histogram
	LLMDuration  metric.Float64Histogram
	ToolDuration metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "agentos"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	taskAdmissions, err := meter.Int64Counter("task.admissions",
		metric.WithDescription("Tasks admitted into a concurrency slot"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	taskCompletions, err := meter.Int64Counter("task.completions",
		metric.WithDescription("Tasks completed successfully"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	taskFailures, err := meter.Int64Counter("task.failures",
		metric.WithDescription("Tasks terminated in failure"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	taskPreemptions, err := meter.Int64Counter("task.preemptions",
		metric.WithDescription("Tasks preempted by scheduler shutdown"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	toolExecutions, err := meter.Int64Counter("tool.executions",
		metric.WithDescription("Tool execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	taskWaitTime, err := meter.Float64Histogram("task.wait_time",
		metric.WithDescription("Time from task creation to first admission"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	taskExecTime, err := meter.Float64Histogram("task.execution_time",
		metric.WithDescription("Time from first admission to terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram("tool.duration",
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:          tracer,
		Meter:           meter,
		Logger:          logger,
		TaskAdmissions:  taskAdmissions,
		TaskCompletions: taskCompletions,
		TaskFailures:    taskFailures,
		TaskPreemptions: taskPreemptions,
		LLMRequests:     llmRequests,
		ToolExecutions:  toolExecutions,
		TokenUsage:      tokenUsage,
		TaskWaitTime:    taskWaitTime,
		TaskExecTime:    taskExecTime,
		LLMDuration:     llmDuration,
		ToolDuration:    toolDuration,
	}, nil
}
