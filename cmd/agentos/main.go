package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfadhil/agentos"
	"github.com/mfadhil/agentos/internal/config"
	"github.com/mfadhil/agentos/observer"
	"github.com/mfadhil/agentos/provider/openaicompat"
	"github.com/mfadhil/agentos/tools/arxiv"
	"github.com/mfadhil/agentos/tools/places"
	"github.com/mfadhil/agentos/tools/weather"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("AGENTOS_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Observability (optional)
	var tracer agentos.Tracer
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		if cfg.Observer.Endpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observer.Endpoint)
		}
		var shutdownObs func(context.Context) error
		var err error
		inst, shutdownObs, err = observer.Init(context.Background(), cfg.Observer.ServiceName)
		if err != nil {
			logger.Error("observer init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownObs(ctx)
		}()
		tracer = observer.NewTracer()
	}
	observe := func(p agentos.Provider, model string) agentos.Provider {
		if inst == nil {
			return p
		}
		return observer.WrapProvider(p, model, inst)
	}

	// 3. Providers: base HTTP client, OTEL wrapper, then retry middleware
	llm := agentos.WithRetry(
		observe(openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL), cfg.LLM.Model),
		agentos.RetryMaxAttempts(cfg.Scheduler.RetryMaxAttempts),
		agentos.RetryLogger(logger),
	)
	plannerLLM := llm
	if cfg.Planner.Model != cfg.LLM.Model || cfg.Planner.APIKey != cfg.LLM.APIKey {
		plannerLLM = agentos.WithRetry(
			observe(openaicompat.NewProvider(cfg.Planner.APIKey, cfg.Planner.Model, cfg.LLM.BaseURL), cfg.Planner.Model),
			agentos.RetryMaxAttempts(cfg.Scheduler.RetryMaxAttempts),
			agentos.RetryLogger(logger),
		)
	}

	// 4. Tool catalogue
	registry := agentos.NewToolRegistry()
	for _, tool := range []agentos.Tool{weather.New(), arxiv.New(), places.New()} {
		if inst != nil {
			tool = observer.WrapTool(tool, inst)
		}
		registry.Add(tool)
	}

	// 5. Scheduler
	schedOpts := []agentos.SchedulerOption{
		agentos.WithMaxConcurrentTasks(cfg.Scheduler.MaxConcurrentTasks),
		agentos.WithPlannerProvider(plannerLLM),
		agentos.WithSchedulerLogger(logger),
		agentos.WithSchedulerTracer(tracer),
	}
	if inst != nil {
		schedOpts = append(schedOpts, agentos.WithTaskMetrics(inst))
	}
	sched := agentos.NewScheduler(llm, registry, schedOpts...)
	if err := sched.Start(); err != nil {
		logger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	// 6. HTTP API
	server := agentos.NewServer(sched, agentos.ServerLogger(logger))
	if err := server.Start(cfg.Server.Addr); err != nil {
		logger.Error("server start failed", "error", err)
		os.Exit(1)
	}

	// 7. Wait for signal, then drain
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	if err := sched.Shutdown(ctx); err != nil {
		logger.Warn("scheduler shutdown error", "error", err)
	}
}
