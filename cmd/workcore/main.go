// cmd/workcore is the example wiring root: it assembles the Job Queue
// Service, the Batch Job Manager, the Publish Scheduler, and the Plugin
// Manager / Startup Gate into one running process, the way cmd/worker's
// original bring-up ordered tracer -> logger -> pool -> repos -> worker ->
// run. A real deployment registers its own plugins with the Shell before
// calling Run; this main wires only the core and no plugins, so the
// process starts, reaches plugins:ready with nothing subscribed, and then
// runs the Job Queue Worker and Publish Scheduler against an empty queue.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/geocoder89/workcore/internal/batch"
	"github.com/geocoder89/workcore/internal/bus"
	"github.com/geocoder89/workcore/internal/clock"
	"github.com/geocoder89/workcore/internal/config"
	"github.com/geocoder89/workcore/internal/jobqueue"
	"github.com/geocoder89/workcore/internal/jobqueue/worker"
	"github.com/geocoder89/workcore/internal/observability"
	"github.com/geocoder89/workcore/internal/publish"
	"github.com/geocoder89/workcore/internal/publish/provider"
	"github.com/geocoder89/workcore/internal/publish/queue"
	"github.com/geocoder89/workcore/internal/publish/retry"
	"github.com/geocoder89/workcore/internal/queuestore/memstore"
	"github.com/geocoder89/workcore/internal/registry"
	"github.com/geocoder89/workcore/internal/shell"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1) tracing first, so every later span/log can attach to it.
	shutdownTracer, err := observability.InitTracer(context.Background(), "workcore", "localhost:4317")
	if err != nil {
		log.Fatalf("otel init failed: %v", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// 2) slog + trace handler, so logs carry trace_id/span_id.
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(observability.NewTraceHandler(base))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	jobMetrics := observability.NewJobMetrics()

	b := bus.New()
	b.SetMetricsHook(func(topic, outcome string) {
		prom.BusDispatchTotal.WithLabelValues(topic, outcome).Inc()
	})

	svcRegistry := registry.New()

	// Core collaborators. A production deployment swaps memstore for
	// queuestore/pgstore backed by the same pgxpool used elsewhere in the
	// process — the Service, worker, and Scheduler are storage-agnostic.
	store := memstore.New()
	jobSvc := jobqueue.New(store, jobqueue.WithClock(clock.Real))

	batchMgr := batch.New(jobSvc, b).WithMetrics(prom)
	jobSvc.SetMonitor(jobqueue.NewMonitor(b, batchMgr))

	jqWorker := worker.New(worker.Config{
		Concurrency:   cfg.WorkerConcurrency,
		PollInterval:  cfg.WorkerPollInterval,
		ShutdownGrace: cfg.WorkerShutdownGrace,
		Logger:        logger,
		Metrics:       jobMetrics,
	}, jobSvc)

	providers := provider.New(logger)
	retries := retry.New(retry.Config{
		MaxRetries: cfg.PublishMaxRetries,
		BaseDelay:  cfg.PublishRetryBaseDelay,
		Clock:      clock.Real,
	})
	publishQueue := queue.New(clock.Real)

	scheduler, err := publish.New(publish.Config{
		Schedules: cfg.PublishSchedules,
		Queue:     publishQueue,
		Providers: providers,
		Retries:   retries,
		Bus:       b,
		Logger:    logger,
		Metrics:   prom,
	})
	if err != nil {
		log.Fatalf("publish scheduler init failed: %v", err)
	}

	s := shell.New(b, svcRegistry, logger)
	s.AddBackgroundServiceFunc(jqWorker.Start)
	s.AddBackgroundService(startSchedulerFunc(scheduler.Start))

	logger.InfoContext(ctx, "workcore.starting", "worker_concurrency", cfg.WorkerConcurrency)

	if err := s.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "workcore.run_failed", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()

	jqWorker.Stop()
	scheduler.Stop()
	logger.InfoContext(context.Background(), "workcore.shutdown_complete")
}

// startSchedulerFunc adapts the Scheduler's no-context Start to
// shell.BackgroundService.
type startSchedulerFunc func() error

func (f startSchedulerFunc) Start(ctx context.Context) error { return f() }
