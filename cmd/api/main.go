// cmd/api is the HTTP-facing wiring root: the same core (Job Queue Service,
// Batch Job Manager, Publish Scheduler) as cmd/workcore, backed by pgstore
// instead of memstore for durability across restarts, fronted by the admin
// HTTP surface instead of running headless.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geocoder89/workcore/internal/auth"
	"github.com/geocoder89/workcore/internal/batch"
	"github.com/geocoder89/workcore/internal/bus"
	"github.com/geocoder89/workcore/internal/clock"
	"github.com/geocoder89/workcore/internal/config"
	"github.com/geocoder89/workcore/internal/db"
	httpx "github.com/geocoder89/workcore/internal/http"
	"github.com/geocoder89/workcore/internal/jobqueue"
	"github.com/geocoder89/workcore/internal/jobqueue/worker"
	"github.com/geocoder89/workcore/internal/observability"
	"github.com/geocoder89/workcore/internal/publish"
	"github.com/geocoder89/workcore/internal/publish/provider"
	"github.com/geocoder89/workcore/internal/publish/queue"
	"github.com/geocoder89/workcore/internal/publish/retry"
	"github.com/geocoder89/workcore/internal/pubsub/redisbridge"
	"github.com/geocoder89/workcore/internal/queue/redisclient"
	"github.com/geocoder89/workcore/internal/queuestore/pgstore"
	"github.com/geocoder89/workcore/internal/registry"
	"github.com/geocoder89/workcore/internal/shell"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.Env)

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)
	jobMetrics := observability.NewJobMetrics()

	b := bus.New()
	b.SetMetricsHook(func(topic, outcome string) {
		prom.BusDispatchTotal.WithLabelValues(topic, outcome).Inc()
	})

	store := pgstore.New(pool, prom)
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
		logger.Error("publish scheduler init failed", "err", err)
		os.Exit(1)
	}

	svcRegistry := registry.New()
	s := shell.New(b, svcRegistry, logger)
	s.AddBackgroundServiceFunc(jqWorker.Start)
	s.AddBackgroundService(startSchedulerFunc(scheduler.Start))

	var stopBridge func()
	if cfg.RedisBridgeEnabled {
		redisClient := redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		bridge := redisbridge.New(redisClient.Raw(), b, cfg.RedisBridgeChannel, []string{"system:plugins:ready"}, logger)
		stopBridge, err = bridge.Start(ctx, cfg.RedisBridgeChannel)
		if err != nil {
			logger.Error("redisbridge start failed", "err", err)
			os.Exit(1)
		}
	}

	jwtManager := auth.NewManager(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLDays)*24*time.Hour,
	)

	router := httpx.NewRouter(httpx.Deps{
		Jobs:         jobSvc,
		Batches:      batchMgr,
		PublishQueue: publishQueue,
		JWT:          jwtManager,
	}, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	if err := s.Run(ctx); err != nil {
		logger.Error("shell run failed", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server graceful shutdown failed", "err", err)
		_ = srv.Close()
	} else {
		logger.Info("server stopped gracefully")
	}

	jqWorker.Stop()
	scheduler.Stop()
	if stopBridge != nil {
		stopBridge()
	}
}

// startSchedulerFunc adapts the Scheduler's no-context Start to
// shell.BackgroundService.
type startSchedulerFunc func() error

func (f startSchedulerFunc) Start(ctx context.Context) error { return f() }
