package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-console/internal/analytics"
	"github.com/franchise-ops/franchise-console/internal/app"
	"github.com/franchise-ops/franchise-console/internal/notify"
	"github.com/franchise-ops/franchise-console/internal/observability"
	"github.com/franchise-ops/franchise-console/internal/platform/cache"
	"github.com/franchise-ops/franchise-console/internal/platform/db"
	"github.com/franchise-ops/franchise-console/internal/purchasing"
	"github.com/franchise-ops/franchise-console/internal/shared"
	"github.com/franchise-ops/franchise-console/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "franchise-worker", MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts, cfg.NotifyMaxRetry)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	relayJob := jobs.NewOutboxRelayJob(purchasing.NewRepository(pool), jobClient, logger)
	notifyJob := jobs.NewOrderNotifyJob(notify.NewBroadcaster(redisClient, logger), logger)
	refreshJob := jobs.NewStatsRefreshJob(
		analytics.NewCache(redisClient, cfg.StatsCacheTTL),
		shared.NewIdempotencyStore(pool),
		logger,
	)

	refreshTask, err := jobs.NewStatsRefreshTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build stats refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	relayTask, err := jobs.NewOutboxRelayTask(cfg.OutboxRelayGrace, cfg.OutboxRetention)
	if err != nil {
		logger.Error("build outbox relay task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Observer:    metrics,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOrderNotify, Handler: notifyJob.Handle},
			{Type: jobs.TaskStatsRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskOutboxRelay, Handler: relayJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.StatsRefreshCron, Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.OutboxRelayCron, Task: relayTask, Options: []asynq.Option{asynq.MaxRetry(0)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
