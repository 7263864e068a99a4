package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-console/internal/analytics"
	"github.com/franchise-ops/franchise-console/internal/app"
	"github.com/franchise-ops/franchise-console/internal/auth"
	"github.com/franchise-ops/franchise-console/internal/catalog"
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
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "franchise-console"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTokenTTL)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts, cfg.NotifyMaxRetry)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	catalogRepo := catalog.NewRepository(dbpool)
	orderRepo := purchasing.NewRepository(dbpool)
	orderService := purchasing.NewService(orderRepo, catalogRepo, logger)
	orderService.SetNotifier(jobClient)
	orderService.SetJournal(shared.NewApprovalRecorder(dbpool, logger))
	orderService.SetIdempotency(shared.NewIdempotencyStore(dbpool))
	orderService.SetStatsCache(analytics.NewCache(redisClient, cfg.StatsCacheTTL))
	orderService.SetObserver(metrics)

	subscriber := notify.NewSubscriber(redisClient, notify.NewDeduper(redisClient, cfg.EventDedupTTL), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Authenticate:      auth.Authenticate(tokens, logger),
		PurchasingHandler: purchasing.NewHandler(logger, orderService),
		CatalogHandler:    catalog.NewHandler(logger, catalogRepo),
		EventsHandler:     notify.NewStreamHandler(subscriber, logger, cfg.EventHeartbeat),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
		Readiness: map[string]app.Pinger{
			"postgres": dbpool,
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", slog.Any("error", err))
	}
}
