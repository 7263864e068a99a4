package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const defaultIdempotencyRetention = 7 * 24 * time.Hour

// CacheBumper invalidates derived statistics.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// KeyCleaner prunes expired idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// StatsRefreshJob is the nightly safety net behind write-time cache invalidation.
type StatsRefreshJob struct {
	Cache  CacheBumper
	Keys   KeyCleaner
	Logger *slog.Logger
}

// NewStatsRefreshJob wires the refresh handler.
func NewStatsRefreshJob(cache CacheBumper, keys KeyCleaner, logger *slog.Logger) *StatsRefreshJob {
	return &StatsRefreshJob{Cache: cache, Keys: keys, Logger: logger}
}

// Handle processes TaskStatsRefresh tasks.
func (j *StatsRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("stats refresh: handler not configured")
	}
	var payload StatsRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("stats refresh: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.IdempotencyRetention <= 0 {
		payload.IdempotencyRetention = defaultIdempotencyRetention
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if j.Cache != nil {
		if err := j.Cache.Bump(ctx); err != nil {
			logger.Error("bump stats cache", slog.Any("error", err))
			return err
		}
	}
	if j.Keys != nil {
		if err := j.Keys.Cleanup(ctx, payload.IdempotencyRetention); err != nil {
			logger.Error("cleanup idempotency keys", slog.Any("error", err))
			return err
		}
	}
	logger.Info("stats refresh completed", slog.Duration("idempotency_retention", payload.IdempotencyRetention))
	return nil
}
