package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-console/internal/purchasing"
)

const (
	defaultRelayGrace     = 30 * time.Second
	defaultRelayRetention = 72 * time.Hour
	relayBatch            = 200
)

// Outbox is the committed-event store written alongside every order write.
type Outbox interface {
	PendingEvents(ctx context.Context, grace time.Duration, limit int) ([]purchasing.Event, error)
	MarkEventSent(ctx context.Context, id uuid.UUID) error
	PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// OutboxRelayJob hands unsent outbox events to the notifier.
type OutboxRelayJob struct {
	Outbox   Outbox
	Notifier purchasing.Notifier
	Logger   *slog.Logger
}

// NewOutboxRelayJob wires the relay handler.
func NewOutboxRelayJob(outbox Outbox, notifier purchasing.Notifier, logger *slog.Logger) *OutboxRelayJob {
	return &OutboxRelayJob{Outbox: outbox, Notifier: notifier, Logger: logger}
}

// Handle processes TaskOutboxRelay tasks. Events younger than the grace period are
// left to the API's own post-commit enqueue.
func (j *OutboxRelayJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Outbox == nil || j.Notifier == nil {
		return errors.New("outbox relay: handler not configured")
	}
	payload := OutboxRelayPayload{Grace: defaultRelayGrace, Retention: defaultRelayRetention}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("outbox relay: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.Grace < 0 {
		payload.Grace = 0
	}
	if payload.Retention <= 0 {
		payload.Retention = defaultRelayRetention
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	events, err := j.Outbox.PendingEvents(ctx, payload.Grace, relayBatch)
	if err != nil {
		return fmt.Errorf("outbox relay: load pending: %w", err)
	}
	var failed []error
	relayed := 0
	for _, evt := range events {
		if err := j.Notifier.Notify(ctx, evt); err != nil {
			failed = append(failed, fmt.Errorf("event %s: %w", evt.ID, err))
			continue
		}
		if err := j.Outbox.MarkEventSent(ctx, evt.ID); err != nil {
			failed = append(failed, fmt.Errorf("mark %s: %w", evt.ID, err))
			continue
		}
		relayed++
	}
	pruned, err := j.Outbox.PruneEvents(ctx, payload.Retention)
	if err != nil {
		logger.Warn("prune order events", slog.Any("error", err))
	}
	logger.Info("outbox relay completed",
		slog.Int("pending", len(events)),
		slog.Int("relayed", relayed),
		slog.Int64("pruned", pruned))
	if len(failed) > 0 {
		return fmt.Errorf("outbox relay: %w", errors.Join(failed...))
	}
	return nil
}
