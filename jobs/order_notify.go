package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-console/internal/purchasing"
)

// Publisher fans an event out to its live recipients.
type Publisher interface {
	Publish(ctx context.Context, evt purchasing.Event) error
}

// OrderNotifyJob delivers queued order events.
type OrderNotifyJob struct {
	Publisher Publisher
	Logger    *slog.Logger
}

// NewOrderNotifyJob wires the delivery handler.
func NewOrderNotifyJob(publisher Publisher, logger *slog.Logger) *OrderNotifyJob {
	return &OrderNotifyJob{Publisher: publisher, Logger: logger}
}

// Handle processes TaskOrderNotify tasks. Publish errors are returned so asynq retries.
func (j *OrderNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Publisher == nil {
		return errors.New("order notify: handler not configured")
	}
	var evt purchasing.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("order notify: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if evt.OrderID == 0 || evt.NewStatus == "" {
		return fmt.Errorf("order notify: incomplete event: %w", asynq.SkipRetry)
	}
	if err := j.Publisher.Publish(ctx, evt); err != nil {
		j.logger().Warn("publish order event",
			slog.Int64("order_id", evt.OrderID),
			slog.String("status", string(evt.NewStatus)),
			slog.Any("error", err))
		return err
	}
	j.logger().Debug("order event delivered",
		slog.Int64("order_id", evt.OrderID),
		slog.String("event_id", evt.ID.String()))
	return nil
}

func (j *OrderNotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
