// Package notify fans purchase order events out to branch and headquarters audiences.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/franchise-ops/franchise-console/internal/purchasing"
)

const (
	eventField = "event"
	// defaultStreamMaxLen bounds each audience stream; older entries are trimmed.
	defaultStreamMaxLen = 10000
)

// Broadcaster appends events to the stream of every recipient.
type Broadcaster struct {
	client *redis.Client
	logger *slog.Logger
	maxLen int64
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(client *redis.Client, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{client: client, logger: logger, maxLen: defaultStreamMaxLen}
}

// Publish appends evt to each recipient stream. Entries stay readable after the append,
// so a recipient that is offline picks the event up when it resumes from its cursor.
// A failed append aborts the publish so the caller can retry; subscribers deduplicate the repeats.
func (b *Broadcaster) Publish(ctx context.Context, evt purchasing.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	for _, audience := range evt.Recipients() {
		id, err := b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: audience.Stream(),
			MaxLen: b.maxLen,
			Approx: true,
			Values: map[string]any{eventField: string(payload)},
		}).Result()
		if err != nil {
			return fmt.Errorf("notify: append %s: %w", audience.Stream(), err)
		}
		b.logger.Debug("order event appended",
			slog.String("event_id", evt.ID.String()),
			slog.String("stream", audience.Stream()),
			slog.String("entry_id", id))
	}
	return nil
}
