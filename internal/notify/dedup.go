package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupPrefix = "orders:seen:"

// Deduper remembers which events a consumer already handled.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDeduper constructs a Redis SETNX based deduper.
func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{client: client, ttl: ttl}
}

// MarkProcessed records key for consumer. It returns false when the key was already seen.
func (d *Deduper) MarkProcessed(ctx context.Context, consumer, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupPrefix+consumer+":"+key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("notify: mark processed: %w", err)
	}
	return ok, nil
}
