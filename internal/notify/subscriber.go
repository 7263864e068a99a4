package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/franchise-ops/franchise-console/internal/purchasing"
)

const (
	defaultReadBlock = 2 * time.Second
	readBatch        = 64
)

// ErrInvalidCursor indicates a resume position that is not a stream entry id.
var ErrInvalidCursor = errors.New("notify: invalid stream cursor")

// Delivery is one event read from an audience stream. Cursor is its stream entry id;
// passing it back to Subscribe resumes right after this event.
type Delivery struct {
	Cursor string
	Event  purchasing.Event
}

// Subscriber streams deduplicated events for one audience.
type Subscriber struct {
	client *redis.Client
	dedup  *Deduper
	logger *slog.Logger
	block  time.Duration
}

// NewSubscriber constructs a Subscriber. A nil deduper forwards every delivery.
func NewSubscriber(client *redis.Client, dedup *Deduper, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{client: client, dedup: dedup, logger: logger, block: defaultReadBlock}
}

// Subscribe returns events addressed to audience appended after the cursor after.
// An empty cursor starts at the current end of the stream. The channel closes when
// ctx is done. consumer scopes deduplication so independent consumers each see every
// event once.
func (s *Subscriber) Subscribe(ctx context.Context, audience purchasing.Audience, consumer, after string) (<-chan Delivery, error) {
	stream := audience.Stream()
	cursor, err := s.startCursor(ctx, stream, after)
	if err != nil {
		return nil, err
	}
	out := make(chan Delivery)
	go s.pump(ctx, stream, cursor, consumer, out)
	return out, nil
}

func (s *Subscriber) startCursor(ctx context.Context, stream, after string) (string, error) {
	if after != "" {
		if !ValidCursor(after) {
			return "", fmt.Errorf("%w: %q", ErrInvalidCursor, after)
		}
		return after, nil
	}
	last, err := s.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("notify: read tail of %s: %w", stream, err)
	}
	if len(last) == 0 {
		return "0-0", nil
	}
	return last[0].ID, nil
}

func (s *Subscriber) pump(ctx context.Context, stream, cursor, consumer string, out chan<- Delivery) {
	defer close(out)
	for ctx.Err() == nil {
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, cursor},
			Count:   readBatch,
			Block:   s.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("read order stream", slog.String("stream", stream), slog.Any("error", err))
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		for _, xs := range res {
			for _, msg := range xs.Messages {
				cursor = msg.ID
				evt, ok := s.decode(stream, msg)
				if !ok || !s.fresh(ctx, consumer, evt) {
					continue
				}
				select {
				case out <- Delivery{Cursor: msg.ID, Event: evt}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *Subscriber) decode(stream string, msg redis.XMessage) (purchasing.Event, bool) {
	raw, _ := msg.Values[eventField].(string)
	var evt purchasing.Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		s.logger.Warn("drop malformed order event",
			slog.String("stream", stream),
			slog.String("entry_id", msg.ID),
			slog.Any("error", err))
		return purchasing.Event{}, false
	}
	return evt, true
}

func (s *Subscriber) fresh(ctx context.Context, consumer string, evt purchasing.Event) bool {
	if s.dedup == nil {
		return true
	}
	fresh, err := s.dedup.MarkProcessed(ctx, consumer, evt.DedupKey())
	if err != nil {
		s.logger.Warn("dedup order event", slog.Any("error", err))
		return true
	}
	return fresh
}

// ValidCursor reports whether raw is a stream entry id of the form ms or ms-seq.
func ValidCursor(raw string) bool {
	ms, seq, hasSeq := strings.Cut(raw, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return false
	}
	if hasSeq {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return false
		}
	}
	return true
}
