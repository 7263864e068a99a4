package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/franchise-ops/franchise-console/internal/platform/httpx"
	"github.com/franchise-ops/franchise-console/internal/purchasing"
	"github.com/franchise-ops/franchise-console/internal/shared"
)

// EventSource is the subscription side of the fan-out.
type EventSource interface {
	Subscribe(ctx context.Context, audience purchasing.Audience, consumer, after string) (<-chan Delivery, error)
}

// StreamHandler serves order events as server-sent events.
type StreamHandler struct {
	source    EventSource
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewStreamHandler constructs the SSE handler.
func NewStreamHandler(source EventSource, logger *slog.Logger, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{source: source, logger: logger, heartbeat: heartbeat}
}

// ServeHTTP streams events for the caller's audience until the client disconnects.
// Each event carries its stream entry id; a reconnecting EventSource sends it back as
// Last-Event-ID and the stream resumes after it. Clients that reconnect pass the same
// client_id to keep deduplication across sessions.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Problem(w, http.StatusInternalServerError, "Streaming Unsupported", "")
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	consumer := "sse:" + strconv.FormatInt(principal.UserID, 10) + ":" + clientID
	audience := purchasing.AudienceFor(principal)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	after := r.Header.Get("Last-Event-ID")
	if after == "" {
		after = r.URL.Query().Get("last_event_id")
	}
	events, err := h.source.Subscribe(ctx, audience, consumer, after)
	if errors.Is(err, ErrInvalidCursor) {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err != nil {
		h.logger.Error("subscribe order events", slog.String("audience", string(audience)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: 3000\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case delivery, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(delivery.Event)
			if err != nil {
				h.logger.Error("encode order event", slog.Any("error", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: order\ndata: %s\n\n", delivery.Cursor, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
