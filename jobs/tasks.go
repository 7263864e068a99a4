package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-console/internal/purchasing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotify carries order notification deliveries.
	QueueNotify = "notify"
	// TaskOrderNotify delivers one order lifecycle event to its recipients.
	TaskOrderNotify = "orders:notify"
	// TaskStatsRefresh invalidates cached statistics and prunes stale idempotency keys.
	TaskStatsRefresh = "stats:refresh"
	// TaskOutboxRelay re-enqueues committed order events the API could not hand off.
	TaskOutboxRelay = "orders:relay"
)

// NewOrderNotifyTask wraps an event into a deliverable task. The task id is the
// event id so a double enqueue of the same event collapses in the queue.
func NewOrderNotifyTask(evt purchasing.Event, maxRetry int) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderNotify, body,
		asynq.TaskID(evt.ID.String()),
		asynq.Queue(QueueNotify),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(30*time.Second),
	), nil
}

// StatsRefreshPayload configures the refresh job.
type StatsRefreshPayload struct {
	IdempotencyRetention time.Duration `json:"idempotency_retention"`
}

// NewStatsRefreshTask builds a stats refresh task.
func NewStatsRefreshTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(StatsRefreshPayload{IdempotencyRetention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatsRefresh, body, asynq.Queue(QueueDefault)), nil
}

// OutboxRelayPayload configures one relay pass.
type OutboxRelayPayload struct {
	Grace     time.Duration `json:"grace"`
	Retention time.Duration `json:"retention"`
}

// NewOutboxRelayTask builds an outbox relay task.
func NewOutboxRelayTask(grace, retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(OutboxRelayPayload{Grace: grace, Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxRelay, body, asynq.Queue(QueueDefault), asynq.Timeout(time.Minute)), nil
}
