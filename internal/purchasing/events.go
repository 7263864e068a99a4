package purchasing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/franchise-ops/franchise-console/internal/shared"
)

// EventCategory tags notification events by subject.
const EventCategory = "ORDER"

var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("franchise-console/purchasing/events"))

// EventActor identifies who caused the transition.
type EventActor struct {
	UserID   int64       `json:"user_id"`
	BranchID int64       `json:"branch_id,omitempty"`
	Role     shared.Role `json:"role"`
}

// Event is the typed notification emitted once per committed write.
type Event struct {
	ID             uuid.UUID  `json:"id"`
	Category       string     `json:"category"`
	OrderID        int64      `json:"order_id"`
	OrderNumber    string     `json:"order_number"`
	BranchID       int64      `json:"branch_id"`
	PreviousStatus Status     `json:"previous_status"`
	NewStatus      Status     `json:"new_status"`
	Actor          EventActor `json:"actor"`
	Timestamp      time.Time  `json:"timestamp"`
}

// NewEvent builds the event for a committed order. previous is empty for creation.
func NewEvent(previous Status, order PurchaseOrder, actor shared.Principal) Event {
	evt := Event{
		Category:       EventCategory,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		BranchID:       order.BranchID,
		PreviousStatus: previous,
		NewStatus:      order.Status,
		Actor:          EventActor{UserID: actor.UserID, BranchID: actor.BranchID, Role: actor.Role},
		Timestamp:      order.UpdatedAt.UTC(),
	}
	evt.ID = uuid.NewSHA1(eventNamespace, []byte(evt.DedupKey()))
	return evt
}

// DedupKey identifies an event for consumer-side deduplication.
func (e Event) DedupKey() string {
	return fmt.Sprintf("%d:%s:%d", e.OrderID, e.NewStatus, e.Timestamp.UnixNano())
}

// Recipients are derived from the order branch and the headquarters pool, never stored.
func (e Event) Recipients() []Audience {
	return []Audience{BranchAudience(e.BranchID), HeadquartersAudience}
}

// Audience is a notification recipient group.
type Audience string

// HeadquartersAudience is the headquarters approver pool.
const HeadquartersAudience Audience = "hq"

// BranchAudience is the audience of one franchise branch.
func BranchAudience(branchID int64) Audience {
	return Audience("branch:" + strconv.FormatInt(branchID, 10))
}

// AudienceFor returns the audience a principal subscribes to.
func AudienceFor(p shared.Principal) Audience {
	if p.IsHeadquarters() {
		return HeadquartersAudience
	}
	return BranchAudience(p.BranchID)
}

// Stream is the Redis stream key carrying events for the audience.
func (a Audience) Stream() string {
	return "orders:" + string(a)
}

// Notifier delivers events. Implementations must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}
