package purchasing

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Status is the canonical purchase order lifecycle status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusPartial   Status = "PARTIAL"
	StatusRejected  Status = "REJECTED"
	StatusShipped   Status = "SHIPPED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusApproved,
	StatusPartial,
	StatusRejected,
	StatusShipped,
	StatusCompleted,
	StatusCancelled,
}

// IsValid checks if the status is one of the canonical values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPartial, StatusRejected, StatusShipped, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Label returns the display label used by the console.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "승인 대기"
	case StatusApproved:
		return "승인"
	case StatusPartial:
		return "부분 승인"
	case StatusRejected:
		return "반려"
	case StatusShipped:
		return "배송중"
	case StatusCompleted:
		return "입고 완료"
	case StatusCancelled:
		return "취소"
	default:
		return string(s)
	}
}

// statusAliases is the only mapping from legacy or display strings to
// canonical statuses. Keys are case-folded.
// "inprogress" is intentionally absent: it grouped several statuses differently per screen.
var statusAliases = map[string]Status{
	"pending":            StatusPending,
	"approved":           StatusApproved,
	"approve":            StatusApproved,
	"partial":            StatusPartial,
	"partially_approved": StatusPartial,
	"partial_approved":   StatusPartial,
	"rejected":           StatusRejected,
	"reject":             StatusRejected,
	"shipped":            StatusShipped,
	"shipping":           StatusShipped,
	"completed":          StatusCompleted,
	"complete":           StatusCompleted,
	"received":           StatusCompleted,
	"cancelled":          StatusCancelled,
	"canceled":           StatusCancelled,
}

// ParseStatus maps canonical, legacy and mixed-case status strings to a Status.
func ParseStatus(raw string) (Status, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: status is empty", ErrValidation)
	}
	// Caser values are stateful, so one is built per call.
	folded := cases.Fold().String(trimmed)
	folded = strings.ReplaceAll(folded, "-", "_")
	if status, ok := statusAliases[folded]; ok {
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}

// Action is an operation requested against an order.
type Action string

const (
	ActionApprove        Action = "approve"
	ActionPartialApprove Action = "partial_approve"
	ActionReject         Action = "reject"
	ActionShip           Action = "ship"
	ActionComplete       Action = "complete"
	ActionCancel         Action = "cancel"
)

// IsValid checks if the action is known.
func (a Action) IsValid() bool {
	switch a {
	case ActionApprove, ActionPartialApprove, ActionReject, ActionShip, ActionComplete, ActionCancel:
		return true
	default:
		return false
	}
}

// RequiresHeadquarters reports whether only headquarters may perform the action.
func (a Action) RequiresHeadquarters() bool {
	switch a {
	case ActionApprove, ActionPartialApprove, ActionReject, ActionShip:
		return true
	default:
		return false
	}
}
