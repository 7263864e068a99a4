package purchasing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/franchise-ops/franchise-console/internal/shared"
)

// transitions is the single table of legal actions per status.
var transitions = map[Status][]Action{
	StatusPending:   {ActionApprove, ActionPartialApprove, ActionReject, ActionCancel},
	StatusApproved:  {ActionShip},
	StatusPartial:   {ActionShip},
	StatusRejected:  {ActionCancel},
	StatusShipped:   {ActionComplete},
	StatusCompleted: {},
	StatusCancelled: {},
}

// Allowed returns the actions legal from status, regardless of who asks.
func Allowed(status Status) []Action {
	allowed := transitions[status]
	out := make([]Action, len(allowed))
	copy(out, allowed)
	return out
}

// CanPerform reports whether action is legal from status.
func CanPerform(status Status, action Action) bool {
	for _, a := range transitions[status] {
		if a == action {
			return true
		}
	}
	return false
}

// AllowedActions returns the actions the principal may perform on the order right now.
func AllowedActions(order PurchaseOrder, actor shared.Principal) []Action {
	out := []Action{}
	for _, action := range transitions[order.Status] {
		if authorize(order, action, actor) == nil {
			out = append(out, action)
		}
	}
	return out
}

// Command carries an action and its payload.
type Command struct {
	Action  Action
	Actor   shared.Principal
	Version int64
	// Approvals maps line id to approved quantity; used by partial approval only.
	Approvals map[int64]int64
	Reason    string
	At        time.Time
}

// ApplyTransition computes the next committed state of order for cmd.
// It never mutates order; on error the returned order is the zero value.
// Checks run in order: authorization, version, transition legality, payload.
func ApplyTransition(order PurchaseOrder, cmd Command) (PurchaseOrder, error) {
	if !cmd.Action.IsValid() {
		return PurchaseOrder{}, fmt.Errorf("%w: unknown action %q", ErrValidation, cmd.Action)
	}
	if err := authorize(order, cmd.Action, cmd.Actor); err != nil {
		return PurchaseOrder{}, err
	}
	if cmd.Version != order.Version {
		return PurchaseOrder{}, fmt.Errorf("%w: order %d presented version %d", ErrStaleVersion, order.ID, cmd.Version)
	}
	if !CanPerform(order.Status, cmd.Action) {
		return PurchaseOrder{}, &TransitionError{From: order.Status, Action: cmd.Action, Allowed: Allowed(order.Status)}
	}

	next := order.Clone()
	var err error
	switch cmd.Action {
	case ActionApprove:
		next, err = Reconcile(next, requestedApprovals(next))
	case ActionPartialApprove:
		next, err = Reconcile(next, cmd.Approvals)
	case ActionReject:
		next, err = reject(next, cmd.Reason)
	case ActionShip:
		next.Status = StatusShipped
	case ActionComplete:
		next.Status = StatusCompleted
	case ActionCancel:
		next.Status = StatusCancelled
		next.RejectionReason = ""
	}
	if err != nil {
		return PurchaseOrder{}, err
	}

	at := cmd.At
	if at.IsZero() {
		at = time.Now()
	}
	next.Version = order.Version + 1
	next.UpdatedAt = at.UTC().Truncate(time.Microsecond)
	if err := CheckInvariants(next); err != nil {
		return PurchaseOrder{}, err
	}
	return next, nil
}

func authorize(order PurchaseOrder, action Action, actor shared.Principal) error {
	if action.RequiresHeadquarters() {
		if !actor.IsHeadquarters() {
			return ErrForbidden
		}
		return nil
	}
	if actor.Role != shared.RoleBranch || actor.BranchID == 0 || actor.BranchID != order.BranchID {
		return ErrForbidden
	}
	return nil
}

func requestedApprovals(order PurchaseOrder) map[int64]int64 {
	approvals := make(map[int64]int64, len(order.Lines))
	for _, line := range order.Lines {
		approvals[line.ID] = line.RequestedQuantity
	}
	return approvals
}

func reject(order PurchaseOrder, reason string) (PurchaseOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return PurchaseOrder{}, ErrReasonRequired
	}
	for i := range order.Lines {
		order.Lines[i].ApprovedQuantity = int64Ptr(0)
	}
	order.recalculate()
	order.Status = StatusRejected
	order.RejectionReason = reason
	return order, nil
}

// CheckInvariants verifies the quantity, total and status rules of a committed order.
func CheckInvariants(order PurchaseOrder) error {
	if len(order.Lines) == 0 {
		return fmt.Errorf("%w: order has no lines", ErrInvariant)
	}
	if order.Version < 1 {
		return fmt.Errorf("%w: version %d", ErrInvariant, order.Version)
	}
	if !order.Status.IsValid() {
		return fmt.Errorf("%w: status %q", ErrInvariant, order.Status)
	}
	total := decimal.Zero
	for _, line := range order.Lines {
		if line.RequestedQuantity <= 0 {
			return fmt.Errorf("%w: line %d requested %d", ErrInvariant, line.ID, line.RequestedQuantity)
		}
		if q := line.ApprovedQuantity; q != nil && (*q < 0 || *q > line.RequestedQuantity) {
			return fmt.Errorf("%w: line %d approved %d of %d", ErrInvariant, line.ID, *q, line.RequestedQuantity)
		}
		if !line.Subtotal.Equal(line.computeSubtotal()) {
			return fmt.Errorf("%w: line %d subtotal %s", ErrInvariant, line.ID, line.Subtotal)
		}
		total = total.Add(line.Subtotal)
	}
	if !total.Equal(order.TotalPrice) {
		return fmt.Errorf("%w: total %s, lines sum %s", ErrInvariant, order.TotalPrice, total)
	}
	if order.Status == StatusRejected {
		if strings.TrimSpace(order.RejectionReason) == "" {
			return fmt.Errorf("%w: rejected without reason", ErrInvariant)
		}
	} else if order.RejectionReason != "" {
		return fmt.Errorf("%w: reason on %s order", ErrInvariant, order.Status)
	}

	derived := DeriveStatus(order.Lines)
	switch order.Status {
	case StatusPending, StatusApproved, StatusPartial, StatusRejected:
		if derived != order.Status {
			return fmt.Errorf("%w: status %s but lines derive %s", ErrInvariant, order.Status, derived)
		}
	case StatusShipped, StatusCompleted:
		if derived != StatusApproved && derived != StatusPartial {
			return fmt.Errorf("%w: status %s but lines derive %s", ErrInvariant, order.Status, derived)
		}
	case StatusCancelled:
		if derived != StatusPending && derived != StatusRejected {
			return fmt.Errorf("%w: cancelled order with approved lines", ErrInvariant)
		}
	}
	return nil
}
