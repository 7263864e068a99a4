package purchasing

import (
	"fmt"
	"sort"
)

// Reconcile applies per-line approved quantities and derives the resulting status.
// Lines absent from approvals are approved at zero. The input order is not modified.
func Reconcile(order PurchaseOrder, approvals map[int64]int64) (PurchaseOrder, error) {
	if len(order.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: order has no lines", ErrValidation)
	}
	if unknown := unknownLineIDs(order, approvals); len(unknown) > 0 {
		return PurchaseOrder{}, &LineError{LineID: unknown[0], Err: ErrValidation}
	}

	next := order.Clone()
	for i := range next.Lines {
		line := &next.Lines[i]
		qty := approvals[line.ID]
		if qty < 0 || qty > line.RequestedQuantity {
			return PurchaseOrder{}, &LineError{
				Position:  i + 1,
				LineID:    line.ID,
				Quantity:  qty,
				Requested: line.RequestedQuantity,
				Err:       ErrQuantityOutOfRange,
			}
		}
		line.ApprovedQuantity = int64Ptr(qty)
	}

	status := DeriveStatus(next.Lines)
	if status == StatusRejected {
		return PurchaseOrder{}, ErrUseRejectInstead
	}
	next.recalculate()
	next.Status = status
	next.RejectionReason = ""
	return next, nil
}

// DeriveStatus computes the status implied by line approvals alone.
// It returns an empty status when some lines are decided and others are not.
func DeriveStatus(lines []OrderLine) Status {
	var pending, full, zero int
	for _, line := range lines {
		switch {
		case line.ApprovedQuantity == nil:
			pending++
		case *line.ApprovedQuantity == line.RequestedQuantity:
			full++
		case *line.ApprovedQuantity == 0:
			zero++
		}
	}
	switch {
	case pending == len(lines):
		return StatusPending
	case pending > 0:
		return ""
	case full == len(lines):
		return StatusApproved
	case zero == len(lines):
		return StatusRejected
	default:
		return StatusPartial
	}
}

func unknownLineIDs(order PurchaseOrder, approvals map[int64]int64) []int64 {
	var unknown []int64
	for id := range approvals {
		if _, ok := order.Line(id); !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	return unknown
}
