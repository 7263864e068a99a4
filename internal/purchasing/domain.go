package purchasing

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder is a goods request from a franchise branch to headquarters.
type PurchaseOrder struct {
	ID              int64           `json:"id"`
	Number          string          `json:"number"`
	BranchID        int64           `json:"branch_id"`
	Status          Status          `json:"status"`
	Lines           []OrderLine     `json:"lines"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Version         int64           `json:"version"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderLine is one product entry of a purchase order.
type OrderLine struct {
	ID                int64           `json:"id"`
	LineNo            int             `json:"line_no"`
	ProductID         int64           `json:"product_id"`
	ProductName       string          `json:"product_name"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	RequestedQuantity int64           `json:"requested_quantity"`
	ApprovedQuantity  *int64          `json:"approved_quantity"`
	Subtotal          decimal.Decimal `json:"subtotal"`
}

// HasApproval reports whether headquarters decided on this line.
func (l OrderLine) HasApproval() bool {
	return l.ApprovedQuantity != nil
}

// EffectiveQuantity is the approved quantity once decided, else the requested one.
func (l OrderLine) EffectiveQuantity() int64 {
	if l.ApprovedQuantity != nil {
		return *l.ApprovedQuantity
	}
	return l.RequestedQuantity
}

func (l OrderLine) computeSubtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.EffectiveQuantity()))
}

// Clone returns a deep copy so callers can mutate without aliasing lines.
func (o PurchaseOrder) Clone() PurchaseOrder {
	out := o
	out.Lines = make([]OrderLine, len(o.Lines))
	for i, line := range o.Lines {
		if line.ApprovedQuantity != nil {
			qty := *line.ApprovedQuantity
			line.ApprovedQuantity = &qty
		}
		out.Lines[i] = line
	}
	return out
}

// Provisional reports whether the order figures are still based on requested quantities.
func (o PurchaseOrder) Provisional() bool {
	for _, line := range o.Lines {
		if !line.HasApproval() {
			return true
		}
	}
	return false
}

// TotalQuantity sums effective quantities across lines.
func (o PurchaseOrder) TotalQuantity() int64 {
	var total int64
	for _, line := range o.Lines {
		total += line.EffectiveQuantity()
	}
	return total
}

// Line finds a line by id.
func (o PurchaseOrder) Line(id int64) (OrderLine, bool) {
	for _, line := range o.Lines {
		if line.ID == id {
			return line, true
		}
	}
	return OrderLine{}, false
}

// recalculate refreshes every subtotal and the order total from line state.
func (o *PurchaseOrder) recalculate() {
	total := decimal.Zero
	for i := range o.Lines {
		o.Lines[i].Subtotal = o.Lines[i].computeSubtotal()
		total = total.Add(o.Lines[i].Subtotal)
	}
	o.TotalPrice = total
}

func int64Ptr(v int64) *int64 {
	return &v
}
