package purchasing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxLineQuantity caps the quantity of a single requested line.
const MaxLineQuantity int64 = 1_000_000

// maxOrderTotal is the largest amount the NUMERIC(16,2) price columns hold.
var maxOrderTotal = decimal.RequireFromString("99999999999999.99")

// CatalogItem is a product registered to a branch catalog, priced at lookup time.
type CatalogItem struct {
	ProductID int64
	BranchID  int64
	Name      string
	UnitPrice decimal.Decimal
}

// CatalogPort resolves a branch catalog snapshot.
type CatalogPort interface {
	BranchProducts(ctx context.Context, branchID int64, productIDs []int64) (map[int64]CatalogItem, error)
}

// RequestedLine is one requested product and quantity.
type RequestedLine struct {
	ProductID int64
	Quantity  int64
}

// OrderDraft is a validated, not yet persisted order.
type OrderDraft struct {
	BranchID   int64
	Lines      []OrderLine
	TotalPrice decimal.Decimal
	Status     Status
}

// IntakeValidator checks new order requests against the branch catalog.
type IntakeValidator struct {
	catalog CatalogPort
}

// NewIntakeValidator constructs the validator.
func NewIntakeValidator(catalog CatalogPort) *IntakeValidator {
	return &IntakeValidator{catalog: catalog}
}

// Validate checks the request and freezes catalog prices onto the lines.
// Checks short-circuit in order: lines present, products known, quantities positive.
func (v *IntakeValidator) Validate(ctx context.Context, branchID int64, requested []RequestedLine) (OrderDraft, error) {
	if branchID <= 0 {
		return OrderDraft{}, fmt.Errorf("%w: branch is required", ErrValidation)
	}
	if len(requested) == 0 {
		return OrderDraft{}, fmt.Errorf("%w: at least one line is required", ErrValidation)
	}

	ids := make([]int64, 0, len(requested))
	for _, line := range requested {
		ids = append(ids, line.ProductID)
	}
	items, err := v.catalog.BranchProducts(ctx, branchID, ids)
	if err != nil {
		return OrderDraft{}, fmt.Errorf("purchasing: load catalog: %w", err)
	}
	for _, line := range requested {
		item, ok := items[line.ProductID]
		if !ok || item.BranchID != branchID {
			return OrderDraft{}, &UnknownProductError{ProductID: line.ProductID}
		}
	}
	seen := make(map[int64]struct{}, len(requested))
	for i, line := range requested {
		if line.Quantity <= 0 {
			return OrderDraft{}, &LineError{Position: i + 1, Quantity: line.Quantity, Err: fmt.Errorf("%w: quantity must be greater than zero", ErrValidation)}
		}
		if line.Quantity > MaxLineQuantity {
			return OrderDraft{}, &LineError{Position: i + 1, Quantity: line.Quantity, Err: fmt.Errorf("%w: quantity must not exceed %d", ErrValidation, MaxLineQuantity)}
		}
		if _, dup := seen[line.ProductID]; dup {
			return OrderDraft{}, &LineError{Position: i + 1, Err: fmt.Errorf("%w: product %d requested twice", ErrValidation, line.ProductID)}
		}
		seen[line.ProductID] = struct{}{}
	}

	draft := OrderDraft{BranchID: branchID, Status: StatusPending, Lines: make([]OrderLine, 0, len(requested))}
	total := decimal.Zero
	for i, line := range requested {
		item := items[line.ProductID]
		ol := OrderLine{
			LineNo:            i + 1,
			ProductID:         line.ProductID,
			ProductName:       item.Name,
			UnitPrice:         item.UnitPrice,
			RequestedQuantity: line.Quantity,
		}
		ol.Subtotal = ol.computeSubtotal()
		total = total.Add(ol.Subtotal)
		draft.Lines = append(draft.Lines, ol)
	}
	if total.GreaterThan(maxOrderTotal) {
		return OrderDraft{}, fmt.Errorf("%w: order total %s exceeds %s", ErrValidation, total.StringFixed(2), maxOrderTotal.StringFixed(2))
	}
	draft.TotalPrice = total
	return draft, nil
}

// Order turns the draft into a version-1 pending order.
func (d OrderDraft) Order(createdBy int64, number string, now time.Time) PurchaseOrder {
	now = now.UTC().Truncate(time.Microsecond)
	lines := make([]OrderLine, len(d.Lines))
	copy(lines, d.Lines)
	return PurchaseOrder{
		Number:     number,
		BranchID:   d.BranchID,
		Status:     StatusPending,
		Lines:      lines,
		TotalPrice: d.TotalPrice,
		Version:    1,
		CreatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
