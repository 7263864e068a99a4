package purchasing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExportRow is one line of the tabular order projection.
type ExportRow struct {
	OrderID           int64
	OrderNumber       string
	BranchID          int64
	LineNo            int
	ProductID         int64
	ProductName       string
	RequestedQuantity int64
	ApprovedQuantity  *int64
	UnitPrice         decimal.Decimal
	Subtotal          decimal.Decimal
	OrderTotal        decimal.Decimal
	Status            Status
	StatusLabel       string
	Provisional       bool
	RejectionReason   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExportRows flattens an order into one row per line.
func ExportRows(order PurchaseOrder) []ExportRow {
	rows := make([]ExportRow, 0, len(order.Lines))
	for _, line := range order.Lines {
		var approved *int64
		if line.ApprovedQuantity != nil {
			approved = int64Ptr(*line.ApprovedQuantity)
		}
		rows = append(rows, ExportRow{
			OrderID:           order.ID,
			OrderNumber:       order.Number,
			BranchID:          order.BranchID,
			LineNo:            line.LineNo,
			ProductID:         line.ProductID,
			ProductName:       line.ProductName,
			RequestedQuantity: line.RequestedQuantity,
			ApprovedQuantity:  approved,
			UnitPrice:         line.UnitPrice,
			Subtotal:          line.Subtotal,
			OrderTotal:        order.TotalPrice,
			Status:            order.Status,
			StatusLabel:       order.Status.Label(),
			Provisional:       !line.HasApproval(),
			RejectionReason:   order.RejectionReason,
			CreatedAt:         order.CreatedAt,
			UpdatedAt:         order.UpdatedAt,
		})
	}
	return rows
}
