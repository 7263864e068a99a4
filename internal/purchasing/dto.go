package purchasing

import (
	"github.com/shopspring/decimal"

	"github.com/franchise-ops/franchise-console/internal/shared"
)

// CreateOrderRequest is the JSON body of POST /orders.
type CreateOrderRequest struct {
	BranchID int64               `json:"branch_id" validate:"omitempty,gt=0"`
	Lines    []CreateLineRequest `json:"lines" validate:"dive"`
}

// CreateLineRequest is one requested product.
type CreateLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required"`
	Quantity  int64 `json:"quantity"`
}

// VersionRequest carries the optimistic concurrency token of a transition.
type VersionRequest struct {
	Version int64 `json:"version" validate:"required,gt=0"`
}

// PartialApproveRequest is the JSON body of POST /orders/{id}/partial-approve.
type PartialApproveRequest struct {
	Version   int64                 `json:"version" validate:"required,gt=0"`
	Approvals []LineApprovalRequest `json:"approvals" validate:"dive"`
}

// LineApprovalRequest approves a quantity on one line.
type LineApprovalRequest struct {
	LineID           int64 `json:"line_id" validate:"required,gt=0"`
	ApprovedQuantity int64 `json:"approved_quantity"`
}

// RejectRequest is the JSON body of POST /orders/{id}/reject.
type RejectRequest struct {
	Version int64  `json:"version" validate:"required,gt=0"`
	Reason  string `json:"reason" validate:"max=500"`
}

// OrderResponse decorates an order with what the caller may do next.
type OrderResponse struct {
	PurchaseOrder
	StatusLabel    string   `json:"status_label"`
	Provisional    bool     `json:"provisional"`
	AllowedActions []Action `json:"allowed_actions"`
}

// OrderListResponse is one page of decorated orders.
type OrderListResponse struct {
	Items      []OrderResponse   `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
	TotalPrice decimal.Decimal   `json:"total_price"`
}
