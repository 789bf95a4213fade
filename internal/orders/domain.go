package orders

import (
	"time"
)

// OrderType distinguishes where goods come from.
type OrderType string

const (
	// TypeVendorPurchase is a purchase placed with an external supplier.
	TypeVendorPurchase OrderType = "vendor_purchase"
	// TypeBranchRequest is an outlet requesting goods from the central branch.
	TypeBranchRequest OrderType = "branch_request"
	// TypeMaterialReceipt books goods that arrive outside a purchase flow,
	// such as production output or returns.
	TypeMaterialReceipt OrderType = "material_receipt"
)

func (t OrderType) Valid() bool {
	switch t {
	case TypeVendorPurchase, TypeBranchRequest, TypeMaterialReceipt:
		return true
	}
	return false
}

// Priority orders the fulfilment queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Status is the order lifecycle state.
//
//	draft -> sent -> confirmed -> received
//	draft|sent -> cancelled
//
// Stock moves exactly once, on the sent -> confirmed transition.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusConfirmed Status = "confirmed"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// Order is a replenishment document: a vendor purchase, an internal branch
// request or a material receipt.
type Order struct {
	ID             int64      `json:"id"`
	Number         string     `json:"number"`
	Type           OrderType  `json:"type"`
	Priority       Priority   `json:"priority"`
	Status         Status     `json:"status"`
	BranchID       int64      `json:"branch_id"`
	SupplierID     int64      `json:"supplier_id,omitempty"`
	SourceBranchID int64      `json:"source_branch_id,omitempty"`
	SourceRef      string     `json:"source_ref,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	TotalValue     float64    `json:"total_value"`
	ExpectedAt     time.Time  `json:"expected_at"`
	CreatedBy      int64      `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ApprovedBy     int64      `json:"approved_by,omitempty"`
	FulfilledAt    *time.Time `json:"fulfilled_at,omitempty"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CancelReason   string     `json:"cancel_reason,omitempty"`
}

// Item is one product line on an order. Fulfilment quantities stay zero until
// the order is confirmed.
type Item struct {
	ID           int64   `json:"id"`
	OrderID      int64   `json:"order_id"`
	ProductID    int64   `json:"product_id"`
	Qty          float64 `json:"qty"`
	UnitPrice    float64 `json:"unit_price"`
	FulfilledQty float64 `json:"fulfilled_qty"`
	SpoiledQty   float64 `json:"spoiled_qty"`
	WeightDiff   float64 `json:"weight_diff"`
	Notes        string  `json:"notes,omitempty"`
}

// CreateInput describes a new order.
type CreateInput struct {
	Type           OrderType
	Priority       Priority
	BranchID       int64
	SupplierID     int64
	SourceBranchID int64
	SourceRef      string
	Notes          string
	ExpectedAt     time.Time
	ActorID        int64
	Items          []CreateItem
}

// CreateItem is one requested line.
type CreateItem struct {
	ProductID int64
	Qty       float64
	UnitPrice float64
	Notes     string
}

// FulfillLine reports the counted outcome for one order item.
type FulfillLine struct {
	ItemID       int64
	FulfilledQty float64
	SpoiledQty   float64
	WeightDiff   float64
	ExpiresAt    time.Time
	Notes        string
}

// ListFilters narrows order listings.
type ListFilters struct {
	BranchID int64
	Type     OrderType
	Status   Status
	Priority Priority
	Limit    int
	Offset   int
}
