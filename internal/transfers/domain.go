package transfers

import "time"

// Status is the transfer lifecycle state.
//
//	pending -> dispatched -> delivered -> confirmed
//
// Destination stock is credited exactly once, on confirmation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDispatched Status = "dispatched"
	StatusDelivered  Status = "delivered"
	StatusConfirmed  Status = "confirmed"
)

// Transfer moves stock between two branches. Unit costs are frozen at
// creation from the source branch's moving average, so the destination books
// the goods at the cost they actually carried.
type Transfer struct {
	ID           int64      `json:"id"`
	Number       string     `json:"number"`
	Status       Status     `json:"status"`
	SourceID     int64      `json:"source_branch_id"`
	DestID       int64      `json:"dest_branch_id"`
	Notes        string     `json:"notes,omitempty"`
	ExpectedAt   time.Time  `json:"expected_at"`
	CreatedBy    int64      `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	Overdue      bool       `json:"overdue,omitempty"`
}

// Item is one product line on a transfer.
type Item struct {
	ID          int64   `json:"id"`
	TransferID  int64   `json:"transfer_id"`
	ProductID   int64   `json:"product_id"`
	Qty         float64 `json:"qty"`
	UnitCost    float64 `json:"unit_cost"`
	ReceivedQty float64 `json:"received_qty"`
	SpoiledQty  float64 `json:"spoiled_qty"`
	Notes       string  `json:"notes,omitempty"`
}

// CreateInput describes a new transfer.
type CreateInput struct {
	SourceID   int64
	DestID     int64
	Notes      string
	ExpectedAt time.Time
	ActorID    int64
	Items      []CreateItem
}

// CreateItem is one requested line.
type CreateItem struct {
	ProductID int64
	Qty       float64
	Notes     string
}

// ConfirmLine reports the counted arrival for one transfer item. A missing
// line counts the full dispatched quantity as received.
type ConfirmLine struct {
	ItemID      int64
	ReceivedQty float64
	SpoiledQty  float64
	Notes       string
}

// ListFilters narrows transfer listings.
type ListFilters struct {
	SourceID int64
	DestID   int64
	Status   Status
	Limit    int
	Offset   int
}
