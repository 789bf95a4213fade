package ledger

import (
	"time"
)

// Level summarises on-hand stock for a product at a branch. SellingPrice, when
// set, overrides the product's list price for this branch only.
type Level struct {
	BranchID     int64     `json:"branch_id"`
	ProductID    int64     `json:"product_id"`
	Qty          float64   `json:"qty"`
	AvgCost      float64   `json:"avg_cost"`
	SellingPrice float64   `json:"selling_price,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Movement is one journal entry in the stock ledger. Every change to a level
// leaves exactly one movement behind.
type Movement struct {
	ID           int64     `json:"id"`
	BranchID     int64     `json:"branch_id"`
	ProductID    int64     `json:"product_id"`
	QtyChange    float64   `json:"qty_change"`
	UnitCost     float64   `json:"unit_cost"`
	BalanceAfter float64   `json:"balance_after"`
	Reason       string    `json:"reason"`
	RefModule    string    `json:"ref_module"`
	RefID        string    `json:"ref_id"`
	ActorID      int64     `json:"actor_id"`
	PostedAt     time.Time `json:"posted_at"`
}

// Batch tracks a perishable intake lot so expiry can be watched per receipt.
type Batch struct {
	ID           int64      `json:"id"`
	BranchID     int64      `json:"branch_id"`
	ProductID    int64      `json:"product_id"`
	BatchCode    string     `json:"batch_code"`
	Qty          float64    `json:"qty"`
	UnitCost     float64    `json:"unit_cost"`
	ExpiresAt    time.Time  `json:"expires_at"`
	DiscountPct  float64    `json:"discount_pct"`
	DiscountedAt *time.Time `json:"discounted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AdjustInput describes a single stock adjustment.
//
// Delta may be positive (intake) or negative (consumption, sale, loss).
// Force lets callers push a level below zero; only loss recording uses it,
// so shrinkage found during stock opname can still be booked.
type AdjustInput struct {
	BranchID     int64
	ProductID    int64
	Delta        float64
	UnitCost     float64
	SellingPrice float64
	Reason       string
	RefModule    string
	RefID        string
	ActorID      int64
	Force        bool
	BatchCode    string
	ExpiresAt    time.Time
}

// MovementFilter narrows journal queries.
type MovementFilter struct {
	BranchID  int64
	ProductID int64
	RefModule string
	From      time.Time
	To        time.Time
	Limit     int
}
