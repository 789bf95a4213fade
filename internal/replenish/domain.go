package replenish

import "time"

// AlertStatus tracks whether an alert still needs attention.
type AlertStatus string

const (
	AlertOpen     AlertStatus = "open"
	AlertOrdered  AlertStatus = "ordered"
	AlertResolved AlertStatus = "resolved"
)

// ExpiryAlert flags a perishable batch approaching its shelf-life boundary.
// At most one open alert exists per (branch, product, batch).
type ExpiryAlert struct {
	ID        int64       `json:"id"`
	BranchID  int64       `json:"branch_id"`
	ProductID int64       `json:"product_id"`
	BatchID   int64       `json:"batch_id"`
	Qty       float64     `json:"qty"`
	ExpiresAt time.Time   `json:"expires_at"`
	Status    AlertStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// ReorderAlert flags a (branch, product) whose level fell below the reorder
// threshold. At most one open alert exists per key.
type ReorderAlert struct {
	ID        int64       `json:"id"`
	BranchID  int64       `json:"branch_id"`
	ProductID int64       `json:"product_id"`
	Qty       float64     `json:"qty"`
	Threshold float64     `json:"threshold"`
	Status    AlertStatus `json:"status"`
	OrderID   int64       `json:"order_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// PriceAdjustment is an automatic near-expiry markdown on one batch.
type PriceAdjustment struct {
	ID          int64      `json:"id"`
	BatchID     int64      `json:"batch_id"`
	BranchID    int64      `json:"branch_id"`
	ProductID   int64      `json:"product_id"`
	DiscountPct float64    `json:"discount_pct"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
}

// BatchInfo is the slice of a stock batch the scheduler passes work with.
type BatchInfo struct {
	BatchID     int64
	BranchID    int64
	ProductID   int64
	Qty         float64
	ExpiresAt   time.Time
	DiscountPct float64
}

// ReorderCandidate pairs a low level with its product threshold.
type ReorderCandidate struct {
	BranchID  int64
	ProductID int64
	Qty       float64
	Threshold float64
}

// CycleResult counts the actions of one full replenishment cycle.
type CycleResult struct {
	ExpiryAlerts      int `json:"expiry_alerts"`
	DiscountsApplied  int `json:"discounts_applied"`
	DiscountsExpired  int `json:"discounts_expired"`
	ReorderAlerts     int `json:"reorder_alerts"`
	AutoOrdersCreated int `json:"auto_orders_created"`
}
