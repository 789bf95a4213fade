package losses

import "time"

// LossType classifies why stock left the shelf without being sold.
type LossType string

const (
	LossTypeDamage  LossType = "damage"
	LossTypeWastage LossType = "wastage"
	LossTypeExpiry  LossType = "expiry"
	LossTypeTheft   LossType = "theft"
	LossTypeOther   LossType = "other"
)

// Valid reports whether the loss type is one of the known values.
func (t LossType) Valid() bool {
	switch t {
	case LossTypeDamage, LossTypeWastage, LossTypeExpiry, LossTypeTheft, LossTypeOther:
		return true
	}
	return false
}

// LossRecord is an append-only write-off. Records are never updated or
// deleted; corrections are booked as new records.
type LossRecord struct {
	ID         int64     `json:"id"`
	BranchID   int64     `json:"branch_id"`
	ProductID  int64     `json:"product_id"`
	BatchCode  string    `json:"batch_code,omitempty"`
	Qty        float64   `json:"qty"`
	UnitCost   float64   `json:"unit_cost"`
	TotalValue float64   `json:"total_value"`
	Type       LossType  `json:"type"`
	Notes      string    `json:"notes"`
	RefModule  string    `json:"ref_module"`
	RefID      string    `json:"ref_id"`
	ActorID    int64     `json:"actor_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordInput carries the fields needed to book a loss.
type RecordInput struct {
	BranchID  int64
	ProductID int64
	BatchCode string
	Qty       float64
	Type      LossType
	Notes     string
	RefModule string
	RefID     string
	ActorID   int64
}

// ListFilters narrows loss listings.
type ListFilters struct {
	BranchID  int64
	ProductID int64
	Type      LossType
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}
