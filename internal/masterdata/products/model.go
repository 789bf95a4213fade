package products

import "time"

// Product is a sellable or consumable item tracked in the stock ledger.
//
// Perishable products carry a shelf life in days; the replenishment cycle
// uses it together with batch expiry dates to raise alerts and discounts.
// LowStockThreshold drives reorder alerts and automatic purchase orders.
type Product struct {
	ID                int64     `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	Unit              string    `json:"unit"`
	PurchasePrice     float64   `json:"purchase_price"`
	SellingPrice      float64   `json:"selling_price"`
	Perishable        bool      `json:"perishable"`
	ShelfLifeDays     int       `json:"shelf_life_days"`
	LowStockThreshold float64   `json:"low_stock_threshold"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
