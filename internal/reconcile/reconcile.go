// Package reconcile turns the physically counted quantities of an incoming
// delivery into ledger credits and loss records. Orders and transfers both
// run it inside their own database transaction, so the document state, the
// stock credits and any damage write-offs commit or roll back as one unit.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/stocklane/stocklane/internal/shared"
)

// Ref identifies the document being received.
type Ref struct {
	Module   string
	ID       string
	BranchID int64
	ActorID  int64
}

// Line is one counted product of a delivery. FulfilledQty is what the sender
// shipped, SpoiledQty what arrived unusable. WeightDiff captures shrinkage on
// weight-based goods and is informational only.
type Line struct {
	ProductID    int64
	FulfilledQty float64
	SpoiledQty   float64
	WeightDiff   float64
	UnitCost     float64
	ExpiresAt    time.Time
	Notes        string
}

// Tx is the slice of a document transaction that reconciliation needs.
type Tx interface {
	CreditStock(ctx context.Context, ref Ref, line Line, receivedQty float64) error
	BookLoss(ctx context.Context, ref Ref, line Line) error
}

// Summary reports what a reconciliation run did. ReceivedValue is the cost
// value of the usable quantities, used to restate document totals.
type Summary struct {
	LinesCredited int
	ReceivedQty   float64
	ReceivedValue float64
	SpoiledQty    float64
	LossesBooked  int
}

// Apply credits every usable quantity and books a loss for every spoiled one.
// The received quantity is fulfilled minus spoiled, floored at zero: a line
// that arrived fully spoiled credits nothing but still gets its write-off.
func Apply(ctx context.Context, tx Tx, ref Ref, lines []Line) (Summary, error) {
	var summary Summary
	for i, line := range lines {
		if line.ProductID == 0 {
			return Summary{}, fmt.Errorf("%w: line %d: product required", shared.ErrValidation, i)
		}
		if line.FulfilledQty < 0 {
			return Summary{}, fmt.Errorf("%w: line %d: fulfilled quantity cannot be negative", shared.ErrValidation, i)
		}
		if line.SpoiledQty < 0 {
			return Summary{}, fmt.Errorf("%w: line %d: spoiled quantity cannot be negative", shared.ErrValidation, i)
		}

		received := line.FulfilledQty - line.SpoiledQty
		if received < 0 {
			received = 0
		}
		if received > 0 {
			if err := tx.CreditStock(ctx, ref, line, received); err != nil {
				return Summary{}, fmt.Errorf("credit line %d: %w", i, err)
			}
			summary.LinesCredited++
			summary.ReceivedQty += received
			summary.ReceivedValue += received * line.UnitCost
		}
		if line.SpoiledQty > 0 {
			if err := tx.BookLoss(ctx, ref, line); err != nil {
				return Summary{}, fmt.Errorf("book loss line %d: %w", i, err)
			}
			summary.LossesBooked++
			summary.SpoiledQty += line.SpoiledQty
		}
	}
	return summary, nil
}
