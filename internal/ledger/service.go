package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLevel(ctx context.Context, branchID, productID int64) (Level, error)
	ListLevels(ctx context.Context, branchID int64) ([]Level, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock ledger operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	clock func() time.Time
}

func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

// Adjust applies a single delta to one (branch, product) level inside its own
// transaction. Documents that post stock together with their own rows should
// call Apply inside their transaction instead.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Movement, error) {
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = Apply(ctx, tx, input, s.now())
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger.adjust",
			Entity:   "stock_level",
			EntityID: fmt.Sprintf("%d:%d", input.BranchID, input.ProductID),
			Meta: map[string]any{
				"delta":      input.Delta,
				"reason":     input.Reason,
				"ref_module": input.RefModule,
				"forced":     input.Force,
			},
		})
	}
	return movement, nil
}

func (s *Service) GetLevel(ctx context.Context, branchID, productID int64) (Level, error) {
	if branchID == 0 || productID == 0 {
		return Level{}, fmt.Errorf("%w: branch and product required", shared.ErrValidation)
	}
	return s.repo.GetLevel(ctx, branchID, productID)
}

func (s *Service) ListLevels(ctx context.Context, branchID int64) ([]Level, error) {
	if branchID == 0 {
		return nil, fmt.Errorf("%w: branch required", shared.ErrValidation)
	}
	return s.repo.ListLevels(ctx, branchID)
}

func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

const qtyEpsilon = 1e-4

// Apply performs the read-modify-write for one adjustment against an open
// transaction. The level row is locked for the duration, so concurrent
// adjustments to the same pair serialise instead of lost-updating each other.
//
// A negative delta that would push the level below zero fails with
// shared.ErrInsufficientStock unless Force is set. Forced debits may leave a
// negative level; recording a known loss must never be blocked by a ledger
// that already disagrees with the shelf.
func Apply(ctx context.Context, tx TxRepository, input AdjustInput, now time.Time) (Movement, error) {
	if input.BranchID == 0 || input.ProductID == 0 {
		return Movement{}, fmt.Errorf("%w: branch and product required", shared.ErrValidation)
	}
	if math.Abs(input.Delta) < qtyEpsilon {
		return Movement{}, fmt.Errorf("%w: quantity delta must be non-zero", shared.ErrValidation)
	}
	if input.Delta > 0 && input.UnitCost < 0 {
		return Movement{}, fmt.Errorf("%w: unit cost must be >= 0", shared.ErrValidation)
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return Movement{}, fmt.Errorf("%w: invalid ref id", shared.ErrValidation)
		}
	}

	level, err := tx.GetLevelForUpdate(ctx, input.BranchID, input.ProductID)
	if err != nil && !errors.Is(err, ErrLevelNotFound) {
		return Movement{}, err
	}

	newQty := level.Qty + input.Delta
	if newQty < -qtyEpsilon && !input.Force {
		return Movement{}, fmt.Errorf("%w: have %.3f, need %.3f", shared.ErrInsufficientStock, level.Qty, -input.Delta)
	}
	if math.Abs(newQty) < qtyEpsilon {
		newQty = 0
	}

	var unitCost, newAvg float64
	if input.Delta > 0 {
		unitCost = input.UnitCost
		totalCost := level.Qty*level.AvgCost + input.Delta*unitCost
		if newQty != 0 {
			newAvg = totalCost / newQty
		}
	} else {
		unitCost = level.AvgCost
		if newQty <= 0 {
			newAvg = 0
		} else {
			newAvg = level.AvgCost
		}
	}

	movement := Movement{
		BranchID:     input.BranchID,
		ProductID:    input.ProductID,
		QtyChange:    input.Delta,
		UnitCost:     unitCost,
		BalanceAfter: newQty,
		Reason:       input.Reason,
		RefModule:    input.RefModule,
		RefID:        input.RefID,
		ActorID:      input.ActorID,
		PostedAt:     now,
	}
	movementID, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, err
	}
	movement.ID = movementID

	level.Qty = newQty
	level.AvgCost = newAvg
	if input.SellingPrice > 0 {
		level.SellingPrice = input.SellingPrice
	}
	if err := tx.UpsertLevel(ctx, level); err != nil {
		return Movement{}, err
	}

	if input.Delta > 0 && (!input.ExpiresAt.IsZero() || input.BatchCode != "") {
		batch := Batch{
			BranchID:  input.BranchID,
			ProductID: input.ProductID,
			BatchCode: input.BatchCode,
			Qty:       input.Delta,
			UnitCost:  unitCost,
			ExpiresAt: input.ExpiresAt.UTC(),
		}
		if batch.BatchCode == "" {
			batch.BatchCode = fmt.Sprintf("B%d-%d", input.ProductID, now.UnixNano())
		}
		if err := tx.InsertBatch(ctx, batch); err != nil {
			return Movement{}, err
		}
	}
	return movement, nil
}
