package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/shared"
)

type memoryRepo struct {
	levels    map[string]Level
	movements []Movement
	batches   []Batch
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{levels: make(map[string]Level)}
}

func levelKey(branchID, productID int64) string {
	return fmt.Sprintf("%d:%d", branchID, productID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetLevel(ctx context.Context, branchID, productID int64) (Level, error) {
	if level, ok := r.levels[levelKey(branchID, productID)]; ok {
		return level, nil
	}
	return Level{BranchID: branchID, ProductID: productID}, nil
}

func (r *memoryRepo) ListLevels(ctx context.Context, branchID int64) ([]Level, error) {
	var levels []Level
	for _, level := range r.levels {
		if level.BranchID == branchID {
			levels = append(levels, level)
		}
	}
	return levels, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	result := make([]Movement, len(r.movements))
	copy(result, r.movements)
	return result, nil
}

func (tx *memoryTx) GetLevelForUpdate(ctx context.Context, branchID, productID int64) (Level, error) {
	if level, ok := tx.repo.levels[levelKey(branchID, productID)]; ok {
		return level, nil
	}
	return Level{BranchID: branchID, ProductID: productID}, ErrLevelNotFound
}

func (tx *memoryTx) UpsertLevel(ctx context.Context, level Level) error {
	tx.repo.levels[levelKey(level.BranchID, level.ProductID)] = level
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	tx.repo.nextID++
	movement.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, movement)
	return movement.ID, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) error {
	tx.repo.batches = append(tx.repo.batches, batch)
	return nil
}

func TestAdjustMovingAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	m, err := svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 1, Delta: 10, UnitCost: 100000, Reason: "intake"})
	require.NoError(t, err)
	require.InDelta(t, 10.0, m.BalanceAfter, 0.0001)

	m, err = svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 1, Delta: 5, UnitCost: 120000, Reason: "intake"})
	require.NoError(t, err)
	require.InDelta(t, 15.0, m.BalanceAfter, 0.0001)

	level, err := svc.GetLevel(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 106666.6667, level.AvgCost, 0.1)

	m, err = svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 1, Delta: -8, Reason: "sale"})
	require.NoError(t, err)
	require.InDelta(t, 7.0, m.BalanceAfter, 0.0001)
	require.InDelta(t, 106666.6667, m.UnitCost, 0.1)
}

func TestAdjustInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 1, Delta: 3, UnitCost: 5000, Reason: "intake"})
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 1, Delta: -5, Reason: "sale"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// the failed debit must leave no trace
	level, err := svc.GetLevel(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 3.0, level.Qty, 0.0001)
	require.Len(t, repo.movements, 1)
}

func TestAdjustForceAllowsNegative(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	m, err := svc.Adjust(ctx, AdjustInput{BranchID: 2, ProductID: 9, Delta: -4, Reason: "shrinkage", Force: true})
	require.NoError(t, err)
	require.InDelta(t, -4.0, m.BalanceAfter, 0.0001)
}

func TestAdjustRejectsZeroDelta(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)

	_, err := svc.Adjust(context.Background(), AdjustInput{BranchID: 1, ProductID: 1, Delta: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdjustRecordsExpiryBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	expiry := time.Now().Add(72 * time.Hour)
	_, err := svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 1, Delta: 6, UnitCost: 2500, Reason: "intake", ExpiresAt: expiry})
	require.NoError(t, err)
	require.Len(t, repo.batches, 1)
	require.InDelta(t, 6.0, repo.batches[0].Qty, 0.0001)
	require.NotEmpty(t, repo.batches[0].BatchCode)
	require.InDelta(t, 2500.0, repo.batches[0].UnitCost, 0.0001)

	// a caller-supplied code is kept as is
	_, err = svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 2, Delta: 3, UnitCost: 900, Reason: "intake", BatchCode: "LOT-7"})
	require.NoError(t, err)
	require.Len(t, repo.batches, 2)
	require.Equal(t, "LOT-7", repo.batches[1].BatchCode)

	// consumption does not create batches
	_, err = svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 1, Delta: -2, Reason: "sale"})
	require.NoError(t, err)
	require.Len(t, repo.batches, 2)
}

func TestAdjustSellingPriceOverride(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 1, Delta: 5, UnitCost: 1000, SellingPrice: 1500, Reason: "intake"})
	require.NoError(t, err)
	level, err := svc.GetLevel(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 1500.0, level.SellingPrice, 0.0001)

	// a later posting without a price keeps the override
	_, err = svc.Adjust(ctx, AdjustInput{BranchID: 1, ProductID: 1, Delta: -1, Reason: "sale"})
	require.NoError(t, err)
	level, err = svc.GetLevel(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 1500.0, level.SellingPrice, 0.0001)
}
