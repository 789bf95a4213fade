package losses

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/shared"
)

type memoryRepo struct {
	levels  map[string]ledger.Level
	records []LossRecord
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{levels: make(map[string]ledger.Level)}
}

func levelKey(branchID, productID int64) string {
	return fmt.Sprintf("%d:%d", branchID, productID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]LossRecord, error) {
	result := make([]LossRecord, len(r.records))
	copy(result, r.records)
	return result, nil
}

func (tx *memoryTx) GetLevelForUpdate(ctx context.Context, branchID, productID int64) (ledger.Level, error) {
	if level, ok := tx.repo.levels[levelKey(branchID, productID)]; ok {
		return level, nil
	}
	return ledger.Level{BranchID: branchID, ProductID: productID}, ledger.ErrLevelNotFound
}

func (tx *memoryTx) UpsertLevel(ctx context.Context, level ledger.Level) error {
	tx.repo.levels[levelKey(level.BranchID, level.ProductID)] = level
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement ledger.Movement) (int64, error) {
	tx.repo.nextID++
	return tx.repo.nextID, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch ledger.Batch) error {
	return nil
}

func (tx *memoryTx) InsertLoss(ctx context.Context, record LossRecord) (int64, error) {
	tx.repo.nextID++
	record.ID = tx.repo.nextID
	tx.repo.records = append(tx.repo.records, record)
	return record.ID, nil
}

func (r *memoryRepo) setLevel(branchID, productID int64, qty, avgCost float64) {
	r.levels[levelKey(branchID, productID)] = ledger.Level{BranchID: branchID, ProductID: productID, Qty: qty, AvgCost: avgCost}
}

func TestRecordDebitsLedgerAtAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	repo.setLevel(1, 7, 10, 4500)
	svc := NewService(repo, nil, nil)

	record, err := svc.Record(context.Background(), RecordInput{
		BranchID:  1,
		ProductID: 7,
		Qty:       3,
		Type:      LossTypeDamage,
		Notes:     "dropped crate",
	})
	require.NoError(t, err)
	require.InDelta(t, 4500.0, record.UnitCost, 0.001)
	require.InDelta(t, 13500.0, record.TotalValue, 0.001)
	require.InDelta(t, 7.0, repo.levels[levelKey(1, 7)].Qty, 0.0001)
	require.Len(t, repo.records, 1)
}

func TestRecordForcesNegativeLevel(t *testing.T) {
	repo := newMemoryRepo()
	repo.setLevel(1, 7, 2, 1000)
	svc := NewService(repo, nil, nil)

	_, err := svc.Record(context.Background(), RecordInput{
		BranchID:  1,
		ProductID: 7,
		Qty:       5,
		Type:      LossTypeTheft,
	})
	require.NoError(t, err)
	require.InDelta(t, -3.0, repo.levels[levelKey(1, 7)].Qty, 0.0001)
}

func TestRecordValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{BranchID: 1, ProductID: 1, Qty: 0, Type: LossTypeDamage})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Record(ctx, RecordInput{BranchID: 1, ProductID: 1, Qty: 1, Type: "melted"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Record(ctx, RecordInput{ProductID: 1, Qty: 1, Type: LossTypeDamage})
	require.ErrorIs(t, err, shared.ErrValidation)
}
