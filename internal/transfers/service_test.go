package transfers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/losses"
	"github.com/stocklane/stocklane/internal/masterdata/products"
	"github.com/stocklane/stocklane/internal/shared"
)

type memoryRepo struct {
	transfers map[int64]Transfer
	items     map[int64]Item
	levels    map[string]ledger.Level
	records   []losses.LossRecord
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		transfers: make(map[int64]Transfer),
		items:     make(map[int64]Item),
		levels:    make(map[string]ledger.Level),
	}
}

func levelKey(branchID, productID int64) string {
	return fmt.Sprintf("%d:%d", branchID, productID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Transfer, []Item, error) {
	transfer, ok := r.transfers[id]
	if !ok {
		return Transfer{}, nil, shared.ErrNotFound
	}
	var items []Item
	for _, item := range r.items {
		if item.TransferID == id {
			items = append(items, item)
		}
	}
	return transfer, items, nil
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Transfer, int, error) {
	var result []Transfer
	for _, t := range r.transfers {
		result = append(result, t)
	}
	return result, len(result), nil
}

func (r *memoryRepo) ListOverdue(ctx context.Context, asOf time.Time) ([]Transfer, error) {
	var result []Transfer
	for _, t := range r.transfers {
		if t.Status == StatusDispatched && t.ExpectedAt.Before(asOf) {
			t.Overdue = true
			result = append(result, t)
		}
	}
	return result, nil
}

func (tx *memoryTx) CreateTransfer(ctx context.Context, transfer Transfer) (int64, error) {
	tx.repo.nextID++
	transfer.ID = tx.repo.nextID
	tx.repo.transfers[transfer.ID] = transfer
	return transfer.ID, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.ID] = item
	return item.ID, nil
}

func (tx *memoryTx) UpdateItemReceipt(ctx context.Context, itemID int64, receivedQty, spoiledQty float64, notes string) error {
	item, ok := tx.repo.items[itemID]
	if !ok {
		return shared.ErrNotFound
	}
	item.ReceivedQty = receivedQty
	item.SpoiledQty = spoiledQty
	if notes != "" {
		item.Notes = notes
	}
	tx.repo.items[itemID] = item
	return nil
}

func (tx *memoryTx) TransitionStatus(ctx context.Context, transferID int64, from, to Status, at time.Time) (bool, error) {
	transfer, ok := tx.repo.transfers[transferID]
	if !ok || transfer.Status != from {
		return false, nil
	}
	transfer.Status = to
	switch to {
	case StatusDispatched:
		transfer.DispatchedAt = &at
	case StatusDelivered:
		transfer.DeliveredAt = &at
	case StatusConfirmed:
		transfer.ConfirmedAt = &at
	}
	tx.repo.transfers[transferID] = transfer
	return true, nil
}

func (tx *memoryTx) InsertLossRecord(ctx context.Context, record losses.LossRecord) (int64, error) {
	tx.repo.nextID++
	record.ID = tx.repo.nextID
	tx.repo.records = append(tx.repo.records, record)
	return record.ID, nil
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

type fakeProducts struct{}

func (fakeProducts) Get(ctx context.Context, id int64) (products.Product, error) {
	return products.Product{ID: id, PurchasePrice: 1500}, nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, fakeProducts{}, nil, nil, nil, nil)
}

func validCreate() CreateInput {
	return CreateInput{
		SourceID:   1,
		DestID:     2,
		ExpectedAt: time.Now().Add(24 * time.Hour),
		Items:      []CreateItem{{ProductID: 5, Qty: 10}},
	}
}

func TestCreateFreezesUnitCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	transfer, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	require.Equal(t, StatusPending, transfer.Status)
	require.Contains(t, transfer.Number, "TRF-")

	_, items, err := svc.Get(context.Background(), transfer.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.InDelta(t, 1500.0, items[0].UnitCost, 0.001)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	input := validCreate()
	input.DestID = input.SourceID
	_, err := svc.Create(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = validCreate()
	input.Items = nil
	_, err = svc.Create(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = validCreate()
	input.ExpectedAt = time.Now().Add(-time.Hour)
	_, err = svc.Create(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDispatchMovesNoStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	transfer, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	require.NoError(t, svc.Dispatch(ctx, transfer.ID, 1))
	require.Empty(t, repo.levels)

	err = svc.Dispatch(ctx, transfer.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestConfirmCreditsDestinationOnce(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	transfer, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, svc.Dispatch(ctx, transfer.ID, 1))

	// no explicit lines: full dispatched quantity arrives
	summary, err := svc.Confirm(ctx, transfer.ID, 1, nil)
	require.NoError(t, err)
	require.InDelta(t, 10.0, summary.ReceivedQty, 0.0001)
	require.InDelta(t, 10.0, repo.levels[levelKey(2, 5)].Qty, 0.0001)

	stored, _, err := svc.Get(ctx, transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, stored.Status)
	require.NotNil(t, stored.DeliveredAt)
	require.NotNil(t, stored.ConfirmedAt)

	// confirming again must not double-credit
	_, err = svc.Confirm(ctx, transfer.ID, 1, nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.InDelta(t, 10.0, repo.levels[levelKey(2, 5)].Qty, 0.0001)
}

func TestConfirmBooksTransitSpoilage(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	transfer, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, svc.Dispatch(ctx, transfer.ID, 1))
	require.NoError(t, svc.MarkDelivered(ctx, transfer.ID, 1))

	_, items, err := svc.Get(ctx, transfer.ID)
	require.NoError(t, err)

	summary, err := svc.Confirm(ctx, transfer.ID, 1, []ConfirmLine{
		{ItemID: items[0].ID, ReceivedQty: 9, SpoiledQty: 1},
	})
	require.NoError(t, err)
	require.InDelta(t, 8.0, summary.ReceivedQty, 0.0001)
	require.InDelta(t, 8.0, repo.levels[levelKey(2, 5)].Qty, 0.0001)
	require.Len(t, repo.records, 1)
	require.Equal(t, losses.LossTypeDamage, repo.records[0].Type)
}

func TestOverdueIsQueryTime(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	input := validCreate()
	input.ExpectedAt = time.Now().Add(time.Minute)
	transfer, err := svc.Create(ctx, input)
	require.NoError(t, err)
	require.NoError(t, svc.Dispatch(ctx, transfer.ID, 1))

	overdue, err := svc.ListOverdue(ctx)
	require.NoError(t, err)
	require.Empty(t, overdue)

	// move the clock past the expected arrival; no stored field changes
	svc.clock = func() time.Time { return time.Now().Add(2 * time.Minute) }
	overdue, err = svc.ListOverdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.True(t, overdue[0].Overdue)
	require.Equal(t, StatusDispatched, repo.transfers[transfer.ID].Status)
}
