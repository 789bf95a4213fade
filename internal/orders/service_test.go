package orders

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
	orders  map[int64]Order
	items   map[int64]Item
	levels  map[string]ledger.Level
	records []losses.LossRecord
	nextID  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders: make(map[int64]Order),
		items:  make(map[int64]Item),
		levels: make(map[string]ledger.Level),
	}
}

func levelKey(branchID, productID int64) string {
	return fmt.Sprintf("%d:%d", branchID, productID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Order, []Item, error) {
	order, ok := r.orders[id]
	if !ok {
		return Order{}, nil, shared.ErrNotFound
	}
	var items []Item
	for _, item := range r.items {
		if item.OrderID == id {
			items = append(items, item)
		}
	}
	return order, items, nil
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Order, int, error) {
	var result []Order
	for _, order := range r.orders {
		result = append(result, order)
	}
	return result, len(result), nil
}

func (tx *memoryTx) CreateOrder(ctx context.Context, order Order) (int64, error) {
	tx.repo.nextID++
	order.ID = tx.repo.nextID
	tx.repo.orders[order.ID] = order
	return order.ID, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	tx.repo.items[item.ID] = item
	return item.ID, nil
}

func (tx *memoryTx) UpdateItemFulfilment(ctx context.Context, itemID int64, fulfilledQty, spoiledQty, weightDiff float64, notes string) error {
	item, ok := tx.repo.items[itemID]
	if !ok {
		return shared.ErrNotFound
	}
	item.FulfilledQty = fulfilledQty
	item.SpoiledQty = spoiledQty
	item.WeightDiff = weightDiff
	if notes != "" {
		item.Notes = notes
	}
	tx.repo.items[itemID] = item
	return nil
}

func (tx *memoryTx) TransitionStatus(ctx context.Context, orderID int64, from, to Status, at time.Time) (bool, error) {
	order, ok := tx.repo.orders[orderID]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	tx.repo.orders[orderID] = order
	return true, nil
}

func (tx *memoryTx) SetApproval(ctx context.Context, orderID, actorID int64, at time.Time) error {
	order := tx.repo.orders[orderID]
	order.ApprovedAt = &at
	order.ApprovedBy = actorID
	tx.repo.orders[orderID] = order
	return nil
}

func (tx *memoryTx) SetCancellation(ctx context.Context, orderID int64, reason string, at time.Time) error {
	order := tx.repo.orders[orderID]
	order.CancelledAt = &at
	order.CancelReason = reason
	tx.repo.orders[orderID] = order
	return nil
}

func (tx *memoryTx) SetFulfilledAt(ctx context.Context, orderID int64, at time.Time) error {
	order := tx.repo.orders[orderID]
	order.FulfilledAt = &at
	tx.repo.orders[orderID] = order
	return nil
}

func (tx *memoryTx) SetReceivedAt(ctx context.Context, orderID int64, at time.Time) error {
	order := tx.repo.orders[orderID]
	order.ReceivedAt = &at
	tx.repo.orders[orderID] = order
	return nil
}

func (tx *memoryTx) SetTotalValue(ctx context.Context, orderID int64, total float64) error {
	order := tx.repo.orders[orderID]
	order.TotalValue = total
	tx.repo.orders[orderID] = order
	return nil
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

type fakeProducts struct {
	prices map[int64]float64
}

func (f *fakeProducts) Get(ctx context.Context, id int64) (products.Product, error) {
	price, ok := f.prices[id]
	if !ok {
		return products.Product{}, shared.ErrNotFound
	}
	return products.Product{ID: id, PurchasePrice: price}, nil
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, &fakeProducts{prices: map[int64]float64{1: 2500, 2: 4000}}, nil, nil, nil, nil)
	return svc
}

func validCreate() CreateInput {
	return CreateInput{
		Type:       TypeVendorPurchase,
		BranchID:   1,
		SupplierID: 9,
		ExpectedAt: time.Now().Add(48 * time.Hour),
		Items: []CreateItem{
			{ProductID: 1, Qty: 10},
			{ProductID: 2, Qty: 5, UnitPrice: 3800},
		},
	}
}

func TestCreateDefaultsPricesAndTotals(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	order, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	require.Equal(t, StatusDraft, order.Status)
	require.Equal(t, PriorityMedium, order.Priority)
	require.InDelta(t, 10*2500+5*3800.0, order.TotalValue, 0.001)
	require.Contains(t, order.Number, "PO-")
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	input := validCreate()
	input.Items = nil
	_, err := svc.Create(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = validCreate()
	input.ExpectedAt = time.Now().Add(-time.Hour)
	_, err = svc.Create(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = validCreate()
	input.SupplierID = 0
	_, err = svc.Create(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = validCreate()
	input.Type = TypeBranchRequest
	input.SourceBranchID = input.BranchID
	_, err = svc.Create(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApproveOnlyFromDraft(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	order, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	require.NoError(t, svc.Approve(ctx, order.ID, 42))
	stored, _, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, stored.Status)
	require.Equal(t, int64(42), stored.ApprovedBy)

	err = svc.Approve(ctx, order.ID, 42)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestFulfillCreditsNetAndBooksSpoilage(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	order, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, order.ID, 1))

	_, items, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	var lines []FulfillLine
	for _, item := range items {
		switch item.ProductID {
		case 1:
			lines = append(lines, FulfillLine{ItemID: item.ID, FulfilledQty: 10, SpoiledQty: 2})
		case 2:
			lines = append(lines, FulfillLine{ItemID: item.ID, FulfilledQty: 5})
		}
	}

	summary, err := svc.Fulfill(ctx, order.ID, 1, lines)
	require.NoError(t, err)
	require.InDelta(t, 13.0, summary.ReceivedQty, 0.0001)
	require.InDelta(t, 2.0, summary.SpoiledQty, 0.0001)

	stored, _, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, stored.Status)
	// total restated from the counted delivery: 8 usable at 2500 plus 5 at 3800
	require.InDelta(t, 8*2500+5*3800.0, stored.TotalValue, 0.001)

	require.InDelta(t, 8.0, repo.levels[levelKey(1, 1)].Qty, 0.0001)
	require.InDelta(t, 5.0, repo.levels[levelKey(1, 2)].Qty, 0.0001)

	require.Len(t, repo.records, 1)
	require.Equal(t, losses.LossTypeDamage, repo.records[0].Type)
	require.InDelta(t, 2.0, repo.records[0].Qty, 0.0001)

	// a second fulfilment must not credit stock again
	_, err = svc.Fulfill(ctx, order.ID, 1, lines)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.InDelta(t, 8.0, repo.levels[levelKey(1, 1)].Qty, 0.0001)
}

func TestFulfillRequiresSentStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	order, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	_, items, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)

	_, err = svc.Fulfill(ctx, order.ID, 1, []FulfillLine{{ItemID: items[0].ID, FulfilledQty: 1}})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestFulfillRejectsForeignItems(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	order, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, order.ID, 1))

	_, err = svc.Fulfill(ctx, order.ID, 1, []FulfillLine{{ItemID: 99999, FulfilledQty: 1}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelRules(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	order, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	err = svc.Cancel(ctx, order.ID, 1, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, svc.Cancel(ctx, order.ID, 1, "supplier out of stock"))
	stored, _, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, stored.Status)
	require.Equal(t, "supplier out of stock", stored.CancelReason)

	err = svc.Cancel(ctx, order.ID, 1, "again")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestAcknowledgeReceiptMovesNoStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	order, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, svc.Approve(ctx, order.ID, 1))

	_, items, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	_, err = svc.Fulfill(ctx, order.ID, 1, []FulfillLine{{ItemID: items[0].ID, FulfilledQty: 10}})
	require.NoError(t, err)

	levelBefore := repo.levels[levelKey(1, 1)].Qty
	require.NoError(t, svc.AcknowledgeReceipt(ctx, order.ID, 1))

	stored, _, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, stored.Status)
	require.InDelta(t, levelBefore, repo.levels[levelKey(1, 1)].Qty, 0.0001)

	err = svc.AcknowledgeReceipt(ctx, order.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}
