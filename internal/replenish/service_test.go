package replenish

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/masterdata/branches"
	"github.com/stocklane/stocklane/internal/orders"
)

type memoryRepo struct {
	batches       []BatchInfo
	expiryAlerts  map[string]ExpiryAlert
	adjustments   []PriceAdjustment
	reorderAlerts map[string]*ReorderAlert
	candidates    []ReorderCandidate
	nextID        int64

	failBelowThreshold bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		expiryAlerts:  make(map[string]ExpiryAlert),
		reorderAlerts: make(map[string]*ReorderAlert),
	}
}

func (r *memoryRepo) ListExpiringBatches(ctx context.Context, deadline time.Time) ([]BatchInfo, error) {
	var result []BatchInfo
	for _, b := range r.batches {
		if b.Qty > 0 && !b.ExpiresAt.After(deadline) {
			result = append(result, b)
		}
	}
	return result, nil
}

func (r *memoryRepo) InsertExpiryAlert(ctx context.Context, alert ExpiryAlert) (bool, error) {
	key := fmt.Sprintf("%d:%d:%d", alert.BranchID, alert.ProductID, alert.BatchID)
	if _, ok := r.expiryAlerts[key]; ok {
		return false, nil
	}
	r.nextID++
	alert.ID = r.nextID
	r.expiryAlerts[key] = alert
	return true, nil
}

func (r *memoryRepo) ApplyBatchDiscount(ctx context.Context, batch BatchInfo, pct float64, at time.Time) (bool, error) {
	for i, b := range r.batches {
		if b.BatchID != batch.BatchID {
			continue
		}
		if b.DiscountPct != 0 {
			return false, nil
		}
		r.batches[i].DiscountPct = pct
		r.adjustments = append(r.adjustments, PriceAdjustment{
			BatchID:     batch.BatchID,
			BranchID:    batch.BranchID,
			ProductID:   batch.ProductID,
			DiscountPct: pct,
			Active:      true,
			CreatedAt:   at,
		})
		return true, nil
	}
	return false, nil
}

func (r *memoryRepo) ExpireAdjustments(ctx context.Context, asOf time.Time) (int, error) {
	expired := 0
	for i, adj := range r.adjustments {
		if !adj.Active {
			continue
		}
		for _, b := range r.batches {
			if b.BatchID == adj.BatchID && (!b.ExpiresAt.After(asOf) || b.Qty <= 0) {
				at := asOf
				r.adjustments[i].Active = false
				r.adjustments[i].ExpiredAt = &at
				expired++
			}
		}
	}
	return expired, nil
}

func (r *memoryRepo) ListBelowThreshold(ctx context.Context) ([]ReorderCandidate, error) {
	if r.failBelowThreshold {
		return nil, errors.New("levels query timed out")
	}
	return r.candidates, nil
}

func (r *memoryRepo) InsertReorderAlert(ctx context.Context, alert ReorderAlert) (bool, error) {
	key := fmt.Sprintf("%d:%d", alert.BranchID, alert.ProductID)
	if existing, ok := r.reorderAlerts[key]; ok && existing.Status == AlertOpen {
		return false, nil
	}
	r.nextID++
	alert.ID = r.nextID
	r.reorderAlerts[key] = &alert
	return true, nil
}

func (r *memoryRepo) ListActionableAlerts(ctx context.Context, cutoff time.Time) ([]ReorderAlert, error) {
	var result []ReorderAlert
	for _, alert := range r.reorderAlerts {
		if alert.Status == AlertOpen && !alert.CreatedAt.After(cutoff) {
			result = append(result, *alert)
		}
	}
	return result, nil
}

func (r *memoryRepo) MarkAlertOrdered(ctx context.Context, alertID, orderID int64) (bool, error) {
	for _, alert := range r.reorderAlerts {
		if alert.ID == alertID && alert.Status == AlertOpen {
			alert.Status = AlertOrdered
			alert.OrderID = orderID
			return true, nil
		}
	}
	return false, nil
}

type fakeOrders struct {
	created []orders.CreateInput
	nextID  int64
}

func (f *fakeOrders) Create(ctx context.Context, input orders.CreateInput) (orders.Order, error) {
	f.created = append(f.created, input)
	f.nextID++
	return orders.Order{ID: f.nextID, Status: orders.StatusDraft}, nil
}

type fakeBranches struct{}

func (fakeBranches) Central(ctx context.Context) (branches.Branch, error) {
	return branches.Branch{ID: 1, Code: "HQ", Central: true}, nil
}

func newTestService(repo *memoryRepo, ordersPort *fakeOrders, cfg Config) *Service {
	return NewService(repo, ordersPort, fakeBranches{}, nil, nil, nil, cfg)
}

func TestExpiryAlertsAreDeduplicated(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Now()
	repo.batches = []BatchInfo{
		{BatchID: 1, BranchID: 2, ProductID: 5, Qty: 4, ExpiresAt: now.Add(36 * time.Hour)},
		{BatchID: 2, BranchID: 2, ProductID: 6, Qty: 2, ExpiresAt: now.Add(30 * 24 * time.Hour)},
	}
	svc := newTestService(repo, &fakeOrders{}, Config{ExpiryLeadDays: 3})

	count, err := svc.ExpiryAlerts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// re-running while the alert stays open must not raise a second one
	count, err = svc.ExpiryAlerts(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
	require.Len(t, repo.expiryAlerts, 1)
}

func TestApplyDiscountsUsesTiers(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Now()
	repo.batches = []BatchInfo{
		{BatchID: 1, BranchID: 2, ProductID: 5, Qty: 4, ExpiresAt: now.Add(12 * time.Hour)},
		{BatchID: 2, BranchID: 2, ProductID: 6, Qty: 3, ExpiresAt: now.Add(40 * time.Hour)},
		{BatchID: 3, BranchID: 2, ProductID: 7, Qty: 5, ExpiresAt: now.Add(80 * time.Hour)},
		{BatchID: 4, BranchID: 2, ProductID: 8, Qty: 1, ExpiresAt: now.Add(-time.Hour)},
		{BatchID: 5, BranchID: 2, ProductID: 9, Qty: 2, ExpiresAt: now.Add(12 * time.Hour), DiscountPct: 30},
	}
	svc := newTestService(repo, &fakeOrders{}, Config{DiscountWindowDays: 4})

	count, err := svc.ApplyDiscounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, count)

	pctByBatch := map[int64]float64{}
	for _, adj := range repo.adjustments {
		pctByBatch[adj.BatchID] = adj.DiscountPct
	}
	require.InDelta(t, 50.0, pctByBatch[1], 0.001)
	require.InDelta(t, 30.0, pctByBatch[2], 0.001)
	require.InDelta(t, 15.0, pctByBatch[3], 0.001)

	// already expired and already discounted batches stay untouched
	require.NotContains(t, pctByBatch, int64(4))
	require.NotContains(t, pctByBatch, int64(5))
}

func TestExpireDiscountsClosesSpentBatches(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Now()
	repo.batches = []BatchInfo{
		{BatchID: 1, BranchID: 2, ProductID: 5, Qty: 0, ExpiresAt: now.Add(24 * time.Hour), DiscountPct: 30},
		{BatchID: 2, BranchID: 2, ProductID: 6, Qty: 3, ExpiresAt: now.Add(-time.Hour), DiscountPct: 50},
		{BatchID: 3, BranchID: 2, ProductID: 7, Qty: 3, ExpiresAt: now.Add(24 * time.Hour), DiscountPct: 15},
	}
	repo.adjustments = []PriceAdjustment{
		{BatchID: 1, DiscountPct: 30, Active: true},
		{BatchID: 2, DiscountPct: 50, Active: true},
		{BatchID: 3, DiscountPct: 15, Active: true},
	}
	svc := newTestService(repo, &fakeOrders{}, Config{})

	count, err := svc.ExpireDiscounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.False(t, repo.adjustments[0].Active)
	require.False(t, repo.adjustments[1].Active)
	require.True(t, repo.adjustments[2].Active)
}

func TestReorderAlertsAreDeduplicated(t *testing.T) {
	repo := newMemoryRepo()
	repo.candidates = []ReorderCandidate{
		{BranchID: 2, ProductID: 5, Qty: 3, Threshold: 10},
	}
	svc := newTestService(repo, &fakeOrders{}, Config{})

	count, err := svc.ReorderAlerts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = svc.ReorderAlerts(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestAutoOrdersConvertAgedAlerts(t *testing.T) {
	repo := newMemoryRepo()
	ordersPort := &fakeOrders{}
	svc := newTestService(repo, ordersPort, Config{ReorderGrace: time.Hour})

	now := time.Now()
	repo.reorderAlerts["2:5"] = &ReorderAlert{ID: 10, BranchID: 2, ProductID: 5, Qty: 0, Threshold: 8, Status: AlertOpen, CreatedAt: now.Add(-2 * time.Hour)}
	repo.reorderAlerts["3:6"] = &ReorderAlert{ID: 11, BranchID: 3, ProductID: 6, Qty: 4, Threshold: 10, Status: AlertOpen, CreatedAt: now.Add(-90 * time.Minute)}
	// too fresh: still inside the operator grace window
	repo.reorderAlerts["4:7"] = &ReorderAlert{ID: 12, BranchID: 4, ProductID: 7, Qty: 1, Threshold: 5, Status: AlertOpen, CreatedAt: now.Add(-time.Minute)}
	// central branch never requests from itself
	repo.reorderAlerts["1:8"] = &ReorderAlert{ID: 13, BranchID: 1, ProductID: 8, Qty: 0, Threshold: 5, Status: AlertOpen, CreatedAt: now.Add(-2 * time.Hour)}

	count, err := svc.AutoOrders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Len(t, ordersPort.created, 2)

	byBranch := map[int64]orders.CreateInput{}
	for _, input := range ordersPort.created {
		byBranch[input.BranchID] = input
	}

	empty := byBranch[2]
	require.Equal(t, orders.TypeBranchRequest, empty.Type)
	require.Equal(t, orders.PriorityUrgent, empty.Priority)
	require.Equal(t, int64(1), empty.SourceBranchID)
	require.Len(t, empty.Items, 1)
	require.InDelta(t, 8.0, empty.Items[0].Qty, 0.001)

	half := byBranch[3]
	require.Equal(t, orders.PriorityHigh, half.Priority)
	require.InDelta(t, 6.0, half.Items[0].Qty, 0.001)

	require.Equal(t, AlertOrdered, repo.reorderAlerts["2:5"].Status)
	require.Equal(t, AlertOpen, repo.reorderAlerts["4:7"].Status)
	require.Equal(t, AlertOpen, repo.reorderAlerts["1:8"].Status)

	// a second cycle finds nothing left to convert
	count, err = svc.AutoOrders(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)
	require.Len(t, ordersPort.created, 2)
}

func TestRunCycleIsolatesPassFailures(t *testing.T) {
	repo := newMemoryRepo()
	repo.failBelowThreshold = true
	repo.batches = []BatchInfo{
		{BatchID: 1, BranchID: 2, ProductID: 5, Qty: 4, ExpiresAt: time.Now().Add(12 * time.Hour)},
	}
	svc := newTestService(repo, &fakeOrders{}, Config{})

	result, err := svc.RunCycle(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "reorder_alerts")

	// the failing pass must not stop the others
	require.Equal(t, 1, result.ExpiryAlerts)
	require.Equal(t, 1, result.DiscountsApplied)
	require.Zero(t, result.ReorderAlerts)
}
