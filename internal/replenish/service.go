// Package replenish runs the scheduled housekeeping cycle: expiry alerting,
// near-expiry markdowns, markdown retirement, reorder alerting and automatic
// purchase requests. Every pass is idempotent, so a crashed cycle can simply
// run again.
package replenish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	jobmetrics "github.com/stocklane/stocklane/internal/jobs"
	"github.com/stocklane/stocklane/internal/masterdata/branches"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/orders"
)

// RepositoryPort is the persistence surface the passes need.
type RepositoryPort interface {
	ListExpiringBatches(ctx context.Context, deadline time.Time) ([]BatchInfo, error)
	InsertExpiryAlert(ctx context.Context, alert ExpiryAlert) (bool, error)
	ApplyBatchDiscount(ctx context.Context, batch BatchInfo, pct float64, at time.Time) (bool, error)
	ExpireAdjustments(ctx context.Context, asOf time.Time) (int, error)
	ListBelowThreshold(ctx context.Context) ([]ReorderCandidate, error)
	InsertReorderAlert(ctx context.Context, alert ReorderAlert) (bool, error)
	ListActionableAlerts(ctx context.Context, cutoff time.Time) ([]ReorderAlert, error)
	MarkAlertOrdered(ctx context.Context, alertID, orderID int64) (bool, error)
}

// OrdersPort creates the draft branch requests raised by the auto-order pass.
type OrdersPort interface {
	Create(ctx context.Context, input orders.CreateInput) (orders.Order, error)
}

// BranchPort resolves the central branch that fills branch requests.
type BranchPort interface {
	Central(ctx context.Context) (branches.Branch, error)
}

// Config tunes the pass horizons.
type Config struct {
	// ExpiryLeadDays is how far ahead the expiry pass looks when alerting.
	ExpiryLeadDays int
	// DiscountWindowDays is how close to expiry a batch must be before the
	// markdown pass touches it.
	DiscountWindowDays int
	// ReorderGrace is how long a reorder alert must stay open before the
	// auto-order pass converts it, giving operators a chance to act first.
	ReorderGrace time.Duration
	// AutoOrderLeadDays sets the expected arrival on auto-created requests.
	AutoOrderLeadDays int
}

func (c Config) withDefaults() Config {
	if c.ExpiryLeadDays <= 0 {
		c.ExpiryLeadDays = 3
	}
	if c.DiscountWindowDays <= 0 {
		c.DiscountWindowDays = 2
	}
	if c.ReorderGrace <= 0 {
		c.ReorderGrace = 2 * time.Hour
	}
	if c.AutoOrderLeadDays <= 0 {
		c.AutoOrderLeadDays = 3
	}
	return c
}

// Service orchestrates the replenishment passes.
type Service struct {
	repo     RepositoryPort
	orders   OrdersPort
	branches BranchPort
	events   notify.Dispatcher
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	cfg      Config
	clock    func() time.Time
}

func NewService(repo RepositoryPort, ordersPort OrdersPort, branchPort BranchPort, events notify.Dispatcher, metrics *jobmetrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = notify.NoopDispatcher{}
	}
	return &Service{
		repo:     repo,
		orders:   ordersPort,
		branches: branchPort,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}
}

// RunCycle executes all five passes. A failing pass never blocks the others;
// its error is joined into the returned error after the cycle completes.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	var errs []error

	passes := []struct {
		name string
		run  func(context.Context) (int, error)
		dest *int
	}{
		{"expiry_alerts", s.ExpiryAlerts, &result.ExpiryAlerts},
		{"discounts_applied", s.ApplyDiscounts, &result.DiscountsApplied},
		{"discounts_expired", s.ExpireDiscounts, &result.DiscountsExpired},
		{"reorder_alerts", s.ReorderAlerts, &result.ReorderAlerts},
		{"auto_orders", s.AutoOrders, &result.AutoOrdersCreated},
	}
	for _, pass := range passes {
		count, err := pass.run(ctx)
		*pass.dest = count
		s.metrics.AddActions(pass.name, count)
		if err != nil {
			s.logger.Error("replenish pass failed", slog.String("pass", pass.name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", pass.name, err))
			continue
		}
		s.logger.Info("replenish pass done", slog.String("pass", pass.name), slog.Int("actions", count))
	}

	_ = s.events.Dispatch(ctx, notify.Event{Name: notify.EventReplenishCycle, Meta: map[string]any{
		"expiry_alerts":   result.ExpiryAlerts,
		"discounts":       result.DiscountsApplied,
		"discounts_ended": result.DiscountsExpired,
		"reorder_alerts":  result.ReorderAlerts,
		"auto_orders":     result.AutoOrdersCreated,
	}})
	return result, errors.Join(errs...)
}

// ExpiryAlerts opens an alert for every batch that will expire within the
// configured lead time. Re-running the pass is a no-op while the alert stays
// open.
func (s *Service) ExpiryAlerts(ctx context.Context) (int, error) {
	now := s.clock()
	deadline := now.AddDate(0, 0, s.cfg.ExpiryLeadDays)
	batches, err := s.repo.ListExpiringBatches(ctx, deadline)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, batch := range batches {
		inserted, err := s.repo.InsertExpiryAlert(ctx, ExpiryAlert{
			BranchID:  batch.BranchID,
			ProductID: batch.ProductID,
			BatchID:   batch.BatchID,
			Qty:       batch.Qty,
			ExpiresAt: batch.ExpiresAt,
			Status:    AlertOpen,
			CreatedAt: now,
		})
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// ApplyDiscounts marks down batches inside the discount window that have not
// been discounted yet. Already expired batches are left for the loss flow.
func (s *Service) ApplyDiscounts(ctx context.Context) (int, error) {
	now := s.clock()
	deadline := now.AddDate(0, 0, s.cfg.DiscountWindowDays)
	batches, err := s.repo.ListExpiringBatches(ctx, deadline)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, batch := range batches {
		if batch.DiscountPct > 0 || !batch.ExpiresAt.After(now) {
			continue
		}
		pct := discountFor(batch.ExpiresAt.Sub(now))
		ok, err := s.repo.ApplyBatchDiscount(ctx, batch, pct, now)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

// discountFor picks the markdown tier from the time left before expiry.
func discountFor(remaining time.Duration) float64 {
	days := remaining.Hours() / 24
	switch {
	case days <= 1:
		return 50
	case days <= 2:
		return 30
	default:
		return 15
	}
}

// ExpireDiscounts retires adjustments whose batch ran out or passed its
// expiry.
func (s *Service) ExpireDiscounts(ctx context.Context) (int, error) {
	return s.repo.ExpireAdjustments(ctx, s.clock())
}

// ReorderAlerts opens an alert for every level below its product threshold.
func (s *Service) ReorderAlerts(ctx context.Context) (int, error) {
	now := s.clock()
	candidates, err := s.repo.ListBelowThreshold(ctx)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, c := range candidates {
		inserted, err := s.repo.InsertReorderAlert(ctx, ReorderAlert{
			BranchID:  c.BranchID,
			ProductID: c.ProductID,
			Qty:       c.Qty,
			Threshold: c.Threshold,
			Status:    AlertOpen,
			CreatedAt: now,
		})
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

// AutoOrders converts reorder alerts that outlived the grace period into draft
// branch requests against the central branch, then closes the alert.
func (s *Service) AutoOrders(ctx context.Context) (int, error) {
	now := s.clock()
	alerts, err := s.repo.ListActionableAlerts(ctx, now.Add(-s.cfg.ReorderGrace))
	if err != nil {
		return 0, err
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	central, err := s.branches.Central(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve central branch: %w", err)
	}

	created := 0
	for _, alert := range alerts {
		if alert.BranchID == central.ID {
			// the central branch restocks from vendors, not from itself
			continue
		}
		qty := math.Max(alert.Threshold-alert.Qty, 1)
		order, err := s.orders.Create(ctx, orders.CreateInput{
			Type:           orders.TypeBranchRequest,
			Priority:       priorityFor(alert.Qty, alert.Threshold),
			BranchID:       alert.BranchID,
			SourceBranchID: central.ID,
			SourceRef:      fmt.Sprintf("reorder-alert:%d", alert.ID),
			Notes:          "auto-generated from reorder alert",
			ExpectedAt:     now.AddDate(0, 0, s.cfg.AutoOrderLeadDays),
			Items:          []orders.CreateItem{{ProductID: alert.ProductID, Qty: qty}},
		})
		if err != nil {
			return created, fmt.Errorf("auto-order for alert %d: %w", alert.ID, err)
		}
		closed, err := s.repo.MarkAlertOrdered(ctx, alert.ID, order.ID)
		if err != nil {
			return created, err
		}
		if closed {
			created++
		}
	}
	return created, nil
}

// priorityFor escalates with the size of the deficit relative to the
// threshold. An empty shelf is urgent regardless of threshold.
func priorityFor(qty, threshold float64) orders.Priority {
	if threshold <= 0 {
		return orders.PriorityMedium
	}
	ratio := (threshold - qty) / threshold
	switch {
	case ratio >= 1:
		return orders.PriorityUrgent
	case ratio >= 0.5:
		return orders.PriorityHigh
	default:
		return orders.PriorityMedium
	}
}
