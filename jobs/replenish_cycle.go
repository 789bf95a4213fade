package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/stocklane/stocklane/internal/jobs"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/replenish"
	"github.com/stocklane/stocklane/internal/shared"
	"github.com/stocklane/stocklane/internal/transfers"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// lockTTL bounds how long a crashed cycle keeps its successors out.
const lockTTL = 15 * time.Minute

// TransferPort surfaces the overdue sweep the cycle runs after its passes.
type TransferPort interface {
	ListOverdue(ctx context.Context) ([]transfers.Transfer, error)
}

// ReplenishCycleJob drives the scheduled replenishment cycle. Runs are
// serialised through a redis lock so overlapping cron fires and manual kicks
// cannot double-process.
type ReplenishCycleJob struct {
	Service   *replenish.Service
	Transfers TransferPort
	Events    notify.Dispatcher
	Lock      *shared.RunLock
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewReplenishCycleJob wires dependencies for the cycle handler.
func NewReplenishCycleJob(service *replenish.Service, transferPort TransferPort, events notify.Dispatcher, lock *shared.RunLock, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReplenishCycleJob {
	return &ReplenishCycleJob{
		Service:   service,
		Transfers: transferPort,
		Events:    events,
		Lock:      lock,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one replenishment cycle.
func (j *ReplenishCycleJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("replenish cycle: handler not configured")
	}
	var payload ReplenishCyclePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.TriggeredBy == "" {
		payload.TriggeredBy = "cron"
	}

	logger := j.logger().With(slog.String("triggered_by", payload.TriggeredBy))

	release, err := j.acquireLock(ctx)
	if errors.Is(err, shared.ErrLockHeld) {
		logger.Info("replenish cycle already running, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if release != nil {
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("release run lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.metrics().Track(TaskReplenishCycle)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger.Info("starting replenish cycle")

	result, err := j.Service.RunCycle(ctx)
	if err != nil {
		resultErr = err
	}

	if err := j.sweepOverdue(ctx, logger); err != nil {
		resultErr = errors.Join(resultErr, err)
	}

	logger.Info("completed replenish cycle",
		slog.Int("expiry_alerts", result.ExpiryAlerts),
		slog.Int("discounts_applied", result.DiscountsApplied),
		slog.Int("discounts_expired", result.DiscountsExpired),
		slog.Int("reorder_alerts", result.ReorderAlerts),
		slog.Int("auto_orders", result.AutoOrdersCreated),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

// sweepOverdue raises an advisory event for every dispatched transfer that
// missed its expected arrival.
func (j *ReplenishCycleJob) sweepOverdue(ctx context.Context, logger *slog.Logger) error {
	if j.Transfers == nil {
		return nil
	}
	overdue, err := j.Transfers.ListOverdue(ctx)
	if err != nil {
		logger.Error("list overdue transfers", slog.Any("error", err))
		return err
	}
	for _, transfer := range overdue {
		logger.Warn("transfer overdue",
			slog.Int64("transfer_id", transfer.ID),
			slog.String("number", transfer.Number),
			slog.Time("expected_at", transfer.ExpectedAt),
		)
		if j.Events != nil {
			_ = j.Events.Dispatch(ctx, notify.Event{Name: notify.EventTransferOverdue, Meta: map[string]any{
				"transfer_id":    transfer.ID,
				"number":         transfer.Number,
				"dest_branch_id": transfer.DestID,
				"expected_at":    transfer.ExpectedAt,
			}})
		}
	}
	return nil
}

func (j *ReplenishCycleJob) acquireLock(ctx context.Context) (func(context.Context) error, error) {
	if j.Lock == nil {
		return nil, nil
	}
	return j.Lock.Acquire(ctx, "replenish-cycle", lockTTL)
}

func (j *ReplenishCycleJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ReplenishCycleJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReplenishCycleJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
