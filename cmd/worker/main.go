package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stocklane/stocklane/internal/app"
	jobmetrics "github.com/stocklane/stocklane/internal/jobs"
	"github.com/stocklane/stocklane/internal/masterdata/branches"
	"github.com/stocklane/stocklane/internal/masterdata/products"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/orders"
	"github.com/stocklane/stocklane/internal/platform/cache"
	"github.com/stocklane/stocklane/internal/platform/db"
	"github.com/stocklane/stocklane/internal/replenish"
	"github.com/stocklane/stocklane/internal/shared"
	"github.com/stocklane/stocklane/internal/transfers"
	"github.com/stocklane/stocklane/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("redis connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	events := notify.NewAsynqDispatcher(queueClient.Raw(), jobs.QueueDefault, logger)

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	runLock := shared.NewRunLock(redisClient)
	metrics := jobmetrics.NewMetrics(nil)

	branchService := branches.NewService(branches.NewRepository(pool), auditLogger)
	productService := products.NewService(products.NewRepository(pool), auditLogger)
	orderService := orders.NewService(orders.NewRepository(pool), productService, auditLogger, idempotencyStore, events, logger)
	transferService := transfers.NewService(transfers.NewRepository(pool), productService, auditLogger, idempotencyStore, events, logger)

	replenishService := replenish.NewService(
		replenish.NewRepository(pool),
		orderService,
		branchService,
		events,
		metrics,
		logger,
		replenish.Config{
			ExpiryLeadDays:     cfg.ExpiryLeadDays,
			DiscountWindowDays: cfg.DiscountWindowDays,
			ReorderGrace:       cfg.ReorderGrace,
			AutoOrderLeadDays:  cfg.AutoOrderLeadDays,
		},
	)

	cycleJob := jobs.NewReplenishCycleJob(replenishService, transferService, events, runLock, logger, metrics)

	cycleTask, err := jobs.NewReplenishCycleTask("cron")
	if err != nil {
		logger.Error("build replenish task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReplenishCycle, Handler: cycleJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReplenishCron, Task: cycleTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Timeout(10 * time.Minute)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
