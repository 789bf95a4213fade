package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stocklane/stocklane/internal/app"
	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/losses"
	"github.com/stocklane/stocklane/internal/masterdata/branches"
	"github.com/stocklane/stocklane/internal/masterdata/products"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/orders"
	"github.com/stocklane/stocklane/internal/platform/cache"
	"github.com/stocklane/stocklane/internal/platform/db"
	"github.com/stocklane/stocklane/internal/shared"
	"github.com/stocklane/stocklane/internal/transfers"
	"github.com/stocklane/stocklane/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

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

	branchService := branches.NewService(branches.NewRepository(pool), auditLogger)
	branchHandler := branches.NewHandler(logger, branchService)

	productService := products.NewService(products.NewRepository(pool), auditLogger)
	productHandler := products.NewHandler(logger, productService)

	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	lossService := losses.NewService(losses.NewRepository(pool), auditLogger, logger)
	lossHandler := losses.NewHandler(logger, lossService)

	orderService := orders.NewService(orders.NewRepository(pool), productService, auditLogger, idempotencyStore, events, logger)
	orderHandler := orders.NewHandler(logger, orderService)

	transferService := transfers.NewService(transfers.NewRepository(pool), productService, auditLogger, idempotencyStore, events, logger)
	transferHandler := transfers.NewHandler(logger, transferService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, queueClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		BranchHandler:   branchHandler,
		ProductHandler:  productHandler,
		LedgerHandler:   ledgerHandler,
		LossHandler:     lossHandler,
		OrderHandler:    orderHandler,
		TransferHandler: transferHandler,
		JobHandler:      jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
