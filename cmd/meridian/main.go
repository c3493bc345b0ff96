package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/refdata"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/stock"
	"github.com/meridian-erp/meridian-erp/jobs"
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

	if err := db.Migrate(cfg.PGDSN, cfg.MigrationsDir, logger); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	refdataRepo := refdata.NewRepository(pool)

	accountSet, err := posting.LoadAccountSet(ctx, refdataRepo, posting.AccountCodes{
		Payable:    cfg.AccountCodePayable,
		Receivable: cfg.AccountCodeReceivable,
		TaxInput:   cfg.AccountCodeTaxInput,
		TaxOutput:  cfg.AccountCodeTaxOutput,
	})
	if err != nil {
		logger.Error("load control accounts", slog.Any("error", err))
		os.Exit(1)
	}

	balanceCache := ledger.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	stockService := stock.NewService(pool, logger)
	ledgerService := ledger.NewService(pool, logger, refdataRepo, balanceCache, metrics)
	orchestrator := posting.NewOrchestrator(stockService, ledgerService, refdataRepo, accountSet, metrics, logger)

	approvals := shared.NewApprovalRecorder(pool, logger)
	audit := shared.NewAuditLogger(pool)
	documentService := documents.NewService(documents.PgRunner(pool), orchestrator, refdataRepo, balanceCache, approvals, audit, metrics, logger)
	documentRepo := documents.NewRepository(pool)

	defaults := posting.Options{
		InventoryEnabled: cfg.InventoryMovementEnabled,
		AllocationPolicy: stock.AllocationPolicy(cfg.DefaultAllocationPolicy),
	}
	validate := validator.New()
	documentHandler := documents.NewHandler(documentService, documentRepo, validate, defaults)
	ledgerHandler := ledger.NewHandler(ledgerService)
	stockHandler := stock.NewHandler(stock.NewRepository(pool), defaults.AllocationPolicy)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(jobClient, logger)

	router := app.NewRouter(app.RouterConfig{
		Middleware: app.MiddlewareConfig{Logger: logger, Config: cfg, Metrics: metrics},
		Documents:  documentHandler,
		Ledger:     ledgerHandler,
		Stock:      stockHandler,
		Jobs:       jobsHandler,
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
