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

	"github.com/acopio-erp/acopio-erp/internal/app"
	"github.com/acopio-erp/acopio-erp/internal/inventory"
	"github.com/acopio-erp/acopio-erp/internal/masterdata/products"
	"github.com/acopio-erp/acopio-erp/internal/notify"
	"github.com/acopio-erp/acopio-erp/internal/observability"
	"github.com/acopio-erp/acopio-erp/internal/platform/cache"
	"github.com/acopio-erp/acopio-erp/internal/platform/db"
	"github.com/acopio-erp/acopio-erp/internal/procurement"
	"github.com/acopio-erp/acopio-erp/internal/shared"
	"github.com/acopio-erp/acopio-erp/internal/taxrate"
	"github.com/acopio-erp/acopio-erp/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
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

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	emitter := notify.NewAsynqEmitter(asynqClient, logger)

	productsRepo := products.NewRepository(pool)
	productsService := products.NewService(productsRepo)
	productsHandler := products.NewHandler(logger, productsService)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, inventory.ServiceConfig{
		DefaultLocation: cfg.DefaultStockLocation,
	})
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	taxRateRepo := taxrate.NewRepository(pool)
	taxRateService := taxrate.NewService(taxRateRepo, redisClient, cfg.TaxRateCacheTTL, cfg.FallbackTaxRateDecimal())

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(
		procurementRepo,
		productsService,
		inventoryService,
		taxRateService,
		emitter,
		auditLogger,
		idempotencyStore,
		logger,
		procurement.ServiceConfig{
			DefaultCurrency:     cfg.DefaultCurrency,
			LargeOrderThreshold: cfg.LargeOrderThresholdDecimal(),
		},
	)
	procurementHandler := procurement.NewHandler(logger, procurementService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ProcurementHandler: procurementHandler,
		InventoryHandler:   inventoryHandler,
		ProductsHandler:    productsHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
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
