package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lokatex/lokatex/internal/app"
	"github.com/lokatex/lokatex/internal/masterdata"
	"github.com/lokatex/lokatex/internal/materials"
	"github.com/lokatex/lokatex/internal/observability"
	"github.com/lokatex/lokatex/internal/platform/cache"
	"github.com/lokatex/lokatex/internal/platform/db"
	"github.com/lokatex/lokatex/internal/production"
	"github.com/lokatex/lokatex/internal/shared"
	"github.com/lokatex/lokatex/internal/workers"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	materialsRepo := materials.NewRepository(dbpool)
	materialsService := materials.NewService(materialsRepo, auditLogger, idempotencyStore)
	materialsHandler := materials.NewHandler(logger, materialsService)

	workersRepo := workers.NewRepository(dbpool)
	workersService := workers.NewService(workersRepo, redisClient, cfg.WorkerLoadCacheTTL)
	workersHandler := workers.NewHandler(logger, workersService)

	productsRepo := masterdata.NewRepository(dbpool)
	productsHandler := masterdata.NewHandler(logger, productsRepo)

	productionRepo := production.NewRepository(dbpool)
	productionService := production.NewService(productionRepo, productsRepo, workersService, auditLogger, metrics, logger)
	productionHandler := production.NewHandler(logger, productionService)

	router := app.NewRouter(app.RouterDeps{
		Logger:     logger,
		Config:     cfg,
		Metrics:    metrics,
		Resolver:   workersService,
		Production: productionHandler,
		Materials:  materialsHandler,
		Workers:    workersHandler,
		Products:   productsHandler,
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
