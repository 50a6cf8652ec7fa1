package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AshinZhou/zero2prod-my/internal/api"
	"github.com/AshinZhou/zero2prod-my/internal/application/factories/infrastructure"
	"github.com/AshinZhou/zero2prod-my/internal/config"
	"github.com/AshinZhou/zero2prod-my/internal/infrastructure/postgres"
	redisInfra "github.com/AshinZhou/zero2prod-my/internal/infrastructure/redis"
	"github.com/AshinZhou/zero2prod-my/internal/usecase"
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	if err := postgres.Migrate(ctx, pgPool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	// Redis replay cache is optional; the ledger alone is correct.
	var cache usecase.ResponseCache
	if redisClient, err := infraFactory.Redis(ctx); err != nil {
		logger.Warn("redis unavailable, running without replay cache", "error", err)
	} else {
		cache = redisInfra.NewResponseCache(redisClient, cfg.Redis.CacheTTL)
	}

	var events usecase.EventPublisher
	if producer := infraFactory.KafkaProducer(cfg.App.Name); producer != nil {
		events = producer
	}

	// Repositories
	idemRepo := postgres.NewIdempotencyRepository(pgPool, cfg.Idempotency.LockTimeout)
	issueRepo := postgres.NewIssueRepository(pgPool)
	subscriberRepo := postgres.NewSubscriberRepository(pgPool)
	queueRepo := postgres.NewDeliveryQueueRepository(pgPool)
	txManager := postgres.NewTxManager(pgPool)

	publishUC := usecase.NewPublishIssue(txManager, idemRepo, issueRepo, subscriberRepo, queueRepo, cache, events)

	handlers := api.NewHandlers(publishUC)
	apiHandler := api.NewRouter(handlers)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: apiHandler,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exiting")
}
