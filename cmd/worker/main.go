package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AshinZhou/zero2prod-my/internal/application/factories/infrastructure"
	"github.com/AshinZhou/zero2prod-my/internal/config"
	"github.com/AshinZhou/zero2prod-my/internal/infrastructure/email"
	"github.com/AshinZhou/zero2prod-my/internal/infrastructure/postgres"
	"github.com/AshinZhou/zero2prod-my/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	emailClient, err := email.NewClient(email.Config{
		BaseURL: cfg.Email.BaseURL,
		Sender:  cfg.Email.Sender,
		Token:   cfg.Email.Token,
		Timeout: cfg.Email.SendTimeout,
	})
	if err != nil {
		logger.Error("failed to build email client", "error", err)
		os.Exit(1)
	}

	var events worker.EventPublisher
	if producer := infraFactory.KafkaProducer("delivery-worker"); producer != nil {
		events = producer
	}

	queueRepo := postgres.NewDeliveryQueueRepository(pgPool)
	issueRepo := postgres.NewIssueRepository(pgPool)
	txManager := postgres.NewTxManager(pgPool)

	runner := worker.NewDeliveryRunner(txManager, queueRepo, issueRepo, emailClient, events, worker.Config{
		Workers:       cfg.Worker.Workers,
		PollInterval:  cfg.Worker.PollInterval,
		ErrorInterval: cfg.Worker.ErrorInterval,
		MaxRetries:    cfg.Worker.MaxRetries,
		SendTimeout:   cfg.Email.SendTimeout,
		BackoffBase:   cfg.Worker.BackoffBase,
		BackoffCap:    cfg.Worker.BackoffCap,
	})

	// Metrics server for the worker process
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("worker metrics listening", "port", cfg.Worker.MetricsPort)
		if err := http.ListenAndServe(":"+cfg.Worker.MetricsPort, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped with error", "error", err)
	}

	logger.Info("worker exited")
}
