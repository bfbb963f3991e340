package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/autosend-engine/internal/app"
	"github.com/kursadbilgin/autosend-engine/internal/config"
	"github.com/kursadbilgin/autosend-engine/internal/observability"
	"github.com/kursadbilgin/autosend-engine/internal/queue"
	"github.com/kursadbilgin/autosend-engine/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("autosend worker stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close() //nolint:errcheck

	consumer := queue.NewRabbitMQConsumer(components.Rabbit, cfg.WorkerConcurrency, logger)

	worker, err := service.NewWorkerService(components.Executor, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}

	logger.Info("autosend worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("autosend worker stopped")
	return nil
}
