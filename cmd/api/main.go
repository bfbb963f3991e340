package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/autosend-engine/internal/app"
	"github.com/kursadbilgin/autosend-engine/internal/config"
	"github.com/kursadbilgin/autosend-engine/internal/handler"
	"github.com/kursadbilgin/autosend-engine/internal/observability"
	"github.com/kursadbilgin/autosend-engine/internal/queue"
	"github.com/kursadbilgin/autosend-engine/internal/service"
	"github.com/kursadbilgin/autosend-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

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
		logger.Fatal("autosend api stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close() //nolint:errcheck

	g, groupCtx := errgroup.WithContext(ctx)

	var runner service.Runner
	if components.Rabbit != nil {
		runner, err = service.NewQueueRunner(queue.NewRabbitMQPublisher(components.Rabbit))
		if err != nil {
			return err
		}
		logger.Info("manual runs dispatched to worker queue", zap.String("queue", queue.ExecuteQueue))
	} else {
		local, err := service.NewLocalRunner(components.Executor, cfg.WorkerConcurrency, cfg.LocalRunnerQueueSize, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return local.Start(groupCtx) })
		runner = local
		logger.Info("manual runs executed in-process")
	}

	trigger, err := service.NewTriggerService(components.Planner, components.Executor, runner, components.Settings, cfg.Location(), logger)
	if err != nil {
		return err
	}
	trigger.SetMetrics(components.Metrics)

	batches, err := service.NewBatchService(components.Batches, components.Composer, components.Artifacts, logger)
	if err != nil {
		return err
	}
	settings, err := service.NewSettingsService(components.Settings, components.Recipients, logger)
	if err != nil {
		return err
	}
	recipients, err := service.NewRecipientService(components.Recipients, logger)
	if err != nil {
		return err
	}

	if cfg.CronSchedule != "" {
		scheduler, err := service.NewScheduler(trigger, cfg.CronSchedule, cfg.Location(), logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return scheduler.Start(groupCtx) })
	}

	server := fiber.New(fiber.Config{
		AppName:               "autosend-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(components.Metrics.HTTPMiddleware())

	server.Get("/metrics", adaptor.HTTPHandler(components.Metrics.Handler()))
	handler.RegisterHealthRoutes(server,
		handler.PostgresCheck(components.SQLDB),
		handler.RedisCheck(components.Redis),
	)
	if err := handler.RegisterAutoSendRoutes(server, handler.AutoSendServices{
		Trigger:    trigger,
		Batches:    batches,
		Settings:   settings,
		Recipients: recipients,
	}, cfg.CronSecret, logger); err != nil {
		return err
	}

	g.Go(func() error {
		logger.Info("autosend api started", zap.Int("port", cfg.APIPort))
		if err := server.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("autosend api stopped")
	return nil
}
