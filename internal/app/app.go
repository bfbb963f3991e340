// Package app builds the components shared by the api and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kursadbilgin/autosend-engine/internal/config"
	"github.com/kursadbilgin/autosend-engine/internal/document"
	"github.com/kursadbilgin/autosend-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/autosend-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/autosend-engine/internal/infra/redis"
	"github.com/kursadbilgin/autosend-engine/internal/mail"
	"github.com/kursadbilgin/autosend-engine/internal/observability"
	"github.com/kursadbilgin/autosend-engine/internal/queue"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"github.com/kursadbilgin/autosend-engine/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Components struct {
	DB      *gorm.DB
	SQLDB   *sql.DB
	Redis   *goredis.Client
	Rabbit  *queue.RabbitMQ
	Metrics *observability.Metrics

	Batches    *repository.GormBatchRepo
	Recipients *repository.GormRecipientRepo
	Settings   *repository.GormSettingsRepo
	Entries    *repository.GormEntryRepo

	Artifacts *document.S3Store
	Composer  *document.Composer
	Planner   *service.Planner
	Executor  *service.Executor

	closers []func() error
}

// Build connects to every backing service and assembles the planner and executor.
// RabbitMQ is only dialled when a URL is configured.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Components{Metrics: observability.NewMetrics()}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	c.DB, c.SQLDB = db, sqlDB
	c.closers = append(c.closers, sqlDB.Close)

	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("postgres migration failed: %w", err)
	}
	logger.Info("database migrations applied")

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	c.Redis = rdb
	c.closers = append(c.closers, rdb.Close)

	if cfg.RabbitMQURL != "" {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		c.Rabbit = rabbit
		c.closers = append(c.closers, rabbit.Close)
	}

	c.Batches = repository.NewGormBatchRepo(db)
	c.Recipients = repository.NewGormRecipientRepo(db)
	c.Settings = repository.NewGormSettingsRepo(db)
	c.Entries = repository.NewGormEntryRepo(db)

	c.Artifacts, err = document.NewS3Store(document.S3Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		return nil, err
	}

	renderer, err := document.NewHTTPRenderer(cfg.RendererURL)
	if err != nil {
		return nil, err
	}
	c.Composer, err = document.NewComposer(c.Entries, renderer, c.Artifacts, document.NewPDFMerger(), logger)
	if err != nil {
		return nil, err
	}

	sender, err := NewSender(cfg)
	if err != nil {
		return nil, err
	}

	planLocker, err := infraredis.NewRedisLocker(rdb, cfg.PlanLockTTL())
	if err != nil {
		return nil, err
	}
	execLocker, err := infraredis.NewRedisLocker(rdb, cfg.ExecuteLockTTL())
	if err != nil {
		return nil, err
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.EmailRateLimitPerSec)
	if err != nil {
		return nil, err
	}

	c.Planner, err = service.NewPlanner(c.Batches, c.Recipients, c.Settings, c.Entries, planLocker, logger)
	if err != nil {
		return nil, err
	}
	c.Planner.SetMetrics(c.Metrics)

	c.Executor, err = service.NewExecutor(c.Batches, c.Composer, c.Artifacts, sender, limiter, execLocker, cfg.ExecutorConcurrency, logger)
	if err != nil {
		return nil, err
	}
	c.Executor.SetMetrics(c.Metrics)
	c.Executor.SetLockRefreshInterval(cfg.ExecuteLockTTL() / 3)

	ok = true
	return c, nil
}

// NewSender returns the mail driver selected by MAIL_DRIVER.
func NewSender(cfg *config.Config) (mail.Sender, error) {
	from := mail.From{Address: cfg.MailFrom, Name: cfg.MailFromName}

	switch cfg.MailDriver {
	case config.MailDriverResend:
		return mail.NewResendSender(cfg.ResendAPIKey, from)
	case config.MailDriverSMTP:
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     from,
		})
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.MailDriver)
	}
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
