package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultScheduledRunTimeout = 2 * time.Hour

// ScheduledTrigger is the scheduled auto-send entry point.
type ScheduledTrigger interface {
	Scheduled(ctx context.Context) (*ScheduledResult, error)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronSpec reports whether spec is a five-field cron expression.
func ValidateCronSpec(spec string) error {
	if _, err := cronParser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Scheduler fires the scheduled trigger on an in-process cron schedule.
type Scheduler struct {
	trigger ScheduledTrigger
	spec    string
	cron    *cron.Cron
	timeout time.Duration
	logger  *zap.Logger
}

func NewScheduler(trigger ScheduledTrigger, spec string, location *time.Location, logger *zap.Logger) (*Scheduler, error) {
	if trigger == nil {
		return nil, fmt.Errorf("scheduled trigger is required")
	}
	spec = strings.TrimSpace(spec)
	if err := ValidateCronSpec(spec); err != nil {
		return nil, err
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		trigger: trigger,
		spec:    spec,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(location),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		timeout: defaultScheduledRunTimeout,
		logger:  logger,
	}, nil
}

// Start runs the schedule until ctx is cancelled and waits for a running job to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule auto-send: %w", err)
	}

	s.logger.Info("auto-send scheduler started", zap.String("schedule", s.spec))
	s.cron.Start()

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("auto-send scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.trigger.Scheduled(runCtx)
	if err != nil {
		s.logger.Error("scheduled auto-send failed", zap.Error(err))
		return
	}

	switch {
	case result.Skipped:
		s.logger.Info("scheduled auto-send skipped", zap.String("reason", result.Reason))
	case !result.Success:
		s.logger.Info("scheduled auto-send planned nothing", zap.String("message", result.Message))
	default:
		s.logger.Info("scheduled auto-send finished",
			zap.String("batchId", result.BatchID),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.String("status", result.Status.String()),
		)
	}
}
