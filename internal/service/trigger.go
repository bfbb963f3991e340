package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/observability"
	"github.com/kursadbilgin/autosend-engine/internal/queue"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"go.uber.org/zap"
)

// BatchPlanner creates batches.
type BatchPlanner interface {
	Plan(ctx context.Context, req PlanRequest) (*PlanResult, error)
}

// ManualRequest is an operator-initiated send. A nil Range means the previous day.
type ManualRequest struct {
	Range               *domain.DateRange
	RecipientIDs        []string
	IncludeCertificates *bool
	ActorID             string
}

type ManualResult struct {
	BatchID       string
	BatchSequence int64
	Items         int
}

type ScheduledResult struct {
	Success   bool
	Skipped   bool
	Reason    string
	Message   string
	BatchID   string
	Sent      int
	Failed    int
	Remaining int
	Status    domain.BatchStatus
}

// TriggerService holds the caller-side policy of the two entry points: manual runs are planned
// synchronously and executed in the background, scheduled runs are planned and awaited.
type TriggerService struct {
	planner  BatchPlanner
	executor BatchExecutor
	runner   Runner
	settings repository.SettingsRepository
	location *time.Location
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewTriggerService(
	planner BatchPlanner,
	executor BatchExecutor,
	runner Runner,
	settings repository.SettingsRepository,
	location *time.Location,
	logger *zap.Logger,
) (*TriggerService, error) {
	if planner == nil || executor == nil || runner == nil || settings == nil {
		return nil, fmt.Errorf("trigger dependencies are required")
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TriggerService{
		planner:  planner,
		executor: executor,
		runner:   runner,
		settings: settings,
		location: location,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *TriggerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Location is the timezone used for calendar-day ranges.
func (s *TriggerService) Location() *time.Location {
	return s.location
}

func (s *TriggerService) Manual(ctx context.Context, req ManualRequest) (*ManualResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dr := domain.PreviousDay(s.now(), s.location)
	if req.Range != nil {
		dr = *req.Range
	}

	planned, err := s.planner.Plan(ctx, PlanRequest{
		Range:               dr,
		RecipientIDs:        req.RecipientIDs,
		IncludeCertificates: req.IncludeCertificates,
		Trigger:             domain.TriggerManual,
		ActorID:             req.ActorID,
	})
	if err != nil {
		return nil, err
	}

	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = uuid.NewString()
	}
	msg := queue.BatchMessage{
		BatchID:       planned.Batch.ID,
		ActorID:       req.ActorID,
		CorrelationID: correlationID,
	}
	if err := s.runner.Submit(ctx, msg); err != nil {
		s.logger.Error("failed to submit planned batch; it stays pending for resume",
			zap.String("batchId", planned.Batch.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("batch %s planned but not started: %w", planned.Batch.ID, err)
	}

	return &ManualResult{
		BatchID:       planned.Batch.ID,
		BatchSequence: planned.Batch.Sequence,
		Items:         len(planned.Items),
	}, nil
}

// Resume re-submits the remaining PENDING items of an existing batch.
func (s *TriggerService) Resume(ctx context.Context, batchID string, actorID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = uuid.NewString()
	}
	return s.runner.Submit(ctx, queue.BatchMessage{
		BatchID:       batchID,
		ActorID:       actorID,
		CorrelationID: correlationID,
		Resume:        true,
	})
}

// Scheduled plans yesterday's batch with the saved settings and waits for its execution.
// Planning rejections are reported in the result; only infrastructure failures are errors.
func (s *TriggerService) Scheduled(ctx context.Context) (*ScheduledResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	settings, err := s.settings.GetOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.IsEnabled {
		s.recordRun("skipped")
		return &ScheduledResult{Skipped: true, Reason: "auto-send is disabled"}, nil
	}

	planned, err := s.planner.Plan(ctx, PlanRequest{
		Range:   domain.PreviousDay(s.now(), s.location),
		Trigger: domain.TriggerScheduled,
	})
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConflict) {
		s.recordRun("rejected")
		s.logger.Info("scheduled auto-send planned nothing", zap.Error(err))
		return &ScheduledResult{Success: false, Message: err.Error()}, nil
	}
	if err != nil {
		s.recordRun("error")
		return nil, err
	}

	exec, err := s.executor.Execute(ctx, planned.Batch.ID, "")
	if err != nil {
		s.recordRun("error")
		return nil, err
	}

	s.recordRun("executed")
	return &ScheduledResult{
		Success:   true,
		BatchID:   exec.BatchID,
		Sent:      exec.Sent,
		Failed:    exec.Failed,
		Remaining: exec.Remaining,
		Status:    exec.Status,
	}, nil
}

func (s *TriggerService) recordRun(outcome string) {
	if s.metrics != nil {
		s.metrics.IncScheduledRun(outcome)
	}
}
