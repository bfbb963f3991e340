package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/lock"
	"github.com/kursadbilgin/autosend-engine/internal/observability"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"go.uber.org/zap"
)

// PlanRequest selects what a new batch covers. Empty RecipientIDs fall back to the saved
// selection; a nil IncludeCertificates falls back to the saved default.
type PlanRequest struct {
	Range               domain.DateRange
	RecipientIDs        []string
	IncludeCertificates *bool
	Trigger             domain.Trigger
	ActorID             string
}

type PlanResult struct {
	Batch *domain.Batch
	Items []domain.BatchItem
}

type Planner struct {
	batches    repository.BatchRepository
	recipients repository.RecipientRepository
	settings   repository.SettingsRepository
	entries    repository.EntryRepository
	locker     lock.Locker
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewPlanner(
	batches repository.BatchRepository,
	recipients repository.RecipientRepository,
	settings repository.SettingsRepository,
	entries repository.EntryRepository,
	locker lock.Locker,
	logger *zap.Logger,
) (*Planner, error) {
	if batches == nil || recipients == nil || settings == nil || entries == nil {
		return nil, fmt.Errorf("planner repositories are required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Planner{
		batches:    batches,
		recipients: recipients,
		settings:   settings,
		entries:    entries,
		locker:     locker,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (p *Planner) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Plan persists a batch with one PENDING item per active recipient, or nothing at all.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := req.Range.Validate(); err != nil {
		return nil, err
	}
	if !req.Trigger.IsValid() {
		return nil, fmt.Errorf("%w: invalid trigger %q", domain.ErrValidation, req.Trigger)
	}

	held, err := p.locker.Acquire(ctx, lock.Planning)
	if errors.Is(err, lock.ErrNotAcquired) {
		p.rejected("locked")
		return nil, fmt.Errorf("%w: another batch is being planned", domain.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire planning lock: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("failed to release planning lock", zap.Error(err))
		}
	}()

	recipientIDs := domain.DedupeIDs(req.RecipientIDs)
	includeCertificates := req.IncludeCertificates
	if len(recipientIDs) == 0 || includeCertificates == nil {
		settings, err := p.settings.GetOrCreate(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		if len(recipientIDs) == 0 {
			recipientIDs = domain.DedupeIDs(settings.SelectedRecipientIDs)
		}
		if includeCertificates == nil {
			includeCertificates = &settings.IncludeCertificates
		}
	}

	recipients, err := p.activeRecipients(ctx, recipientIDs)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		p.rejected("no_recipients")
		return nil, domain.ErrNoRecipients
	}

	overlap, err := p.batches.HasPendingOverlap(ctx, req.Range)
	if err != nil {
		return nil, fmt.Errorf("failed to check overlapping batches: %w", err)
	}
	if overlap {
		p.rejected("overlap")
		return nil, fmt.Errorf("%w: a batch covering this range still has pending items", domain.ErrConflict)
	}

	entryIDs, err := p.entries.ListIDsInRange(ctx, req.Range)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	if len(entryIDs) == 0 {
		p.rejected("no_entries")
		return nil, domain.ErrNoEntries
	}

	now := p.now().UTC()
	batch := &domain.Batch{
		ID:        uuid.NewString(),
		DateFrom:  req.Range.From,
		DateTo:    req.Range.To,
		Trigger:   req.Trigger,
		CreatedAt: now,
	}
	if req.ActorID != "" {
		actor := req.ActorID
		batch.InitiatedBy = &actor
	}

	items := make([]*domain.BatchItem, 0, len(recipients))
	for _, r := range recipients {
		items = append(items, &domain.BatchItem{
			ID:                  uuid.NewString(),
			BatchID:             batch.ID,
			RecipientID:         r.ID,
			RecipientEmail:      r.Email,
			EntryIDs:            append([]string(nil), entryIDs...),
			IncludeCertificates: *includeCertificates,
			Status:              domain.ItemStatusPending,
			CreatedAt:           now,
			UpdatedAt:           now,
		})
	}

	if err := p.batches.CreatePlanned(ctx, batch, items); err != nil {
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	if p.metrics != nil {
		p.metrics.IncBatchPlanned(batch.Trigger.String())
	}
	p.logger.Info("batch planned",
		zap.String("batchId", batch.ID),
		zap.Int64("sequence", batch.Sequence),
		zap.String("trigger", batch.Trigger.String()),
		zap.Int("recipients", len(items)),
		zap.Int("entries", len(entryIDs)),
	)

	result := &PlanResult{Batch: batch, Items: make([]domain.BatchItem, 0, len(items))}
	for _, item := range items {
		result.Items = append(result.Items, *item)
	}
	return result, nil
}

func (p *Planner) activeRecipients(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	loaded, err := p.recipients.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}

	active := make([]domain.Recipient, 0, len(loaded))
	for _, r := range loaded {
		if r.IsActive {
			active = append(active, r)
		}
	}
	return active, nil
}

func (p *Planner) rejected(reason string) {
	if p.metrics != nil {
		p.metrics.IncPlanRejected(reason)
	}
}
