package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"go.uber.org/zap"
)

type CreateRecipientsRequest struct {
	Emails  string
	Name    *string
	ActorID string
}

type CreateRecipientsResult struct {
	Created int
	Skipped int
}

type UpdateRecipientRequest struct {
	Email    *string
	Name     *string
	IsActive *bool
}

type RecipientService struct {
	recipients repository.RecipientRepository
	logger     *zap.Logger
	now        func() time.Time
}

func NewRecipientService(recipients repository.RecipientRepository, logger *zap.Logger) (*RecipientService, error) {
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecipientService{recipients: recipients, logger: logger, now: time.Now}, nil
}

func (s *RecipientService) List(ctx context.Context) ([]domain.Recipient, error) {
	return s.recipients.List(ctx)
}

// Create inserts every address in req.Emails. Addresses that already exist are counted as skipped.
func (s *RecipientService) Create(ctx context.Context, req CreateRecipientsRequest) (*CreateRecipientsResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	emails, err := domain.ParseEmailList(req.Emails)
	if err != nil {
		return nil, err
	}

	name := normalizeOptionalString(req.Name)
	now := s.now().UTC()
	recipients := make([]*domain.Recipient, 0, len(emails))
	for _, email := range emails {
		recipients = append(recipients, &domain.Recipient{
			ID:        uuid.NewString(),
			Email:     email,
			Name:      name,
			IsActive:  true,
			CreatedBy: req.ActorID,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	created, err := s.recipients.CreateSkipExisting(ctx, recipients)
	if err != nil {
		return nil, err
	}

	s.logger.Info("recipients created",
		zap.Int("created", created),
		zap.Int("skipped", len(recipients)-created),
		zap.String("actorId", req.ActorID),
	)
	return &CreateRecipientsResult{Created: created, Skipped: len(recipients) - created}, nil
}

func (s *RecipientService) Update(ctx context.Context, id string, req UpdateRecipientRequest) (*domain.Recipient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}

	rec, err := s.recipients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Email != nil {
		email := domain.NormalizeEmail(*req.Email)
		if !domain.IsValidEmail(email) {
			return nil, fmt.Errorf("%w: invalid email address: %s", domain.ErrValidation, email)
		}
		rec.Email = email
	}
	if req.Name != nil {
		rec.Name = normalizeOptionalString(req.Name)
	}
	if req.IsActive != nil {
		rec.IsActive = *req.IsActive
	}
	rec.UpdatedAt = s.now().UTC()

	if err := s.recipients.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RecipientService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: recipient id is required", domain.ErrValidation)
	}
	return s.recipients.Delete(ctx, id)
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
