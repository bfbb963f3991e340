package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"go.uber.org/zap"
)

type SettingsService struct {
	settings   repository.SettingsRepository
	recipients repository.RecipientRepository
	logger     *zap.Logger
	now        func() time.Time
}

func NewSettingsService(
	settings repository.SettingsRepository,
	recipients repository.RecipientRepository,
	logger *zap.Logger,
) (*SettingsService, error) {
	if settings == nil || recipients == nil {
		return nil, fmt.Errorf("settings dependencies are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{settings: settings, recipients: recipients, logger: logger, now: time.Now}, nil
}

func (s *SettingsService) Get(ctx context.Context) (*domain.Settings, error) {
	return s.settings.GetOrCreate(ctx)
}

// Update applies a partial update. Only the set fields are written, and every selected
// recipient id must exist.
func (s *SettingsService) Update(ctx context.Context, update domain.SettingsUpdate) (*domain.Settings, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if update.SelectedRecipientIDs != nil {
		ids := domain.DedupeIDs(*update.SelectedRecipientIDs)
		found, err := s.recipients.GetByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(found) != len(ids) {
			known := make(map[string]struct{}, len(found))
			for _, r := range found {
				known[r.ID] = struct{}{}
			}
			missing := make([]string, 0)
			for _, id := range ids {
				if _, ok := known[id]; !ok {
					missing = append(missing, id)
				}
			}
			return nil, fmt.Errorf("%w: unknown recipient id(s): %s", domain.ErrValidation, strings.Join(missing, ", "))
		}
	}

	current, err := s.settings.Update(ctx, update, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.Info("auto-send settings updated",
		zap.Bool("enabled", current.IsEnabled),
		zap.Int("selectedRecipients", len(current.SelectedRecipientIDs)),
	)
	return current, nil
}
