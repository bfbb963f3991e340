package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsRepository interface {
	GetOrCreate(ctx context.Context) (*domain.Settings, error)
	Update(ctx context.Context, update domain.SettingsUpdate, at time.Time) (*domain.Settings, error)
}

type GormSettingsRepo struct {
	db *gorm.DB
}

func NewGormSettingsRepo(db *gorm.DB) *GormSettingsRepo {
	return &GormSettingsRepo{db: db}
}

// GetOrCreate returns the singleton settings row, inserting the disabled default on first read.
func (r *GormSettingsRepo) GetOrCreate(ctx context.Context) (*domain.Settings, error) {
	defaults := SettingsModel{
		ID:                   domain.SettingsKey,
		SelectedRecipientIDs: []string{},
		UpdatedAt:            time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&defaults).Error
	if err != nil {
		return nil, err
	}

	var model SettingsModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", domain.SettingsKey).Error; err != nil {
		return nil, err
	}
	return settingsModelToDomain(&model), nil
}

// Update writes only the fields set in update, so concurrent partial updates of different
// fields do not overwrite each other. It returns the row as stored afterwards.
func (r *GormSettingsRepo) Update(ctx context.Context, update domain.SettingsUpdate, at time.Time) (*domain.Settings, error) {
	if _, err := r.GetOrCreate(ctx); err != nil {
		return nil, err
	}

	fields := map[string]any{"updated_at": at.UTC()}
	if update.IsEnabled != nil {
		fields["is_enabled"] = *update.IsEnabled
	}
	if update.SelectedRecipientIDs != nil {
		fields["selected_recipient_ids"] = pq.StringArray(domain.DedupeIDs(*update.SelectedRecipientIDs))
	}
	if update.IncludeCertificates != nil {
		fields["include_certificates"] = *update.IncludeCertificates
	}
	if update.UpdatedBy != nil {
		fields["updated_by"] = *update.UpdatedBy
	}

	var model SettingsModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&SettingsModel{}).Where("id = ?", domain.SettingsKey).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&model, "id = ?", domain.SettingsKey).Error
	})
	if err != nil {
		return nil, err
	}
	return settingsModelToDomain(&model), nil
}
