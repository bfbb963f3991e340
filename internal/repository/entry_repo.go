package repository

import (
	"context"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"gorm.io/gorm"
)

type EntryRepository interface {
	ListIDsInRange(ctx context.Context, r domain.DateRange) ([]string, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.FuelEntry, error)
}

type GormEntryRepo struct {
	db *gorm.DB
}

func NewGormEntryRepo(db *gorm.DB) *GormEntryRepo {
	return &GormEntryRepo{db: db}
}

// ListIDsInRange returns entry ids delivered within the inclusive range, oldest first.
func (r *GormEntryRepo) ListIDsInRange(ctx context.Context, dr domain.DateRange) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&FuelEntryModel{}).
		Where("delivered_at >= ? AND delivered_at <= ?", dr.From, dr.To).
		Order("delivered_at ASC, created_at ASC, id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetByIDs loads entries keyed by id. Callers decide ordering; unknown ids are simply absent.
func (r *GormEntryRepo) GetByIDs(ctx context.Context, ids []string) (map[string]domain.FuelEntry, error) {
	out := make(map[string]domain.FuelEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var models []FuelEntryModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for i := range models {
		out[models[i].ID] = *fuelEntryModelToDomain(&models[i])
	}
	return out, nil
}
