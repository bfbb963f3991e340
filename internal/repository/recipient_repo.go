package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RecipientRepository interface {
	List(ctx context.Context) ([]domain.Recipient, error)
	GetByID(ctx context.Context, id string) (*domain.Recipient, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Recipient, error)
	CreateSkipExisting(ctx context.Context, recipients []*domain.Recipient) (int, error)
	Update(ctx context.Context, r *domain.Recipient) error
	Delete(ctx context.Context, id string) error
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) List(ctx context.Context) ([]domain.Recipient, error) {
	var models []RecipientModel
	if err := r.db.WithContext(ctx).Order("email ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, *recipientModelToDomain(&models[i]))
	}
	return recipients, nil
}

func (r *GormRecipientRepo) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	var model RecipientModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recipientModelToDomain(&model), nil
}

// GetByIDs returns the recipients in the order of ids. Unknown ids are skipped.
func (r *GormRecipientRepo) GetByIDs(ctx context.Context, ids []string) ([]domain.Recipient, error) {
	if len(ids) == 0 {
		return []domain.Recipient{}, nil
	}

	var models []RecipientModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]*RecipientModel, len(models))
	for i := range models {
		byID[models[i].ID] = &models[i]
	}

	recipients := make([]domain.Recipient, 0, len(models))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			recipients = append(recipients, *recipientModelToDomain(m))
		}
	}
	return recipients, nil
}

// CreateSkipExisting inserts recipients whose email is not yet stored and returns how many rows
// were actually created. Existing emails are silently skipped.
func (r *GormRecipientRepo) CreateSkipExisting(ctx context.Context, recipients []*domain.Recipient) (int, error) {
	created := 0
	for _, rec := range recipients {
		if rec == nil {
			continue
		}
		model := recipientModelFromDomain(rec)
		result := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "email"}},
				DoNothing: true,
			}).
			Create(model)
		if result.Error != nil {
			return created, result.Error
		}
		if result.RowsAffected > 0 {
			created++
			*rec = *recipientModelToDomain(model)
		}
	}
	return created, nil
}

func (r *GormRecipientRepo) Update(ctx context.Context, rec *domain.Recipient) error {
	if rec == nil {
		return domain.ErrValidation
	}
	result := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"email":      rec.Email,
			"name":       rec.Name,
			"is_active":  rec.IsActive,
			"updated_at": rec.UpdatedAt,
		})
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRecipientRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&RecipientModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
