package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"gorm.io/gorm"
)

// BatchSequenceName is the Postgres sequence numbering batches.
const BatchSequenceName = "auto_send_batch_seq"

type ItemStatusSummary struct {
	BatchID string            `gorm:"column:batch_id"`
	Status  domain.ItemStatus `gorm:"column:status"`
	Count   int               `gorm:"column:count"`
}

type BatchRepository interface {
	CreatePlanned(ctx context.Context, b *domain.Batch, items []*domain.BatchItem) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	List(ctx context.Context, limit int) ([]domain.Batch, error)
	ItemStatusCounts(ctx context.Context, batchIDs []string) (map[string][]domain.StatusCount, error)
	HasPendingOverlap(ctx context.Context, r domain.DateRange) (bool, error)
	ListItems(ctx context.Context, batchID string) ([]domain.BatchItem, error)
	ListPendingItems(ctx context.Context, batchID string) ([]domain.BatchItem, error)
	GetItem(ctx context.Context, id string) (*domain.BatchItem, error)
	MarkItemSent(ctx context.Context, id string, sentAt time.Time) error
	MarkItemFailed(ctx context.Context, id string, message string) error
	ClaimItemArtifactKey(ctx context.Context, id string, previous *string, key string) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// CreatePlanned allocates the batch sequence and writes the batch with all of its items in a
// single transaction. Items get their batch id and 1-based sequence assigned here.
func (r *GormBatchRepo) CreatePlanned(ctx context.Context, b *domain.Batch, items []*domain.BatchItem) error {
	if b == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seq int64
		if err := tx.Raw("SELECT nextval(?::regclass)", BatchSequenceName).Scan(&seq).Error; err != nil {
			return fmt.Errorf("allocate batch sequence: %w", err)
		}

		model := batchModelFromDomain(b)
		model.Sequence = seq
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		models := make([]BatchItemModel, 0, len(items))
		modelIndexes := make([]int, 0, len(items))
		for i, item := range items {
			if item == nil {
				continue
			}
			m := batchItemModelFromDomain(item)
			m.BatchID = model.ID
			m.Sequence = len(models) + 1
			models = append(models, *m)
			modelIndexes = append(modelIndexes, i)
		}

		if len(models) > 0 {
			if err := tx.CreateInBatches(&models, 100).Error; err != nil {
				return err
			}
		}

		*b = *batchModelToDomain(model)
		for i := range models {
			*items[modelIndexes[i]] = *batchItemModelToDomain(&models[i])
		}
		return nil
	})
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) List(ctx context.Context, limit int) ([]domain.Batch, error) {
	if limit < 1 {
		limit = 20
	}
	limit = min(limit, 100)

	var models []BatchModel
	err := r.db.WithContext(ctx).
		Order("sequence DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches, nil
}

// ItemStatusCounts aggregates item rows per batch and status. Batches without items are absent.
func (r *GormBatchRepo) ItemStatusCounts(ctx context.Context, batchIDs []string) (map[string][]domain.StatusCount, error) {
	out := make(map[string][]domain.StatusCount, len(batchIDs))
	if len(batchIDs) == 0 {
		return out, nil
	}

	var summaries []ItemStatusSummary
	err := r.db.WithContext(ctx).
		Model(&BatchItemModel{}).
		Select("batch_id, status, COUNT(*) as count").
		Where("batch_id IN ?", batchIDs).
		Group("batch_id, status").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}

	for _, s := range summaries {
		out[s.BatchID] = append(out[s.BatchID], domain.StatusCount{Status: s.Status, Count: s.Count})
	}
	return out, nil
}

// HasPendingOverlap reports whether a batch whose range intersects r still has PENDING items.
func (r *GormBatchRepo) HasPendingOverlap(ctx context.Context, dr domain.DateRange) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&BatchItemModel{}).
		Joins("JOIN auto_send_batches b ON b.id = auto_send_batch_items.batch_id").
		Where("auto_send_batch_items.status = ?", domain.ItemStatusPending).
		Where("b.date_from <= ? AND b.date_to >= ?", dr.To, dr.From).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormBatchRepo) ListItems(ctx context.Context, batchID string) ([]domain.BatchItem, error) {
	return r.listItems(ctx, batchID, nil)
}

func (r *GormBatchRepo) ListPendingItems(ctx context.Context, batchID string) ([]domain.BatchItem, error) {
	status := domain.ItemStatusPending
	return r.listItems(ctx, batchID, &status)
}

func (r *GormBatchRepo) listItems(ctx context.Context, batchID string, status *domain.ItemStatus) ([]domain.BatchItem, error) {
	query := r.db.WithContext(ctx).Where("batch_id = ?", batchID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var models []BatchItemModel
	if err := query.Order("sequence ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]domain.BatchItem, 0, len(models))
	for i := range models {
		items = append(items, *batchItemModelToDomain(&models[i]))
	}
	return items, nil
}

func (r *GormBatchRepo) GetItem(ctx context.Context, id string) (*domain.BatchItem, error) {
	var model BatchItemModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchItemModelToDomain(&model), nil
}

// MarkItemSent moves a PENDING item to SENT. Returns ErrConflict if the item is no longer pending.
func (r *GormBatchRepo) MarkItemSent(ctx context.Context, id string, sentAt time.Time) error {
	return r.finishItem(ctx, id, map[string]any{
		"status":     domain.ItemStatusSent,
		"sent_at":    sentAt,
		"error":      nil,
		"updated_at": time.Now().UTC(),
	})
}

// MarkItemFailed moves a PENDING item to FAILED with the failure message.
func (r *GormBatchRepo) MarkItemFailed(ctx context.Context, id string, message string) error {
	return r.finishItem(ctx, id, map[string]any{
		"status":     domain.ItemStatusFailed,
		"error":      message,
		"updated_at": time.Now().UTC(),
	})
}

func (r *GormBatchRepo) finishItem(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&BatchItemModel{}).
		Where("id = ? AND status = ?", id, domain.ItemStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ClaimItemArtifactKey points the item at key only if its artifact key is still previous
// (nil meaning none recorded). A writer that lost the race gets ErrConflict.
func (r *GormBatchRepo) ClaimItemArtifactKey(ctx context.Context, id string, previous *string, key string) error {
	query := r.db.WithContext(ctx).Model(&BatchItemModel{}).Where("id = ?", id)
	if previous == nil {
		query = query.Where("artifact_key IS NULL")
	} else {
		query = query.Where("artifact_key = ?", *previous)
	}

	result := query.Updates(map[string]any{
		"artifact_key": key,
		"updated_at":   time.Now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
