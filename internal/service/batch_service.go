package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/autosend-engine/internal/document"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"go.uber.org/zap"
)

// BatchSummary is a batch with its status folded from the current item rows.
type BatchSummary struct {
	Batch  domain.Batch
	Status domain.BatchStatus
	Counts []domain.StatusCount
	Total  int
}

type BatchDetail struct {
	BatchSummary
	Items []domain.BatchItem
}

// Artifact is a downloadable item package.
type Artifact struct {
	Filename string
	Content  []byte
}

type BatchService struct {
	batches   repository.BatchRepository
	composer  Composer
	artifacts document.ObjectStore
	logger    *zap.Logger
}

func NewBatchService(
	batches repository.BatchRepository,
	composer Composer,
	artifacts document.ObjectStore,
	logger *zap.Logger,
) (*BatchService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if composer == nil {
		return nil, fmt.Errorf("composer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:   batches,
		composer:  composer,
		artifacts: artifacts,
		logger:    logger,
	}, nil
}

func (s *BatchService) List(ctx context.Context, limit int) ([]BatchSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batches, err := s.batches.List(ctx, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	counts, err := s.batches.ItemStatusCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make([]BatchSummary, 0, len(batches))
	for _, b := range batches {
		summaries = append(summaries, summarize(b, counts[b.ID]))
	}
	return summaries, nil
}

func (s *BatchService) Get(ctx context.Context, id string) (*BatchDetail, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.batches.ListItems(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	return &BatchDetail{
		BatchSummary: summarize(*batch, domain.CountItemStatuses(items)),
		Items:        items,
	}, nil
}

// Download returns the item's package: the bytes that were emailed, or for an unsent item the
// copy the executor will send later.
func (s *BatchService) Download(ctx context.Context, itemID string) (*Artifact, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	item, err := s.batches.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	batch, err := s.batches.GetByID(ctx, item.BatchID)
	if err != nil {
		return nil, err
	}
	data, err := packageResolver{
		batches:  s.batches,
		store:    s.artifacts,
		composer: s.composer,
		logger:   s.logger,
	}.resolve(ctx, batch, *item)
	if err != nil {
		return nil, err
	}
	return &Artifact{Filename: domain.ArtifactFilename(batch.Sequence, item.Sequence), Content: data}, nil
}

func summarize(b domain.Batch, counts []domain.StatusCount) BatchSummary {
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	return BatchSummary{
		Batch:  b,
		Status: domain.DeriveBatchStatus(counts),
		Counts: counts,
		Total:  total,
	}
}
