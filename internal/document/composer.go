package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"go.uber.org/zap"
)

// EntrySource loads fuel entries by id.
type EntrySource interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.FuelEntry, error)
}

// Composer assembles the per-recipient PDF package.
type Composer struct {
	entries  EntrySource
	renderer Renderer
	store    ObjectStore
	merger   Merger
	logger   *zap.Logger
}

func NewComposer(entries EntrySource, renderer Renderer, store ObjectStore, merger Merger, logger *zap.Logger) (*Composer, error) {
	if entries == nil {
		return nil, fmt.Errorf("entry source is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if merger == nil {
		return nil, fmt.Errorf("merger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Composer{
		entries:  entries,
		renderer: renderer,
		store:    store,
		merger:   merger,
		logger:   logger,
	}, nil
}

// Compose renders entryIDs in order and merges them into one PDF. With includeCertificates each
// entry's certificate PDFs follow that entry's pages. Unknown entry ids and missing certificate
// objects are skipped; every other failure is returned as a *ComposeError.
func (c *Composer) Compose(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := c.entries.GetByIDs(ctx, entryIDs)
	if err != nil {
		return nil, &ComposeError{Stage: StageLoad, Err: err}
	}

	parts := make([][]byte, 0, len(entryIDs))
	rendered := 0
	for _, id := range entryIDs {
		entry, ok := entries[id]
		if !ok {
			c.logger.Warn("skipping unknown entry", zap.String("entryId", id))
			continue
		}

		doc, err := c.renderer.Render(ctx, entry)
		if err != nil {
			return nil, &ComposeError{Stage: StageRender, EntryID: id, Err: err}
		}
		parts = append(parts, doc)
		rendered++

		if !includeCertificates || c.store == nil {
			continue
		}
		for _, key := range entry.CertificateKeys {
			cert, err := c.store.Get(ctx, key)
			if errors.Is(err, ErrObjectNotFound) {
				c.logger.Warn("certificate missing",
					zap.String("entryId", id),
					zap.String("key", key),
				)
				continue
			}
			if err != nil {
				return nil, &ComposeError{Stage: StageCertificate, EntryID: id, Err: err}
			}
			parts = append(parts, cert)
		}
	}

	if rendered == 0 {
		return nil, &ComposeError{Stage: StageLoad, Err: fmt.Errorf("none of %d entries could be loaded", len(entryIDs))}
	}

	merged, err := c.merger.Merge(parts)
	if err != nil {
		return nil, &ComposeError{Stage: StageMerge, Err: err}
	}
	return merged, nil
}
