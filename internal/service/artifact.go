package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/autosend-engine/internal/document"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/mail"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"go.uber.org/zap"
)

const maxArtifactClaims = 3

// ArtifactStoreError reports that the package could not be read from or recorded in object
// storage. Content is set when a freshly composed package exists but could not be recorded.
type ArtifactStoreError struct {
	Op      string
	Content []byte
	Err     error
}

func (e *ArtifactStoreError) Error() string {
	return fmt.Sprintf("artifact %s failed: %v", e.Op, e.Err)
}

func (e *ArtifactStoreError) Unwrap() error {
	return e.Err
}

// packageResolver resolves the one package of an item that the email and every download share.
// Each composition is stored under a fresh key and recorded with a conditional claim, so a
// composer that loses a race serves the winner's stored bytes instead of its own.
type packageResolver struct {
	batches  repository.BatchRepository
	store    document.ObjectStore
	composer Composer
	logger   *zap.Logger
	// observeCompose, when set, receives the duration of every composition.
	observeCompose func(time.Duration)
}

func (a packageResolver) resolve(ctx context.Context, batch *domain.Batch, item domain.BatchItem) ([]byte, error) {
	for attempt := 0; attempt < maxArtifactClaims; attempt++ {
		if item.ArtifactKey != nil && a.store != nil {
			data, err := a.store.Get(ctx, *item.ArtifactKey)
			if err == nil {
				return data, nil
			}
			if !errors.Is(err, document.ErrObjectNotFound) {
				return nil, &ArtifactStoreError{Op: "read", Err: err}
			}
			a.logger.Warn("stored artifact missing, composing again",
				zap.String("itemId", item.ID),
				zap.String("key", *item.ArtifactKey),
			)
		}

		data, err := a.compose(ctx, item)
		if err != nil {
			return nil, err
		}
		if a.store == nil {
			return data, nil
		}

		key := ArtifactKey(batch, item, uuid.NewString())
		if err := a.store.Put(ctx, key, data, mail.ContentTypePDF); err != nil {
			return nil, &ArtifactStoreError{Op: "write", Content: data, Err: err}
		}

		err = a.batches.ClaimItemArtifactKey(ctx, item.ID, item.ArtifactKey, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, &ArtifactStoreError{Op: "claim", Content: data, Err: err}
		}

		current, err := a.batches.GetItem(ctx, item.ID)
		if err != nil {
			return nil, &ArtifactStoreError{Op: "reload", Err: err}
		}
		item = *current
	}
	return nil, &ArtifactStoreError{Op: "claim", Err: fmt.Errorf("item %s artifact kept changing", item.ID)}
}

func (a packageResolver) compose(ctx context.Context, item domain.BatchItem) ([]byte, error) {
	start := time.Now()
	data, err := a.composer.Compose(ctx, item.EntryIDs, item.IncludeCertificates)
	if a.observeCompose != nil {
		a.observeCompose(time.Since(start))
	}
	return data, err
}

// ArtifactKey is the object key of one composition of an item's package.
func ArtifactKey(batch *domain.Batch, item domain.BatchItem, token string) string {
	return fmt.Sprintf("auto-send/%s/%s-%s", batch.ID, token, domain.ArtifactFilename(batch.Sequence, item.Sequence))
}
