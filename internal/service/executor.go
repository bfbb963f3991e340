package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/autosend-engine/internal/document"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/lock"
	"github.com/kursadbilgin/autosend-engine/internal/mail"
	"github.com/kursadbilgin/autosend-engine/internal/observability"
	"github.com/kursadbilgin/autosend-engine/internal/ratelimit"
	"github.com/kursadbilgin/autosend-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultExecutorConcurrency = 4
	defaultLockRefreshInterval = time.Minute
)

// errExecutionLockLost stops a run whose execution lock expired or was taken over.
var errExecutionLockLost = fmt.Errorf("%w: execution lock lost", domain.ErrConflict)

// Composer builds the PDF package for an ordered list of entries.
type Composer interface {
	Compose(ctx context.Context, entryIDs []string, includeCertificates bool) ([]byte, error)
}

// BatchExecutor runs the PENDING items of a batch.
type BatchExecutor interface {
	Execute(ctx context.Context, batchID string, actorID string) (*ExecutionResult, error)
}

type ExecutionResult struct {
	BatchID   string
	Attempted int
	Sent      int
	Failed    int
	Remaining int
	Status    domain.BatchStatus
}

type Executor struct {
	batches     repository.BatchRepository
	composer    Composer
	artifacts   document.ObjectStore
	sender      mail.Sender
	rateLimiter ratelimit.RateLimiter
	locker      lock.Locker
	concurrency int
	lockRefresh time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewExecutor(
	batches repository.BatchRepository,
	composer Composer,
	artifacts document.ObjectStore,
	sender mail.Sender,
	rateLimiter ratelimit.RateLimiter,
	locker lock.Locker,
	concurrency int,
	logger *zap.Logger,
) (*Executor, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if composer == nil {
		return nil, fmt.Errorf("composer is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if concurrency < 1 {
		concurrency = defaultExecutorConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		batches:     batches,
		composer:    composer,
		artifacts:   artifacts,
		sender:      sender,
		rateLimiter: rateLimiter,
		locker:      locker,
		concurrency: concurrency,
		lockRefresh: defaultLockRefreshInterval,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (e *Executor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// SetLockRefreshInterval sets how often a running execution re-extends its lock. It must be
// well below the lock TTL.
func (e *Executor) SetLockRefreshInterval(interval time.Duration) {
	if e == nil || interval <= 0 {
		return
	}
	e.lockRefresh = interval
}

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeSent
	outcomeFailed
)

// Execute composes and dispatches every PENDING item of the batch. A failing item never stops
// the others. Cancelling ctx leaves unstarted items PENDING so the batch can be resumed.
// Storage failures while recording outcomes are returned after all workers finish.
//
// The execution lock is refreshed for as long as the run lasts. When a refresh finds it lost,
// no further item is started or dispatched and Execute returns a conflict.
func (e *Executor) Execute(parent context.Context, batchID string, actorID string) (*ExecutionResult, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	held, err := e.locker.Acquire(ctx, lock.Execution(batchID))
	if errors.Is(err, lock.ErrNotAcquired) {
		return nil, fmt.Errorf("%w: batch %s is already executing", domain.ErrConflict, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire execution lock: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("failed to release execution lock", zap.String("batchId", batchID), zap.Error(err))
		}
	}()
	stopRefresh := e.keepLock(ctx, held, cancel, batchID)
	defer stopRefresh()

	batch, err := e.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	items, err := e.batches.ListPendingItems(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending items: %w", err)
	}

	logger := observability.WithContextLogger(e.logger, ctx).With(
		zap.String("batchId", batch.ID),
		zap.Int64("batchSequence", batch.Sequence),
	)
	if actorID != "" {
		logger = logger.With(zap.String("actorId", actorID))
	}
	logger.Info("batch execution started", zap.Int("pendingItems", len(items)))

	result := &ExecutionResult{BatchID: batch.ID}
	var (
		mu         sync.Mutex
		storageErr error
	)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range items {
		item := items[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			outcome, err := e.runItem(ctx, batch, item, logger)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				result.Attempted++
				result.Sent++
			case outcomeFailed:
				result.Attempted++
				result.Failed++
			}
			if err != nil && storageErr == nil {
				storageErr = err
			}
			return nil
		})
	}
	_ = g.Wait()

	counts, err := e.batches.ItemStatusCounts(context.WithoutCancel(ctx), []string{batch.ID})
	if err != nil && storageErr == nil {
		storageErr = fmt.Errorf("failed to count item statuses: %w", err)
	}
	for _, c := range counts[batch.ID] {
		if c.Status == domain.ItemStatusPending {
			result.Remaining += c.Count
		}
	}
	result.Status = domain.DeriveBatchStatus(counts[batch.ID])

	logger.Info("batch execution finished",
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("remaining", result.Remaining),
		zap.String("status", result.Status.String()),
	)

	if storageErr != nil {
		return result, fmt.Errorf("batch %s: %w", batch.ID, storageErr)
	}
	if errors.Is(context.Cause(ctx), errExecutionLockLost) {
		return result, fmt.Errorf("batch %s: %w", batch.ID, errExecutionLockLost)
	}
	return result, nil
}

// keepLock refreshes held until the returned stop is called. Losing the lock cancels ctx with
// errExecutionLockLost; a failed refresh that may be transient is retried on the next tick.
func (e *Executor) keepLock(ctx context.Context, held lock.Lock, cancel context.CancelCauseFunc, batchID string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.lockRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			err := held.Refresh(ctx)
			switch {
			case err == nil:
			case errors.Is(err, lock.ErrNotAcquired):
				e.logger.Error("execution lock lost, stopping run", zap.String("batchId", batchID))
				cancel(errExecutionLockLost)
				return
			case ctx.Err() != nil:
				return
			default:
				e.logger.Warn("failed to refresh execution lock", zap.String("batchId", batchID), zap.Error(err))
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// runItem isolates one item. The returned error is reserved for storage failures.
func (e *Executor) runItem(ctx context.Context, batch *domain.Batch, item domain.BatchItem, logger *zap.Logger) (outcome itemOutcome, err error) {
	logger = logger.With(zap.String("itemId", item.ID), zap.Int("itemSequence", item.Sequence))

	if e.metrics != nil {
		e.metrics.IncExecutorInFlight()
		defer e.metrics.DecExecutorInFlight()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("item processing panicked", zap.Any("panic", r))
			outcome, err = e.fail(ctx, item, "panic", fmt.Sprintf("internal error: %v", r), logger)
		}
	}()

	if e.rateLimiter != nil {
		if err := e.rateLimiter.Wait(ctx, ratelimit.ScopeEmail); err != nil {
			if ctx.Err() != nil {
				return outcomeSkipped, nil
			}
			return outcomeSkipped, fmt.Errorf("rate limiter: %w", err)
		}
	}

	pdf, err := e.packages().resolve(ctx, batch, item)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeSkipped, nil
		}
		var storeErr *ArtifactStoreError
		switch {
		case errors.As(err, &storeErr) && storeErr.Content != nil:
			logger.Warn("artifact not recorded, dispatching the composed copy", zap.Error(err))
			pdf = storeErr.Content
		case errors.As(err, &storeErr):
			return outcomeSkipped, fmt.Errorf("item %s: %w", item.ID, err)
		default:
			reason := "compose"
			if document.IsTransient(err) {
				reason = "compose_transient"
			}
			return e.fail(ctx, item, reason, err.Error(), logger)
		}
	}

	filename := domain.ArtifactFilename(batch.Sequence, item.Sequence)
	subject, text, html, err := mail.BuildReport(mail.ReportData{
		BatchSequence: batch.Sequence,
		ItemSequence:  item.Sequence,
		DateFrom:      batch.DateFrom,
		DateTo:        batch.DateTo,
		EntryCount:    len(item.EntryIDs),
		Filename:      filename,
	})
	if err != nil {
		return e.fail(ctx, item, "compose", err.Error(), logger)
	}
	if ctx.Err() != nil {
		return outcomeSkipped, nil
	}

	start := e.now()
	sendErr := e.sender.Send(ctx, mail.Message{
		To:      []string{item.RecipientEmail},
		Subject: subject,
		Text:    text,
		HTML:    html,
		Attachments: []mail.Attachment{{
			Filename:    filename,
			ContentType: mail.ContentTypePDF,
			Content:     pdf,
		}},
	})
	if e.metrics != nil {
		e.metrics.ObserveDispatchDuration(e.now().Sub(start))
	}
	if sendErr != nil {
		return e.fail(ctx, item, "dispatch", sendErr.Error(), logger)
	}

	err = e.batches.MarkItemSent(context.WithoutCancel(ctx), item.ID, e.now().UTC())
	if errors.Is(err, domain.ErrConflict) {
		logger.Warn("item was finished concurrently")
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, fmt.Errorf("mark item %s sent: %w", item.ID, err)
	}

	if e.metrics != nil {
		e.metrics.IncItemSent()
	}
	logger.Info("item sent", zap.String("recipient", item.RecipientEmail))
	return outcomeSent, nil
}

func (e *Executor) packages() packageResolver {
	a := packageResolver{batches: e.batches, store: e.artifacts, composer: e.composer, logger: e.logger}
	if e.metrics != nil {
		a.observeCompose = e.metrics.ObserveComposeDuration
	}
	return a
}

func (e *Executor) fail(ctx context.Context, item domain.BatchItem, reason string, message string, logger *zap.Logger) (itemOutcome, error) {
	err := e.batches.MarkItemFailed(context.WithoutCancel(ctx), item.ID, message)
	if errors.Is(err, domain.ErrConflict) {
		logger.Warn("item was finished concurrently")
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, fmt.Errorf("mark item %s failed: %w", item.ID, err)
	}

	if e.metrics != nil {
		e.metrics.IncItemFailed(reason)
	}
	logger.Warn("item failed", zap.String("reason", reason), zap.String("error", message))
	return outcomeFailed, nil
}
