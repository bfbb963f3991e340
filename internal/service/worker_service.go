package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/observability"
	"github.com/kursadbilgin/autosend-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// WorkerService executes batches received from the execute queue.
type WorkerService struct {
	executor    BatchExecutor
	consumer    queue.Consumer
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(
	executor BatchExecutor,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		executor:    executor,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the execute queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.ExecuteQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.ExecuteQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.BatchMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(s.logger, ctx)

	result, err := s.executor.Execute(ctx, msg.BatchID, msg.ActorID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("batch not found, dropping message", zap.String("batchId", msg.BatchID))
		return nil
	case errors.Is(err, domain.ErrConflict):
		logger.Info("batch already executing elsewhere, dropping message", zap.String("batchId", msg.BatchID))
		return nil
	case err != nil:
		return fmt.Errorf("execute batch %s: %w", msg.BatchID, err)
	}

	logger.Info("batch message processed",
		zap.String("batchId", result.BatchID),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("remaining", result.Remaining),
	)
	return nil
}
