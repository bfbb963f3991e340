package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/queue"
	"go.uber.org/zap"
)

// Runner hands a planned batch to background execution without waiting for it.
type Runner interface {
	Submit(ctx context.Context, msg queue.BatchMessage) error
}

// QueueRunner publishes batches to the execute queue for cmd/worker.
type QueueRunner struct {
	publisher queue.Publisher
}

func NewQueueRunner(publisher queue.Publisher) (*QueueRunner, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &QueueRunner{publisher: publisher}, nil
}

func (r *QueueRunner) Submit(ctx context.Context, msg queue.BatchMessage) error {
	return r.publisher.Publish(ctx, queue.ExecuteQueue, msg)
}

// LocalRunner executes batches on a bounded set of in-process goroutines. Work is detached from
// the submitting request and stops when the context passed to Start is cancelled.
type LocalRunner struct {
	executor BatchExecutor
	jobs     chan queue.BatchMessage
	workers  int
	logger   *zap.Logger

	mu      sync.RWMutex
	stopped bool
}

func NewLocalRunner(executor BatchExecutor, workers int, queueSize int, logger *zap.Logger) (*LocalRunner, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LocalRunner{
		executor: executor,
		jobs:     make(chan queue.BatchMessage, queueSize),
		workers:  workers,
		logger:   logger,
	}, nil
}

// Submit enqueues without blocking. A full queue is reported as a conflict; the batch stays
// PENDING and can be resumed later.
func (r *LocalRunner) Submit(ctx context.Context, msg queue.BatchMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return fmt.Errorf("%w: runner is shutting down", domain.ErrConflict)
	}

	select {
	case r.jobs <- msg:
		return nil
	default:
		return fmt.Errorf("%w: execution queue is full", domain.ErrConflict)
	}
}

// Start runs workers until ctx is cancelled, then waits for in-flight executions to return.
func (r *LocalRunner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-r.jobs:
					r.run(ctx, workerID, msg)
				}
			}
		}(i + 1)
	}

	<-ctx.Done()
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	wg.Wait()
	return nil
}

func (r *LocalRunner) run(ctx context.Context, workerID int, msg queue.BatchMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("batch execution panicked",
				zap.Int("workerId", workerID),
				zap.String("batchId", msg.BatchID),
				zap.Any("panic", rec),
			)
		}
	}()

	result, err := r.executor.Execute(ctx, msg.BatchID, msg.ActorID)
	if err != nil {
		r.logger.Error("background batch execution failed",
			zap.Int("workerId", workerID),
			zap.String("batchId", msg.BatchID),
			zap.Error(err),
		)
		return
	}
	r.logger.Info("background batch execution done",
		zap.Int("workerId", workerID),
		zap.String("batchId", result.BatchID),
		zap.String("status", result.Status.String()),
	)
}
