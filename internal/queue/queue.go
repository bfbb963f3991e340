package queue

import "context"

// Publisher publishes batch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg BatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg BatchMessage) error

// Consumer consumes batch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// ExecuteQueue carries batches waiting for execution.
	ExecuteQueue = "autosend.execute"
	// ExecuteDLQ receives messages that failed twice or could not be decoded.
	ExecuteDLQ = "dlq.autosend.execute"

	queueMaxPriority int32 = 2
)

// PriorityValue puts freshly planned batches ahead of resumed ones.
func PriorityValue(msg BatchMessage) uint8 {
	if msg.Resume {
		return 1
	}
	return 2
}
