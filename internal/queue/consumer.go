package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// RabbitMQConsumer feeds batch messages to a handler. A failing handler gets one
// redelivery before the message is dead-lettered; undecodable messages are
// dead-lettered immediately.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is cancelled, resubscribing with backoff when the channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	delay := minRetryDelay
	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if err == nil || ctx.Err() != nil {
			delay = minRetryDelay
			continue
		}

		c.logger.Warn("consumer subscription lost",
			zap.Error(err),
			zap.String("queue", queue),
			zap.Duration("retryIn", delay),
		)
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
	return nil
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	tag := "autosend-worker-" + uuid.NewString()
	deliveries, err := ch.ConsumeWithContext(ctx, queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeDelivery(d)
	if err != nil {
		c.logger.Warn("dead-lettering undecodable batch message",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		if err := d.Reject(false); err != nil {
			return fmt.Errorf("failed to reject message: %w", err)
		}
		return nil
	}

	if err := handler(ctx, msg); err != nil {
		requeue := !d.Redelivered
		c.logger.Warn("batch execution failed",
			zap.Error(err),
			zap.String("batchId", msg.BatchID),
			zap.Bool("requeue", requeue),
		)
		if err := d.Nack(false, requeue); err != nil {
			return fmt.Errorf("failed to nack batch %s: %w", msg.BatchID, err)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack batch %s: %w", msg.BatchID, err)
	}
	return nil
}

func decodeDelivery(d amqp.Delivery) (BatchMessage, error) {
	var msg BatchMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return BatchMessage{}, fmt.Errorf("decode: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return BatchMessage{}, err
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}
	return msg, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
