package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	deadLetterExchange = "autosend.dlx"
	connectionName     = "autosend-engine"
	dialTimeout        = 15 * time.Second
	minRetryDelay      = time.Second
	maxRetryDelay      = 30 * time.Second
)

// RabbitMQ owns one AMQP connection and redials it lazily when the broker drops it.
// Channels are opened per operation and the execute queue topology is declared on each.
type RabbitMQ struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// connection returns the live connection, dialling with exponential backoff until ctx ends.
// The mutex is held while dialling so concurrent callers share one reconnect.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)

	delay := minRetryDelay
	for {
		conn, err := amqp.DialConfig(r.url, amqp.Config{Properties: props})
		if err == nil {
			r.conn = conn
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq unreachable (%v): %w", err, ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		// The connection may have died between the check and the call; retry once on a fresh one.
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
	}

	if err := declareExecuteTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// declareExecuteTopology declares the priority execute queue and the dead-letter queue
// receiving batches that failed twice or could not be decoded.
func declareExecuteTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(deadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", deadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(ExecuteDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", ExecuteDLQ, err)
	}
	if err := ch.QueueBind(ExecuteDLQ, ExecuteQueue, deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", ExecuteDLQ, err)
	}

	_, err := ch.QueueDeclare(ExecuteQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": ExecuteQueue,
		"x-max-priority":            queueMaxPriority,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", ExecuteQueue, err)
	}
	return nil
}
