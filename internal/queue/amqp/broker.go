// Package amqp provides a RabbitMQ implementation of the queue interfaces.
//
// Messages are published to the default exchange with the queue name as
// routing key and pulled with basic.get. Requeue nacks with requeue set.
// Reject publishes the body to "<queue><suffix>" and acks the original.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"queueworker/internal/config"
	"queueworker/internal/queue"
)

// Broker implements queue.Broker on a RabbitMQ connection.
// The connection is re-dialed when it is found closed.
type Broker struct {
	address          string
	declare          bool
	deadLetterSuffix string
	pollInterval     time.Duration
	logger           *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewBroker dials the server at an amqp:// or amqps:// address.
func NewBroker(address string, cfg *config.BrokerConfig, logger *slog.Logger) (*Broker, error) {
	b := &Broker{
		address:          address,
		declare:          cfg.AMQP.Declare,
		deadLetterSuffix: cfg.AMQP.DeadLetterSuffix,
		pollInterval:     cfg.PollInterval,
		logger:           logger,
	}
	if b.pollInterval <= 0 {
		b.pollInterval = time.Second
	}
	if _, err := b.connection(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Broker) connection() (*amqp.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}
	conn, err := amqp.Dial(b.address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}
	if b.conn != nil {
		b.logger.Warn("reconnected to amqp broker")
	}
	b.conn = conn
	return conn, nil
}

// Open returns a channel bound to the named queue, declaring the queue
// and its dead-letter queue when declare is enabled.
func (b *Broker) Open(_ context.Context, name string) (queue.Channel, error) {
	c := &channel{broker: b, name: name}
	if _, err := c.amqpChannel(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close closes the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

type channel struct {
	broker *Broker
	name   string

	mu sync.Mutex
	ch *amqp.Channel
}

// amqpChannel returns an open AMQP channel, reopening it (and the
// connection if needed) after a channel level error closed it.
func (c *channel) amqpChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}

	conn, err := c.broker.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if c.broker.declare {
		for _, q := range []string{c.name, c.name + c.broker.deadLetterSuffix} {
			if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
				_ = ch.Close()
				return nil, fmt.Errorf("failed to declare queue %s: %w", q, err)
			}
		}
	}

	c.ch = ch
	return ch, nil
}

func (c *channel) publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error {
	ch, err := c.amqpChannel()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if len(headers) > 0 {
		msg.Headers = amqp.Table{}
		for k, v := range headers {
			msg.Headers[k] = v
		}
	}

	if err := ch.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	return nil
}

func (c *channel) Publish(ctx context.Context, body []byte, headers map[string]string) error {
	return c.publish(ctx, c.name, body, headers)
}

func (c *channel) Receive(ctx context.Context, block bool, timeout time.Duration) (queue.Delivery, error) {
	deadline := time.Now().Add(timeout)

	for {
		ch, err := c.amqpChannel()
		if err != nil {
			return nil, err
		}

		d, ok, err := ch.Get(c.name, false)
		if err != nil {
			return nil, fmt.Errorf("failed to get from %s: %w", c.name, err)
		}
		if ok {
			return &delivery{channel: c, d: d}, nil
		}

		wait := c.broker.pollInterval
		if !block {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, queue.ErrEmpty
			}
			wait = min(wait, remaining)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil || c.ch.IsClosed() {
		return nil
	}
	return c.ch.Close()
}

type delivery struct {
	channel *channel
	d       amqp.Delivery
}

func (d *delivery) Body() []byte { return d.d.Body }

func (d *delivery) Headers() map[string]string {
	headers := make(map[string]string, len(d.d.Headers))
	for k, v := range d.d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}

func (d *delivery) Ack(context.Context) error {
	return d.d.Ack(false)
}

func (d *delivery) Requeue(context.Context) error {
	return d.d.Nack(false, true)
}

func (d *delivery) Reject(ctx context.Context) error {
	dlq := d.channel.name + d.channel.broker.deadLetterSuffix
	if err := d.channel.publish(ctx, dlq, d.d.Body, d.Headers()); err != nil {
		return errors.Join(err, d.d.Reject(false))
	}
	return d.d.Ack(false)
}

var _ queue.Broker = (*Broker)(nil)
