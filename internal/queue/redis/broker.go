// Package redis provides a Redis list backed implementation of the queue interfaces.
//
// Each queue is a list. Receive atomically moves the oldest entry into a
// per-queue processing list (BLMOVE), so a crashed consumer leaves its
// in-flight message recoverable. Settling removes the entry from the
// processing list and, for requeue and reject, pushes it to the ready or
// dead-letter list in the same transaction.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"queueworker/internal/config"
	"queueworker/internal/queue"
)

// Key suffixes for the lists that back one queue.
const (
	suffixProcessing = ":processing"
	suffixDead       = ":dead"
)

// envelope is the stored form of a message.
type envelope struct {
	ID      string            `json:"id"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body"`
}

// Broker implements queue.Broker using Redis lists.
type Broker struct {
	client       *redis.Client
	prefix       string
	pollInterval time.Duration
}

// NewBroker connects to the Redis server at address (redis:// URL).
func NewBroker(ctx context.Context, address string, cfg *config.BrokerConfig) (*Broker, error) {
	opts, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis address: %w", err)
	}
	client := redis.NewClient(opts)

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewBrokerWithClient(client, cfg.Redis.KeyPrefix, cfg.PollInterval), nil
}

// NewBrokerWithClient wraps an existing client.
func NewBrokerWithClient(client *redis.Client, prefix string, pollInterval time.Duration) *Broker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Broker{
		client:       client,
		prefix:       prefix,
		pollInterval: pollInterval,
	}
}

// Client returns the underlying Redis client.
func (b *Broker) Client() *redis.Client {
	return b.client
}

// Open returns a channel on the named queue. No keys are created until
// the first publish.
func (b *Broker) Open(_ context.Context, name string) (queue.Channel, error) {
	ready := b.prefix + name
	return &channel{
		broker:     b,
		ready:      ready,
		processing: ready + suffixProcessing,
		dead:       ready + suffixDead,
	}, nil
}

// Close closes the Redis client.
func (b *Broker) Close() error {
	return b.client.Close()
}

type channel struct {
	broker     *Broker
	ready      string
	processing string
	dead       string
}

// Publish pushes to the head of the ready list; Receive pops from the tail.
func (c *channel) Publish(ctx context.Context, body []byte, headers map[string]string) error {
	data, err := json.Marshal(envelope{ID: uuid.New().String(), Headers: headers, Body: body})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := c.broker.client.LPush(ctx, c.ready, data).Err(); err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	return nil
}

// Receive moves one message into the processing list. Blocking receives
// poll in pollInterval slices so ctx cancellation is noticed promptly.
func (c *channel) Receive(ctx context.Context, block bool, timeout time.Duration) (queue.Delivery, error) {
	if !block {
		return c.move(ctx, timeout)
	}
	for {
		d, err := c.move(ctx, c.broker.pollInterval)
		if errors.Is(err, queue.ErrEmpty) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return d, err
	}
}

func (c *channel) move(ctx context.Context, timeout time.Duration) (queue.Delivery, error) {
	var (
		raw string
		err error
	)
	if timeout <= 0 {
		raw, err = c.broker.client.LMove(ctx, c.ready, c.processing, "RIGHT", "LEFT").Result()
	} else {
		raw, err = c.broker.client.BLMove(ctx, c.ready, c.processing, "RIGHT", "LEFT", timeout).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queue.ErrEmpty
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to move message: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Not ours; park it in the dead-letter list rather than looping on it.
		_, _ = c.broker.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, c.processing, 1, raw)
			pipe.LPush(ctx, c.dead, raw)
			return nil
		})
		return nil, fmt.Errorf("%w: %v", queue.ErrUndecodable, err)
	}

	return &delivery{channel: c, raw: raw, env: env}, nil
}

// Close is a no-op; the client belongs to the broker.
func (c *channel) Close() error {
	return nil
}

type delivery struct {
	channel *channel
	raw     string
	env     envelope
}

func (d *delivery) Body() []byte               { return d.env.Body }
func (d *delivery) Headers() map[string]string { return d.env.Headers }

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.channel.broker.client.LRem(ctx, d.channel.processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", d.env.ID, err)
	}
	return nil
}

// Requeue pushes back onto the tail so the message is the next one received.
func (d *delivery) Requeue(ctx context.Context) error {
	_, err := d.channel.broker.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, d.channel.processing, 1, d.raw)
		pipe.RPush(ctx, d.channel.ready, d.raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to requeue message %s: %w", d.env.ID, err)
	}
	return nil
}

func (d *delivery) Reject(ctx context.Context) error {
	_, err := d.channel.broker.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, d.channel.processing, 1, d.raw)
		pipe.LPush(ctx, d.channel.dead, d.raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reject message %s: %w", d.env.ID, err)
	}
	return nil
}

var _ queue.Broker = (*Broker)(nil)
