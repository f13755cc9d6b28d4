// Package queue defines the broker abstraction the consumer talks to and the
// handle registry built on top of it.
// Backends (memory, redis, kafka, nats, amqp, postgres) live in subpackages
// and only move bytes; serialization is applied by Handle.
package queue

import (
	"context"
	"time"
)

// Broker opens per-queue channels on a message transport.
type Broker interface {
	// Open returns a channel bound to the named queue. Opening a queue that
	// does not exist yet is not an error.
	Open(ctx context.Context, name string) (Channel, error)

	// Close releases the underlying connection.
	Close() error
}

// Channel is a connection-like object bound to one queue.
type Channel interface {
	// Publish appends a message body to the queue.
	Publish(ctx context.Context, body []byte, headers map[string]string) error

	// Receive takes the next message off the queue.
	// With block set it waits until a message arrives or ctx is done.
	// Otherwise it waits at most timeout and returns ErrEmpty if nothing arrived.
	Receive(ctx context.Context, block bool, timeout time.Duration) (Delivery, error)

	// Close releases resources held by the channel.
	Close() error
}

// Delivery is a received message body with its settle actions.
type Delivery interface {
	Body() []byte
	Headers() map[string]string

	// Ack permanently removes the message from its queue.
	Ack(ctx context.Context) error

	// Requeue returns the message to its queue for redelivery.
	Requeue(ctx context.Context) error

	// Reject discards the message without redelivery.
	Reject(ctx context.Context) error
}

// Message is one unit of work with its decoded payload.
// Exactly one of Ack, Requeue or Reject may be called.
type Message interface {
	Payload() any
	Ack(ctx context.Context) error
	Requeue(ctx context.Context) error
	Reject(ctx context.Context) error
}
