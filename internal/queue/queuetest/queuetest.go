// Package queuetest provides test doubles for the queue interfaces.
package queuetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"queueworker/internal/queue"
)

// ErrUnavailable is the error returned by a FlakyBroker's failing receives.
var ErrUnavailable = errors.New("broker unavailable")

// Message is a queue.Message that records how it was settled.
type Message struct {
	payload any

	mu       sync.Mutex
	acks     int
	requeues int
	rejects  int
}

// NewMessage creates an unsettled message.
func NewMessage(payload any) *Message {
	return &Message{payload: payload}
}

func (m *Message) Payload() any { return m.payload }

func (m *Message) Ack(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
	return nil
}

func (m *Message) Requeue(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeues++
	return nil
}

func (m *Message) Reject(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects++
	return nil
}

// Counts returns how many times each settle action was called.
func (m *Message) Counts() (acks, requeues, rejects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks, m.requeues, m.rejects
}

// FlakyBroker wraps a broker so the first Failures receives on every
// channel fail with ErrUnavailable.
type FlakyBroker struct {
	queue.Broker
	Failures int32

	failed atomic.Int32
}

// Open wraps the inner channel.
func (b *FlakyBroker) Open(ctx context.Context, name string) (queue.Channel, error) {
	ch, err := b.Broker.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &flakyChannel{Channel: ch, broker: b}, nil
}

// Failed returns how many receives have failed so far.
func (b *FlakyBroker) Failed() int {
	return int(b.failed.Load())
}

type flakyChannel struct {
	queue.Channel
	broker *FlakyBroker
}

func (c *flakyChannel) Receive(ctx context.Context, block bool, timeout time.Duration) (queue.Delivery, error) {
	if c.broker.failed.Load() < c.broker.Failures {
		c.broker.failed.Add(1)
		return nil, ErrUnavailable
	}
	return c.Channel.Receive(ctx, block, timeout)
}
