package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"queueworker/internal/codec"
)

// Handle is a queue bound to one serializer and compression pair.
type Handle struct {
	name        string
	serializer  string
	compression string
	channel     Channel
	codec       codec.Codec
}

// Name returns the queue name.
func (h *Handle) Name() string { return h.name }

// Serializer returns the resolved serializer name.
func (h *Handle) Serializer() string { return h.serializer }

// Compression returns the resolved compression name.
func (h *Handle) Compression() string { return h.compression }

// Put encodes payload and publishes it to the queue.
func (h *Handle) Put(ctx context.Context, payload any) error {
	body, err := h.codec.Encode(payload)
	if err != nil {
		return err
	}
	if err := h.channel.Publish(ctx, body, h.codec.Headers()); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", h.name, err)
	}
	return nil
}

// Get receives the next message and decodes its payload.
// The codec named in the message headers wins over the handle's own codec.
// A body that cannot be decoded is rejected and ErrUndecodable is returned.
func (h *Handle) Get(ctx context.Context, block bool, timeout time.Duration) (Message, error) {
	d, err := h.channel.Receive(ctx, block, timeout)
	if err != nil {
		return nil, err
	}

	c := h.codec
	if fromHeaders, ok := codec.FromHeaders(d.Headers()); ok {
		c = fromHeaders
	}

	payload, err := c.Decode(d.Body())
	if err != nil {
		if rejectErr := d.Reject(context.WithoutCancel(ctx)); rejectErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to reject undecodable message: %w", rejectErr))
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUndecodable, h.name, err)
	}

	return &Envelope{delivery: d, payload: payload}, nil
}

// Envelope is the Message implementation returned by Handle.Get.
type Envelope struct {
	delivery Delivery
	payload  any
	settled  atomic.Bool
}

// Payload returns the decoded payload.
func (e *Envelope) Payload() any { return e.payload }

// Ack removes the message from its queue.
func (e *Envelope) Ack(ctx context.Context) error {
	if !e.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return e.delivery.Ack(ctx)
}

// Requeue returns the message to its queue.
func (e *Envelope) Requeue(ctx context.Context) error {
	if !e.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return e.delivery.Requeue(ctx)
}

// Reject discards the message.
func (e *Envelope) Reject(ctx context.Context) error {
	if !e.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return e.delivery.Reject(ctx)
}
