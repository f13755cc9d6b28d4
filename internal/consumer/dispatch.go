package consumer

import (
	"context"
	"fmt"
)

// Outgoing is a message a callback asks to forward. Empty Serializer or
// Compression fall back to the consumer defaults.
type Outgoing struct {
	Queue       string
	Payload     any
	Serializer  string
	Compression string
}

// dispatch puts every outgoing message in order and stops at the first
// error. Every Outgoing is checked before anything is sent.
func (c *Consumer) dispatch(ctx context.Context, out []Outgoing) error {
	for i, o := range out {
		if o.Queue == "" {
			return fmt.Errorf("outgoing[%d]: %w", i, ErrInvalidOutgoing)
		}
	}

	for _, o := range out {
		h, err := c.registry.Resolve(ctx, o.Queue, o.Serializer, o.Compression)
		if err != nil {
			return fmt.Errorf("failed to resolve outgoing queue %s: %w", o.Queue, err)
		}
		if err := h.Put(ctx, o.Payload); err != nil {
			return fmt.Errorf("failed to dispatch to %s: %w", o.Queue, err)
		}
	}

	if len(out) > 0 {
		c.logger.Debug("dispatched outgoing messages", "count", len(out))
	}
	return nil
}
