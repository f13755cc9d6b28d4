package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"queueworker/internal/queue"
)

// RunForever processes the source queue one message at a time until ctx
// is cancelled. A message being processed when ctx ends is finished and
// settled before RunForever returns nil.
func (c *Consumer) RunForever(ctx context.Context) error {
	if c.handler == nil {
		return ErrNoHandler
	}
	source, err := c.registry.Resolve(ctx, c.queue, "", "")
	if err != nil {
		return fmt.Errorf("failed to open source queue: %w", err)
	}

	c.start(ModeSingle)
	defer c.stop()

	for {
		if err := c.WaitIfPaused(ctx); err != nil {
			return nil
		}

		msg, err := c.receive(ctx, source, true, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		c.processOne(context.WithoutCancel(ctx), msg)
	}
}

// receive gets the next message, retrying transient broker errors with
// backoff. ErrEmpty, ErrUndecodable and cancellation are returned as is.
func (c *Consumer) receive(ctx context.Context, source *queue.Handle, block bool, timeout time.Duration) (queue.Message, error) {
	op := func() (queue.Message, error) {
		msg, err := source.Get(ctx, block, timeout)
		switch {
		case err == nil:
			return msg, nil
		case ctx.Err() != nil:
			return nil, backoff.Permanent(ctx.Err())
		case errors.Is(err, queue.ErrEmpty):
			return nil, backoff.Permanent(err)
		case errors.Is(err, queue.ErrUndecodable):
			c.logger.Warn("rejected undecodable message", "error", err)
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("receive failed, retrying", "error", err, "retry_in", next)
	}

	msg, err := backoff.RetryNotifyWithData(op, backoff.WithContext(c.newBackoff(), ctx), notify)
	if err != nil {
		return nil, err
	}
	c.received.Add(1)
	return msg, nil
}

// processOne runs the callback for one message and settles it.
func (c *Consumer) processOne(ctx context.Context, msg queue.Message) {
	payload := msg.Payload()

	var out []Outgoing
	err := c.reporter.Time(func() error {
		var err error
		out, err = c.callHandler(ctx, payload)
		return err
	})
	if err == nil {
		err = c.dispatch(ctx, out)
	}
	if err != nil {
		c.fail(ctx, err, []queue.Message{msg})
		return
	}

	if err := msg.Ack(ctx); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		c.recordError(err)
		c.reporter.MarkFailure()
		c.failed.Add(1)
		return
	}

	c.reporter.MarkSuccess()
	c.succeeded.Add(1)
	if c.onSuccess != nil {
		c.onSuccess(ctx, payload)
	}
}

// fail logs, reports and settles a failed unit of work. An outgoing
// message without a queue is a callback bug that redelivery cannot fix,
// so those messages are rejected whatever the configured fate.
func (c *Consumer) fail(ctx context.Context, err error, msgs []queue.Message, attrs ...any) {
	fate := c.fate
	if errors.Is(err, ErrInvalidOutgoing) {
		fate = FateReject
		c.logger.Error("callback returned an outgoing message without a queue", append(attrs, "error", err)...)
	} else {
		c.logger.Error("failed to process message", append(attrs, "error", err)...)
	}
	c.recordError(err)
	if c.onException != nil {
		c.onException(ctx, err)
	}
	c.reporter.MarkFailure()
	c.failed.Add(1)
	c.settleFailed(ctx, fate, msgs, attrs...)
}

func (c *Consumer) callHandler(ctx context.Context, payload any) (out []Outgoing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return c.handler(ctx, payload)
}
