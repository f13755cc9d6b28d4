package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"queueworker/internal/queue"
)

// BatchedRunForever collects up to size messages, waiting at most
// waitTimeout for each, and hands their payloads to the batch handler in
// one call. A batch is flushed when it is full or when a receive timed
// out while it held messages. Every message of a batch is acked, or every
// one gets the failure fate. A pending batch is flushed before returning
// on cancellation.
func (c *Consumer) BatchedRunForever(ctx context.Context, size int, waitTimeout time.Duration) error {
	if c.batchHandler == nil {
		return ErrNoHandler
	}
	if size < 1 || waitTimeout <= 0 {
		return ErrInvalidBatch
	}
	source, err := c.registry.Resolve(ctx, c.queue, "", "")
	if err != nil {
		return fmt.Errorf("failed to open source queue: %w", err)
	}

	c.start(ModeBatch)
	defer c.stop()

	batch := make([]queue.Message, 0, size)
	for {
		if err := c.WaitIfPaused(ctx); err != nil {
			c.flushPending(ctx, batch)
			return nil
		}

		queueWasEmpty := false
		msg, err := c.receive(ctx, source, false, waitTimeout)
		switch {
		case err == nil:
			batch = append(batch, msg)
		case errors.Is(err, queue.ErrEmpty):
			queueWasEmpty = true
		case ctx.Err() != nil:
			c.flushPending(ctx, batch)
			return nil
		}

		if len(batch) >= size || (len(batch) > 0 && queueWasEmpty) {
			c.processBatch(context.WithoutCancel(ctx), batch)
			clear(batch)
			batch = batch[:0]
		}
	}
}

func (c *Consumer) flushPending(ctx context.Context, batch []queue.Message) {
	if len(batch) == 0 {
		return
	}
	c.logger.Info("flushing pending batch before stopping", "batch_size", len(batch))
	c.processBatch(context.WithoutCancel(ctx), batch)
}

// processBatch runs the batch handler once and settles every message.
func (c *Consumer) processBatch(ctx context.Context, batch []queue.Message) {
	c.batchSeq++
	attrs := []any{"batch", c.batchSeq, "batch_size", len(batch)}

	payloads := make([]any, len(batch))
	for i, m := range batch {
		payloads[i] = m.Payload()
	}

	var out []Outgoing
	err := c.reporter.Time(func() error {
		var err error
		out, err = c.callBatchHandler(ctx, payloads)
		return err
	})
	if err == nil {
		err = c.dispatch(ctx, out)
	}
	if err != nil {
		c.fail(ctx, err, batch, attrs...)
		return
	}

	var ackErrs []error
	for _, m := range batch {
		if err := m.Ack(ctx); err != nil {
			ackErrs = append(ackErrs, err)
		}
	}
	if err := errors.Join(ackErrs...); err != nil {
		c.logger.Error("failed to ack batch", append(attrs, "error", err)...)
		c.recordError(err)
		c.reporter.MarkFailure()
		c.failed.Add(1)
		return
	}

	c.logger.Debug("processed batch", attrs...)
	c.reporter.MarkSuccess()
	c.succeeded.Add(1)
	if c.onSuccess != nil {
		c.onSuccess(ctx, payloads)
	}
}

func (c *Consumer) callBatchHandler(ctx context.Context, payloads []any) (out []Outgoing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return c.batchHandler(ctx, payloads)
}
