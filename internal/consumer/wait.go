package consumer

import (
	"context"
	"time"
)

// WaitIfPaused blocks while the pause gate reports paused, polling it
// every pause delay. Only the transitions into and out of the paused
// state are logged. It returns ctx.Err() if ctx ends while waiting.
func (c *Consumer) WaitIfPaused(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.gate.IsPaused(ctx) {
		return nil
	}

	c.logger.Info("now paused", "poll_interval", c.pauseDelay)
	c.paused.Store(true)
	c.running.Store(false)

	for {
		if err := c.sleep(ctx, c.pauseDelay); err != nil {
			return err
		}
		if !c.gate.IsPaused(ctx) {
			break
		}
	}

	c.logger.Info("not paused")
	c.paused.Store(false)
	c.running.Store(true)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
