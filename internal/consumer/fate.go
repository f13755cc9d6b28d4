package consumer

import (
	"context"
	"errors"
	"fmt"

	"queueworker/internal/queue"
)

// Fate is what happens to the messages of a failed unit of work.
type Fate int

const (
	// FateRequeue returns the messages for redelivery.
	FateRequeue Fate = iota
	// FateReject discards the messages, usually to a dead-letter path.
	FateReject
	// FateDrop leaves the messages unsettled. Whether they come back
	// depends on the broker.
	FateDrop
)

// FateFor derives the failure fate from the two flags. Requeue wins when
// both are set.
func FateFor(requeueOnFailure, rejectOnFailure bool) Fate {
	switch {
	case requeueOnFailure:
		return FateRequeue
	case rejectOnFailure:
		return FateReject
	default:
		return FateDrop
	}
}

func (f Fate) String() string {
	switch f {
	case FateRequeue:
		return "requeue"
	case FateReject:
		return "reject"
	case FateDrop:
		return "drop"
	default:
		return fmt.Sprintf("fate(%d)", int(f))
	}
}

// settleFailed applies fate to every message. All messages get the
// same fate; a settle error on one does not stop the others.
func (c *Consumer) settleFailed(ctx context.Context, fate Fate, msgs []queue.Message, attrs ...any) {
	if fate == FateDrop {
		c.logger.Warn("dropping failed messages without settling them",
			append(attrs, "fate", fate.String(), "count", len(msgs))...)
		return
	}

	var errs []error
	for _, m := range msgs {
		var err error
		if fate == FateRequeue {
			err = m.Requeue(ctx)
		} else {
			err = m.Reject(ctx)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Error("failed to settle failed messages",
			append(attrs, "fate", fate.String(), "error", err)...)
		return
	}
	c.logger.Debug("settled failed messages",
		append(attrs, "fate", fate.String(), "count", len(msgs))...)
}
