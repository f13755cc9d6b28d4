package consumer

import "errors"

var (
	// ErrNoQueue is returned by New when no source queue is named.
	ErrNoQueue = errors.New("consumer: source queue is required")

	// ErrNoBroker is returned by New when no broker is given.
	ErrNoBroker = errors.New("consumer: broker is required")

	// ErrNoHandler is returned when a run mode is started without its callback.
	ErrNoHandler = errors.New("consumer: no processing callback for this mode")

	// ErrInvalidBatch is returned for a non-positive batch size or wait timeout.
	ErrInvalidBatch = errors.New("consumer: batch size and wait timeout must be positive")

	// ErrInvalidOutgoing is returned when a callback produced an outgoing
	// message without a destination queue.
	ErrInvalidOutgoing = errors.New("consumer: outgoing message has no destination queue")

	// ErrHandlerPanic wraps a panic recovered from a processing callback.
	ErrHandlerPanic = errors.New("consumer: processing callback panicked")
)
