package queue

import "errors"

var (
	// ErrEmpty is returned by a bounded receive that timed out with no message.
	ErrEmpty = errors.New("queue is empty")

	// ErrClosed is returned when using a closed broker or channel.
	ErrClosed = errors.New("queue is closed")

	// ErrAlreadySettled is returned when a second terminal action is invoked on a message.
	ErrAlreadySettled = errors.New("message already settled")

	// ErrUndecodable is returned when a received body cannot be decoded.
	// The delivery has already been rejected when this is returned.
	ErrUndecodable = errors.New("message body could not be decoded")
)
