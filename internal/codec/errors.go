package codec

import "errors"

var (
	// ErrUnknownSerializer is returned when a serializer name is not registered.
	ErrUnknownSerializer = errors.New("unknown serializer")

	// ErrUnknownCompression is returned when a compression name is not registered.
	ErrUnknownCompression = errors.New("unknown compression")

	// ErrUnsupportedPayload is returned when a serializer cannot encode a payload type.
	ErrUnsupportedPayload = errors.New("unsupported payload type")
)
