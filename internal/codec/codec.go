// Package codec turns payloads into message bodies and back.
// A Codec pairs a Serializer with a Compressor; both are looked up by name
// so queues and outgoing messages can pick them from configuration.
package codec

import (
	"fmt"
)

// Default is the sentinel name that stands for "use the configured default".
const Default = "default"

// Header keys written on every encoded message so a reader can pick the
// matching codec regardless of its own defaults.
const (
	HeaderContentType = "content-type"
	HeaderCompression = "compression"
)

// Codec encodes payloads with a serializer and then a compressor.
type Codec struct {
	Serializer Serializer
	Compressor Compressor
}

// New returns the codec for the given serializer and compression names.
func New(serializer, compression string) (Codec, error) {
	s, err := LookupSerializer(serializer)
	if err != nil {
		return Codec{}, err
	}
	c, err := LookupCompression(compression)
	if err != nil {
		return Codec{}, err
	}
	return Codec{Serializer: s, Compressor: c}, nil
}

// FromHeaders returns the codec described by message headers.
// ok is false when the headers do not name a known serializer.
func FromHeaders(headers map[string]string) (Codec, bool) {
	s, found := serializerByContentType(headers[HeaderContentType])
	if !found {
		return Codec{}, false
	}
	name := headers[HeaderCompression]
	if name == "" {
		name = NoCompression
	}
	c, err := LookupCompression(name)
	if err != nil {
		return Codec{}, false
	}
	return Codec{Serializer: s, Compressor: c}, true
}

// Encode serializes and compresses a payload.
func (c Codec) Encode(payload any) ([]byte, error) {
	data, err := c.Serializer.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload with %s: %w", c.Serializer.Name(), err)
	}
	out, err := c.Compressor.Compress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to compress payload with %s: %w", c.Compressor.Name(), err)
	}
	return out, nil
}

// Decode decompresses and deserializes a message body.
func (c Codec) Decode(body []byte) (any, error) {
	data, err := c.Compressor.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress body with %s: %w", c.Compressor.Name(), err)
	}
	payload, err := c.Serializer.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize body with %s: %w", c.Serializer.Name(), err)
	}
	return payload, nil
}

// Headers returns the headers that describe this codec.
func (c Codec) Headers() map[string]string {
	return map[string]string{
		HeaderContentType: c.Serializer.ContentType(),
		HeaderCompression: c.Compressor.Name(),
	}
}
