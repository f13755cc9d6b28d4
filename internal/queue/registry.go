package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"queueworker/internal/codec"
)

type handleKey struct {
	name        string
	serializer  string
	compression string
}

// Registry caches one Handle per (name, serializer, compression) triple.
// It is owned by a single consumer and lives as long as that consumer.
type Registry struct {
	broker             Broker
	defaultSerializer  string
	defaultCompression string

	mu      sync.Mutex
	handles map[handleKey]*Handle
}

// NewRegistry creates a registry on top of broker. Empty or "default"
// names fall back to the codec package defaults.
func NewRegistry(broker Broker, serializer, compression string) *Registry {
	if serializer == "" || serializer == codec.Default {
		serializer = codec.JSON
	}
	if compression == "" || compression == codec.Default {
		compression = codec.NoCompression
	}
	return &Registry{
		broker:             broker,
		defaultSerializer:  serializer,
		defaultCompression: compression,
		handles:            make(map[handleKey]*Handle),
	}
}

// Resolve returns the handle for the triple, opening a broker channel on
// first use. "default" or empty serializer/compression use the registry defaults.
func (r *Registry) Resolve(ctx context.Context, name, serializer, compression string) (*Handle, error) {
	if serializer == "" || serializer == codec.Default {
		serializer = r.defaultSerializer
	}
	if compression == "" || compression == codec.Default {
		compression = r.defaultCompression
	}
	key := handleKey{name: name, serializer: serializer, compression: compression}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[key]; ok {
		return h, nil
	}
	if r.handles == nil {
		return nil, ErrClosed
	}

	c, err := codec.New(serializer, compression)
	if err != nil {
		return nil, err
	}

	ch, err := r.broker.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue %s: %w", name, err)
	}

	h := &Handle{
		name:        name,
		serializer:  serializer,
		compression: compression,
		channel:     ch,
		codec:       c,
	}
	r.handles[key] = h
	return h, nil
}

// Len returns the number of cached handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Close closes every opened channel. The registry cannot be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, h := range r.handles {
		if err := h.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", key.name, err))
		}
	}
	r.handles = nil
	return errors.Join(errs...)
}
