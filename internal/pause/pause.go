// Package pause provides the backpressure gates polled by the consumer
// before every receive.
package pause

import (
	"context"
	"sync/atomic"
)

// Gate reports whether consumption should be suspended.
type Gate interface {
	IsPaused(ctx context.Context) bool
}

// Never is the default gate; it never pauses.
type Never struct{}

// IsPaused always returns false.
func (Never) IsPaused(context.Context) bool { return false }

// Func adapts a predicate to a Gate.
type Func func(ctx context.Context) bool

// IsPaused calls f.
func (f Func) IsPaused(ctx context.Context) bool { return f(ctx) }

// Manual is a gate toggled in process, e.g. by the admin API.
// The zero value is not paused.
type Manual struct {
	paused atomic.Bool
}

// Pause makes IsPaused return true.
func (m *Manual) Pause() { m.paused.Store(true) }

// Resume makes IsPaused return false.
func (m *Manual) Resume() { m.paused.Store(false) }

// IsPaused reports the current state.
func (m *Manual) IsPaused(context.Context) bool { return m.paused.Load() }

// Any is paused when at least one of its gates is paused.
type Any []Gate

// IsPaused polls the gates in order and stops at the first paused one.
func (a Any) IsPaused(ctx context.Context) bool {
	for _, g := range a {
		if g != nil && g.IsPaused(ctx) {
			return true
		}
	}
	return false
}

// Switch is a gate that can be flipped at runtime.
type Switch interface {
	Gate
	SetPaused(ctx context.Context, paused bool) error
}

// SetPaused pauses or resumes the gate.
func (m *Manual) SetPaused(_ context.Context, paused bool) error {
	m.paused.Store(paused)
	return nil
}
