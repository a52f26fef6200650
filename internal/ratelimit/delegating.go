package ratelimit

import (
	"context"
	"sync"
)

// Throttle is the minimal interface a segment downloader needs from any
// rate limiter implementation.
type Throttle interface {
	Acquire(ctx context.Context, n int) error
}

// Delegating wraps a replaceable Throttle so a task's effective limiter can
// be swapped (e.g. global limit changed, per-task override applied) without
// rebinding every segment downloader already holding a reference to it.
type Delegating struct {
	mu       sync.RWMutex
	delegate Throttle
}

// NewDelegating builds a Delegating limiter starting at initial.
func NewDelegating(initial Throttle) *Delegating {
	return &Delegating{delegate: initial}
}

// Acquire delegates to the currently installed Throttle.
func (d *Delegating) Acquire(ctx context.Context, n int) error {
	d.mu.RLock()
	t := d.delegate
	d.mu.RUnlock()
	if t == nil {
		return nil
	}
	return t.Acquire(ctx, n)
}

// SetDelegate swaps the underlying Throttle.
func (d *Delegating) SetDelegate(t Throttle) {
	d.mu.Lock()
	d.delegate = t
	d.mu.Unlock()
}
