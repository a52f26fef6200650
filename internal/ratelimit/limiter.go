// Package ratelimit implements byte-level bandwidth throttling: a token
// bucket each segment worker must draw from before writing bytes to disk.
// This is distinct from HTTP 429 backoff, which lives with the retry
// policy in internal/execution.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

const defaultBurstBytes = 64 * 1024

// Limiter throttles total throughput to a configurable number of bytes per
// second. A zero-value Limiter (via New(0)) is unlimited: Acquire returns
// immediately.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter // nil when unlimited
	rateBps int64
}

// New builds a Limiter capped at bytesPerSecond. bytesPerSecond<=0 means
// unlimited.
func New(bytesPerSecond int64) *Limiter {
	l := &Limiter{}
	l.SetRate(bytesPerSecond)
	return l
}

// Unlimited builds a Limiter with no cap.
func Unlimited() *Limiter { return New(0) }

// SetRate changes the cap at runtime. Acquire calls that start afterwards
// use the new rate; a call already waiting finishes under the old one.
func (l *Limiter) SetRate(bytesPerSecond int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	atomic.StoreInt64(&l.rateBps, bytesPerSecond)
	if bytesPerSecond <= 0 {
		l.limiter = nil
		return
	}
	burst := defaultBurstBytes
	if int64(burst) > bytesPerSecond {
		burst = int(bytesPerSecond)
	}
	l.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Rate returns the currently configured cap, or 0 if unlimited.
func (l *Limiter) Rate() int64 { return atomic.LoadInt64(&l.rateBps) }

// Acquire blocks until n bytes' worth of budget is available, or ctx is
// canceled. If n exceeds the burst size, Acquire splits it into burst-sized
// waits itself.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	l.mu.RLock()
	lim := l.limiter
	l.mu.RUnlock()
	if lim == nil || n <= 0 {
		return nil
	}
	burst := lim.Burst()
	for n > burst {
		if err := lim.WaitN(ctx, burst); err != nil {
			return err
		}
		n -= burst
	}
	if n > 0 {
		return lim.WaitN(ctx, n)
	}
	return nil
}
