package fetch

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between calls to one provider.
// Providers here are free-tier APIs; bursts get keys suspended.
type Limiter struct {
	minInterval time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// NewLimiter creates a limiter with the given minimum interval.
// A non-positive interval disables limiting.
func NewLimiter(minInterval time.Duration) *Limiter {
	return &Limiter{minInterval: minInterval}
}

// Wait blocks until the next call is allowed or the context is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	wait := l.minInterval - time.Since(l.lastCall)
	if wait <= 0 {
		l.lastCall = time.Now()
		l.mu.Unlock()
		return nil
	}
	// Claim the slot before sleeping so concurrent callers queue up instead
	// of stampeding when the interval elapses.
	l.lastCall = time.Now().Add(wait)
	l.mu.Unlock()

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
