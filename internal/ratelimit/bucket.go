// Package ratelimit throttles outbound source API calls with a token bucket.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TokenBucket refills continuously at rate tokens/second up to burst and
// starts full. Wait never rejects; it only delays.
type TokenBucket struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time

	now   Clock
	sleep Sleeper

	waited time.Duration
	mu     sync.Mutex
}

type Option func(*TokenBucket)

// WithClock replaces time.Now.
func WithClock(c Clock) Option {
	return func(b *TokenBucket) { b.now = c }
}

// WithSleeper replaces the real sleep.
func WithSleeper(s Sleeper) Option {
	return func(b *TokenBucket) { b.sleep = s }
}

// New creates a full bucket. rate and burst must be positive.
func New(rate float64, burst int, opts ...Option) *TokenBucket {
	b := &TokenBucket{
		rate:  rate,
		burst: burst,
		now:   time.Now,
		sleep: Sleep,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.tokens = float64(burst)
	b.last = b.now()
	return b
}

// refill must be called with mu held.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(float64(b.burst), b.tokens+elapsed*b.rate)
	}
	b.last = now
}

// Allow consumes a token if one is available right now.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available, then consumes it. It returns
// only ctx's error.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		d := time.Duration(math.Ceil(deficit / b.rate * float64(time.Second)))
		if d < time.Nanosecond {
			d = time.Nanosecond
		}
		b.waited += d
		b.mu.Unlock()

		if err := b.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// Tokens reports the current (refilled) token count.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Waited is the total time Wait has asked to sleep.
func (b *TokenBucket) Waited() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waited
}
