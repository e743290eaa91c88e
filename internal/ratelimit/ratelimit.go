// Package ratelimit bounds per-user request rates at the gateways. Each
// user gets an independent lazily refilled token bucket, so one user
// cannot starve another, and a rejection reports how long until the next
// token so gateways can tell the caller when to retry.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited matches any rate-limit rejection via errors.Is.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitError is the rejection returned by Allow. RetryAfter is how long
// the user must wait for the bucket to earn back one token.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter.Round(time.Millisecond))
}

func (e *LimitError) Is(target error) bool { return target == ErrRateLimited }

// Config configures the token bucket rate limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in bucket. 0 = defaults to RequestsPerMinute.
}

// Buckets idle long enough to have refilled completely are
// indistinguishable from fresh ones, so they are dropped on the next
// sweep instead of accumulating one map entry per user ID ever seen.
const sweepEvery = 10 * time.Minute

// Limiter is a per-user token bucket rate limiter.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64 // max bucket capacity
	lastSweep time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerMinute is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		rate:      float64(cfg.RequestsPerMinute) / 60.0,
		burst:     float64(burst),
		lastSweep: time.Now(),
	}
}

// Allow consumes one token from the user's bucket. An empty bucket
// returns a *LimitError carrying the wait until the next token.
func (l *Limiter) Allow(userID string) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweep(now)

	b, ok := l.buckets[userID]
	if !ok {
		// First request starts with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[userID] = b
	}

	b.tokens += now.Sub(b.lastFill).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
		return &LimitError{RetryAfter: wait}
	}
	b.tokens--
	return nil
}

// sweep drops fully refilled idle buckets. Caller holds the mutex.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepEvery {
		return
	}
	l.lastSweep = now

	fullRefill := time.Duration(l.burst / l.rate * float64(time.Second))
	for id, b := range l.buckets {
		if now.Sub(b.lastFill) >= fullRefill {
			delete(l.buckets, id)
		}
	}
}
