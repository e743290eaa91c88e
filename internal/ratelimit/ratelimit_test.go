package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("user-1"); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}
	if err := l.Allow("user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after burst, got %v", err)
	}
}

func TestPerUserIsolation(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("alice"); err != nil {
		t.Fatalf("alice first request: %v", err)
	}
	if err := l.Allow("alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("alice should be limited, got %v", err)
	}
	// Bob has his own bucket.
	if err := l.Allow("bob"); err != nil {
		t.Fatalf("bob first request: %v", err)
	}
}

func TestUnlimited(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 0})

	for i := 0; i < 100; i++ {
		if err := l.Allow("user-1"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i, err)
		}
	}
}

func TestRefill(t *testing.T) {
	// 600/min = 10 tokens per second; ~100ms buys a token back.
	l := NewLimiter(Config{RequestsPerMinute: 600, BurstSize: 1})

	if err := l.Allow("user-1"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow("user-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if err := l.Allow("user-1"); err != nil {
		t.Fatalf("expected refill after sleep, got %v", err)
	}
}

func TestLimitErrorRetryAfter(t *testing.T) {
	// 60/min = 1 token per second.
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("user-1"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	err := l.Allow("user-1")
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LimitError, got %T: %v", err, err)
	}
	if le.RetryAfter <= 0 || le.RetryAfter > time.Second {
		t.Errorf("RetryAfter = %v, want in (0, 1s]", le.RetryAfter)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("LimitError should match ErrRateLimited")
	}
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	for _, id := range []string{"a", "b", "c"} {
		if err := l.Allow(id); err != nil {
			t.Fatalf("%s: %v", id, err)
		}
	}

	// Age every bucket past a full refill and force the sweep window open.
	l.mu.Lock()
	for _, b := range l.buckets {
		b.lastFill = time.Now().Add(-time.Hour)
	}
	l.lastSweep = time.Now().Add(-time.Hour)
	l.sweep(time.Now())
	remaining := len(l.buckets)
	l.mu.Unlock()

	if remaining != 0 {
		t.Errorf("buckets after sweep = %d, want 0", remaining)
	}

	// Swept users start fresh.
	if err := l.Allow("a"); err != nil {
		t.Fatalf("post-sweep request: %v", err)
	}
}

func TestBurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 2})

	if err := l.Allow("u"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.Allow("u"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if err := l.Allow("u"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited after default burst, got %v", err)
	}
}
