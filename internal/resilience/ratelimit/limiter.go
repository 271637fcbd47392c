// Package ratelimit provides per-source token-bucket admission control.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketfeed/internal/core/domain"
)

// Config holds one source's rate budget.
type Config struct {
	Capacity     int           // tokens per refill period
	RefillPeriod time.Duration // window over which the bucket fully refills
}

// DefaultConfig allows 60 calls per minute.
var DefaultConfig = Config{Capacity: 60, RefillPeriod: time.Minute}

type bucket struct {
	capacity     float64
	refillPeriod time.Duration
	tokens       float64
	lastRefill   time.Time
}

// refill tops up tokens proportionally to elapsed time, capped at capacity.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() / b.refillPeriod.Seconds() * b.capacity
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// waitForToken returns how long until one token is available.
func (b *bucket) waitForToken() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing / b.capacity * float64(b.refillPeriod))
}

// Limiter gates calls per source using token buckets. A denied acquisition
// increments the violation hook; the blocking variant sleeps once for the
// computed refill time and retries a single time, never looping.
type Limiter struct {
	mu      sync.Mutex
	buckets map[domain.SourceID]*bucket

	// OnDenied is invoked outside the lock whenever an acquisition is
	// refused, for metrics accounting. May be nil.
	OnDenied func(src domain.SourceID)

	now func() time.Time
}

// New creates an empty limiter; sources are added via Register.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[domain.SourceID]*bucket),
		now:     time.Now,
	}
}

// Register installs a bucket for the source, replacing any previous one.
func (l *Limiter) Register(src domain.SourceID, cfg Config) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig.Capacity
	}
	if cfg.RefillPeriod <= 0 {
		cfg.RefillPeriod = DefaultConfig.RefillPeriod
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[src] = &bucket{
		capacity:     float64(cfg.Capacity),
		refillPeriod: cfg.RefillPeriod,
		tokens:       float64(cfg.Capacity),
		lastRefill:   l.now(),
	}
}

// TryAcquire consumes one token if available. Unregistered sources are
// admitted unconditionally.
func (l *Limiter) TryAcquire(src domain.SourceID) bool {
	ok, _ := l.acquire(src)
	if !ok && l.OnDenied != nil {
		l.OnDenied(src)
	}
	return ok
}

func (l *Limiter) acquire(src domain.SourceID) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, found := l.buckets[src]
	if !found {
		return true, 0
	}
	b.refill(l.now())
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, b.waitForToken()
}

// Wait acquires a token, sleeping once for the computed refill time when the
// bucket is empty. A second denial fails with a RATE_LIMITED fault. The sleep
// observes ctx so shutdown is never blocked behind a limiter.
func (l *Limiter) Wait(ctx context.Context, src domain.SourceID) error {
	ok, wait := l.acquire(src)
	if ok {
		return nil
	}
	if l.OnDenied != nil {
		l.OnDenied(src)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if ok, _ = l.acquire(src); ok {
		return nil
	}
	if l.OnDenied != nil {
		l.OnDenied(src)
	}
	return domain.NewFault(domain.KindRateLimited, src,
		fmt.Errorf("rate budget exhausted after %v wait", wait))
}

// Tokens reports the current token count for diagnostics.
func (l *Limiter) Tokens(src domain.SourceID) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, found := l.buckets[src]
	if !found {
		return 0
	}
	b.refill(l.now())
	return b.tokens
}
