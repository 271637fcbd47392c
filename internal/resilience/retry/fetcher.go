// Package retry wraps a single-source fetch operation with backoff, the
// circuit breaker and rate limiter gates, and the cache fallback chain.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"marketfeed/internal/core/domain"
	"marketfeed/internal/infra/cache"
	"marketfeed/internal/resilience/breaker"
	"marketfeed/internal/resilience/ratelimit"
	"marketfeed/internal/resilience/recovery"
)

// Policy governs the retry loop for one source.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64       // extra delay, 0..1 of the computed backoff
	AttemptTimeout time.Duration // hard deadline per network attempt
}

// DefaultPolicy provides the usual production retry shape.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialDelay:   time.Second,
	MaxDelay:       30 * time.Second,
	Multiplier:     2.0,
	JitterFraction: 0.25,
	AttemptTimeout: 10 * time.Second,
}

// Request describes one guarded fetch.
type Request struct {
	Source   domain.Source
	Policy   Policy
	Op       func(ctx context.Context) (domain.RawPayload, error)
	CacheKey cache.Key
	TTL      time.Duration
	Default  domain.RawPayload // caller-supplied last resort, may be nil
}

// Result is the outcome of a guarded fetch. Degraded results carry the
// fallback reason and, for cache-served payloads, the data age.
type Result struct {
	Payload        domain.RawPayload
	Live           bool
	Degraded       bool
	FallbackReason string
	CacheAge       time.Duration
	Attempts       int
	Latency        time.Duration
}

// Fetcher composes the resilience layers around opaque fetch operations.
type Fetcher struct {
	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
	cache   *cache.Store
	engine  *recovery.Engine
	log     *slog.Logger

	// Hooks for metrics accounting; any may be nil.
	OnAttempt   func(src domain.SourceID, success bool, latency time.Duration)
	OnRejection func(src domain.SourceID)
	OnFallback  func(src domain.SourceID, reason string)

	sleep func(ctx context.Context, d time.Duration) error
	randF func() float64
}

// New wires a fetcher over the shared resilience components.
func New(b *breaker.Breaker, l *ratelimit.Limiter, c *cache.Store, e *recovery.Engine, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		breaker: b,
		limiter: l,
		cache:   c,
		engine:  e,
		log:     log,
		sleep:   sleepCtx,
		randF:   rand.Float64,
	}
}

// Fetch runs the guarded fetch: breaker gate, limiter gate, bounded retry
// loop, then the fallback chain (fresh cache, stale cache, default) before
// propagating the error.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	src := req.Source.ID
	policy := normalize(req.Policy)

	// Circuit gate: fail fast, no attempt, no latency sample.
	if !f.breaker.Allow(src) {
		if f.OnRejection != nil {
			f.OnRejection(src)
		}
		fault := domain.NewFault(domain.KindCircuitOpen, src,
			errors.New("circuit breaker rejected call"))
		return f.recoverFrom(ctx, req, fault, 0)
	}

	// Rate gate: one computed wait and a single re-acquisition inside Wait.
	if err := f.limiter.Wait(ctx, src); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return f.recoverFrom(ctx, req, err, 0)
	}

	start := time.Now()
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attempts = attempt
		payload, err := f.attempt(ctx, req, policy)
		if err == nil {
			latency := time.Since(start)
			f.breaker.RecordSuccess(src)
			f.cache.Set(ctx, req.CacheKey, payload, req.TTL)
			if f.OnAttempt != nil {
				f.OnAttempt(src, true, latency)
			}
			return Result{Payload: payload, Live: true, Attempts: attempts, Latency: latency}, nil
		}

		lastErr = err
		if f.OnAttempt != nil {
			f.OnAttempt(src, false, 0)
		}
		if ctx.Err() != nil {
			lastErr = domain.NewFault(domain.KindTimeout, src, ctx.Err())
			break
		}
		// Non-retryable failures (auth, validation) surface immediately.
		if !recovery.Retryable(err) {
			break
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := f.backoff(attempt, policy)
		f.log.Debug("retrying fetch",
			"source", string(src), "attempt", attempt, "delay", delay, "error", err)
		if err := f.sleep(ctx, delay); err != nil {
			lastErr = domain.NewFault(domain.KindTimeout, src, err)
			break
		}
	}

	// Retries exhausted: classify, report to the breaker, then fall back.
	se, strategy := f.engine.Handle(src, lastErr)
	f.breaker.RecordFailure(src)
	if strategy == recovery.StrategyOpenCircuit {
		f.breaker.Trip(src)
	}

	res, err := f.fallback(ctx, req, lastErr, attempts)
	f.engine.Record(se, strategy, err == nil)
	return res, err
}

// recoverFrom classifies a gate rejection and serves the fallback chain,
// recording the recovery outcome. Unlike the exhaustion path, gate
// rejections never count against the breaker.
func (f *Fetcher) recoverFrom(ctx context.Context, req Request, cause error, attempts int) (Result, error) {
	se, strategy := f.engine.Handle(req.Source.ID, cause)
	res, err := f.fallback(ctx, req, cause, attempts)
	f.engine.Record(se, strategy, err == nil)
	return res, err
}

// attempt runs one network call under its hard deadline.
func (f *Fetcher) attempt(ctx context.Context, req Request, policy Policy) (domain.RawPayload, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
	defer cancel()

	payload, err := req.Op(attemptCtx)
	if err != nil {
		// A deadline blown by the attempt itself is a timeout fault,
		// distinct from an HTTP error response.
		if attemptCtx.Err() != nil && domain.KindOf(err) == domain.KindUnknown {
			return nil, domain.NewFault(domain.KindTimeout, req.Source.ID, err)
		}
		return nil, err
	}
	return payload, nil
}

// fallback serves fresh cache, then stale cache, then the caller default,
// logging every use with the reason and data age.
func (f *Fetcher) fallback(ctx context.Context, req Request, cause error, attempts int) (Result, error) {
	src := req.Source.ID
	reason := domain.KindOf(cause).String()

	if payload, found, fresh := f.cache.Get(ctx, req.CacheKey); found && fresh {
		f.noteFallback(src, reason, "fresh_cache", 0)
		return Result{
			Payload: payload, Degraded: true, FallbackReason: reason, Attempts: attempts,
		}, nil
	}

	if payload, age, ok := f.cache.GetStale(ctx, req.CacheKey); ok {
		f.noteFallback(src, reason, "stale_cache", age)
		return Result{
			Payload: payload, Degraded: true, FallbackReason: reason,
			CacheAge: age, Attempts: attempts,
		}, nil
	}

	if req.Default != nil {
		f.noteFallback(src, reason, "default", 0)
		return Result{
			Payload: req.Default, Degraded: true, FallbackReason: reason, Attempts: attempts,
		}, nil
	}

	return Result{Attempts: attempts}, fmt.Errorf("all fallbacks exhausted for %s: %w", src, cause)
}

func (f *Fetcher) noteFallback(src domain.SourceID, reason, path string, age time.Duration) {
	f.log.Warn("serving fallback data",
		"source", string(src), "reason", reason, "path", path, "cache_age", age)
	if f.OnFallback != nil {
		f.OnFallback(src, reason)
	}
}

// backoff computes initial * multiplier^(attempt-1), capped, plus jitter.
func (f *Fetcher) backoff(attempt int, policy Policy) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt-1))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	jitter := f.randF() * policy.JitterFraction * delay
	return time.Duration(delay + jitter)
}

func normalize(p Policy) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultPolicy.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultPolicy.Multiplier
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		p.JitterFraction = DefaultPolicy.JitterFraction
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultPolicy.AttemptTimeout
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
