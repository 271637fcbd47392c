package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketfeed/internal/core/domain"
	"marketfeed/internal/infra/cache"
	"marketfeed/internal/resilience/breaker"
	"marketfeed/internal/resilience/ratelimit"
	"marketfeed/internal/resilience/recovery"
)

var testSource = domain.Source{
	ID:        "vix",
	Name:      "CBOE Volatility Index",
	Endpoints: []string{"https://example.com/vix"},
	Category:  domain.CategoryIndicator,
}

type fixture struct {
	fetcher *Fetcher
	breaker *breaker.Breaker
	store   *cache.Store
	engine  *recovery.Engine
	sleeps  []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := breaker.New(nil)
	b.Register(testSource.ID, breaker.Config{FailureThreshold: 5, OpenTimeout: 5 * time.Minute})
	store := cache.NewStore(nil, time.Hour, nil)
	engine := recovery.NewEngine(nil, 10)
	f := New(b, ratelimit.New(), store, engine, nil)
	f.randF = func() float64 { return 0 }

	fx := &fixture{fetcher: f, breaker: b, store: store, engine: engine}
	f.sleep = func(ctx context.Context, d time.Duration) error {
		fx.sleeps = append(fx.sleeps, d)
		return nil
	}
	return fx
}

func quickPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:    attempts,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
		AttemptTimeout: time.Second,
	}
}

func TestSuccessFirstAttempt(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	key := cache.Key{Namespace: "indicator", Name: "vix"}

	res, err := fx.fetcher.Fetch(ctx, Request{
		Source: testSource,
		Policy: quickPolicy(3),
		Op: func(ctx context.Context) (domain.RawPayload, error) {
			return domain.RawPayload(`{"value":18.2}`), nil
		},
		CacheKey: key,
		TTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("Fetch returned %v", err)
	}
	if !res.Live || res.Degraded {
		t.Errorf("Result = %+v, want live and not degraded", res)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if payload, found, fresh := fx.store.Get(ctx, key); !found || !fresh || string(payload) != `{"value":18.2}` {
		t.Error("Successful payload was not cached")
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	fx := newFixture(t)
	calls := 0

	res, err := fx.fetcher.Fetch(context.Background(), Request{
		Source: testSource,
		Policy: quickPolicy(3),
		Op: func(ctx context.Context) (domain.RawPayload, error) {
			calls++
			if calls < 3 {
				return nil, domain.NewFault(domain.KindUpstream, testSource.ID, errors.New("502"))
			}
			return domain.RawPayload(`{"value":18.2}`), nil
		},
	})
	if err != nil {
		t.Fatalf("Fetch returned %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	// Zeroed jitter leaves the raw exponential schedule.
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(fx.sleeps) != len(want) {
		t.Fatalf("Slept %d times, want %d", len(fx.sleeps), len(want))
	}
	for i := range want {
		if fx.sleeps[i] != want[i] {
			t.Errorf("Sleep %d = %v, want %v", i, fx.sleeps[i], want[i])
		}
	}
}

func TestBackoffCapAndJitter(t *testing.T) {
	fx := newFixture(t)
	fx.fetcher.randF = func() float64 { return 1 }

	p := Policy{InitialDelay: 10 * time.Second, MaxDelay: 15 * time.Second,
		Multiplier: 2.0, JitterFraction: 0.2, MaxAttempts: 3, AttemptTimeout: time.Second}
	// Attempt 2: raw 20s capped at 15s, plus full 20% jitter.
	if got := fx.fetcher.backoff(2, p); got != 18*time.Second {
		t.Errorf("backoff(2) = %v, want 18s", got)
	}
}

func TestNonRetryableBreaksImmediately(t *testing.T) {
	fx := newFixture(t)
	calls := 0

	res, err := fx.fetcher.Fetch(context.Background(), Request{
		Source: testSource,
		Policy: quickPolicy(3),
		Op: func(ctx context.Context) (domain.RawPayload, error) {
			calls++
			return nil, domain.NewFault(domain.KindUnauthorized, testSource.ID, errors.New("401"))
		},
		Default: domain.RawPayload(`{"value":20.0}`),
	})
	if err != nil {
		t.Fatalf("Fetch returned %v despite a default", err)
	}
	if calls != 1 {
		t.Errorf("Auth failure was retried %d times", calls)
	}
	if !res.Degraded || res.FallbackReason != "AUTH_FAILURE" {
		t.Errorf("Result = %+v, want degraded with AUTH_FAILURE", res)
	}
	// Auth failures force the circuit open regardless of the failure count.
	if got := fx.breaker.State(testSource.ID); got != breaker.StateOpen {
		t.Errorf("Circuit state = %v, want open after auth failure", got)
	}
}

func TestFallbackOrdering(t *testing.T) {
	ctx := context.Background()
	key := cache.Key{Namespace: "indicator", Name: "vix"}
	failing := func(ctx context.Context) (domain.RawPayload, error) {
		return nil, domain.NewFault(domain.KindConnection, testSource.ID, errors.New("refused"))
	}

	t.Run("fresh cache", func(t *testing.T) {
		fx := newFixture(t)
		fx.store.Set(ctx, key, []byte(`{"value":17.0}`), time.Hour)

		res, err := fx.fetcher.Fetch(ctx, Request{
			Source: testSource, Policy: quickPolicy(2), Op: failing, CacheKey: key,
		})
		if err != nil {
			t.Fatalf("Fetch returned %v", err)
		}
		if !res.Degraded || string(res.Payload) != `{"value":17.0}` {
			t.Errorf("Result = %+v, want fresh cached payload", res)
		}
	})

	t.Run("stale cache", func(t *testing.T) {
		fx := newFixture(t)
		// Zero TTL makes the entry stale immediately.
		fx.store.Set(ctx, key, []byte(`{"value":16.5}`), 0)

		res, err := fx.fetcher.Fetch(ctx, Request{
			Source: testSource, Policy: quickPolicy(2), Op: failing, CacheKey: key,
		})
		if err != nil {
			t.Fatalf("Fetch returned %v", err)
		}
		if string(res.Payload) != `{"value":16.5}` {
			t.Errorf("Payload = %s, want stale cached value", res.Payload)
		}
	})

	t.Run("caller default", func(t *testing.T) {
		fx := newFixture(t)
		res, err := fx.fetcher.Fetch(ctx, Request{
			Source: testSource, Policy: quickPolicy(2), Op: failing, CacheKey: key,
			Default: domain.RawPayload(`{"value":20.0}`),
		})
		if err != nil {
			t.Fatalf("Fetch returned %v", err)
		}
		if string(res.Payload) != `{"value":20.0}` {
			t.Errorf("Payload = %s, want the default", res.Payload)
		}
	})

	t.Run("nothing left", func(t *testing.T) {
		fx := newFixture(t)
		_, err := fx.fetcher.Fetch(ctx, Request{
			Source: testSource, Policy: quickPolicy(2), Op: failing, CacheKey: key,
		})
		if err == nil {
			t.Fatal("Fetch returned nil with no fallback available")
		}
		if got := domain.KindOf(err); got != domain.KindConnection {
			t.Errorf("Propagated kind = %v, want NETWORK_CONNECTION", got)
		}
	})
}

func TestOpenCircuitRejectsWithoutAttempt(t *testing.T) {
	fx := newFixture(t)
	fx.breaker.Trip(testSource.ID)

	rejections := 0
	fx.fetcher.OnRejection = func(src domain.SourceID) { rejections++ }

	calls := 0
	res, err := fx.fetcher.Fetch(context.Background(), Request{
		Source: testSource,
		Policy: quickPolicy(3),
		Op: func(ctx context.Context) (domain.RawPayload, error) {
			calls++
			return domain.RawPayload(`{}`), nil
		},
		Default: domain.RawPayload(`{"value":20.0}`),
	})
	if err != nil {
		t.Fatalf("Fetch returned %v", err)
	}
	if calls != 0 {
		t.Errorf("Open circuit still made %d calls", calls)
	}
	if rejections != 1 {
		t.Errorf("Rejection hook fired %d times, want 1", rejections)
	}
	if res.FallbackReason != "CIRCUIT_OPEN" {
		t.Errorf("FallbackReason = %q, want CIRCUIT_OPEN", res.FallbackReason)
	}
	// The rejection still produces a classified recovery outcome.
	outcomes := fx.engine.History()
	if len(outcomes) != 1 {
		t.Fatalf("Engine recorded %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Error.Code != "CIRCUIT_OPEN" || !outcomes[0].Recovered {
		t.Errorf("Outcome = %+v, want recovered CIRCUIT_OPEN", outcomes[0])
	}
}

func TestRateLimitedRejectionRecordsOutcome(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fault := domain.NewFault(domain.KindRateLimited, testSource.ID,
		errors.New("rate limit exceeded"))
	res, err := fx.fetcher.recoverFrom(ctx, Request{
		Source: testSource,
		Policy: quickPolicy(3),
		Default: domain.RawPayload(`{"value":20.0}`),
	}, fault, 0)
	if err != nil {
		t.Fatalf("recoverFrom returned %v", err)
	}
	if !res.Degraded || res.FallbackReason != "RATE_LIMITED" {
		t.Errorf("Result = %+v, want degraded with RATE_LIMITED", res)
	}

	outcomes := fx.engine.History()
	if len(outcomes) != 1 {
		t.Fatalf("Engine recorded %d outcomes, want 1", len(outcomes))
	}
	o := outcomes[0]
	if o.Error.Code != "RATE_LIMITED" || !o.Recovered {
		t.Errorf("Outcome = %+v, want recovered RATE_LIMITED", o)
	}
	// A rejected call never touches the breaker's failure count.
	if got := fx.breaker.State(testSource.ID); got != breaker.StateClosed {
		t.Errorf("Circuit state = %v, want closed", got)
	}
}

func TestExhaustionCountsOneBreakerFailure(t *testing.T) {
	fx := newFixture(t)
	failing := func(ctx context.Context) (domain.RawPayload, error) {
		return nil, domain.NewFault(domain.KindUpstream, testSource.ID, errors.New("503"))
	}

	// Five exhausted fetches reach the failure threshold; retries within a
	// fetch never count individually.
	for i := 0; i < 4; i++ {
		fx.fetcher.Fetch(context.Background(), Request{
			Source: testSource, Policy: quickPolicy(3), Op: failing,
			Default: domain.RawPayload(`{}`),
		})
		if got := fx.breaker.State(testSource.ID); got != breaker.StateClosed {
			t.Fatalf("Circuit opened after %d exhausted fetches", i+1)
		}
	}
	fx.fetcher.Fetch(context.Background(), Request{
		Source: testSource, Policy: quickPolicy(3), Op: failing,
		Default: domain.RawPayload(`{}`),
	})
	if got := fx.breaker.State(testSource.ID); got != breaker.StateOpen {
		t.Errorf("Circuit state = %v, want open after the fifth exhausted fetch", got)
	}
}
