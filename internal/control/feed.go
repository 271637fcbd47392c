// Package control wires the feed components together and manages their
// lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"marketfeed/internal/core/config"
	"marketfeed/internal/core/domain"
	"marketfeed/internal/health"
	"marketfeed/internal/infra/cache"
	"marketfeed/internal/infra/httpfetch"
	"marketfeed/internal/metrics"
	"marketfeed/internal/pipeline"
	"marketfeed/internal/resilience/breaker"
	"marketfeed/internal/resilience/ratelimit"
	"marketfeed/internal/resilience/recovery"
	"marketfeed/internal/resilience/retry"
	"marketfeed/internal/sources"
)

// Feed is the application supervisor: it owns every component and drives
// startup and shutdown.
type Feed struct {
	cfg *config.AppConfig
	log *slog.Logger

	registry  *metrics.Registry
	limiter   *ratelimit.Limiter
	breaker   *breaker.Breaker
	redis     *cache.Redis
	store     *cache.Store
	engine    *recovery.Engine
	fetcher   *retry.Fetcher
	srcReg    *sources.Registry
	orch      *pipeline.Orchestrator
	sched     *pipeline.Scheduler
	evaluator *metrics.Evaluator
	monitor   *health.Monitor
	server    *health.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeed builds the full component graph from the loaded configuration.
// Nothing starts running until Start.
func NewFeed(cfg *config.AppConfig, log *slog.Logger) (*Feed, error) {
	if log == nil {
		log = slog.Default()
	}

	registry := metrics.NewRegistry()

	limiter := ratelimit.New()
	limiter.OnDenied = func(src domain.SourceID) {
		metrics.RateLimitViolations.WithLabelValues(string(src)).Inc()
		registry.Inc(metrics.SourceMetric("ratelimit", string(src), "denied"), 1)
	}

	brk := breaker.New(log)
	brk.OnTransition = func(src domain.SourceID, from, to breaker.State) {
		metrics.CircuitState.WithLabelValues(string(src)).Set(circuitGaugeValue(to))
		registry.Inc(metrics.SourceMetric("circuit", string(src), "transitions"), 1)
	}

	srcs := make([]domain.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src := sc.Source()
		srcs = append(srcs, src)
		limiter.Register(src.ID, ratelimit.Config{
			Capacity:     sc.RateLimit.Capacity,
			RefillPeriod: sc.RateLimit.RefillPeriod,
		})
		brk.Register(src.ID, breaker.Config{
			FailureThreshold: sc.Breaker.FailureThreshold,
			OpenTimeout:      sc.Breaker.OpenTimeout,
			MaxTrialCalls:    sc.Breaker.MaxTrialCalls,
		})
	}

	var durable *cache.Redis
	if cfg.Cache.Redis.URL != "" {
		var err error
		durable, err = cache.NewRedis(cfg.Cache.Redis, cfg.Cache.StaleRetention)
		if err != nil {
			// The memory tier alone still satisfies the fallback chain.
			log.Warn("durable cache unavailable, running memory-only", "error", err)
			durable = nil
		} else {
			log.Info("durable cache connected", "url", cfg.Cache.Redis.URL)
		}
	}

	store := cache.NewStore(durable, cfg.Cache.StaleRetention, log)
	store.OnHit = func(tier string, fresh bool) {
		freshness := "stale"
		if fresh {
			freshness = "fresh"
		}
		metrics.CacheHits.WithLabelValues(tier, freshness).Inc()
		registry.Inc(fmt.Sprintf("cache.hits.%s", tier), 1)
	}
	store.OnCorrupt = func(key cache.Key) {
		metrics.CacheIntegrityFailures.Inc()
		registry.Inc("cache.integrity_failures", 1)
	}

	engine := recovery.NewEngine(log, 200)
	engine.OnOutcome = func(o recovery.Outcome) {
		result := "unrecovered"
		if o.Recovered {
			result = "recovered"
		}
		registry.Inc(fmt.Sprintf("errors.%s.%s", o.Error.Code, result), 1)
	}

	fetcher := retry.New(brk, limiter, store, engine, log)
	fetcher.OnAttempt = func(src domain.SourceID, success bool, latency time.Duration) {
		outcome := "failure"
		if success {
			outcome = "success"
			metrics.FetchLatency.WithLabelValues(string(src)).Observe(latency.Seconds())
			registry.Observe(metrics.SourceMetric("fetch", string(src), "latency_ms"),
				float64(latency.Milliseconds()))
		}
		metrics.FetchTotal.WithLabelValues(string(src), outcome).Inc()
		registry.Inc(metrics.SourceMetric("fetch", string(src), outcome), 1)
	}
	fetcher.OnRejection = func(src domain.SourceID) {
		metrics.CircuitRejections.WithLabelValues(string(src)).Inc()
		registry.Inc(metrics.SourceMetric("circuit", string(src), "rejections"), 1)
	}
	fetcher.OnFallback = func(src domain.SourceID, reason string) {
		registry.Inc(metrics.SourceMetric("fetch", string(src), "fallbacks"), 1)
	}

	// The shared client must never cut an attempt short: its transport
	// timeout covers the largest configured attempt budget, and the
	// per-attempt context enforces each source's own deadline.
	client := httpfetch.New(maxAttemptTimeout(cfg.Sources), cfg.Pipeline.UserAgent)
	srcReg := sources.NewRegistry(client, log)

	plans := make([]pipeline.SourcePlan, 0, len(cfg.Sources))
	for i, sc := range cfg.Sources {
		src := srcs[i]
		plans = append(plans, pipeline.SourcePlan{
			Source: src,
			Fetch:  srcReg.FetchFor(src),
			Policy: retry.Policy{
				MaxAttempts:    sc.Retry.MaxAttempts,
				InitialDelay:   sc.Retry.InitialDelay,
				MaxDelay:       sc.Retry.MaxDelay,
				Multiplier:     sc.Retry.Multiplier,
				JitterFraction: sc.Retry.JitterFraction,
				AttemptTimeout: sc.Retry.AttemptTimeout,
			},
			TTL: cfg.Cache.TTLFor(src.Category),
		})
	}

	orch := pipeline.NewOrchestrator(pipeline.Config{
		RunDeadline: cfg.Pipeline.RunDeadline,
		HistorySize: cfg.Pipeline.HistorySize,
	}, plans, fetcher, registry, log)
	sched := pipeline.NewScheduler(orch, cfg.Pipeline.Interval, cfg.Pipeline.OutputPath, log)

	var notifier metrics.Notifier = &metrics.LogNotifier{Log: log}
	if cfg.Alerting.Telegram.Enabled {
		notifier = metrics.NewTelegramNotifier(
			cfg.Alerting.Telegram.BotToken,
			cfg.Alerting.Telegram.ChatID,
			cfg.Alerting.Telegram.APIBase,
			10*time.Second,
			log,
		)
	}
	evaluator := metrics.NewEvaluator(registry, notifier, cfg.Alerting.Interval,
		cfg.Alerting.Cooldown, cfg.Alerting.HistorySize, log)
	for _, rc := range cfg.Alerting.Rules {
		cmp, err := metrics.ParseComparison(rc.Comparison)
		if err != nil {
			return nil, fmt.Errorf("alert rule %q: %w", rc.Name, err)
		}
		evaluator.AddRule(metrics.Rule{
			Name:       rc.Name,
			Metric:     rc.Metric,
			Comparison: cmp,
			Threshold:  rc.Threshold,
			Severity:   domain.Severity(rc.Severity),
		})
	}

	monitor := health.NewMonitor(health.Config{
		BasicInterval:    cfg.Health.BasicInterval,
		DetailedInterval: cfg.Health.DetailedInterval,
		Retention:        cfg.Health.Retention,
		ProbeTimeout:     cfg.Health.ProbeTimeout,
		RecoveryStreak:   cfg.Health.RecoveryStreak,
	}, srcs, &health.HTTPProber{Client: client, Validate: pipeline.ValidatePayload},
		brk, registry, evaluator, log)

	server := health.NewServer(monitor, brk, registry, orch, cfg.Server.Port)

	return &Feed{
		cfg:       cfg,
		log:       log,
		registry:  registry,
		limiter:   limiter,
		breaker:   brk,
		redis:     durable,
		store:     store,
		engine:    engine,
		fetcher:   fetcher,
		srcReg:    srcReg,
		orch:      orch,
		sched:     sched,
		evaluator: evaluator,
		monitor:   monitor,
		server:    server,
	}, nil
}

// Sources exposes the fetch registry so collaborators can install custom
// fetch operations before Start.
func (f *Feed) Sources() *sources.Registry {
	return f.srcReg
}

// Orchestrator exposes the pipeline for one-shot runs.
func (f *Feed) Orchestrator() *pipeline.Orchestrator {
	return f.orch
}

// Start launches the scheduler, monitor, evaluator, cache sweeper and the
// HTTP server. Components stop when Stop is called.
func (f *Feed) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	sweep := f.cfg.Cache.SweepInterval
	if sweep <= 0 {
		sweep = 10 * time.Minute
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.store.RunSweeper(runCtx, sweep)
	}()

	f.monitor.Start(runCtx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.evaluator.Run(runCtx)
	}()

	f.sched.Start(runCtx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.log.Error("health server failed", "error", err)
		}
	}()

	f.log.Info("feed started",
		"sources", len(f.cfg.Sources),
		"port", f.cfg.Server.Port,
		"interval", f.cfg.Pipeline.Interval,
	)
	return nil
}

// Stop shuts everything down: the HTTP server drains under ctx, the run
// loops are cancelled and joined, then the durable cache connection closes.
func (f *Feed) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}

	var firstErr error
	if err := f.server.Stop(ctx); err != nil {
		firstErr = err
	}

	f.sched.Wait()
	f.monitor.Wait()
	f.wg.Wait()

	if f.redis != nil {
		if err := f.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	f.log.Info("feed stopped")
	return firstErr
}

// maxAttemptTimeout returns the largest per-source attempt budget, so the
// shared HTTP client timeout never truncates a configured deadline.
func maxAttemptTimeout(srcs []config.SourceConfig) time.Duration {
	var max time.Duration
	for _, sc := range srcs {
		if sc.Retry.AttemptTimeout > max {
			max = sc.Retry.AttemptTimeout
		}
	}
	return max
}

func circuitGaugeValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 1
	case breaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
