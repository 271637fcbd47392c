package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketfeed/internal/core/domain"
	"marketfeed/internal/infra/cache"
	"marketfeed/internal/metrics"
	"marketfeed/internal/resilience/retry"
)

// FetchFunc is the opaque per-source fetch operation supplied by the source
// registry or an external collaborator.
type FetchFunc func(ctx context.Context) (domain.RawPayload, error)

// SourcePlan binds one source to its fetch operation and resilience policy.
type SourcePlan struct {
	Source  domain.Source
	Fetch   FetchFunc
	Policy  retry.Policy
	TTL     time.Duration
	Default domain.RawPayload // nil means use the built-in safe default
}

// Config governs orchestrator runs.
type Config struct {
	RunDeadline time.Duration
	HistorySize int
}

// Orchestrator fans out one guarded fetch per source and assembles the
// consolidated snapshot. Sources fail independently; a run only fails
// outright when no source, including cache, produced any data.
type Orchestrator struct {
	cfg      Config
	plans    []SourcePlan
	fetcher  *retry.Fetcher
	registry *metrics.Registry
	log      *slog.Logger

	mu       sync.Mutex
	lastSnap *domain.Snapshot
	history  []*domain.PipelineExecution
}

// NewOrchestrator creates an orchestrator over the planned sources.
func NewOrchestrator(cfg Config, plans []SourcePlan, fetcher *retry.Fetcher, registry *metrics.Registry, log *slog.Logger) *Orchestrator {
	if cfg.RunDeadline <= 0 {
		cfg.RunDeadline = 45 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		plans:    plans,
		fetcher:  fetcher,
		registry: registry,
		log:      log,
	}
}

type outcome struct {
	plan   SourcePlan
	result retry.Result
	err    error
}

// RunOnce executes one pipeline run under the run deadline and returns the
// assembled snapshot. The snapshot is complete for any combination of
// source outcomes; the returned error is non-nil only for the catastrophic
// case where nothing produced data.
func (o *Orchestrator) RunOnce(ctx context.Context) (*domain.Snapshot, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunDeadline)
	defer cancel()

	exec := &domain.PipelineExecution{
		ID:        uuid.New().String(),
		StartTime: time.Now(),
		Results:   make(map[domain.SourceID]domain.SourceResult, len(o.plans)),
	}
	o.log.Info("pipeline run started", "run_id", exec.ID, "sources", len(o.plans))

	outcomes := make(chan outcome, len(o.plans))
	var wg sync.WaitGroup
	for _, plan := range o.plans {
		wg.Add(1)
		go func(plan SourcePlan) {
			defer wg.Done()
			res, err := o.fetchOne(runCtx, plan)
			outcomes <- outcome{plan: plan, result: res, err: err}
		}(plan)
	}
	// Snapshot assembly waits for every source to complete or time out;
	// the run deadline bounds the slowest.
	wg.Wait()
	close(outcomes)

	collected := make([]outcome, 0, len(o.plans))
	for oc := range outcomes {
		collected = append(collected, oc)
		exec.Results[oc.plan.Source.ID] = toResult(oc)
	}

	snap := o.assemble(collected)
	exec.EndTime = time.Now()
	exec.Status = runStatus(exec.Results)
	metrics.PipelineRuns.WithLabelValues(string(exec.Status)).Inc()
	o.registry.Inc(fmt.Sprintf("pipeline.runs.%s", exec.Status), 1)
	o.registry.Observe("pipeline.run_duration_ms",
		float64(exec.EndTime.Sub(exec.StartTime).Milliseconds()))

	o.mu.Lock()
	o.lastSnap = snap
	o.history = append(o.history, exec)
	if len(o.history) > o.cfg.HistorySize {
		o.history = o.history[len(o.history)-o.cfg.HistorySize:]
	}
	o.mu.Unlock()

	o.log.Info("pipeline run finished",
		"run_id", exec.ID,
		"status", string(exec.Status),
		"duration", exec.EndTime.Sub(exec.StartTime),
		"degraded", snap.Degraded,
	)

	if exec.Status == domain.RunFailed {
		return snap, fmt.Errorf("pipeline run %s: no source produced data", exec.ID)
	}
	return snap, nil
}

func (o *Orchestrator) fetchOne(ctx context.Context, plan SourcePlan) (retry.Result, error) {
	def := plan.Default
	if def == nil {
		def = defaultPayload(plan.Source.ID)
	}
	return o.fetcher.Fetch(ctx, retry.Request{
		Source: plan.Source,
		Policy: plan.Policy,
		Op:     plan.Fetch,
		CacheKey: cache.Key{
			Namespace: string(plan.Source.Category),
			Name:      string(plan.Source.ID),
		},
		TTL:     plan.TTL,
		Default: def,
	})
}

func toResult(oc outcome) domain.SourceResult {
	sr := domain.SourceResult{
		Source:         oc.plan.Source.ID,
		Live:           oc.result.Live,
		Degraded:       oc.result.Degraded,
		FallbackReason: oc.result.FallbackReason,
		Latency:        oc.result.Latency,
		Attempts:       oc.result.Attempts,
	}
	if oc.err != nil {
		sr.Error = oc.err.Error()
	}
	return sr
}

// assemble builds a complete snapshot from whatever the fan-out produced.
// Fields whose source yielded nothing at all get the built-in safe default,
// so no field is ever absent.
func (o *Orchestrator) assemble(outcomes []outcome) *domain.Snapshot {
	now := time.Now()
	snap := &domain.Snapshot{
		Timestamp:   now,
		Stocks:      make(map[string]domain.Quote),
		LastUpdated: now,
	}
	have := make(map[domain.SourceID]bool)

	for _, oc := range outcomes {
		id := oc.plan.Source.ID
		payload := oc.result.Payload
		if payload == nil {
			payload = defaultPayload(id)
		}
		if oc.result.Degraded || oc.err != nil {
			snap.Degraded = true
			snap.DegradedSources = append(snap.DegradedSources, domain.DegradedSource{
				Source:   id,
				Reason:   degradeReason(oc),
				CacheAge: oc.result.CacheAge,
			})
		}

		switch id {
		case domain.SourceVIX:
			reading, err := parseIndex(id, payload)
			if err != nil {
				reading, _ = parseIndex(id, defaultPayload(id))
				o.noteValidation(id, err, snap)
			}
			snap.VIX = reading
			have[id] = true
		case domain.SourceFearGreed:
			fg, err := parseFearGreed(id, payload)
			if err != nil {
				fg, _ = parseFearGreed(id, defaultPayload(id))
				o.noteValidation(id, err, snap)
			}
			snap.FearGreed = fg
			have[id] = true
		case domain.SourceNews:
			score, err := parseNews(id, payload)
			if err != nil {
				o.noteValidation(id, err, snap)
				score = decimal.Zero
			}
			snap.NewsSentiment = score
			have[id] = true
		case domain.SourceEcon:
			// Economic indicators are fetched for cache freshness and
			// health tracking; the dashboard reads them separately.
			have[id] = true
		default:
			quote, err := parseQuote(id, payload)
			if err != nil {
				quote, _ = parseQuote(id, defaultPayload(id))
				o.noteValidation(id, err, snap)
			}
			snap.Stocks[quote.Symbol] = quote
		}
	}

	o.fillMissing(snap, have)
	snap.OverallSentiment = overallSentiment(snap, have)
	snap.PutCallRatio = putCallProxy(snap.VIX.Value, snap.Stocks)
	return snap
}

// noteValidation records a dropped-field event: the offending value is
// replaced with the safe default rather than failing the run.
func (o *Orchestrator) noteValidation(id domain.SourceID, err error, snap *domain.Snapshot) {
	o.log.Warn("field dropped after validation failure", "source", string(id), "error", err)
	o.registry.Inc(metrics.SourceMetric("fetch", string(id), "validation_failures"), 1)
	snap.Degraded = true
	snap.DegradedSources = append(snap.DegradedSources, domain.DegradedSource{
		Source: id,
		Reason: domain.KindValidation.String(),
	})
}

// fillMissing guarantees every required field has a value even when a
// source was not configured at all.
func (o *Orchestrator) fillMissing(snap *domain.Snapshot, have map[domain.SourceID]bool) {
	if !have[domain.SourceVIX] {
		snap.VIX, _ = parseIndex(domain.SourceVIX, defaultPayload(domain.SourceVIX))
	}
	if !have[domain.SourceFearGreed] {
		snap.FearGreed, _ = parseFearGreed(domain.SourceFearGreed, defaultPayload(domain.SourceFearGreed))
	}
	for _, plan := range o.plans {
		if plan.Source.Category != domain.CategoryQuote {
			continue
		}
		symbol := strings.ToUpper(string(plan.Source.ID))
		if _, ok := snap.Stocks[symbol]; !ok {
			quote, _ := parseQuote(plan.Source.ID, defaultPayload(plan.Source.ID))
			snap.Stocks[quote.Symbol] = quote
		}
	}
}

func degradeReason(oc outcome) string {
	if oc.result.FallbackReason != "" {
		return oc.result.FallbackReason
	}
	if oc.err != nil {
		return domain.KindOf(oc.err).String()
	}
	return "unknown"
}

// runStatus grades the whole run: success only when every source was live,
// failed only when nothing produced data.
func runStatus(results map[domain.SourceID]domain.SourceResult) domain.RunStatus {
	anyData := false
	allLive := true
	for _, r := range results {
		if r.Live || r.Degraded {
			anyData = true
		}
		if !r.Live {
			allLive = false
		}
	}
	switch {
	case !anyData:
		return domain.RunFailed
	case allLive:
		return domain.RunSuccess
	default:
		return domain.RunDegraded
	}
}

// LastSnapshot returns the most recently assembled snapshot, nil before the
// first run.
func (o *Orchestrator) LastSnapshot() *domain.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSnap
}

// History returns a copy of the retained executions, newest last.
func (o *Orchestrator) History() []*domain.PipelineExecution {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.PipelineExecution, len(o.history))
	copy(out, o.history)
	return out
}
