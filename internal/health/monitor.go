package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketfeed/internal/core/domain"
	"marketfeed/internal/infra/httpfetch"
	"marketfeed/internal/metrics"
	"marketfeed/internal/resilience/breaker"
)

// SourceStatus grades one source for the health report.
type SourceStatus string

const (
	StatusHealthy   SourceStatus = "healthy"
	StatusDegraded  SourceStatus = "degraded"
	StatusUnhealthy SourceStatus = "unhealthy"
	StatusCritical  SourceStatus = "critical"
)

// SLAStatus compares observed aggregates against the configured targets.
type SLAStatus struct {
	Compliant  bool     `json:"compliant"`
	Violations []string `json:"violations,omitempty"`
}

// SourceReport is the per-source section of the health report.
type SourceReport struct {
	Source          domain.SourceID `json:"source"`
	Name            string          `json:"name"`
	Status          SourceStatus    `json:"status"`
	Aggregates      Aggregates      `json:"aggregates"`
	SLA             SLAStatus       `json:"sla"`
	Circuit         breaker.Info    `json:"circuit"`
	Recommendations []string        `json:"recommendations,omitempty"`
}

// Report is the full periodic health/metrics document consumed by the
// external monitoring collaborator.
type Report struct {
	GeneratedAt time.Time                         `json:"generatedAt"`
	Overall     SourceStatus                      `json:"overall"`
	Sources     map[domain.SourceID]*SourceReport `json:"sources"`
	Alerts      []domain.Alert                    `json:"alerts,omitempty"`
}

// AlertSource exposes recent alerts for inclusion in the report.
type AlertSource interface {
	Outstanding(window time.Duration) []domain.Alert
}

// Prober performs one probe against a source. Detailed probes additionally
// validate the payload shape.
type Prober interface {
	Probe(ctx context.Context, src domain.Source, detailed bool) CheckResult
}

// HTTPProber probes the source's probe endpoint over HTTP.
type HTTPProber struct {
	Client *httpfetch.Client
	// Validate, when set, replaces the generic JSON shape check on
	// detailed probes with source-aware payload validation.
	Validate func(src domain.Source, payload domain.RawPayload) error
}

// Probe fetches the probe endpoint and, for detailed checks, validates the
// payload against the source's expected shape.
func (p *HTTPProber) Probe(ctx context.Context, src domain.Source, detailed bool) CheckResult {
	start := time.Now()
	res := CheckResult{Timestamp: start, Detailed: detailed}

	payload, err := p.Client.Fetch(ctx, src.ID, src.ProbeEndpoint())
	res.Latency = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if detailed {
		if err := p.validate(src, payload); err != nil {
			res.Error = err.Error()
			return res
		}
	}

	res.Success = true
	return res
}

func (p *HTTPProber) validate(src domain.Source, payload domain.RawPayload) error {
	if p.Validate != nil {
		return p.Validate(src, payload)
	}
	return validateShape(payload)
}

func validateShape(payload domain.RawPayload) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	switch v := doc.(type) {
	case map[string]any:
		if len(v) == 0 {
			return fmt.Errorf("payload is an empty object")
		}
	case []any:
		if len(v) == 0 {
			return fmt.Errorf("payload is an empty array")
		}
	default:
		return fmt.Errorf("payload is a bare scalar")
	}
	return nil
}

// Config holds monitor cadences and retention.
type Config struct {
	BasicInterval    time.Duration
	DetailedInterval time.Duration
	Retention        time.Duration
	ProbeTimeout     time.Duration
	// RecoveryStreak is the number of consecutive successful probes that
	// resets an open circuit.
	RecoveryStreak int
}

// Monitor runs the two probe cadences, keeps per-source records and derives
// SLA compliance. Probes run concurrently per source so one slow provider
// never delays checks for the others.
type Monitor struct {
	cfg      Config
	sources  []domain.Source
	prober   Prober
	breaker  *breaker.Breaker
	registry *metrics.Registry
	alerts   AlertSource
	log      *slog.Logger

	mu      sync.RWMutex
	records map[domain.SourceID]*Records

	wg sync.WaitGroup
}

// NewMonitor creates a monitor for the configured sources.
func NewMonitor(cfg Config, sources []domain.Source, prober Prober, b *breaker.Breaker, registry *metrics.Registry, alerts AlertSource, log *slog.Logger) *Monitor {
	if cfg.BasicInterval <= 0 {
		cfg.BasicInterval = time.Minute
	}
	if cfg.DetailedInterval <= 0 {
		cfg.DetailedInterval = 5 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.RecoveryStreak <= 0 {
		cfg.RecoveryStreak = 3
	}
	if log == nil {
		log = slog.Default()
	}

	records := make(map[domain.SourceID]*Records, len(sources))
	for _, src := range sources {
		records[src.ID] = NewRecords(cfg.Retention)
	}

	return &Monitor{
		cfg:      cfg,
		sources:  sources,
		prober:   prober,
		breaker:  b,
		registry: registry,
		alerts:   alerts,
		log:      log,
		records:  records,
	}
}

// Start launches the two check timers. They stop when ctx ends; Wait joins
// in-flight probes.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.runTimer(ctx, m.cfg.BasicInterval, false)
	}()
	go func() {
		defer m.wg.Done()
		m.runTimer(ctx, m.cfg.DetailedInterval, true)
	}()
}

// Wait blocks until both timers have exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) runTimer(ctx context.Context, interval time.Duration, detailed bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx, detailed)
		}
	}
}

// checkAll probes every source concurrently and joins before returning.
func (m *Monitor) checkAll(ctx context.Context, detailed bool) {
	var wg sync.WaitGroup
	for _, src := range m.sources {
		wg.Add(1)
		go func(src domain.Source) {
			defer wg.Done()
			m.checkOne(ctx, src, detailed)
		}(src)
	}
	wg.Wait()
}

func (m *Monitor) checkOne(ctx context.Context, src domain.Source, detailed bool) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	res := m.prober.Probe(probeCtx, src, detailed)

	m.mu.RLock()
	rec := m.records[src.ID]
	m.mu.RUnlock()
	if rec == nil {
		return
	}
	rec.Append(res)

	m.registry.Observe(metrics.SourceMetric("health", string(src.ID), "latency_ms"),
		float64(res.Latency.Milliseconds()))
	if !res.Success {
		m.registry.Inc(metrics.SourceMetric("health", string(src.ID), "failures"), 1)
	}

	m.evaluateSLA(src, rec.Aggregate())

	// A sustained probe success streak resets an open circuit so traffic
	// can resume without waiting out the full open timeout.
	if res.Success && m.breaker.State(src.ID) == breaker.StateOpen &&
		rec.ConsecutiveSuccesses() >= m.cfg.RecoveryStreak {
		m.log.Info("probe streak recovered, resetting circuit",
			"source", string(src.ID), "streak", m.cfg.RecoveryStreak)
		m.breaker.Reset(src.ID)
	}
}

func (m *Monitor) evaluateSLA(src domain.Source, agg Aggregates) {
	status := slaStatus(src.SLA, agg)
	for _, dim := range status.Violations {
		m.log.Warn("SLA_VIOLATION",
			"source", string(src.ID),
			"dimension", dim,
			"availability", agg.Availability,
			"avg_latency", agg.AvgLatency,
			"error_rate", agg.ErrorRate,
		)
		metrics.SLAViolations.WithLabelValues(string(src.ID), dim).Inc()
		m.registry.Inc(metrics.SourceMetric("sla", string(src.ID), "violations"), 1)
	}
	m.registry.SetGauge(metrics.SourceMetric("health", string(src.ID), "availability"),
		agg.Availability)
}

func slaStatus(targets domain.SLATargets, agg Aggregates) SLAStatus {
	status := SLAStatus{Compliant: true}
	if agg.Total == 0 {
		return status
	}
	if agg.Availability < targets.Availability {
		status.Violations = append(status.Violations, "availability")
	}
	if targets.MaxLatency > 0 && agg.AvgLatency > targets.MaxLatency {
		status.Violations = append(status.Violations, "latency")
	}
	if agg.ErrorRate > targets.MaxErrorRate {
		status.Violations = append(status.Violations, "error_rate")
	}
	if targets.MaxStaleness > 0 && !agg.LastSuccess.IsZero() &&
		time.Since(agg.LastSuccess) > targets.MaxStaleness {
		status.Violations = append(status.Violations, "staleness")
	}
	status.Compliant = len(status.Violations) == 0
	return status
}

// TriggerCheck probes one source on demand, outside the timers.
func (m *Monitor) TriggerCheck(ctx context.Context, id domain.SourceID) error {
	for _, src := range m.sources {
		if src.ID == id {
			m.checkOne(ctx, src, true)
			return nil
		}
	}
	return fmt.Errorf("unknown source %q", id)
}

// TriggerAll probes every source on demand.
func (m *Monitor) TriggerAll(ctx context.Context) {
	m.checkAll(ctx, true)
}

// BuildReport assembles the full health document.
func (m *Monitor) BuildReport() *Report {
	report := &Report{
		GeneratedAt: time.Now(),
		Overall:     StatusHealthy,
		Sources:     make(map[domain.SourceID]*SourceReport, len(m.sources)),
	}

	for _, src := range m.sources {
		m.mu.RLock()
		rec := m.records[src.ID]
		m.mu.RUnlock()

		agg := rec.Aggregate()
		sla := slaStatus(src.SLA, agg)
		circuit := m.breaker.Snapshot(src.ID)
		status := gradeSource(agg, sla, circuit)

		sr := &SourceReport{
			Source:     src.ID,
			Name:       src.Name,
			Status:     status,
			Aggregates: agg,
			SLA:        sla,
			Circuit:    circuit,
		}
		if status == StatusCritical || circuit.State == breaker.StateOpen {
			sr.Recommendations = append(sr.Recommendations,
				"source is failing persistently; verify upstream availability and credentials")
		}
		if !sla.Compliant && status != StatusCritical {
			sr.Recommendations = append(sr.Recommendations,
				fmt.Sprintf("SLA violated on: %v", sla.Violations))
		}
		report.Sources[src.ID] = sr

		if worse(status, report.Overall) {
			report.Overall = status
		}
	}

	if m.alerts != nil {
		report.Alerts = m.alerts.Outstanding(time.Hour)
	}
	return report
}

// gradeSource derives the status grade from aggregates, SLA and circuit.
func gradeSource(agg Aggregates, sla SLAStatus, circuit breaker.Info) SourceStatus {
	switch {
	case circuit.State == breaker.StateOpen || agg.Availability < 50:
		return StatusCritical
	case agg.Availability < 90:
		return StatusUnhealthy
	case !sla.Compliant || circuit.State == breaker.StateHalfOpen:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

var statusRank = map[SourceStatus]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
	StatusCritical:  3,
}

func worse(a, b SourceStatus) bool {
	return statusRank[a] > statusRank[b]
}
