package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketfeed/internal/core/domain"
	"marketfeed/internal/infra/httpfetch"
	"marketfeed/internal/metrics"
	"marketfeed/internal/pipeline"
	"marketfeed/internal/resilience/breaker"
)

var testSource = domain.Source{
	ID:        "vix",
	Name:      "CBOE Volatility Index",
	Endpoints: []string{"https://example.com/vix"},
	Category:  domain.CategoryIndicator,
	SLA: domain.SLATargets{
		Availability: 99.0,
		MaxLatency:   2 * time.Second,
		MaxErrorRate: 5.0,
		MaxStaleness: 2 * time.Hour,
	},
}

// stubProber returns scripted results in order, repeating the last one.
type stubProber struct {
	results []CheckResult
	calls   int
}

func (p *stubProber) Probe(_ context.Context, _ domain.Source, detailed bool) CheckResult {
	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++
	res := p.results[i]
	res.Detailed = detailed
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	return res
}

func newTestMonitor(prober Prober) (*Monitor, *breaker.Breaker) {
	b := breaker.New(nil)
	b.Register(testSource.ID, breaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour})
	m := NewMonitor(Config{RecoveryStreak: 3}, []domain.Source{testSource},
		prober, b, metrics.NewRegistry(), nil, nil)
	return m, b
}

func TestRecordsAggregate(t *testing.T) {
	r := NewRecords(time.Hour)
	base := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

	r.Append(CheckResult{Timestamp: base, Success: true, Latency: 100 * time.Millisecond})
	r.Append(CheckResult{Timestamp: base.Add(time.Minute), Success: true, Latency: 300 * time.Millisecond})
	r.Append(CheckResult{Timestamp: base.Add(2 * time.Minute), Success: false, Error: "dial refused"})
	r.Append(CheckResult{Timestamp: base.Add(3 * time.Minute), Success: true, Latency: 200 * time.Millisecond})

	agg := r.Aggregate()
	if agg.Total != 4 || agg.Successes != 3 {
		t.Errorf("Aggregate = %+v", agg)
	}
	if agg.Availability != 75 || agg.ErrorRate != 25 {
		t.Errorf("Availability/ErrorRate = %v/%v", agg.Availability, agg.ErrorRate)
	}
	if agg.AvgLatency != 200*time.Millisecond {
		t.Errorf("AvgLatency = %v, want 200ms", agg.AvgLatency)
	}
	if agg.LastError != "dial refused" {
		t.Errorf("LastError = %q", agg.LastError)
	}
	if !agg.LastSuccess.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("LastSuccess = %v", agg.LastSuccess)
	}
}

func TestRecordsEmptyWindow(t *testing.T) {
	r := NewRecords(time.Hour)
	agg := r.Aggregate()
	if agg.Availability != 100 || agg.Total != 0 {
		t.Errorf("Empty window aggregate = %+v, want 100%% availability", agg)
	}
}

func TestRecordsRetentionTrim(t *testing.T) {
	r := NewRecords(time.Hour)
	base := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)

	r.Append(CheckResult{Timestamp: base, Success: true})
	r.Append(CheckResult{Timestamp: base.Add(2 * time.Hour), Success: false})

	agg := r.Aggregate()
	if agg.Total != 1 {
		t.Errorf("Total after trim = %d, want 1", agg.Total)
	}
}

func TestConsecutiveSuccesses(t *testing.T) {
	r := NewRecords(time.Hour)
	now := time.Now()
	for _, ok := range []bool{true, false, true, true, true} {
		r.Append(CheckResult{Timestamp: now, Success: ok})
	}
	if got := r.ConsecutiveSuccesses(); got != 3 {
		t.Errorf("ConsecutiveSuccesses = %d, want 3", got)
	}
}

func TestSLAStatusViolations(t *testing.T) {
	agg := Aggregates{
		Total:        100,
		Successes:    90,
		Availability: 90,
		ErrorRate:    10,
		AvgLatency:   3 * time.Second,
		LastSuccess:  time.Now().Add(-3 * time.Hour),
	}
	status := slaStatus(testSource.SLA, agg)
	if status.Compliant {
		t.Fatal("Expected SLA violations")
	}
	want := map[string]bool{"availability": true, "latency": true, "error_rate": true, "staleness": true}
	for _, dim := range status.Violations {
		delete(want, dim)
	}
	if len(want) != 0 {
		t.Errorf("Missing violation dimensions: %v", want)
	}
}

func TestSLAStatusEmptyWindowCompliant(t *testing.T) {
	status := slaStatus(testSource.SLA, Aggregates{Availability: 100})
	if !status.Compliant {
		t.Errorf("Empty window reported violations: %v", status.Violations)
	}
}

func TestGradeSource(t *testing.T) {
	tests := []struct {
		name    string
		agg     Aggregates
		sla     SLAStatus
		circuit breaker.Info
		want    SourceStatus
	}{
		{"healthy", Aggregates{Availability: 100}, SLAStatus{Compliant: true}, breaker.Info{}, StatusHealthy},
		{"open circuit", Aggregates{Availability: 100}, SLAStatus{Compliant: true}, breaker.Info{State: breaker.StateOpen}, StatusCritical},
		{"very low availability", Aggregates{Availability: 40}, SLAStatus{}, breaker.Info{}, StatusCritical},
		{"low availability", Aggregates{Availability: 85}, SLAStatus{Compliant: true}, breaker.Info{}, StatusUnhealthy},
		{"sla violated", Aggregates{Availability: 98}, SLAStatus{Compliant: false}, breaker.Info{}, StatusDegraded},
		{"half open", Aggregates{Availability: 99}, SLAStatus{Compliant: true}, breaker.Info{State: breaker.StateHalfOpen}, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gradeSource(tt.agg, tt.sla, tt.circuit); got != tt.want {
				t.Errorf("gradeSource = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTriggerCheckRecordsResult(t *testing.T) {
	p := &stubProber{results: []CheckResult{{Success: true, Latency: 50 * time.Millisecond}}}
	m, _ := newTestMonitor(p)

	if err := m.TriggerCheck(context.Background(), testSource.ID); err != nil {
		t.Fatalf("TriggerCheck returned %v", err)
	}
	if err := m.TriggerCheck(context.Background(), "unknown"); err == nil {
		t.Error("TriggerCheck accepted an unknown source")
	}

	report := m.BuildReport()
	sr := report.Sources[testSource.ID]
	if sr == nil || sr.Aggregates.Total != 1 || sr.Aggregates.Successes != 1 {
		t.Errorf("Report = %+v", sr)
	}
	if report.Overall != StatusHealthy {
		t.Errorf("Overall = %v, want healthy", report.Overall)
	}
}

func TestProbeStreakResetsOpenCircuit(t *testing.T) {
	p := &stubProber{results: []CheckResult{{Success: true, Latency: 10 * time.Millisecond}}}
	m, b := newTestMonitor(p)
	b.Trip(testSource.ID)

	ctx := context.Background()
	m.TriggerCheck(ctx, testSource.ID)
	m.TriggerCheck(ctx, testSource.ID)
	if got := b.State(testSource.ID); got != breaker.StateOpen {
		t.Fatalf("Circuit reset after only two successful probes")
	}
	m.TriggerCheck(ctx, testSource.ID)
	if got := b.State(testSource.ID); got != breaker.StateClosed {
		t.Errorf("Circuit state = %v, want closed after the recovery streak", got)
	}
}

func TestReportOverallTakesWorstSource(t *testing.T) {
	p := &stubProber{results: []CheckResult{{Success: false, Error: "dial refused"}}}
	m, b := newTestMonitor(p)
	b.Trip(testSource.ID)

	m.TriggerCheck(context.Background(), testSource.ID)
	report := m.BuildReport()
	if report.Overall != StatusCritical {
		t.Errorf("Overall = %v, want critical", report.Overall)
	}
	sr := report.Sources[testSource.ID]
	if len(sr.Recommendations) == 0 {
		t.Error("Critical source carries no recommendations")
	}
}

func TestDetailedProbeUsesSourceValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":140}`))
	}))
	defer srv.Close()

	gauge := domain.Source{
		ID:        domain.SourceFearGreed,
		Name:      "Fear & Greed Index",
		Endpoints: []string{srv.URL},
		Category:  domain.CategoryIndicator,
	}
	p := &HTTPProber{
		Client:   httpfetch.New(2*time.Second, ""),
		Validate: pipeline.ValidatePayload,
	}

	// Well-formed JSON with an out-of-range gauge value fails only the
	// detailed check.
	if res := p.Probe(context.Background(), gauge, false); !res.Success {
		t.Errorf("Basic probe failed: %s", res.Error)
	}
	res := p.Probe(context.Background(), gauge, true)
	if res.Success {
		t.Error("Detailed probe accepted a gauge value outside [0,100]")
	}
}

func TestDetailedProbeWithoutValidatorChecksShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	src := testSource
	src.Endpoints = []string{srv.URL}
	p := &HTTPProber{Client: httpfetch.New(2*time.Second, "")}

	if res := p.Probe(context.Background(), src, true); res.Success {
		t.Error("Detailed probe accepted an empty document")
	}
}

func TestValidateShape(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"object", `{"value":20}`, false},
		{"array", `[{"value":20}]`, false},
		{"empty object", `{}`, true},
		{"empty array", `[]`, true},
		{"scalar", `42`, true},
		{"garbage", `{not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateShape(domain.RawPayload(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("validateShape(%s) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			}
		})
	}
}
