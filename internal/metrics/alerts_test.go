package metrics

import (
	"context"
	"testing"
	"time"

	"marketfeed/internal/core/domain"
)

type stubNotifier struct {
	alerts []domain.Alert
	err    error
}

func (s *stubNotifier) Notify(_ context.Context, a domain.Alert) error {
	s.alerts = append(s.alerts, a)
	return s.err
}

func TestEvaluateFiresOnThreshold(t *testing.T) {
	r := NewRegistry()
	r.Inc("fetch.spy.failure", 12)

	e := NewEvaluator(r, nil, time.Minute, 0, 100, nil)
	e.AddRule(Rule{
		Name: "spy-failures", Metric: "fetch.spy.failure",
		Comparison: CompareGT, Threshold: 10, Severity: domain.SeverityHigh,
	})

	fired := e.Evaluate(context.Background())
	if len(fired) != 1 {
		t.Fatalf("Fired %d alerts, want 1", len(fired))
	}
	a := fired[0]
	if a.RuleName != "spy-failures" || a.TriggerValue != 12 || a.Threshold != 10 {
		t.Errorf("Alert = %+v", a)
	}
	if a.ID == "" {
		t.Error("Alert missing id")
	}
}

func TestEvaluateSkipsMissingMetricsAndQuietRules(t *testing.T) {
	r := NewRegistry()
	r.Inc("fetch.spy.failure", 3)

	e := NewEvaluator(r, nil, time.Minute, 0, 100, nil)
	e.AddRule(Rule{Name: "quiet", Metric: "fetch.spy.failure", Comparison: CompareGT, Threshold: 10})
	e.AddRule(Rule{Name: "absent", Metric: "no.such.metric", Comparison: CompareGT, Threshold: 0})

	if fired := e.Evaluate(context.Background()); len(fired) != 0 {
		t.Errorf("Fired %d alerts, want 0", len(fired))
	}
}

func TestUrgentSeveritiesNotify(t *testing.T) {
	r := NewRegistry()
	r.SetGauge("health.vix.availability", 42)

	n := &stubNotifier{}
	e := NewEvaluator(r, n, time.Minute, 0, 100, nil)
	e.AddRule(Rule{
		Name: "vix-down", Metric: "health.vix.availability",
		Comparison: CompareLT, Threshold: 50, Severity: domain.SeverityCritical,
	})
	e.AddRule(Rule{
		Name: "vix-low", Metric: "health.vix.availability",
		Comparison: CompareLT, Threshold: 90, Severity: domain.SeverityMedium,
	})

	e.Evaluate(context.Background())
	if len(n.alerts) != 1 {
		t.Fatalf("Notifier received %d alerts, want only the critical one", len(n.alerts))
	}
	if n.alerts[0].RuleName != "vix-down" {
		t.Errorf("Notified rule = %q", n.alerts[0].RuleName)
	}
}

func TestCooldownSuppressesRefiring(t *testing.T) {
	r := NewRegistry()
	r.Inc("fetch.spy.failure", 50)

	n := &stubNotifier{}
	e := NewEvaluator(r, n, time.Minute, 15*time.Minute, 100, nil)
	clock := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }
	e.AddRule(Rule{
		Name: "spy-failures", Metric: "fetch.spy.failure",
		Comparison: CompareGT, Threshold: 10, Severity: domain.SeverityCritical,
	})

	if fired := e.Evaluate(context.Background()); len(fired) != 1 {
		t.Fatalf("First pass fired %d alerts, want 1", len(fired))
	}

	// The breach persists but the rule stays quiet inside the cooldown.
	clock = clock.Add(time.Minute)
	if fired := e.Evaluate(context.Background()); len(fired) != 0 {
		t.Fatalf("Second pass fired %d alerts inside the cooldown, want 0", len(fired))
	}
	if len(n.alerts) != 1 {
		t.Errorf("Notifier received %d alerts, want 1", len(n.alerts))
	}

	clock = clock.Add(15 * time.Minute)
	if fired := e.Evaluate(context.Background()); len(fired) != 1 {
		t.Errorf("Post-cooldown pass fired %d alerts, want 1", len(fired))
	}
	if got := len(e.History()); got != 2 {
		t.Errorf("History length = %d, want 2", got)
	}
}

func TestZeroCooldownRefiresEveryPass(t *testing.T) {
	r := NewRegistry()
	r.Inc("x", 100)

	e := NewEvaluator(r, nil, time.Minute, 0, 100, nil)
	e.AddRule(Rule{Name: "always", Metric: "x", Comparison: CompareGT, Threshold: 0})

	for i := 0; i < 3; i++ {
		if fired := e.Evaluate(context.Background()); len(fired) != 1 {
			t.Fatalf("Pass %d fired %d alerts, want 1", i, len(fired))
		}
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		cmp   Comparison
		value float64
		want  bool
	}{
		{CompareGT, 11, true},
		{CompareGT, 10, false},
		{CompareGTE, 10, true},
		{CompareLT, 9, true},
		{CompareLT, 10, false},
		{CompareLTE, 10, true},
	}
	for _, tt := range tests {
		r := Rule{Comparison: tt.cmp, Threshold: 10}
		if got := r.matches(tt.value); got != tt.want {
			t.Errorf("%s(%v vs 10) = %v, want %v", tt.cmp, tt.value, got, tt.want)
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	r := NewRegistry()
	r.Inc("x", 100)

	e := NewEvaluator(r, nil, time.Minute, 0, 5, nil)
	e.AddRule(Rule{Name: "always", Metric: "x", Comparison: CompareGT, Threshold: 0})

	for i := 0; i < 9; i++ {
		e.Evaluate(context.Background())
	}
	if got := len(e.History()); got != 5 {
		t.Errorf("History length = %d, want 5", got)
	}
}

func TestOutstandingWindow(t *testing.T) {
	r := NewRegistry()
	r.Inc("x", 100)

	e := NewEvaluator(r, nil, time.Minute, 0, 100, nil)
	e.AddRule(Rule{Name: "always", Metric: "x", Comparison: CompareGT, Threshold: 0})
	e.Evaluate(context.Background())

	if got := len(e.Outstanding(time.Hour)); got != 1 {
		t.Errorf("Outstanding(1h) = %d, want 1", got)
	}
	if got := len(e.Outstanding(0)); got != 0 {
		t.Errorf("Outstanding(0) = %d, want 0", got)
	}
}

func TestParseComparison(t *testing.T) {
	if _, err := ParseComparison("gte"); err != nil {
		t.Errorf("ParseComparison(gte) = %v", err)
	}
	if _, err := ParseComparison("above"); err == nil {
		t.Error("ParseComparison accepted an unknown operator")
	}
}
