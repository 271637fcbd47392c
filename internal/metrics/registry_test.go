package metrics

import (
	"testing"
)

func TestCountersAndGauges(t *testing.T) {
	r := NewRegistry()
	r.Inc("fetch.spy.success", 1)
	r.Inc("fetch.spy.success", 2)
	r.SetGauge("health.spy.availability", 99.5)

	if v, found := r.Value("fetch.spy.success"); !found || v != 3 {
		t.Errorf("Counter = (%v, %v), want (3, true)", v, found)
	}
	if v, found := r.Value("health.spy.availability"); !found || v != 99.5 {
		t.Errorf("Gauge = (%v, %v), want (99.5, true)", v, found)
	}
	if _, found := r.Value("does.not.exist"); found {
		t.Error("Missing metric resolved")
	}
}

func TestHistogramStats(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		r.Observe("fetch.spy.latency_ms", float64(i))
	}

	s, found := r.HistStats("fetch.spy.latency_ms")
	if !found {
		t.Fatal("Histogram not found")
	}
	if s.Count != 100 || s.Min != 1 || s.Max != 100 {
		t.Errorf("Stats = %+v", s)
	}
	if s.Avg != 50.5 {
		t.Errorf("Avg = %v, want 50.5", s.Avg)
	}
	// Linear interpolation over 1..100: p50 lands midway.
	if s.P50 != 50.5 {
		t.Errorf("P50 = %v, want 50.5", s.P50)
	}
	if s.P95 != 95.05 {
		t.Errorf("P95 = %v, want 95.05", s.P95)
	}
}

func TestHistogramValueRefs(t *testing.T) {
	r := NewRegistry()
	for _, v := range []float64{10, 20, 30} {
		r.Observe("fetch.vix.latency_ms", v)
	}

	if v, found := r.Value("fetch.vix.latency_ms:avg"); !found || v != 20 {
		t.Errorf("avg ref = (%v, %v)", v, found)
	}
	if v, found := r.Value("fetch.vix.latency_ms:max"); !found || v != 30 {
		t.Errorf("max ref = (%v, %v)", v, found)
	}
	if v, found := r.Value("fetch.vix.latency_ms:count"); !found || v != 3 {
		t.Errorf("count ref = (%v, %v)", v, found)
	}
	if _, found := r.Value("fetch.vix.latency_ms:median"); found {
		t.Error("Unknown stat suffix resolved")
	}
}

func TestHistogramRollingWindow(t *testing.T) {
	r := NewRegistry()
	// Overrun the ring so only the most recent window survives.
	for i := 0; i < histogramWindow+100; i++ {
		r.Observe("fetch.qqq.latency_ms", float64(i))
	}

	s, _ := r.HistStats("fetch.qqq.latency_ms")
	if s.Count != histogramWindow+100 {
		t.Errorf("Count = %d, want %d", s.Count, histogramWindow+100)
	}
	// Percentiles come from the ring window, which no longer holds sample 0.
	if s.P50 <= 100 {
		t.Errorf("P50 = %v, expected it to reflect only recent samples", s.P50)
	}
}

func TestSnapshotIncludesEverything(t *testing.T) {
	r := NewRegistry()
	r.Inc("pipeline.runs.success", 1)
	r.SetGauge("circuit.spy.state", 0)
	r.Observe("fetch.spy.latency_ms", 42)

	snap := r.Snapshot()
	for _, key := range []string{
		"pipeline.runs.success", "circuit.spy.state",
		"fetch.spy.latency_ms", "uptime_seconds",
	} {
		if _, found := snap[key]; !found {
			t.Errorf("Snapshot missing %q", key)
		}
	}
}

func TestSourceMetric(t *testing.T) {
	if got := SourceMetric("fetch", "spy", "errors"); got != "fetch.spy.errors" {
		t.Errorf("SourceMetric = %q", got)
	}
}
