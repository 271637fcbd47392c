// Package metrics holds the in-process metrics registry, its prometheus
// mirrors and the rule-based alert evaluator.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stats are the derived statistics of one histogram window.
type Stats struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

type histogram struct {
	samples []float64
	next    int
	full    bool
	count   int
	sum     float64
	min     float64
	max     float64
}

const histogramWindow = 512

func (h *histogram) observe(v float64) {
	if len(h.samples) == 0 {
		h.samples = make([]float64, histogramWindow)
	}
	h.samples[h.next] = v
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
	h.count++
	h.sum += v
	if h.count == 1 || v < h.min {
		h.min = v
	}
	if h.count == 1 || v > h.max {
		h.max = v
	}
}

func (h *histogram) window() []float64 {
	if h.full {
		out := make([]float64, len(h.samples))
		copy(out, h.samples)
		return out
	}
	out := make([]float64, h.next)
	copy(out, h.samples[:h.next])
	return out
}

func (h *histogram) stats() Stats {
	s := Stats{Count: h.count, Sum: h.sum, Min: h.min, Max: h.max}
	if h.count > 0 {
		s.Avg = h.sum / float64(h.count)
	}
	window := h.window()
	if len(window) == 0 {
		return s
	}
	sort.Float64s(window)
	s.P50 = percentile(window, 0.50)
	s.P95 = percentile(window, 0.95)
	s.P99 = percentile(window, 0.99)
	return s
}

// percentile interpolates linearly on a sorted sample window.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Registry keeps counters, gauges and rolling histograms by name. Names are
// dotted, with the source id as a segment where applicable, e.g.
// "fetch.spy.errors". The alert evaluator reads values by these names.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*histogram
	started    time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histogram),
		started:    time.Now(),
	}
}

// Inc adds delta to a monotonically increasing counter.
func (r *Registry) Inc(name string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

// SetGauge stores a point-in-time value.
func (r *Registry) SetGauge(name string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = v
}

// Observe appends a sample to the named histogram window.
func (r *Registry) Observe(name string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, found := r.histograms[name]
	if !found {
		h = &histogram{}
		r.histograms[name] = h
	}
	h.observe(v)
}

// HistStats returns the derived statistics of one histogram.
func (r *Registry) HistStats(name string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, found := r.histograms[name]
	if !found {
		return Stats{}, false
	}
	return h.stats(), true
}

// Value resolves a metric reference for alert rules. Plain names match
// counters then gauges; histogram references use a ":stat" suffix, one of
// avg, p50, p95, p99, max, count (e.g. "fetch.latency_ms:p95").
func (r *Registry) Value(ref string) (float64, bool) {
	name, stat, isHist := strings.Cut(ref, ":")

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !isHist {
		if v, found := r.counters[name]; found {
			return v, true
		}
		if v, found := r.gauges[name]; found {
			return v, true
		}
		return 0, false
	}

	h, found := r.histograms[name]
	if !found {
		return 0, false
	}
	s := h.stats()
	switch stat {
	case "avg":
		return s.Avg, true
	case "p50":
		return s.P50, true
	case "p95":
		return s.P95, true
	case "p99":
		return s.P99, true
	case "max":
		return s.Max, true
	case "count":
		return float64(s.Count), true
	default:
		return 0, false
	}
}

// Snapshot dumps every metric for the diagnostics report.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.counters)+len(r.gauges)+len(r.histograms)+1)
	for name, v := range r.counters {
		out[name] = v
	}
	for name, v := range r.gauges {
		out[name] = v
	}
	for name, h := range r.histograms {
		out[name] = h.stats()
	}
	out["uptime_seconds"] = time.Since(r.started).Seconds()
	return out
}

// SourceMetric builds the conventional per-source metric name.
func SourceMetric(prefix string, src string, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, src, suffix)
}
