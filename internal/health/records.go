// Package health monitors source connectivity, latency and data shape, and
// derives SLA compliance from a rolling window of check results.
package health

import (
	"sync"
	"time"
)

// CheckResult is one probe outcome.
type CheckResult struct {
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latencyMs"`
	Detailed  bool          `json:"detailed"`
	Error     string        `json:"error,omitempty"`
}

// Records is the append-only rolling window of check results for one source.
// Entries older than the retention window are trimmed on every append.
type Records struct {
	mu        sync.Mutex
	results   []CheckResult
	retention time.Duration
	maxLen    int
}

// NewRecords creates a window with the given retention.
func NewRecords(retention time.Duration) *Records {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Records{retention: retention, maxLen: 2048}
}

// Append adds a result and trims everything past the retention window.
func (r *Records) Append(res CheckResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	r.trim(res.Timestamp)
}

func (r *Records) trim(now time.Time) {
	cutoff := now.Add(-r.retention)
	first := 0
	for first < len(r.results) && r.results[first].Timestamp.Before(cutoff) {
		first++
	}
	if first > 0 {
		r.results = append(r.results[:0], r.results[first:]...)
	}
	if len(r.results) > r.maxLen {
		r.results = append(r.results[:0], r.results[len(r.results)-r.maxLen:]...)
	}
}

// Aggregates are the derived statistics over the current window.
type Aggregates struct {
	Total        int           `json:"total"`
	Successes    int           `json:"successes"`
	Availability float64       `json:"availability"` // percent
	ErrorRate    float64       `json:"errorRate"`    // percent
	AvgLatency   time.Duration `json:"avgLatency"`
	LastSuccess  time.Time     `json:"lastSuccess,omitempty"`
	LastError    string        `json:"lastError,omitempty"`
}

// Aggregate computes availability, error rate and rolling average latency.
// An empty window reports 100% availability: no evidence of failure.
func (r *Records) Aggregate() Aggregates {
	r.mu.Lock()
	defer r.mu.Unlock()

	agg := Aggregates{Total: len(r.results)}
	if agg.Total == 0 {
		agg.Availability = 100
		return agg
	}

	var latencySum time.Duration
	latencyCount := 0
	for _, res := range r.results {
		if res.Success {
			agg.Successes++
			latencySum += res.Latency
			latencyCount++
			if res.Timestamp.After(agg.LastSuccess) {
				agg.LastSuccess = res.Timestamp
			}
		} else if res.Error != "" {
			agg.LastError = res.Error
		}
	}

	agg.Availability = float64(agg.Successes) / float64(agg.Total) * 100
	agg.ErrorRate = 100 - agg.Availability
	if latencyCount > 0 {
		agg.AvgLatency = latencySum / time.Duration(latencyCount)
	}
	return agg
}

// ConsecutiveSuccesses counts the unbroken success streak at the window end.
func (r *Records) ConsecutiveSuccesses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	streak := 0
	for i := len(r.results) - 1; i >= 0; i-- {
		if !r.results[i].Success {
			break
		}
		streak++
	}
	return streak
}
