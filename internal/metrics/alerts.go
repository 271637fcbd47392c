package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketfeed/internal/core/domain"
)

// Comparison is the rule operator.
type Comparison string

const (
	CompareGT  Comparison = "gt"
	CompareGTE Comparison = "gte"
	CompareLT  Comparison = "lt"
	CompareLTE Comparison = "lte"
)

// Rule is one alert condition evaluated against the registry.
type Rule struct {
	Name       string
	Metric     string // registry reference, e.g. "fetch.spy.errors" or "fetch.latency_ms:p95"
	Comparison Comparison
	Threshold  float64
	Severity   domain.Severity
}

func (r Rule) matches(v float64) bool {
	switch r.Comparison {
	case CompareGT:
		return v > r.Threshold
	case CompareGTE:
		return v >= r.Threshold
	case CompareLT:
		return v < r.Threshold
	case CompareLTE:
		return v <= r.Threshold
	default:
		return false
	}
}

// Evaluator periodically checks every rule against the current metric state.
// Fired alerts go into a bounded history; critical and emergency severities
// additionally invoke the notifier immediately.
type Evaluator struct {
	registry *Registry
	notifier Notifier
	interval time.Duration
	cooldown time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	rules     []Rule
	history   []domain.Alert
	maxKeep   int
	lastFired map[string]time.Time

	now func() time.Time
}

// NewEvaluator creates an evaluator over the registry. notifier may be nil.
// A rule that keeps breaching its threshold re-fires at most once per
// cooldown; cooldown <= 0 disables suppression.
func NewEvaluator(registry *Registry, notifier Notifier, interval, cooldown time.Duration, maxKeep int, log *slog.Logger) *Evaluator {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxKeep <= 0 {
		maxKeep = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{
		registry:  registry,
		notifier:  notifier,
		interval:  interval,
		cooldown:  cooldown,
		maxKeep:   maxKeep,
		log:       log,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// AddRule appends a rule. Rules are fixed after startup in practice but the
// method is safe at any time.
func (e *Evaluator) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// Run evaluates on the configured cadence until ctx ends.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate(ctx)
		}
	}
}

// Evaluate checks every rule once and returns the alerts fired.
func (e *Evaluator) Evaluate(ctx context.Context) []domain.Alert {
	e.mu.Lock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.Unlock()

	var fired []domain.Alert
	for _, rule := range rules {
		value, found := e.registry.Value(rule.Metric)
		if !found {
			continue
		}
		if !rule.matches(value) {
			continue
		}
		if !e.shouldFire(rule.Name) {
			continue
		}

		alert := domain.Alert{
			ID:           uuid.New().String(),
			Timestamp:    e.now(),
			RuleName:     rule.Name,
			Severity:     rule.Severity,
			TriggerValue: value,
			Threshold:    rule.Threshold,
		}
		fired = append(fired, alert)
		e.record(alert)

		e.log.Warn("alert fired",
			"rule", rule.Name,
			"metric", rule.Metric,
			"value", value,
			"threshold", rule.Threshold,
			"severity", string(rule.Severity),
		)
		AlertsFired.WithLabelValues(string(rule.Severity)).Inc()

		if e.notifier != nil && urgent(rule.Severity) {
			if err := e.notifier.Notify(ctx, alert); err != nil {
				e.log.Error("alert notification failed", "rule", rule.Name, "error", err)
			}
		}
	}
	return fired
}

// shouldFire enforces the per-rule cooldown and records the firing time.
func (e *Evaluator) shouldFire(rule string) bool {
	if e.cooldown <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastFired[rule]; ok && e.now().Sub(last) < e.cooldown {
		return false
	}
	e.lastFired[rule] = e.now()
	return true
}

func urgent(sev domain.Severity) bool {
	return sev == domain.SeverityCritical || sev == domain.SeverityFatal
}

func (e *Evaluator) record(a domain.Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, a)
	if len(e.history) > e.maxKeep {
		e.history = e.history[len(e.history)-e.maxKeep:]
	}
}

// History returns a copy of the recent alerts, newest last.
func (e *Evaluator) History() []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Alert, len(e.history))
	copy(out, e.history)
	return out
}

// Outstanding returns alerts fired within the given window.
func (e *Evaluator) Outstanding(window time.Duration) []domain.Alert {
	cutoff := time.Now().Add(-window)
	var out []domain.Alert
	for _, a := range e.History() {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// ParseComparison validates a configured operator string.
func ParseComparison(s string) (Comparison, error) {
	switch Comparison(s) {
	case CompareGT, CompareGTE, CompareLT, CompareLTE:
		return Comparison(s), nil
	default:
		return "", fmt.Errorf("unknown comparison %q", s)
	}
}
