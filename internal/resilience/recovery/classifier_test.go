package recovery

import (
	"context"
	"errors"
	"testing"

	"marketfeed/internal/core/domain"
)

func TestClassifyTaxonomy(t *testing.T) {
	tests := []struct {
		kind      domain.FaultKind
		category  domain.ErrorCategory
		severity  domain.Severity
		retryable bool
		strategy  Strategy
	}{
		{domain.KindTimeout, domain.CategoryNetwork, domain.SeverityMedium, true, StrategyRetry},
		{domain.KindConnection, domain.CategoryNetwork, domain.SeverityMedium, true, StrategyRetry},
		{domain.KindRateLimited, domain.CategoryDataSource, domain.SeverityMedium, false, StrategyCacheFallback},
		{domain.KindUnauthorized, domain.CategoryDataSource, domain.SeverityCritical, false, StrategyOpenCircuit},
		{domain.KindUpstream, domain.CategoryDataSource, domain.SeverityHigh, true, StrategyRetry},
		{domain.KindBadRequest, domain.CategoryDataSource, domain.SeverityHigh, false, StrategySkip},
		{domain.KindMalformed, domain.CategoryDataSource, domain.SeverityHigh, false, StrategyCacheFallback},
		{domain.KindValidation, domain.CategoryValidation, domain.SeverityMedium, false, StrategyDegrade},
		{domain.KindCircuitOpen, domain.CategoryDataSource, domain.SeverityHigh, false, StrategyCacheFallback},
		{domain.KindResource, domain.CategoryResource, domain.SeverityCritical, false, StrategyDegrade},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := domain.NewFault(tt.kind, "spy", errors.New("boom"))
			se := Classify("spy", err)

			if se.Code != tt.kind.String() {
				t.Errorf("Code = %q, want %q", se.Code, tt.kind.String())
			}
			if se.Category != tt.category {
				t.Errorf("Category = %q, want %q", se.Category, tt.category)
			}
			if se.Severity != tt.severity {
				t.Errorf("Severity = %q, want %q", se.Severity, tt.severity)
			}
			if se.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", se.Retryable, tt.retryable)
			}
			if got := StrategyFor(se.Code); got != tt.strategy {
				t.Errorf("Strategy = %q, want %q", got, tt.strategy)
			}
			if se.Context["source"] != "spy" {
				t.Errorf("Context source = %q", se.Context["source"])
			}
			if se.ID == "" || se.Timestamp.IsZero() {
				t.Error("Structured error missing id or timestamp")
			}
		})
	}
}

func TestClassifyUnknownError(t *testing.T) {
	se := Classify("spy", errors.New("something odd"))
	if se.Category != domain.CategorySystem || !se.Retryable {
		t.Errorf("Unknown error classified as %+v, want system/retryable", se)
	}
}

func TestClassifyContextDeadline(t *testing.T) {
	se := Classify("spy", context.DeadlineExceeded)
	if se.Code != "NETWORK_TIMEOUT" {
		t.Errorf("Code = %q, want NETWORK_TIMEOUT", se.Code)
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(domain.NewFault(domain.KindUnauthorized, "spy", nil)) {
		t.Error("Auth failure reported retryable")
	}
	if !Retryable(domain.NewFault(domain.KindUpstream, "spy", nil)) {
		t.Error("Upstream failure reported non-retryable")
	}
	if !Retryable(errors.New("mystery")) {
		t.Error("Unclassified error should default to retryable")
	}
}

func TestEngineHistoryBounded(t *testing.T) {
	e := NewEngine(nil, 5)
	for i := 0; i < 12; i++ {
		se, strategy := e.Handle("spy", domain.NewFault(domain.KindUpstream, "spy", errors.New("503")))
		e.Record(se, strategy, i%2 == 0)
	}
	if got := len(e.History()); got != 5 {
		t.Errorf("History length = %d, want 5", got)
	}
}

func TestEngineOutcomeHook(t *testing.T) {
	e := NewEngine(nil, 10)
	var outcomes []Outcome
	e.OnOutcome = func(o Outcome) { outcomes = append(outcomes, o) }

	se, strategy := e.Handle("spy", domain.NewFault(domain.KindRateLimited, "spy", nil))
	if strategy != StrategyCacheFallback {
		t.Fatalf("Strategy = %q, want cache fallback", strategy)
	}
	e.Record(se, strategy, true)

	if len(outcomes) != 1 || !outcomes[0].Recovered {
		t.Errorf("Outcomes = %+v, want one recovered entry", outcomes)
	}
}
