// Package recovery classifies failures into the error taxonomy and selects
// the recovery strategy for each stable error code.
package recovery

import (
	"context"
	"errors"

	"marketfeed/internal/core/domain"
)

// classification fixes the taxonomy entry for one fault kind.
type classification struct {
	category    domain.ErrorCategory
	severity    domain.Severity
	recoverable bool
	retryable   bool
	strategy    Strategy
}

// Strategy is the configured recovery action for an error code.
type Strategy string

const (
	StrategyRetry         Strategy = "retry-with-backoff"
	StrategyCacheFallback Strategy = "fallback-to-cache"
	StrategyOpenCircuit   Strategy = "open-circuit"
	StrategyDegrade       Strategy = "graceful-degrade"
	StrategySkip          Strategy = "skip"
)

// taxonomy maps every fault kind to its category, severity and strategy.
// Unlisted kinds fall back to system/medium with a generic retry.
var taxonomy = map[domain.FaultKind]classification{
	domain.KindTimeout:      {domain.CategoryNetwork, domain.SeverityMedium, true, true, StrategyRetry},
	domain.KindConnection:   {domain.CategoryNetwork, domain.SeverityMedium, true, true, StrategyRetry},
	domain.KindRateLimited:  {domain.CategoryDataSource, domain.SeverityMedium, true, false, StrategyCacheFallback},
	domain.KindUnauthorized: {domain.CategoryDataSource, domain.SeverityCritical, false, false, StrategyOpenCircuit},
	domain.KindUpstream:     {domain.CategoryDataSource, domain.SeverityHigh, true, true, StrategyRetry},
	domain.KindBadRequest:   {domain.CategoryDataSource, domain.SeverityHigh, false, false, StrategySkip},
	domain.KindMalformed:    {domain.CategoryDataSource, domain.SeverityHigh, true, false, StrategyCacheFallback},
	domain.KindValidation:   {domain.CategoryValidation, domain.SeverityMedium, true, false, StrategyDegrade},
	domain.KindCircuitOpen:  {domain.CategoryDataSource, domain.SeverityHigh, true, false, StrategyCacheFallback},
	domain.KindCalculation:  {domain.CategoryBusinessLogic, domain.SeverityMedium, true, false, StrategyDegrade},
	domain.KindFilesystem:   {domain.CategorySystem, domain.SeverityHigh, true, false, StrategyDegrade},
	domain.KindResource:     {domain.CategoryResource, domain.SeverityCritical, true, false, StrategyDegrade},
}

var defaultClassification = classification{
	category: domain.CategorySystem, severity: domain.SeverityMedium,
	recoverable: true, retryable: true, strategy: StrategyRetry,
}

// Classify builds a StructuredError for any failure. Context cancellation is
// classified as a network timeout on the caller's side of the deadline.
func Classify(src domain.SourceID, err error) *domain.StructuredError {
	kind := domain.KindOf(err)
	if kind == domain.KindUnknown {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			kind = domain.KindTimeout
		}
	}

	c, found := taxonomy[kind]
	if !found {
		c = defaultClassification
	}

	se := domain.NewStructuredError(c.category, c.severity, kind.String())
	se.Recoverable = c.recoverable
	se.Retryable = c.retryable
	se.Context["source"] = string(src)
	if err != nil {
		se.Context["error"] = err.Error()
	}
	return se
}

// Retryable reports whether local retry-with-backoff is allowed for the
// error. Auth failures and other non-recoverable faults bypass retry.
func Retryable(err error) bool {
	kind := domain.KindOf(err)
	c, found := taxonomy[kind]
	if !found {
		return defaultClassification.retryable
	}
	return c.retryable
}

// StrategyFor returns the configured recovery strategy for an error code
// (the FaultKind string form). Unknown codes get the generic retry.
func StrategyFor(code string) Strategy {
	for kind, c := range taxonomy {
		if kind.String() == code {
			return c.strategy
		}
	}
	return StrategyRetry
}
