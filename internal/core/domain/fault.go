package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FaultKind is the closed set of failure signals a fetch adapter can produce.
// Classification switches on this instead of matching message substrings.
type FaultKind int

const (
	KindUnknown FaultKind = iota
	KindTimeout           // per-attempt deadline exceeded
	KindConnection        // DNS, dial, reset
	KindRateLimited       // 429 or provider quota message
	KindUnauthorized      // 401/403, never retried
	KindUpstream          // 5xx from the provider
	KindBadRequest        // non-auth 4xx
	KindMalformed         // response body failed to parse
	KindValidation        // payload shape or value check failed
	KindCircuitOpen       // rejected locally, no call attempted
	KindCalculation       // derived-value computation failed
	KindFilesystem        // local I/O failure
	KindResource          // quota or disk exhaustion
)

func (k FaultKind) String() string {
	switch k {
	case KindTimeout:
		return "NETWORK_TIMEOUT"
	case KindConnection:
		return "NETWORK_CONNECTION"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindUnauthorized:
		return "AUTH_FAILURE"
	case KindUpstream:
		return "UPSTREAM_ERROR"
	case KindBadRequest:
		return "BAD_REQUEST"
	case KindMalformed:
		return "MALFORMED_RESPONSE"
	case KindValidation:
		return "VALIDATION_FAILURE"
	case KindCircuitOpen:
		return "CIRCUIT_OPEN"
	case KindCalculation:
		return "CALCULATION_FAILURE"
	case KindFilesystem:
		return "FILESYSTEM_ERROR"
	case KindResource:
		return "RESOURCE_EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// Fault wraps an underlying error with its kind and originating source.
type Fault struct {
	Kind   FaultKind
	Source SourceID
	Status int // HTTP status when applicable, else 0
	Err    error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Source, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Source, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault constructs a Fault for the given source and kind.
func NewFault(kind FaultKind, src SourceID, err error) *Fault {
	return &Fault{Kind: kind, Source: src, Err: err}
}

// KindOf extracts the FaultKind from an error chain, KindUnknown otherwise.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// ErrorCategory is the top-level error taxonomy bucket.
type ErrorCategory string

const (
	CategoryNetwork       ErrorCategory = "network"
	CategoryDataSource    ErrorCategory = "data-source"
	CategoryValidation    ErrorCategory = "validation"
	CategoryBusinessLogic ErrorCategory = "business-logic"
	CategorySystem        ErrorCategory = "system"
	CategoryResource      ErrorCategory = "resource"
)

// Severity decides alerting urgency only, never recovery mechanics.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityFatal    Severity = "fatal"
)

// StructuredError is the classified form of a failure, produced for every
// error that survives local handling. It feeds metrics, the audit log and
// recovery selection.
type StructuredError struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Category    ErrorCategory     `json:"category"`
	Severity    Severity          `json:"severity"`
	Code        string            `json:"code"`
	Recoverable bool              `json:"recoverable"`
	Retryable   bool              `json:"retryable"`
	Context     map[string]string `json:"context,omitempty"`
}

// NewStructuredError assigns an id and timestamp to a classified failure.
func NewStructuredError(cat ErrorCategory, sev Severity, code string) *StructuredError {
	return &StructuredError{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Category:  cat,
		Severity:  sev,
		Code:      code,
		Context:   make(map[string]string),
	}
}
