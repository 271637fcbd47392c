package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one equity quote in the output snapshot.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"`
	Timestamp time.Time       `json:"timestamp"`
}

// IndexReading is a point-in-time index level with its change.
type IndexReading struct {
	Value  decimal.Decimal `json:"value"`
	Change decimal.Decimal `json:"change"`
}

// FearGreed is the fear & greed sentiment gauge.
type FearGreed struct {
	Value          int    `json:"value"`
	Classification string `json:"classification"`
}

// DegradedSource records that one source's snapshot field came from fallback
// data rather than a live fetch.
type DegradedSource struct {
	Source   SourceID      `json:"source"`
	Reason   string        `json:"reason"`
	CacheAge time.Duration `json:"cacheAge,omitempty"`
}

// Snapshot is the consolidated output of one pipeline run. Every field is
// always populated; degradation is reported via metadata, never via absence.
type Snapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	Stocks           map[string]Quote `json:"stocks"`
	VIX              IndexReading     `json:"vix"`
	FearGreed        FearGreed        `json:"fearGreed"`
	NewsSentiment    decimal.Decimal  `json:"newsSentiment"`
	PutCallRatio     decimal.Decimal  `json:"putCallRatio"`
	OverallSentiment decimal.Decimal  `json:"overallSentiment"`
	LastUpdated      time.Time        `json:"lastUpdated"`
	Degraded         bool             `json:"degraded"`
	DegradedSources  []DegradedSource `json:"degradedSources,omitempty"`
}

// RunStatus summarises one pipeline run.
type RunStatus string

const (
	RunSuccess  RunStatus = "success"  // every source answered live
	RunDegraded RunStatus = "degraded" // some fields came from fallback
	RunFailed   RunStatus = "failed"   // nothing, not even cache, produced data
)

// SourceResult is the per-source outcome of one run.
type SourceResult struct {
	Source         SourceID      `json:"source"`
	Live           bool          `json:"live"`
	Degraded       bool          `json:"degraded"`
	FallbackReason string        `json:"fallbackReason,omitempty"`
	Error          string        `json:"error,omitempty"`
	Latency        time.Duration `json:"latency"`
	Attempts       int           `json:"attempts"`
}

// PipelineExecution is the transient record of one orchestrator run, kept in
// a bounded recent-history buffer for diagnostics.
type PipelineExecution struct {
	ID        string                    `json:"id"`
	StartTime time.Time                 `json:"startTime"`
	EndTime   time.Time                 `json:"endTime"`
	Results   map[SourceID]SourceResult `json:"results"`
	Status    RunStatus                 `json:"status"`
}

// Alert records one fired alert rule.
type Alert struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	RuleName     string    `json:"ruleName"`
	Severity     Severity  `json:"severity"`
	TriggerValue float64   `json:"triggerValue"`
	Threshold    float64   `json:"threshold"`
}
