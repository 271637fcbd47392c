// Package domain holds the core types shared across the feed pipeline.
package domain

import "time"

// SourceID identifies one external data provider.
type SourceID string

// Well-known dashboard sources. Additional sources may be configured freely;
// these constants only exist so the snapshot assembler can find its fields.
const (
	SourceSPY       SourceID = "spy"
	SourceQQQ       SourceID = "qqq"
	SourceIWM       SourceID = "iwm"
	SourceVIX       SourceID = "vix"
	SourceFearGreed SourceID = "fear-greed"
	SourceNews      SourceID = "news-sentiment"
	SourceEcon      SourceID = "econ"
)

// DataCategory groups sources by cache TTL class.
type DataCategory string

const (
	CategoryQuote     DataCategory = "quote"     // live quotes, short TTL
	CategoryIndicator DataCategory = "indicator" // indices and sentiment gauges
	CategoryReference DataCategory = "reference" // slow-moving reference data
)

// SLATargets are the configured service-level targets for one source.
type SLATargets struct {
	Availability float64       // minimum availability, percent
	MaxLatency   time.Duration // maximum average response time
	MaxErrorRate float64       // maximum error rate, percent
	MaxStaleness time.Duration // maximum acceptable data age
}

// Source is the immutable configuration of one external provider,
// loaded once at startup.
type Source struct {
	ID        SourceID
	Name      string
	Endpoints []string
	Category  DataCategory
	SLA       SLATargets
}

// ProbeEndpoint returns the endpoint used for health probes.
func (s Source) ProbeEndpoint() string {
	if len(s.Endpoints) == 0 {
		return ""
	}
	return s.Endpoints[0]
}

// RawPayload is an opaque response body from an upstream fetch.
type RawPayload []byte
