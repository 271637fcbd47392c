// Package pipeline runs the orchestrated fetch fan-out and assembles the
// consolidated dashboard snapshot.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketfeed/internal/core/domain"
)

// quotePayload is the JSON shape expected from equity quote sources.
type quotePayload struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	Timestamp time.Time `json:"timestamp"`
}

// indexPayload is the JSON shape expected from index sources (VIX).
type indexPayload struct {
	Value  float64 `json:"value"`
	Change float64 `json:"change"`
}

// fearGreedPayload is the JSON shape expected from the fear & greed source.
type fearGreedPayload struct {
	Value          int    `json:"value"`
	Classification string `json:"classification"`
}

// newsPayload is the JSON shape expected from the news sentiment source,
// a score in [-1, 1].
type newsPayload struct {
	Score float64 `json:"score"`
}

// Safe defaults used when neither a live fetch nor any cache tier produced
// data: zeroed quotes, long-run average VIX, a neutral gauge and flat news.
func defaultPayload(id domain.SourceID) domain.RawPayload {
	switch id {
	case domain.SourceVIX:
		return domain.RawPayload(`{"value":20.0,"change":0}`)
	case domain.SourceFearGreed:
		return domain.RawPayload(`{"value":50,"classification":"Neutral"}`)
	case domain.SourceNews:
		return domain.RawPayload(`{"score":0}`)
	case domain.SourceEcon:
		return domain.RawPayload(`{}`)
	default:
		symbol := strings.ToUpper(string(id))
		return domain.RawPayload(fmt.Sprintf(`{"symbol":%q,"price":0,"change":0}`, symbol))
	}
}

func parseQuote(id domain.SourceID, payload domain.RawPayload) (domain.Quote, error) {
	var p quotePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.Quote{}, domain.NewFault(domain.KindMalformed, id, err)
	}
	if p.Price < 0 {
		return domain.Quote{}, domain.NewFault(domain.KindValidation, id,
			fmt.Errorf("negative price %v", p.Price))
	}
	if p.Symbol == "" {
		p.Symbol = strings.ToUpper(string(id))
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	return domain.Quote{
		Symbol:    p.Symbol,
		Price:     decimal.NewFromFloat(p.Price),
		Change:    decimal.NewFromFloat(p.Change),
		Timestamp: p.Timestamp,
	}, nil
}

func parseIndex(id domain.SourceID, payload domain.RawPayload) (domain.IndexReading, error) {
	var p indexPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.IndexReading{}, domain.NewFault(domain.KindMalformed, id, err)
	}
	if p.Value < 0 {
		return domain.IndexReading{}, domain.NewFault(domain.KindValidation, id,
			fmt.Errorf("negative index value %v", p.Value))
	}
	return domain.IndexReading{
		Value:  decimal.NewFromFloat(p.Value),
		Change: decimal.NewFromFloat(p.Change),
	}, nil
}

func parseFearGreed(id domain.SourceID, payload domain.RawPayload) (domain.FearGreed, error) {
	var p fearGreedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.FearGreed{}, domain.NewFault(domain.KindMalformed, id, err)
	}
	if p.Value < 0 || p.Value > 100 {
		return domain.FearGreed{}, domain.NewFault(domain.KindValidation, id,
			fmt.Errorf("gauge value %d outside [0,100]", p.Value))
	}
	if p.Classification == "" {
		p.Classification = classifyFearGreed(p.Value)
	}
	return domain.FearGreed{Value: p.Value, Classification: p.Classification}, nil
}

func parseNews(id domain.SourceID, payload domain.RawPayload) (decimal.Decimal, error) {
	var p newsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return decimal.Zero, domain.NewFault(domain.KindMalformed, id, err)
	}
	if p.Score < -1 || p.Score > 1 {
		return decimal.Zero, domain.NewFault(domain.KindValidation, id,
			fmt.Errorf("sentiment score %v outside [-1,1]", p.Score))
	}
	return decimal.NewFromFloat(p.Score), nil
}

// ValidatePayload checks a payload against the source's expected shape and
// value ranges, so a detailed health probe catches a well-formed but wrong
// document. Sources without a typed shape get a generic non-empty check.
func ValidatePayload(src domain.Source, payload domain.RawPayload) error {
	switch src.ID {
	case domain.SourceVIX:
		_, err := parseIndex(src.ID, payload)
		return err
	case domain.SourceFearGreed:
		_, err := parseFearGreed(src.ID, payload)
		return err
	case domain.SourceNews:
		_, err := parseNews(src.ID, payload)
		return err
	}
	if src.Category == domain.CategoryQuote {
		_, err := parseQuote(src.ID, payload)
		return err
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.NewFault(domain.KindMalformed, src.ID, err)
	}
	switch v := doc.(type) {
	case map[string]any:
		if len(v) == 0 {
			return domain.NewFault(domain.KindValidation, src.ID,
				fmt.Errorf("payload is an empty object"))
		}
	case []any:
		if len(v) == 0 {
			return domain.NewFault(domain.KindValidation, src.ID,
				fmt.Errorf("payload is an empty array"))
		}
	default:
		return domain.NewFault(domain.KindValidation, src.ID,
			fmt.Errorf("payload is a bare scalar"))
	}
	return nil
}

func classifyFearGreed(value int) string {
	switch {
	case value <= 24:
		return "Extreme Fear"
	case value <= 44:
		return "Fear"
	case value <= 54:
		return "Neutral"
	case value <= 74:
		return "Greed"
	default:
		return "Extreme Greed"
	}
}
