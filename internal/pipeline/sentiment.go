package pipeline

import (
	"github.com/shopspring/decimal"

	"marketfeed/internal/core/domain"
)

// Component weights for the overall sentiment blend. Components whose source
// produced no usable data are simply left out and the remaining weights are
// renormalised.
const (
	weightFearGreed = 0.30
	weightVIX       = 0.25
	weightStocks    = 0.25
	weightNews      = 0.20
)

// overallSentiment blends the available inputs into a 0..100 score,
// 50 meaning neutral.
func overallSentiment(snap *domain.Snapshot, have map[domain.SourceID]bool) decimal.Decimal {
	type component struct {
		value  float64
		weight float64
	}
	var parts []component

	if have[domain.SourceFearGreed] {
		parts = append(parts, component{float64(snap.FearGreed.Value), weightFearGreed})
	}
	if have[domain.SourceVIX] {
		parts = append(parts, component{vixSentiment(snap.VIX.Value.InexactFloat64()), weightVIX})
	}
	if avg, ok := averageChange(snap.Stocks); ok {
		parts = append(parts, component{clamp(50+avg*10, 0, 100), weightStocks})
	}
	if have[domain.SourceNews] {
		parts = append(parts, component{clamp(50+snap.NewsSentiment.InexactFloat64()*50, 0, 100), weightNews})
	}

	if len(parts) == 0 {
		return decimal.NewFromInt(50)
	}

	var sum, weightSum float64
	for _, p := range parts {
		sum += p.value * p.weight
		weightSum += p.weight
	}
	return decimal.NewFromFloat(sum / weightSum).Round(2)
}

// vixSentiment maps the volatility level onto a 0..100 calm-to-fear inverse:
// VIX 10 reads as 100 (calm), each point above subtracts 5.
func vixSentiment(vix float64) float64 {
	return clamp(100-(vix-10)*5, 0, 100)
}

// putCallProxy derives a put/call-ratio stand-in from the VIX level and the
// average index move. This is a documented heuristic, not options-market
// data: a neutral 0.7 base shifted up by elevated volatility and down by
// positive index momentum, clamped to a plausible band.
func putCallProxy(vix decimal.Decimal, stocks map[string]domain.Quote) decimal.Decimal {
	v := vix.InexactFloat64()
	avg, _ := averageChange(stocks)
	ratio := 0.7 + (v-20)*0.02 - avg*0.05
	return decimal.NewFromFloat(clamp(ratio, 0.4, 1.5)).Round(3)
}

// averageChange is the mean percent change across quotes with data.
func averageChange(stocks map[string]domain.Quote) (float64, bool) {
	if len(stocks) == 0 {
		return 0, false
	}
	var sum float64
	n := 0
	for _, q := range stocks {
		if q.Price.IsZero() {
			continue
		}
		sum += q.Change.InexactFloat64()
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
