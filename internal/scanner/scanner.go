// Package scanner detects cross-exchange arbitrage candidates from a batch of
// market observations.
package scanner

import (
	"fmt"
	"sort"
	"time"

	"github.com/arbnet/arbnet/internal/market"
)

// Ratio bounds for a plausible divergence: strictly more than 1% apart, and
// strictly less than 10x apart (larger gaps are treated as data-error noise).
const (
	MinPriceRatio = 101.0
	MaxPriceRatio = 1000.0
)

// Candidate is one cross-exchange arbitrage opportunity. ExchangeFrom is the
// lower-priced side, ExchangeTo the higher-priced side.
type Candidate struct {
	Pair         string
	ExchangeFrom string
	ExchangeTo   string
	PriceFrom    float64
	PriceTo      float64
	Volume       float64
	ProfitPct    float64
	PriceRatio   float64
	ObservedAt   time.Time
}

// Scan compares every unordered pair of exchange observations within each
// trading pair and returns candidates sorted ascending by price ratio, the
// smallest (most plausible) divergence first. Scan is a pure function of its
// input: an empty or nil batch yields an empty result.
func Scan(observations []market.Observation) []Candidate {
	byPair := make(map[string][]market.Observation)
	for _, obs := range observations {
		if obs.Volume == 0 {
			continue
		}
		byPair[obs.Pair] = append(byPair[obs.Pair], obs)
	}

	var candidates []Candidate

	for pair, group := range byPair {
		if len(group) < 2 {
			continue
		}

		// Deterministic iteration regardless of input order.
		sort.Slice(group, func(i, j int) bool {
			if group[i].Exchange != group[j].Exchange {
				return group[i].Exchange < group[j].Exchange
			}
			return group[i].Price < group[j].Price
		})

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if c, ok := compare(pair, group[i], group[j]); ok {
					candidates = append(candidates, c)
				}
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].PriceRatio != candidates[j].PriceRatio {
			return candidates[i].PriceRatio < candidates[j].PriceRatio
		}
		if candidates[i].Pair != candidates[j].Pair {
			return candidates[i].Pair < candidates[j].Pair
		}
		return candidates[i].ExchangeFrom < candidates[j].ExchangeFrom
	})

	return candidates
}

// compare evaluates a single unordered pair of observations. A candidate
// requires distinct exchanges, distinct prices, a matching underlying currency
// and at least one side flagged as an outlier, with the price ratio strictly
// inside the accepted band.
func compare(pair string, a, b market.Observation) (Candidate, bool) {
	if a.Exchange == b.Exchange || a.Price == b.Price {
		return Candidate{}, false
	}
	if a.CurrencyID != b.CurrencyID {
		return Candidate{}, false
	}
	if !a.Outlier && !b.Outlier {
		return Candidate{}, false
	}

	low, high := a, b
	if b.Price < a.Price {
		low, high = b, a
	}

	ratio := high.Price / low.Price * 100
	if ratio <= MinPriceRatio || ratio >= MaxPriceRatio {
		return Candidate{}, false
	}

	observedAt := low.ObservedAt
	if high.ObservedAt.After(observedAt) {
		observedAt = high.ObservedAt
	}

	return Candidate{
		Pair:         fmt.Sprintf("%s(%s)", pair, a.CurrencyName),
		ExchangeFrom: low.Exchange,
		ExchangeTo:   high.Exchange,
		PriceFrom:    low.Price,
		PriceTo:      high.Price,
		Volume:       high.Volume,
		ProfitPct:    ratio - 100,
		PriceRatio:   ratio,
		ObservedAt:   observedAt,
	}, true
}
