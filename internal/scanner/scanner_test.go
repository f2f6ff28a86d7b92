package scanner

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/arbnet/arbnet/internal/market"
)

func obs(exchange string, price, volume float64, outlier bool) market.Observation {
	return market.Observation{
		Exchange:     exchange,
		Pair:         "BTC/USDT",
		CurrencyID:   "btc-bitcoin",
		CurrencyName: "Bitcoin",
		Price:        price,
		Volume:       volume,
		Outlier:      outlier,
	}
}

func TestScanEmptyInput(t *testing.T) {
	if got := Scan(nil); len(got) != 0 {
		t.Errorf("Scan(nil) = %d candidates, want 0", len(got))
	}
	if got := Scan([]market.Observation{}); len(got) != 0 {
		t.Errorf("Scan(empty) = %d candidates, want 0", len(got))
	}
}

func TestScanSinglePair(t *testing.T) {
	candidates := Scan([]market.Observation{
		obs("binance", 100, 500, false),
		obs("kraken", 105, 800, true),
	})

	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}

	c := candidates[0]
	if c.ExchangeFrom != "binance" || c.ExchangeTo != "kraken" {
		t.Errorf("orientation = %s -> %s, want binance -> kraken", c.ExchangeFrom, c.ExchangeTo)
	}
	if c.PriceFrom != 100 || c.PriceTo != 105 {
		t.Errorf("prices = %v -> %v, want 100 -> 105", c.PriceFrom, c.PriceTo)
	}
	if c.Volume != 800 {
		t.Errorf("volume = %v, want 800 (higher-priced side)", c.Volume)
	}
	if c.PriceRatio != 105 {
		t.Errorf("ratio = %v, want 105", c.PriceRatio)
	}
	if c.ProfitPct != 5 {
		t.Errorf("profit pct = %v, want 5", c.ProfitPct)
	}
	if c.Pair != "BTC/USDT(Bitcoin)" {
		t.Errorf("pair label = %q, want %q", c.Pair, "BTC/USDT(Bitcoin)")
	}
}

func TestScanFilters(t *testing.T) {
	tests := []struct {
		name string
		a, b market.Observation
		want int
	}{
		{
			name: "same exchange rejected",
			a:    obs("binance", 100, 500, true),
			b:    obs("binance", 105, 800, true),
			want: 0,
		},
		{
			name: "equal prices rejected",
			a:    obs("binance", 100, 500, true),
			b:    obs("kraken", 100, 800, true),
			want: 0,
		},
		{
			name: "no outlier rejected",
			a:    obs("binance", 100, 500, false),
			b:    obs("kraken", 105, 800, false),
			want: 0,
		},
		{
			name: "one outlier accepted",
			a:    obs("binance", 100, 500, true),
			b:    obs("kraken", 105, 800, false),
			want: 1,
		},
		{
			name: "ratio exactly at lower bound rejected",
			a:    obs("binance", 100, 500, true),
			b:    obs("kraken", 101, 800, true),
			want: 0,
		},
		{
			name: "ratio just above lower bound accepted",
			a:    obs("binance", 100, 500, true),
			b:    obs("kraken", 101.0001, 800, true),
			want: 1,
		},
		{
			name: "ratio below lower bound rejected",
			a:    obs("binance", 100, 500, true),
			b:    obs("kraken", 100.5, 800, true),
			want: 0,
		},
		{
			name: "ratio exactly at upper bound rejected",
			a:    obs("binance", 100, 500, true),
			b:    obs("kraken", 1000, 800, true),
			want: 0,
		},
		{
			name: "ratio just below upper bound accepted",
			a:    obs("binance", 100, 500, true),
			b:    obs("kraken", 999, 800, true),
			want: 1,
		},
		{
			name: "zero volume side skipped",
			a:    obs("binance", 100, 0, true),
			b:    obs("kraken", 105, 800, true),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scan([]market.Observation{tt.a, tt.b})
			if len(got) != tt.want {
				t.Errorf("got %d candidates, want %d", len(got), tt.want)
			}
		})
	}
}

func TestScanCurrencyMismatch(t *testing.T) {
	a := obs("binance", 100, 500, true)
	b := obs("kraken", 105, 800, true)
	b.CurrencyID = "wbtc-wrapped-bitcoin"

	if got := Scan([]market.Observation{a, b}); len(got) != 0 {
		t.Errorf("got %d candidates, want 0 for mismatched currency IDs", len(got))
	}
}

func TestScanSortedByRatio(t *testing.T) {
	observations := []market.Observation{
		obs("binance", 100, 500, true),
		obs("kraken", 110, 800, true),
		obs("gate", 150, 300, true),
	}

	candidates := Scan(observations)
	if len(candidates) != 3 {
		t.Fatalf("got %d candidates, want 3", len(candidates))
	}

	for i := 1; i < len(candidates); i++ {
		if candidates[i].PriceRatio < candidates[i-1].PriceRatio {
			t.Errorf("candidates not sorted ascending by ratio: %v then %v",
				candidates[i-1].PriceRatio, candidates[i].PriceRatio)
		}
	}
	if candidates[0].ExchangeFrom != "binance" || candidates[0].ExchangeTo != "kraken" {
		t.Errorf("smallest divergence first: got %s -> %s", candidates[0].ExchangeFrom, candidates[0].ExchangeTo)
	}
}

func TestScanDeterministicUnderPermutation(t *testing.T) {
	observations := []market.Observation{
		obs("binance", 100, 500, true),
		obs("kraken", 110, 800, true),
		obs("gate", 150, 300, false),
		obs("okx", 103, 900, true),
	}

	want := Scan(observations)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]market.Observation(nil), observations...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		if got := Scan(shuffled); !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %d changed output:\ngot  %+v\nwant %+v", i, got, want)
		}
	}
}

func TestScanObservedAtUsesNewest(t *testing.T) {
	older := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	a := obs("binance", 100, 500, true)
	a.ObservedAt = older
	b := obs("kraken", 105, 800, true)
	b.ObservedAt = newer

	candidates := Scan([]market.Observation{a, b})
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if !candidates[0].ObservedAt.Equal(newer) {
		t.Errorf("ObservedAt = %v, want %v", candidates[0].ObservedAt, newer)
	}
}
