package postgres

import (
	"time"
)

// Miner is a network peer holding simulated capital. Balance starts at the
// configured initial amount on first sight and is reset by the daily rollup.
type Miner struct {
	ID               int64     `db:"id"`
	Hotkey           string    `db:"hotkey"`
	Balance          float64   `db:"balance"`
	TransactionCount int       `db:"transaction_count"`
	LastUpdated      time.Time `db:"last_updated"`
}

// MinerUpdate is a typed partial update for a miner. Nil fields are left
// unchanged.
type MinerUpdate struct {
	Balance          *float64
	TransactionCount *int
	LastUpdated      *time.Time
}

// ArbitrageEvent is the immutable record of one completed buy/sell cycle.
type ArbitrageEvent struct {
	ID           int64     `db:"id"`
	MinerHotkey  string    `db:"miner_hotkey"`
	Pair         string    `db:"pair"`
	ExchangeFrom string    `db:"exchange_from"`
	ExchangeTo   string    `db:"exchange_to"`
	PriceFrom    float64   `db:"price_from"`
	PriceTo      float64   `db:"price_to"`
	FeeFrom      float64   `db:"fee_from"`
	FeeTo        float64   `db:"fee_to"`
	Amount       float64   `db:"amount"`
	Profit       float64   `db:"profit"`
	CompletedAt  time.Time `db:"completed_at"`
}

// DailySnapshot is one miner's realized profit total for one rollup period.
type DailySnapshot struct {
	ID          int64     `db:"id"`
	MinerHotkey string    `db:"miner_hotkey"`
	TotalProfit float64   `db:"total_profit"`
	CreatedAt   time.Time `db:"created_at"`
}

// Opportunity is one scanned arbitrage candidate, keyed by
// (pair, exchange_from, exchange_to) and replaced wholesale each scan cycle.
type Opportunity struct {
	Pair         string    `db:"pair"`
	ExchangeFrom string    `db:"exchange_from"`
	ExchangeTo   string    `db:"exchange_to"`
	PriceFrom    float64   `db:"price_from"`
	PriceTo      float64   `db:"price_to"`
	Volume       float64   `db:"volume"`
	ProfitPct    float64   `db:"profit_pct"`
	PriceRatio   float64   `db:"price_ratio"`
	ObservedAt   time.Time `db:"observed_at"`
}
