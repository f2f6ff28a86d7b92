package messaging

import (
	"encoding/json"
	"time"
)

// ArbitrageRequest represents a peer's request to simulate an arbitrage cycle.
// The hotkey is the sender identity attached by the transport gateway.
type ArbitrageRequest struct {
	RequestID    string    `json:"request_id"`
	MinerHotkey  string    `json:"miner_hotkey"`
	Pair         string    `json:"pair"`
	ExchangeFrom string    `json:"exchange1"`
	ExchangeTo   string    `json:"exchange2"`
	Fraction     float64   `json:"amount"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// ArbitrageResponse carries the synchronous outcome back to the requesting peer.
type ArbitrageResponse struct {
	RequestID   string      `json:"request_id"`
	Message     string      `json:"message"`
	StatusCode  int         `json:"statusCode"`
	AfterAmount AfterAmount `json:"afterAmount"`
}

// AfterAmount is the expected post-settlement balance. It marshals as a float,
// or as the JSON literal false when a request is rejected for insufficient funds.
type AfterAmount struct {
	Valid bool
	Value float64
}

// Amount returns a valid AfterAmount carrying v.
func Amount(v float64) AfterAmount {
	return AfterAmount{Valid: true, Value: v}
}

// NoAmount returns the insufficient-funds sentinel.
func NoAmount() AfterAmount {
	return AfterAmount{}
}

// MarshalJSON implements json.Marshaler.
func (a AfterAmount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("false"), nil
	}
	return json.Marshal(a.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AfterAmount) UnmarshalJSON(data []byte) error {
	if string(data) == "false" {
		*a = AfterAmount{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = AfterAmount{Valid: true, Value: v}
	return nil
}

// OpportunityMessage is one ranked arbitrage candidate published per scan cycle.
type OpportunityMessage struct {
	Pair         string    `json:"pair"`
	ExchangeFrom string    `json:"exchange_from"`
	ExchangeTo   string    `json:"exchange_to"`
	PriceFrom    float64   `json:"price_from"`
	PriceTo      float64   `json:"price_to"`
	Volume       float64   `json:"volume"`
	ProfitPct    float64   `json:"profit_pct"`
	PriceRatio   float64   `json:"price_ratio"`
	ObservedAt   time.Time `json:"observed_at"`
}
