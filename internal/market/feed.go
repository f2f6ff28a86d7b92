// Package market provides access to external market data: per-exchange ticker
// quotes with maker fees, and batch market observations for the scanner.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultMakerFee is assumed when an exchange does not report trading fees.
const DefaultMakerFee = 0.002

// Quote is the result of a single price/fee fetch. Price is nil when the
// exchange could not be reached or reported an error; Fee always carries a
// usable value.
type Quote struct {
	Price *float64
	Fee   float64
}

// Feed fetches the current price and maker fee for a symbol on an exchange.
// Implementations must not propagate transport errors: a failed fetch yields
// a Quote with a nil price and the default fee.
type Feed interface {
	Fetch(ctx context.Context, exchangeID, symbol string) Quote
}

// HTTPFeed fetches quotes from the ticker REST API.
type HTTPFeed struct {
	baseURL    string
	defaultFee float64
	client     *http.Client
	logger     *slog.Logger
}

// NewHTTPFeed creates a ticker feed against the given API base URL.
func NewHTTPFeed(baseURL string, defaultFee float64, timeout time.Duration, logger *slog.Logger) *HTTPFeed {
	if defaultFee <= 0 {
		defaultFee = DefaultMakerFee
	}
	return &HTTPFeed{
		baseURL:    baseURL,
		defaultFee: defaultFee,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type tickerResponse struct {
	LastPrice *float64 `json:"last_price"`
}

type feesResponse struct {
	Maker *float64 `json:"maker"`
}

// Fetch retrieves the last price and maker fee for symbol on exchangeID. The
// two calls are independent; a failed fee lookup falls back to the default fee,
// a failed price lookup yields an absent price.
func (f *HTTPFeed) Fetch(ctx context.Context, exchangeID, symbol string) Quote {
	quote := Quote{Fee: f.defaultFee}

	var ticker tickerResponse
	tickerURL := fmt.Sprintf("%s/tickers/%s/%s", f.baseURL, url.PathEscape(exchangeID), url.PathEscape(symbol))
	if err := f.getJSON(ctx, tickerURL, &ticker); err != nil {
		f.logger.Error("failed to fetch ticker",
			"exchange", exchangeID, "symbol", symbol, "error", err)
		return quote
	}
	quote.Price = ticker.LastPrice

	var fees feesResponse
	feesURL := fmt.Sprintf("%s/fees/%s/%s", f.baseURL, url.PathEscape(exchangeID), url.PathEscape(symbol))
	if err := f.getJSON(ctx, feesURL, &fees); err != nil {
		f.logger.Debug("failed to fetch trading fees, using default",
			"exchange", exchangeID, "symbol", symbol, "error", err)
	} else if fees.Maker != nil {
		quote.Fee = *fees.Maker
	}

	f.logger.Info("fetched quote",
		"exchange", exchangeID, "symbol", symbol,
		"price", quote.Price, "fee", quote.Fee)

	return quote
}

func (f *HTTPFeed) getJSON(ctx context.Context, rawURL string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Debug("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// FetchPair retrieves quotes for the same symbol on two exchanges concurrently.
func FetchPair(ctx context.Context, feed Feed, symbol, exchangeFrom, exchangeTo string) (Quote, Quote) {
	type result struct {
		quote Quote
		to    bool
	}

	results := make(chan result, 2)
	go func() {
		results <- result{quote: feed.Fetch(ctx, exchangeFrom, symbol)}
	}()
	go func() {
		results <- result{quote: feed.Fetch(ctx, exchangeTo, symbol), to: true}
	}()

	var from, to Quote
	for range 2 {
		r := <-results
		if r.to {
			to = r.quote
		} else {
			from = r.quote
		}
	}
	return from, to
}
