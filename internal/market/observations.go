package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Observation is one market listing on one exchange, quoted in the reference
// currency. Outlier marks a price the data source flags as anomalous relative
// to the rest of that market.
type Observation struct {
	Exchange     string
	Pair         string
	CurrencyID   string
	CurrencyName string
	Price        float64
	Volume       float64
	Outlier      bool
	ObservedAt   time.Time
}

// Collector gathers reference-currency market observations across exchanges.
// Exchange count per cycle is capped to respect upstream rate limits.
type Collector struct {
	baseURL           string
	referenceCurrency string
	exchangeCap       int
	client            *http.Client
	logger            *slog.Logger
	limiter           RateLimiter
}

// RateLimiter bounds outbound API calls. Allow reports whether another call
// may be made within the current window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// NewCollector creates a market observation collector.
func NewCollector(baseURL, referenceCurrency string, exchangeCap int, timeout time.Duration, limiter RateLimiter, logger *slog.Logger) *Collector {
	return &Collector{
		baseURL:           baseURL,
		referenceCurrency: strings.ToUpper(referenceCurrency),
		exchangeCap:       exchangeCap,
		client:            &http.Client{Timeout: timeout},
		logger:            logger,
		limiter:           limiter,
	}
}

type exchangeInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Active        bool   `json:"active"`
	WebsiteStatus bool   `json:"website_status"`
	APIStatus     bool   `json:"api_status"`
	ReportedRank  *int   `json:"reported_rank"`
	AdjustedRank  int    `json:"adjusted_rank"`
}

type marketInfo struct {
	Pair             string `json:"pair"`
	BaseCurrencyID   string `json:"base_currency_id"`
	BaseCurrencyName string `json:"base_currency_name"`
	MarketURL        string `json:"market_url"`
	Outlier          bool   `json:"outlier"`
	LastUpdated      string `json:"last_updated"`
	Quotes           struct {
		USD struct {
			Price     float64 `json:"price"`
			Volume24h float64 `json:"volume_24h"`
		} `json:"USD"`
	} `json:"quotes"`
}

// Collect fetches markets for the top-ranked active exchanges and returns
// observations for reference-currency pairs with nonzero volume. Per-exchange
// failures are logged and skipped; an empty result is not an error.
func (c *Collector) Collect(ctx context.Context) ([]Observation, error) {
	var exchanges []exchangeInfo
	if err := c.getJSON(ctx, c.baseURL+"/exchanges", &exchanges); err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}

	active := exchanges[:0]
	for _, ex := range exchanges {
		if ex.ReportedRank != nil && ex.Active && ex.WebsiteStatus && ex.APIStatus {
			active = append(active, ex)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].AdjustedRank < active[j].AdjustedRank
	})

	if len(active) > c.exchangeCap {
		active = active[:c.exchangeCap]
	}

	suffix := "/" + c.referenceCurrency
	var observations []Observation

	for _, ex := range active {
		if c.limiter != nil {
			allowed, err := c.limiter.Allow(ctx, "market_data_api")
			if err != nil {
				c.logger.Warn("rate limiter unavailable", "error", err)
			} else if !allowed {
				c.logger.Info("rate limit reached, stopping collection early",
					"collected_observations", len(observations))
				break
			}
		}

		var markets []marketInfo
		marketsURL := fmt.Sprintf("%s/exchanges/%s/markets", c.baseURL, ex.ID)
		if err := c.getJSON(ctx, marketsURL, &markets); err != nil {
			c.logger.Error("failed to fetch markets", "exchange", ex.ID, "error", err)
			continue
		}

		for _, m := range markets {
			if !strings.Contains(m.Pair, suffix) || m.MarketURL == "" {
				continue
			}
			if m.Quotes.USD.Price == 0 || m.Quotes.USD.Volume24h == 0 {
				continue
			}

			observedAt, err := time.Parse(time.RFC3339, m.LastUpdated)
			if err != nil {
				observedAt = time.Now().UTC()
			}

			observations = append(observations, Observation{
				Exchange:     ex.ID,
				Pair:         m.Pair,
				CurrencyID:   m.BaseCurrencyID,
				CurrencyName: m.BaseCurrencyName,
				Price:        m.Quotes.USD.Price,
				// Volume is reported in quote units; convert to base units.
				Volume:     m.Quotes.USD.Volume24h / m.Quotes.USD.Price,
				Outlier:    m.Outlier,
				ObservedAt: observedAt,
			})
		}
	}

	c.logger.Info("collected market observations",
		"exchanges", len(active), "observations", len(observations))

	return observations, nil
}

func (c *Collector) getJSON(ctx context.Context, rawURL string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("failed to close response body", "error", err)
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
