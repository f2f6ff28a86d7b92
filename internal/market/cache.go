package market

import (
	"context"
	"log/slog"
	"time"
)

// QuoteCache stores recent quotes keyed by (exchange, symbol). A miss returns
// a nil quote and no error.
type QuoteCache interface {
	GetQuote(ctx context.Context, exchangeID, symbol string) (*Quote, error)
	SetQuote(ctx context.Context, exchangeID, symbol string, quote Quote, ttl time.Duration) error
}

// CachedFeed decorates a Feed with a short-TTL quote cache. Cache failures are
// best effort: the underlying feed is always consulted on a miss or error.
type CachedFeed struct {
	feed   Feed
	cache  QuoteCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedFeed wraps feed with the given cache.
func NewCachedFeed(feed Feed, cache QuoteCache, ttl time.Duration, logger *slog.Logger) *CachedFeed {
	return &CachedFeed{feed: feed, cache: cache, ttl: ttl, logger: logger}
}

// Fetch returns a cached quote when fresh, otherwise fetches and caches.
// Quotes with an absent price are never cached; a later fetch may succeed.
func (c *CachedFeed) Fetch(ctx context.Context, exchangeID, symbol string) Quote {
	if cached, err := c.cache.GetQuote(ctx, exchangeID, symbol); err != nil {
		c.logger.Debug("quote cache lookup failed", "exchange", exchangeID, "symbol", symbol, "error", err)
	} else if cached != nil {
		return *cached
	}

	quote := c.feed.Fetch(ctx, exchangeID, symbol)

	if quote.Price != nil {
		if err := c.cache.SetQuote(ctx, exchangeID, symbol, quote, c.ttl); err != nil {
			c.logger.Debug("failed to cache quote", "exchange", exchangeID, "symbol", symbol, "error", err)
		}
	}

	return quote
}
