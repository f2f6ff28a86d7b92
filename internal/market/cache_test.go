package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memCache struct {
	quotes map[string]Quote
	getErr error
	setErr error
	sets   int
}

func newMemCache() *memCache {
	return &memCache{quotes: make(map[string]Quote)}
}

func (m *memCache) GetQuote(_ context.Context, exchangeID, symbol string) (*Quote, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if q, ok := m.quotes[exchangeID+":"+symbol]; ok {
		return &q, nil
	}
	return nil, nil
}

func (m *memCache) SetQuote(_ context.Context, exchangeID, symbol string, quote Quote, _ time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.sets++
	m.quotes[exchangeID+":"+symbol] = quote
	return nil
}

func TestCachedFeed_MissThenHit(t *testing.T) {
	cache := newMemCache()
	feed := &stubFeed{quotes: map[string]Quote{
		"binance:BTC/USDT": {Price: price(60000), Fee: 0.001},
	}}
	cached := NewCachedFeed(feed, cache, time.Minute, testLogger().Logger)

	ctx := context.Background()

	quote := cached.Fetch(ctx, "binance", "BTC/USDT")
	if quote.Price == nil || *quote.Price != 60000 {
		t.Fatalf("Expected price 60000, got %v", quote.Price)
	}
	if cache.sets != 1 {
		t.Errorf("Expected quote to be cached once, got %d sets", cache.sets)
	}

	// Second fetch is served from the cache
	quote = cached.Fetch(ctx, "binance", "BTC/USDT")
	if quote.Price == nil || *quote.Price != 60000 {
		t.Fatalf("Expected cached price 60000, got %v", quote.Price)
	}
	if feed.calls["binance:BTC/USDT"] != 1 {
		t.Errorf("Expected 1 upstream fetch, got %d", feed.calls["binance:BTC/USDT"])
	}
}

func TestCachedFeed_AbsentPriceNotCached(t *testing.T) {
	cache := newMemCache()
	feed := &stubFeed{quotes: map[string]Quote{
		"kraken:XYZ/USDT": {Price: nil, Fee: 0.002},
	}}
	cached := NewCachedFeed(feed, cache, time.Minute, testLogger().Logger)

	ctx := context.Background()

	quote := cached.Fetch(ctx, "kraken", "XYZ/USDT")
	if quote.Price != nil {
		t.Fatalf("Expected absent price, got %v", *quote.Price)
	}
	if cache.sets != 0 {
		t.Errorf("Expected absent price not to be cached, got %d sets", cache.sets)
	}

	// Every fetch retries upstream until a price appears
	cached.Fetch(ctx, "kraken", "XYZ/USDT")
	if feed.calls["kraken:XYZ/USDT"] != 2 {
		t.Errorf("Expected 2 upstream fetches, got %d", feed.calls["kraken:XYZ/USDT"])
	}
}

func TestCachedFeed_CacheErrorsAreBestEffort(t *testing.T) {
	cache := newMemCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")

	feed := &stubFeed{quotes: map[string]Quote{
		"binance:ETH/USDT": {Price: price(2000), Fee: 0.001},
	}}
	cached := NewCachedFeed(feed, cache, time.Minute, testLogger().Logger)

	quote := cached.Fetch(context.Background(), "binance", "ETH/USDT")
	if quote.Price == nil || *quote.Price != 2000 {
		t.Fatalf("Expected upstream quote despite cache failure, got %v", quote.Price)
	}
}
