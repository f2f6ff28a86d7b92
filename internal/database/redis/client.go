// Package redis provides Redis client and caching operations for the
// validator. It handles short-TTL quote caching, API rate limiting, and
// operational counters.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbnet/arbnet/internal/market"
)

// Client wraps Redis operations for the validator
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Quote caching

// GetQuote retrieves a cached quote. A miss returns a nil quote and no error.
func (c *Client) GetQuote(ctx context.Context, exchangeID, symbol string) (*market.Quote, error) {
	key := fmt.Sprintf("quote:%s:%s", exchangeID, symbol)
	jsonData, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	quote := &market.Quote{}
	if err := json.Unmarshal([]byte(jsonData), quote); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}

	return quote, nil
}

// SetQuote caches a quote with the given TTL.
func (c *Client) SetQuote(ctx context.Context, exchangeID, symbol string, quote market.Quote, ttl time.Duration) error {
	jsonData, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}

	key := fmt.Sprintf("quote:%s:%s", exchangeID, symbol)
	if err := c.rdb.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set quote: %w", err)
	}

	return nil
}

// Rate limiting

// CheckRateLimit checks if an action is rate limited
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	return incrCmd.Val() <= limit, nil
}

// Limiter adapts the client to a fixed-window rate limiter for one concern.
type Limiter struct {
	client *Client
	prefix string
	limit  int64
	window time.Duration
}

// NewLimiter creates a limiter allowing limit actions per window under prefix.
func NewLimiter(client *Client, prefix string, limit int64, window time.Duration) *Limiter {
	return &Limiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow reports whether the action identified by key is within its budget.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.client.CheckRateLimit(ctx, fmt.Sprintf("%s:%s", l.prefix, key), l.limit, l.window)
}

// Statistics and counters

// IncrementCounter increments a counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}
