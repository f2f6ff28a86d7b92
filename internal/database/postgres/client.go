// Package postgres provides PostgreSQL storage for the validator: miners,
// arbitrage events, daily profit snapshots and scanned opportunities.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewClient creates a new PostgreSQL client
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// BeginTx starts a new transaction
func (c *Client) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, nil)
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

// Migrate creates the validator schema if it does not exist.
func (c *Client) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS miners (
			id BIGSERIAL PRIMARY KEY,
			hotkey TEXT NOT NULL UNIQUE,
			balance DOUBLE PRECISION NOT NULL,
			transaction_count INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS arbitrage_events (
			id BIGSERIAL PRIMARY KEY,
			miner_hotkey TEXT NOT NULL REFERENCES miners(hotkey) ON DELETE CASCADE,
			pair TEXT NOT NULL,
			exchange_from TEXT NOT NULL,
			exchange_to TEXT NOT NULL,
			price_from DOUBLE PRECISION NOT NULL,
			price_to DOUBLE PRECISION NOT NULL,
			fee_from DOUBLE PRECISION NOT NULL,
			fee_to DOUBLE PRECISION NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			profit DOUBLE PRECISION NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_miner_time
			ON arbitrage_events (miner_hotkey, completed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS daily_snapshots (
			id BIGSERIAL PRIMARY KEY,
			miner_hotkey TEXT NOT NULL REFERENCES miners(hotkey) ON DELETE CASCADE,
			total_profit DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_miner_time
			ON daily_snapshots (miner_hotkey, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			pair TEXT NOT NULL,
			exchange_from TEXT NOT NULL,
			exchange_to TEXT NOT NULL,
			price_from DOUBLE PRECISION NOT NULL,
			price_to DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			profit_pct DOUBLE PRECISION NOT NULL,
			price_ratio DOUBLE PRECISION NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (pair, exchange_from, exchange_to)
		)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
