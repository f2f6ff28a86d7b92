// Package database provides unified database management for the arbitrage
// network. It coordinates operations across PostgreSQL, Redis, and InfluxDB.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/arbnet/arbnet/internal/database/influx"
	"github.com/arbnet/arbnet/internal/database/postgres"
	"github.com/arbnet/arbnet/internal/database/redis"
	"github.com/arbnet/arbnet/pkg/circuit"
	"github.com/arbnet/arbnet/pkg/errors"
	"github.com/arbnet/arbnet/pkg/retry"
)

// Manager coordinates all database operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Miners        *postgres.MinerRepository
	Events        *postgres.EventRepository
	Snapshots     *postgres.SnapshotRepository
	Opportunities *postgres.OpportunityRepository

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// NewManager creates a new database manager with all connections
func NewManager(cfg *Config) (*Manager, error) {
	// Initialize PostgreSQL
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}

	// Initialize Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		if closeErr := pgClient.Close(); closeErr != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			return nil, errors.New(errors.ErrorTypeDatabase, "connection_failure",
				"multiple database connection failures").
				WithContext("redis_error", origErr.Error()).
				WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
	}

	// Initialize InfluxDB
	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB database")

		if len(closeErrs) > 0 {
			return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, origErr
	}

	// Configure error handling
	cbConfig := &circuit.Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	db := pgClient.DB()

	return &Manager{
		Postgres:       pgClient,
		Redis:          redisClient,
		Influx:         influxClient,
		Miners:         postgres.NewMinerRepository(db),
		Events:         postgres.NewEventRepository(db),
		Snapshots:      postgres.NewSnapshotRepository(db),
		Opportunities:  postgres.NewOpportunityRepository(db),
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}

	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}

	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}

	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	return nil
}

// High-level operations that coordinate across multiple databases

// RecordSettlement records a completed arbitrage cycle across all databases.
// The PostgreSQL insert is critical; metrics and counters are best effort.
func (m *Manager) RecordSettlement(ctx context.Context, event *postgres.ArbitrageEvent) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Events.Create(ctx, event); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_settlement",
					"failed to store arbitrage event in PostgreSQL").
					WithContext("hotkey", event.MinerHotkey).
					WithContext("pair", event.Pair).
					WithContext("amount", event.Amount)
			}

			m.Influx.WriteSettlementMetric(
				event.MinerHotkey,
				event.Pair,
				event.Amount,
				event.Amount*(1+event.Profit),
				event.Profit,
			)

			counterKey := fmt.Sprintf("settlements:%s", event.MinerHotkey)
			if _, err := m.Redis.IncrementCounter(ctx, counterKey, 24*time.Hour); err != nil {
				redisErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_settlement_counter",
					"failed to bump settlement counter in Redis (non-critical)")
				redisErr.Retryable = false
				fmt.Printf("Warning: %v\n", redisErr)
			}

			return nil
		})
	})
}

// ReplaceOpportunities reconciles the opportunity table against a scan
// result and records the cycle in InfluxDB.
func (m *Manager) ReplaceOpportunities(ctx context.Context, opportunities []postgres.Opportunity, observations int, duration time.Duration) error {
	err := m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Opportunities.ReplaceAll(ctx, opportunities); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "replace_opportunities",
					"failed to replace opportunity set").
					WithContext("candidates", len(opportunities))
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	m.Influx.WriteScanMetric(observations, len(opportunities), duration)
	return nil
}
