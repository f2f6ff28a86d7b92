// Package main implements scannerd, the arbitrage opportunity scanner.
// It collects market observations, detects cross-exchange price divergences,
// and publishes ranked candidates for miners to act on.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arbnet/arbnet/internal/config"
	"github.com/arbnet/arbnet/internal/database"
	"github.com/arbnet/arbnet/internal/database/influx"
	"github.com/arbnet/arbnet/internal/database/postgres"
	"github.com/arbnet/arbnet/internal/database/redis"
	"github.com/arbnet/arbnet/internal/market"
	"github.com/arbnet/arbnet/internal/messaging"
	"github.com/arbnet/arbnet/internal/scanner"
	"github.com/arbnet/arbnet/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting scannerd",
		"version", cfg.Version,
		"scan_interval", cfg.ScanInterval,
		"exchange_cap", cfg.ExchangeCap,
	)

	// Connect databases
	db, err := database.NewManager(&database.Config{
		Postgres: &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 10,
			MaxIdleConns: 2,
			MaxLifetime:  5 * time.Minute,
		},
		Redis: &redis.Config{
			URL:          cfg.RedisURL,
			PoolSize:     5,
			MinIdleConns: 1,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
	})
	if err != nil {
		logger.WithError(err).Error("failed to connect databases")
		os.Exit(1)
	}

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Postgres.Migrate(migrateCtx); err != nil {
		migrateCancel()
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}
	migrateCancel()

	// Create Kafka client
	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)

	// Create the scan service
	service := NewScanService(cfg, logger, db, kafkaClient)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start the scanner
	go func() {
		if err := service.Start(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("scan service failed")
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("scannerd stopped")
}

// ScanService runs periodic market scans and publishes candidates.
type ScanService struct {
	cfg         *config.Config
	logger      *log.Logger
	db          *database.Manager
	kafkaClient *messaging.KafkaClient
	collector   *market.Collector

	done chan struct{}
}

// NewScanService creates a scan service.
func NewScanService(cfg *config.Config, logger *log.Logger, db *database.Manager, kafkaClient *messaging.KafkaClient) *ScanService {
	// The market data API allows a small request budget per minute.
	limiter := redis.NewLimiter(db.Redis, "ratelimit:marketdata", 30, time.Minute)

	collector := market.NewCollector(
		cfg.MarketDataURL,
		cfg.ReferenceCurrency,
		cfg.ExchangeCap,
		cfg.FetchTimeout,
		limiter,
		logger.Logger,
	)

	return &ScanService{
		cfg:         cfg,
		logger:      logger.WithComponent("scanner"),
		db:          db,
		kafkaClient: kafkaClient,
		collector:   collector,
		done:        make(chan struct{}),
	}
}

// Start runs scan cycles until ctx is canceled.
func (s *ScanService) Start(ctx context.Context) error {
	s.logger.Info("scan service starting")

	// First cycle immediately, then on the interval.
	s.runScanCycle(ctx)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			s.runScanCycle(ctx)
		}
	}
}

// Shutdown stops the scan loop and closes connections.
func (s *ScanService) Shutdown(_ context.Context) error {
	s.logger.Info("shutting down scan service")
	close(s.done)

	if err := s.kafkaClient.Close(); err != nil {
		s.logger.WithError(err).Error("failed to close Kafka client")
	}

	return s.db.Close()
}

// runScanCycle collects observations, scans for divergences, reconciles the
// opportunity table, and publishes the candidate set.
func (s *ScanService) runScanCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanInterval)
	defer cancel()

	start := time.Now()

	observations, err := s.collector.Collect(cycleCtx)
	if err != nil {
		s.logger.WithError(err).Error("failed to collect market observations")
		return
	}

	candidates := scanner.Scan(observations)
	duration := time.Since(start)

	if err := s.db.ReplaceOpportunities(cycleCtx, toOpportunities(candidates), len(observations), duration); err != nil {
		s.logger.WithError(err).Error("failed to store opportunities")
	}

	for _, candidate := range candidates {
		msg := messaging.OpportunityMessage{
			Pair:         candidate.Pair,
			ExchangeFrom: candidate.ExchangeFrom,
			ExchangeTo:   candidate.ExchangeTo,
			PriceFrom:    candidate.PriceFrom,
			PriceTo:      candidate.PriceTo,
			Volume:       candidate.Volume,
			ProfitPct:    candidate.ProfitPct,
			PriceRatio:   candidate.PriceRatio,
			ObservedAt:   candidate.ObservedAt,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			s.logger.WithError(err).Error("failed to marshal opportunity", "pair", candidate.Pair)
			continue
		}

		key := fmt.Sprintf("%s:%s:%s", candidate.Pair, candidate.ExchangeFrom, candidate.ExchangeTo)
		if err := s.kafkaClient.PublishJSON(cycleCtx, messaging.TopicOpportunities, key, data); err != nil {
			s.logger.WithError(err).Error("failed to publish opportunity", "pair", candidate.Pair)
		}
	}

	s.logger.LogScanCycle(len(observations), len(candidates), float64(duration.Milliseconds()))
}

func toOpportunities(candidates []scanner.Candidate) []postgres.Opportunity {
	opportunities := make([]postgres.Opportunity, 0, len(candidates))
	for _, c := range candidates {
		opportunities = append(opportunities, postgres.Opportunity{
			Pair:         c.Pair,
			ExchangeFrom: c.ExchangeFrom,
			ExchangeTo:   c.ExchangeTo,
			PriceFrom:    c.PriceFrom,
			PriceTo:      c.PriceTo,
			Volume:       c.Volume,
			ProfitPct:    c.ProfitPct,
			PriceRatio:   c.PriceRatio,
			ObservedAt:   c.ObservedAt,
		})
	}
	return opportunities
}
