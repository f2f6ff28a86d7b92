// Package main implements validatord, the arbitrage network validator.
// It serves miner arbitrage requests, rolls activity into daily snapshots,
// and emits registry weights each epoch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arbnet/arbnet/internal/chain"
	"github.com/arbnet/arbnet/internal/config"
	"github.com/arbnet/arbnet/internal/database"
	"github.com/arbnet/arbnet/internal/database/influx"
	"github.com/arbnet/arbnet/internal/database/postgres"
	"github.com/arbnet/arbnet/internal/database/redis"
	"github.com/arbnet/arbnet/internal/ledger"
	"github.com/arbnet/arbnet/internal/market"
	"github.com/arbnet/arbnet/internal/messaging"
	"github.com/arbnet/arbnet/internal/reward"
	"github.com/arbnet/arbnet/internal/weights"
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
	logger.Info("starting validatord",
		"version", cfg.Version,
		"worker_pool_size", cfg.WorkerPoolSize,
		"settlement_delay", cfg.SettlementDelay,
	)

	// Connect databases
	db, err := database.NewManager(&database.Config{
		Postgres: &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			MaxLifetime:  5 * time.Minute,
		},
		Redis: &redis.Config{
			URL:          cfg.RedisURL,
			PoolSize:     10,
			MinIdleConns: 2,
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

	// Create the validator service
	validator, err := NewValidator(cfg, logger, db, kafkaClient)
	if err != nil {
		logger.WithError(err).Error("failed to create validator")
		os.Exit(1)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start the validator
	go func() {
		if err := validator.Start(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("validator failed")
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
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := validator.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("validatord stopped")
}

// Validator wires the request path, the daily rollup, and the epoch cycle.
type Validator struct {
	cfg         *config.Config
	logger      *log.Logger
	db          *database.Manager
	kafkaClient *messaging.KafkaClient

	ledger      *ledger.Ledger
	aggregator  *reward.Aggregator
	scores      *reward.Scores
	emitter     *weights.Emitter
	chainClient chain.Client
	notifier    *chain.ZMQNotifier
	scheduler   *cron.Cron

	requestQueue chan messaging.ArbitrageRequest
	done         chan struct{}
}

// NewValidator assembles the validator service from configuration.
func NewValidator(cfg *config.Config, logger *log.Logger, db *database.Manager, kafkaClient *messaging.KafkaClient) (*Validator, error) {
	feed := market.NewCachedFeed(
		market.NewHTTPFeed(cfg.TickerURL, cfg.DefaultMakerFee, cfg.FetchTimeout, logger.Logger),
		db.Redis,
		cfg.QuoteCacheTTL,
		logger.Logger,
	)

	l := ledger.New(&ledger.Config{
		InitialBalance:  cfg.InitialBalance,
		SettlementDelay: cfg.SettlementDelay,
		WorkerPoolSize:  cfg.WorkerPoolSize,
	}, db.Miners, db, db.Influx, feed, logger)

	aggregator := reward.NewAggregator(&reward.Config{
		InitialBalance:   cfg.InitialBalance,
		InactivityWindow: cfg.InactivityWindow,
		SnapshotWindow:   cfg.SnapshotWindow,
	}, db.Miners, db.Events, db.Snapshots, db.Influx, l.Locks(), logger)

	scores := reward.NewScores(cfg.MovingAverageAlpha, cfg.StatePath, logger)
	scores.Load()

	chainClient := chain.NewHTTPClient(cfg.ChainEndpoint, 30*time.Second, logger)
	emitter := weights.NewEmitter(chainClient, scores, db.Influx, logger)

	notifier, err := chain.NewZMQNotifier(cfg.ChainZMQAddr, logger.Logger)
	if err != nil {
		return nil, err
	}

	return &Validator{
		cfg:          cfg,
		logger:       logger.WithComponent("validator"),
		db:           db,
		kafkaClient:  kafkaClient,
		ledger:       l,
		aggregator:   aggregator,
		scores:       scores,
		emitter:      emitter,
		chainClient:  chainClient,
		notifier:     notifier,
		scheduler:    cron.New(cron.WithSeconds()),
		requestQueue: make(chan messaging.ArbitrageRequest, cfg.WorkerPoolSize*10),
		done:         make(chan struct{}),
	}, nil
}

// Start launches all validator loops and blocks until ctx is canceled.
func (v *Validator) Start(ctx context.Context) error {
	v.logger.Info("validator starting")

	v.ledger.Start(ctx)

	// Request workers
	for i := 0; i < v.cfg.WorkerPoolSize; i++ {
		go v.requestWorker(ctx, i)
	}
	go v.startRequestConsumer(ctx)

	// Daily rollup
	if _, err := v.scheduler.AddFunc(v.cfg.RollupCron, func() {
		rollupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := v.aggregator.RunDailyRollup(rollupCtx); err != nil {
			v.logger.WithError(err).Error("daily rollup failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule rollup: %w", err)
	}
	v.scheduler.Start()

	// Epoch cycle: ZMQ notifications plus a fallback ticker
	go v.startEpochListener(ctx)
	go v.epochTicker(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-v.done:
		return nil
	}
}

// Shutdown stops intake, drains in-flight settlements, and persists scores.
func (v *Validator) Shutdown(ctx context.Context) error {
	v.logger.Info("shutting down validator")
	close(v.done)

	v.scheduler.Stop()

	if err := v.ledger.Shutdown(ctx); err != nil {
		v.logger.WithError(err).Error("settlement drain failed")
	}

	if err := v.scores.Save(); err != nil {
		v.logger.WithError(err).Error("failed to save score state")
	}

	if err := v.notifier.Close(); err != nil {
		v.logger.WithError(err).Error("failed to close ZMQ notifier")
	}

	if err := v.kafkaClient.Close(); err != nil {
		v.logger.WithError(err).Error("failed to close Kafka client")
	}

	return v.db.Close()
}

// startRequestConsumer reads arbitrage requests from Kafka and feeds the
// worker pool.
func (v *Validator) startRequestConsumer(ctx context.Context) {
	reader := v.kafkaClient.GetConsumer(messaging.TopicRequests, v.cfg.KafkaGroupID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		default:
		}

		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			v.logger.WithError(err).Error("failed to read request message")
			continue
		}

		var req messaging.ArbitrageRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			v.logger.WithError(err).Error("malformed arbitrage request",
				"offset", msg.Offset)
			continue
		}

		select {
		case v.requestQueue <- req:
		case <-ctx.Done():
			return
		case <-v.done:
			return
		}
	}
}

// requestWorker processes arbitrage requests and publishes responses.
func (v *Validator) requestWorker(ctx context.Context, workerID int) {
	logger := v.logger.WithFields("worker_id", workerID)
	logger.Info("request worker started")
	defer logger.Info("request worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case req := <-v.requestQueue:
			start := time.Now()
			resp := v.ledger.RequestArbitrage(ctx, req)
			logger.LogDuration("arbitrage_request", time.Since(start).Nanoseconds())

			data, err := json.Marshal(resp)
			if err != nil {
				logger.WithError(err).Error("failed to marshal response",
					"request_id", req.RequestID)
				continue
			}
			if err := v.kafkaClient.PublishJSON(ctx, messaging.TopicResponses, req.RequestID, data); err != nil {
				logger.WithError(err).Error("failed to publish response",
					"request_id", req.RequestID)
			}
		}
	}
}

// startEpochListener subscribes to chain epoch notifications.
func (v *Validator) startEpochListener(ctx context.Context) {
	handler := chain.NewEpochHandler(v.logger.Logger)
	handler.SetEpochHandler(func(_ []byte) error {
		v.runEpochCycle(ctx)
		return nil
	})

	if err := v.notifier.Subscribe(chain.TopicEpoch); err != nil {
		v.logger.WithError(err).Error("failed to subscribe to epoch topic")
		return
	}
	if err := v.notifier.Connect(); err != nil {
		v.logger.WithError(err).Error("failed to connect ZMQ notifier")
		return
	}

	if err := v.notifier.Listen(ctx, handler.HandleMessage); err != nil && ctx.Err() == nil {
		v.logger.WithError(err).Error("epoch listener stopped")
	}
}

// epochTicker drives the epoch cycle when no ZMQ notification arrives.
func (v *Validator) epochTicker(ctx context.Context) {
	ticker := time.NewTicker(v.cfg.EpochInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case <-ticker.C:
			v.runEpochCycle(ctx)
		}
	}
}

// runEpochCycle resyncs scores against the registry, folds in fresh rewards,
// and emits weights. Every step is best effort; the next epoch retries.
func (v *Validator) runEpochCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	registry, err := v.chainClient.Registry(cycleCtx)
	if err != nil {
		v.logger.WithError(err).Error("failed to fetch registry, skipping epoch cycle")
		return
	}

	v.scores.Resync(registry)

	rewards, positions, err := v.aggregator.ComputeRewards(cycleCtx, registry)
	if err != nil {
		v.logger.WithError(err).Error("failed to compute rewards")
	} else if err := v.scores.Update(rewards, positions); err != nil {
		v.logger.WithError(err).Error("failed to update scores")
	}

	if err := v.scores.Save(); err != nil {
		v.logger.WithError(err).Error("failed to save score state")
	}

	if err := v.emitter.Emit(cycleCtx); err != nil {
		v.logger.WithError(err).Error("weight emission failed")
	}
}
