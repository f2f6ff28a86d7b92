// Package ledger implements the simulated arbitrage ledger. Each miner holds a
// balance that requests debit synchronously (the buy leg) and delayed
// settlements credit asynchronously (the sell leg).
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/arbnet/arbnet/internal/database/postgres"
	"github.com/arbnet/arbnet/internal/market"
	"github.com/arbnet/arbnet/internal/messaging"
	"github.com/arbnet/arbnet/internal/validation"
	"github.com/arbnet/arbnet/pkg/log"
)

// MinerStore is the subset of the miner repository the ledger mutates.
type MinerStore interface {
	GetByHotkey(ctx context.Context, hotkey string) (*postgres.Miner, error)
	Create(ctx context.Context, miner *postgres.Miner) error
	Update(ctx context.Context, hotkey string, upd postgres.MinerUpdate) error
}

// SettlementStore records completed arbitrage cycles.
type SettlementStore interface {
	RecordSettlement(ctx context.Context, event *postgres.ArbitrageEvent) error
}

// Metrics is the best-effort metrics sink for the request path.
type Metrics interface {
	WriteRequestMetric(hotkey, pair string, statusCode int, amount float64)
}

// Config holds ledger parameters
type Config struct {
	InitialBalance  float64
	SettlementDelay time.Duration
	WorkerPoolSize  int
}

// Ledger processes arbitrage requests against per-miner balances
type Ledger struct {
	cfg       *Config
	miners    MinerStore
	metrics   Metrics
	feed      market.Feed
	validator *validation.RequestValidator
	locks     *KeyedMutex
	settler   *Settler
	logger    *log.Logger
}

// New creates a ledger backed by the given stores and price feed.
func New(cfg *Config, miners MinerStore, settlements SettlementStore, metrics Metrics, feed market.Feed, logger *log.Logger) *Ledger {
	l := &Ledger{
		cfg:       cfg,
		miners:    miners,
		metrics:   metrics,
		feed:      feed,
		validator: validation.NewRequestValidator(30 * time.Second),
		locks:     NewKeyedMutex(),
		logger:    logger.WithComponent("ledger"),
	}
	l.settler = NewSettler(cfg, miners, settlements, l.locks, logger)
	return l
}

// Locks exposes the per-miner mutexes so the daily rollup can serialize
// against in-flight settlements.
func (l *Ledger) Locks() *KeyedMutex {
	return l.locks
}

// Start launches the settlement worker pool.
func (l *Ledger) Start(ctx context.Context) {
	l.settler.Start(ctx)
}

// Shutdown stops intake and drains already-debited settlements.
func (l *Ledger) Shutdown(ctx context.Context) error {
	return l.settler.Shutdown(ctx)
}

// RequestArbitrage runs the synchronous phase of one arbitrage cycle: validate
// the requested fraction, fetch both quotes, debit the buy leg, and enqueue the
// delayed settlement. All failures come back as a structured response, never
// as an error.
func (l *Ledger) RequestArbitrage(ctx context.Context, req messaging.ArbitrageRequest) messaging.ArbitrageResponse {
	logger := l.logger.WithMiner(req.MinerHotkey)

	if err := l.validator.ValidateRequest(&req); err != nil {
		return l.respond(req, 404, err.Error(), messaging.Amount(req.Fraction))
	}

	symbol := strings.ToUpper(req.Pair)
	quoteFrom, quoteTo := market.FetchPair(ctx, l.feed, symbol, req.ExchangeFrom, req.ExchangeTo)
	if quoteFrom.Price == nil || quoteTo.Price == nil || *quoteFrom.Price <= 0 {
		logger.WithPair(req.Pair, req.ExchangeFrom, req.ExchangeTo).Error("failed to fetch prices")
		return l.respond(req, 404, "Error fetching prices", messaging.Amount(req.Fraction))
	}

	l.locks.Lock(req.MinerHotkey)
	defer l.locks.Unlock(req.MinerHotkey)

	miner, err := l.miners.GetByHotkey(ctx, req.MinerHotkey)
	if err == postgres.ErrMinerNotFound {
		miner = &postgres.Miner{
			Hotkey:      req.MinerHotkey,
			Balance:     l.cfg.InitialBalance,
			LastUpdated: time.Now(),
		}
		if err := l.miners.Create(ctx, miner); err != nil {
			logger.WithError(err).Error("failed to create miner")
			return l.respond(req, 500, "Internal ledger error", messaging.NoAmount())
		}
		logger.Info("created new miner", "balance", miner.Balance)
	} else if err != nil {
		logger.WithError(err).Error("failed to load miner")
		return l.respond(req, 500, "Internal ledger error", messaging.NoAmount())
	}

	if miner.Balance <= 0 {
		return l.respond(req, 404, "Your amount is not sufficient to operate arbitrage", messaging.NoAmount())
	}

	balanceBefore := miner.Balance
	amount := balanceBefore * req.Fraction
	newBalance := balanceBefore - amount*(1+quoteFrom.Fee)
	now := time.Now()

	if err := l.miners.Update(ctx, req.MinerHotkey, postgres.MinerUpdate{
		Balance:     &newBalance,
		LastUpdated: &now,
	}); err != nil {
		logger.WithError(err).Error("failed to debit miner")
		return l.respond(req, 500, "Internal ledger error", messaging.NoAmount())
	}

	proceeds := amount * (1 - quoteFrom.Fee) * *quoteTo.Price * (1 - quoteTo.Fee) / *quoteFrom.Price

	l.settler.Enqueue(SettlementTask{
		MinerHotkey:  req.MinerHotkey,
		Pair:         req.Pair,
		ExchangeFrom: req.ExchangeFrom,
		ExchangeTo:   req.ExchangeTo,
		PriceFrom:    *quoteFrom.Price,
		PriceTo:      *quoteTo.Price,
		FeeFrom:      quoteFrom.Fee,
		FeeTo:        quoteTo.Fee,
		Amount:       amount,
		Proceeds:     proceeds,
		DueAt:        now.Add(l.cfg.SettlementDelay),
	})

	return l.respond(req, 200, "Data updated successfully", messaging.Amount(balanceBefore+proceeds))
}

func (l *Ledger) respond(req messaging.ArbitrageRequest, statusCode int, message string, after messaging.AfterAmount) messaging.ArbitrageResponse {
	l.logger.LogRequest(req.MinerHotkey, req.Pair, req.Fraction, statusCode, message)
	if l.metrics != nil {
		l.metrics.WriteRequestMetric(req.MinerHotkey, req.Pair, statusCode, req.Fraction)
	}

	return messaging.ArbitrageResponse{
		RequestID:   req.RequestID,
		Message:     message,
		StatusCode:  statusCode,
		AfterAmount: after,
	}
}
