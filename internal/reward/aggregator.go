// Package reward turns settled arbitrage activity into per-miner scores: a
// daily rollup snapshots realized profit, and a rank-weighted average over
// recent snapshots feeds the moving-average score vector.
package reward

import (
	"context"
	"time"

	"github.com/arbnet/arbnet/internal/database/postgres"
	"github.com/arbnet/arbnet/internal/ledger"
	"github.com/arbnet/arbnet/pkg/errors"
	"github.com/arbnet/arbnet/pkg/log"
)

// Config holds reward aggregation parameters
type Config struct {
	InitialBalance   float64
	InactivityWindow time.Duration
	SnapshotWindow   int
}

// MinerStore is the miner access the rollup needs.
type MinerStore interface {
	List(ctx context.Context) ([]*postgres.Miner, error)
	Update(ctx context.Context, hotkey string, upd postgres.MinerUpdate) error
	Delete(ctx context.Context, hotkey string) error
}

// EventStore sums realized profit over a miner's settled events.
type EventStore interface {
	SumProfitSince(ctx context.Context, hotkey string, since time.Time) (float64, error)
}

// SnapshotStore reads and writes daily profit snapshots.
type SnapshotStore interface {
	Create(ctx context.Context, snapshot *postgres.DailySnapshot) error
	RecentByMiner(ctx context.Context, hotkey string, limit int) ([]*postgres.DailySnapshot, error)
	LastCreatedAt(ctx context.Context, hotkey string) (time.Time, error)
}

// Metrics records rollup outcomes. May be nil.
type Metrics interface {
	WriteRollupMetric(snapshots, pruned int)
}

// Aggregator runs the daily rollup and computes registry-aligned rewards
type Aggregator struct {
	cfg       *Config
	miners    MinerStore
	events    EventStore
	snapshots SnapshotStore
	metrics   Metrics
	locks     *ledger.KeyedMutex
	logger    *log.Logger
}

// NewAggregator creates an aggregator sharing the ledger's per-miner locks.
func NewAggregator(cfg *Config, miners MinerStore, events EventStore, snapshots SnapshotStore, metrics Metrics, locks *ledger.KeyedMutex, logger *log.Logger) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		miners:    miners,
		events:    events,
		snapshots: snapshots,
		metrics:   metrics,
		locks:     locks,
		logger:    logger.WithComponent("reward"),
	}
}

// RunDailyRollup walks every miner once: prunes the inactive, snapshots the
// profit realized since the previous rollup, and resets balances for the next
// period. Each miner is processed under its key lock so in-flight settlements
// never interleave with the reset.
func (a *Aggregator) RunDailyRollup(ctx context.Context) error {
	miners, err := a.miners.List(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeAggregation, "daily_rollup",
			"failed to list miners")
	}

	now := time.Now()
	snapshots, pruned := 0, 0

	for _, miner := range miners {
		if err := a.rollupMiner(ctx, miner, now, &snapshots, &pruned); err != nil {
			a.logger.WithMiner(miner.Hotkey).WithError(err).Error("rollup failed for miner")
		}
	}

	if a.metrics != nil {
		a.metrics.WriteRollupMetric(snapshots, pruned)
	}
	a.logger.Info("daily rollup complete",
		"miners", len(miners), "snapshots", snapshots, "pruned", pruned)

	return nil
}

func (a *Aggregator) rollupMiner(ctx context.Context, miner *postgres.Miner, now time.Time, snapshots, pruned *int) error {
	a.locks.Lock(miner.Hotkey)
	defer a.locks.Unlock(miner.Hotkey)

	if now.Sub(miner.LastUpdated) > a.cfg.InactivityWindow {
		if err := a.miners.Delete(ctx, miner.Hotkey); err != nil {
			return err
		}
		*pruned++
		a.logger.WithMiner(miner.Hotkey).Info("pruned inactive miner",
			"last_updated", miner.LastUpdated)
		return nil
	}

	if miner.TransactionCount == 0 {
		return nil
	}

	// Bound the sum by the previous snapshot so profit is never counted twice
	// across rollup periods.
	since, err := a.snapshots.LastCreatedAt(ctx, miner.Hotkey)
	if err != nil {
		return err
	}

	total, err := a.events.SumProfitSince(ctx, miner.Hotkey, since)
	if err != nil {
		return err
	}

	if err := a.snapshots.Create(ctx, &postgres.DailySnapshot{
		MinerHotkey: miner.Hotkey,
		TotalProfit: total,
		CreatedAt:   now,
	}); err != nil {
		return err
	}

	balance := a.cfg.InitialBalance
	count := 0
	if err := a.miners.Update(ctx, miner.Hotkey, postgres.MinerUpdate{
		Balance:          &balance,
		TransactionCount: &count,
		LastUpdated:      &now,
	}); err != nil {
		return err
	}

	*snapshots++
	return nil
}

// ComputeRewards produces a rank-weighted average of each miner's recent
// snapshots, aligned to positions in the current registry. Miners without a
// registry position or without snapshots are skipped.
func (a *Aggregator) ComputeRewards(ctx context.Context, registryKeys []string) ([]float64, []int, error) {
	miners, err := a.miners.List(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeAggregation, "compute_rewards",
			"failed to list miners")
	}

	positionOf := make(map[string]int, len(registryKeys))
	for pos, key := range registryKeys {
		positionOf[key] = pos
	}

	var rewards []float64
	var positions []int

	for _, miner := range miners {
		pos, registered := positionOf[miner.Hotkey]
		if !registered {
			a.logger.WithMiner(miner.Hotkey).Debug("miner not in registry, skipping")
			continue
		}

		snaps, err := a.snapshots.RecentByMiner(ctx, miner.Hotkey, a.cfg.SnapshotWindow)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrorTypeAggregation, "compute_rewards",
				"failed to load snapshots").WithContext("hotkey", miner.Hotkey)
		}
		if len(snaps) == 0 {
			continue
		}

		rewards = append(rewards, rankWeightedAverage(snaps))
		positions = append(positions, pos)
	}

	return rewards, positions, nil
}

// rankWeightedAverage weights the newest of n snapshots at n, the next at n-1,
// down to 1 for the oldest, favoring recent performance. snaps must be ordered
// newest first.
func rankWeightedAverage(snaps []*postgres.DailySnapshot) float64 {
	n := len(snaps)
	var weightedSum, weightSum float64
	for i, snap := range snaps {
		weight := float64(n - i)
		weightedSum += snap.TotalProfit * weight
		weightSum += weight
	}

	if weightSum == 0 {
		return 0
	}
	return weightedSum / weightSum
}
