package reward

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/arbnet/arbnet/internal/database/postgres"
	"github.com/arbnet/arbnet/internal/ledger"
	"github.com/arbnet/arbnet/pkg/log"
)

func snaps(profits ...float64) []*postgres.DailySnapshot {
	out := make([]*postgres.DailySnapshot, len(profits))
	for i, p := range profits {
		out[i] = &postgres.DailySnapshot{TotalProfit: p}
	}
	return out
}

func TestRankWeightedAverage(t *testing.T) {
	tests := []struct {
		name    string
		profits []float64 // newest first
		want    float64
	}{
		{
			name:    "single snapshot",
			profits: []float64{12.5},
			want:    12.5,
		},
		{
			name:    "recency weighting favors newest",
			profits: []float64{30, 20, 10},
			want:    (30*3 + 20*2 + 10*1) / 6.0, // 23.33...
		},
		{
			name:    "full window",
			profits: []float64{7, 6, 5, 4, 3, 2, 1},
			want:    (7*7 + 6*6 + 5*5 + 4*4 + 3*3 + 2*2 + 1*1) / 28.0,
		},
		{
			name:    "no snapshots",
			profits: nil,
			want:    0,
		},
		{
			name:    "negative profit days",
			profits: []float64{-2, 4},
			want:    (-2*2 + 4*1) / 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rankWeightedAverage(snaps(tt.profits...))
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("rankWeightedAverage() = %v, want %v", got, tt.want)
			}
		})
	}
}

// rollupStore is an in-memory MinerStore + EventStore + SnapshotStore.
type rollupStore struct {
	miners     map[string]*postgres.Miner
	profit     map[string]float64 // returned by SumProfitSince
	lastSince  map[string]time.Time
	snapshots  map[string][]*postgres.DailySnapshot
	snapshotAt map[string]time.Time
}

func newRollupStore() *rollupStore {
	return &rollupStore{
		miners:     make(map[string]*postgres.Miner),
		profit:     make(map[string]float64),
		lastSince:  make(map[string]time.Time),
		snapshots:  make(map[string][]*postgres.DailySnapshot),
		snapshotAt: make(map[string]time.Time),
	}
}

func (s *rollupStore) List(_ context.Context) ([]*postgres.Miner, error) {
	var out []*postgres.Miner
	for _, m := range s.miners {
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

func (s *rollupStore) Update(_ context.Context, hotkey string, upd postgres.MinerUpdate) error {
	m, ok := s.miners[hotkey]
	if !ok {
		return postgres.ErrMinerNotFound
	}
	if upd.Balance != nil {
		m.Balance = *upd.Balance
	}
	if upd.TransactionCount != nil {
		m.TransactionCount = *upd.TransactionCount
	}
	if upd.LastUpdated != nil {
		m.LastUpdated = *upd.LastUpdated
	}
	return nil
}

func (s *rollupStore) Delete(_ context.Context, hotkey string) error {
	delete(s.miners, hotkey)
	delete(s.snapshots, hotkey)
	return nil
}

func (s *rollupStore) SumProfitSince(_ context.Context, hotkey string, since time.Time) (float64, error) {
	s.lastSince[hotkey] = since
	return s.profit[hotkey], nil
}

func (s *rollupStore) Create(_ context.Context, snapshot *postgres.DailySnapshot) error {
	s.snapshots[snapshot.MinerHotkey] = append(
		[]*postgres.DailySnapshot{snapshot}, s.snapshots[snapshot.MinerHotkey]...)
	return nil
}

func (s *rollupStore) RecentByMiner(_ context.Context, hotkey string, limit int) ([]*postgres.DailySnapshot, error) {
	snaps := s.snapshots[hotkey]
	if len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (s *rollupStore) LastCreatedAt(_ context.Context, hotkey string) (time.Time, error) {
	return s.snapshotAt[hotkey], nil
}

func testAggregator(store *rollupStore) *Aggregator {
	return NewAggregator(&Config{
		InitialBalance:   10000,
		InactivityWindow: 7 * 24 * time.Hour,
		SnapshotWindow:   7,
	}, store, store, store, nil, ledger.NewKeyedMutex(), log.New("reward-test", "dev", "error", "json"))
}

func TestRunDailyRollup(t *testing.T) {
	store := newRollupStore()
	now := time.Now()

	store.miners["active"] = &postgres.Miner{
		Hotkey: "active", Balance: 8000, TransactionCount: 4,
		LastUpdated: now.Add(-time.Hour),
	}
	store.miners["idle"] = &postgres.Miner{
		Hotkey: "idle", Balance: 10000, TransactionCount: 0,
		LastUpdated: now.Add(-time.Hour),
	}
	store.miners["stale"] = &postgres.Miner{
		Hotkey: "stale", Balance: 9000, TransactionCount: 2,
		LastUpdated: now.Add(-8 * 24 * time.Hour),
	}

	store.profit["active"] = 42.5
	prevSnapshot := now.Add(-24 * time.Hour)
	store.snapshotAt["active"] = prevSnapshot

	agg := testAggregator(store)
	if err := agg.RunDailyRollup(context.Background()); err != nil {
		t.Fatalf("RunDailyRollup() error: %v", err)
	}

	// Miner inactive beyond the window is pruned
	if _, ok := store.miners["stale"]; ok {
		t.Error("Expected stale miner to be pruned")
	}

	// Miner with no transactions is left alone
	if len(store.snapshots["idle"]) != 0 {
		t.Error("Expected no snapshot for idle miner")
	}
	if store.miners["idle"].Balance != 10000 {
		t.Error("Expected idle miner balance untouched")
	}

	// Active miner gets a snapshot bounded by the previous rollup and a reset
	activeSnaps := store.snapshots["active"]
	if len(activeSnaps) != 1 {
		t.Fatalf("Expected 1 snapshot for active miner, got %d", len(activeSnaps))
	}
	if activeSnaps[0].TotalProfit != 42.5 {
		t.Errorf("Expected snapshot profit 42.5, got %v", activeSnaps[0].TotalProfit)
	}
	if !store.lastSince["active"].Equal(prevSnapshot) {
		t.Errorf("Expected profit sum bounded by previous snapshot time %v, got %v",
			prevSnapshot, store.lastSince["active"])
	}

	active := store.miners["active"]
	if active.Balance != 10000 {
		t.Errorf("Expected balance reset to 10000, got %v", active.Balance)
	}
	if active.TransactionCount != 0 {
		t.Errorf("Expected transaction count reset to 0, got %d", active.TransactionCount)
	}
}

func TestComputeRewards(t *testing.T) {
	store := newRollupStore()
	now := time.Now()

	for _, hk := range []string{"alpha", "beta", "gamma", "unregistered"} {
		store.miners[hk] = &postgres.Miner{Hotkey: hk, Balance: 10000, LastUpdated: now}
	}
	store.snapshots["alpha"] = snaps(30, 20, 10)
	store.snapshots["unregistered"] = snaps(99)
	// beta has no snapshots; gamma has one
	store.snapshots["gamma"] = snaps(5)

	agg := testAggregator(store)
	registry := []string{"other-0", "alpha", "other-2", "gamma"}

	rewards, positions, err := agg.ComputeRewards(context.Background(), registry)
	if err != nil {
		t.Fatalf("ComputeRewards() error: %v", err)
	}

	if len(rewards) != 2 || len(positions) != 2 {
		t.Fatalf("Expected 2 rewards, got rewards=%v positions=%v", rewards, positions)
	}

	byPosition := make(map[int]float64, len(rewards))
	for i, pos := range positions {
		byPosition[pos] = rewards[i]
	}

	want := (30*3 + 20*2 + 10*1) / 6.0
	if got := byPosition[1]; math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected alpha reward %v at position 1, got %v", want, got)
	}
	if got := byPosition[3]; got != 5 {
		t.Errorf("Expected gamma reward 5 at position 3, got %v", got)
	}
}
