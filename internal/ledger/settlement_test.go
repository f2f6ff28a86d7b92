package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arbnet/arbnet/internal/database/postgres"
	"github.com/arbnet/arbnet/pkg/log"
)

func testSettler(store *memStore) *Settler {
	cfg := &Config{
		InitialBalance:  10000,
		SettlementDelay: time.Hour,
		WorkerPoolSize:  1,
	}
	logger := log.New("ledger-test", "dev", "error", "json")
	return NewSettler(cfg, store, store, NewKeyedMutex(), logger)
}

func settlementTask() SettlementTask {
	return SettlementTask{
		MinerHotkey:  "hk-1",
		Pair:         "BTC/USDT",
		ExchangeFrom: "binance",
		ExchangeTo:   "kraken",
		PriceFrom:    100,
		PriceTo:      101,
		Amount:       100,
		Proceeds:     101,
		DueAt:        time.Now().Add(time.Hour),
	}
}

// Producers parked on a full queue must not block Shutdown, and every debited
// task still settles during the drain.
func TestSettlerShutdownWithFullQueue(t *testing.T) {
	store := newMemStore()
	if err := store.Create(context.Background(), &postgres.Miner{Hotkey: "hk-1", Balance: 10000}); err != nil {
		t.Fatalf("create miner: %v", err)
	}

	s := testSettler(store)
	s.Start(context.Background())

	// Overfill the queue: the lone worker parks in its hour-long delay, the
	// queue fills behind it, and the surplus producers park on the send.
	total := cap(s.queue) + 3
	var producers sync.WaitGroup
	for i := 0; i < total; i++ {
		producers.Add(1)
		go func() {
			defer producers.Done()
			s.Enqueue(settlementTask())
		}()
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	producers.Wait()

	store.mu.Lock()
	settled := len(store.events)
	store.mu.Unlock()
	if settled != total {
		t.Errorf("settled %d tasks, want %d", settled, total)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}

// Enqueue after shutdown settles inline rather than dropping the task.
func TestSettlerEnqueueAfterShutdown(t *testing.T) {
	store := newMemStore()
	if err := store.Create(context.Background(), &postgres.Miner{Hotkey: "hk-1", Balance: 10000}); err != nil {
		t.Fatalf("create miner: %v", err)
	}

	s := testSettler(store)
	s.Start(context.Background())
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	s.Enqueue(settlementTask())

	balance, ok := store.balance("hk-1")
	if !ok {
		t.Fatal("miner missing")
	}
	if balance != 10101 {
		t.Errorf("balance = %v, want 10101", balance)
	}
}
