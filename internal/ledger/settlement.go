package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/arbnet/arbnet/internal/database/postgres"
	"github.com/arbnet/arbnet/pkg/log"
)

// SettlementTask carries one debited buy leg awaiting its sell leg. Quotes are
// captured at request time; the settlement never refetches.
type SettlementTask struct {
	MinerHotkey  string
	Pair         string
	ExchangeFrom string
	ExchangeTo   string
	PriceFrom    float64
	PriceTo      float64
	FeeFrom      float64
	FeeTo        float64
	Amount       float64
	Proceeds     float64
	DueAt        time.Time
}

// Settler runs the delayed settlement worker pool. Tasks wait out their delay,
// then credit the sell-leg proceeds under the miner's key lock.
type Settler struct {
	cfg         *Config
	miners      MinerStore
	settlements SettlementStore
	locks       *KeyedMutex
	logger      *log.Logger

	queue chan SettlementTask
	done  chan struct{}
	wg    sync.WaitGroup

	stopOnce sync.Once
	mu       sync.RWMutex
	closed   bool
}

// NewSettler creates a settler with a bounded task queue.
func NewSettler(cfg *Config, miners MinerStore, settlements SettlementStore, locks *KeyedMutex, logger *log.Logger) *Settler {
	return &Settler{
		cfg:         cfg,
		miners:      miners,
		settlements: settlements,
		locks:       locks,
		logger:      logger.WithComponent("settler"),
		queue:       make(chan SettlementTask, cfg.WorkerPoolSize*10),
		done:        make(chan struct{}),
	}
}

// Start launches the worker pool.
func (s *Settler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.WorkerPoolSize; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
}

// Enqueue adds a settlement task. The debit already happened, so a task is
// never dropped: during shutdown it settles immediately instead of queueing.
func (s *Settler) Enqueue(task SettlementTask) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		s.settle(context.Background(), task)
		return
	}

	// The read lock is held across the send so Shutdown cannot close the queue
	// underneath it. Selecting on done keeps a producer parked on a full queue
	// from blocking Shutdown's write lock.
	select {
	case s.queue <- task:
		s.mu.RUnlock()
	case <-s.done:
		s.mu.RUnlock()
		s.settle(context.Background(), task)
	}
}

// Shutdown stops intake and waits for queued tasks to settle. Remaining delays
// are cut short so debited cycles complete before exit.
func (s *Settler) Shutdown(ctx context.Context) error {
	// done closes before the write lock: producers parked on a full queue hold
	// the read lock, and only the done signal releases them.
	s.stopOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Settler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	logger := s.logger.WithFields("worker_id", workerID)
	logger.Info("settlement worker started")
	defer logger.Info("settlement worker stopped")

	// Settlements run against a detached context: a canceled run context must
	// not abort the credit for an already-debited task.
	settleCtx := context.WithoutCancel(ctx)

	for task := range s.queue {
		s.waitUntilDue(task.DueAt)
		s.settle(settleCtx, task)
	}
}

// waitUntilDue blocks until the task's delay elapses. Shutdown cuts the wait
// short so draining does not take the full settlement delay.
func (s *Settler) waitUntilDue(dueAt time.Time) {
	delay := time.Until(dueAt)
	if delay <= 0 {
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.done:
	}
}

// settle credits the sell leg and records the completed cycle. Errors are
// logged; the earlier debit stands.
func (s *Settler) settle(ctx context.Context, task SettlementTask) {
	logger := s.logger.WithMiner(task.MinerHotkey)

	s.locks.Lock(task.MinerHotkey)
	defer s.locks.Unlock(task.MinerHotkey)

	miner, err := s.miners.GetByHotkey(ctx, task.MinerHotkey)
	if err != nil {
		logger.WithError(err).Error("failed to load miner for settlement")
		return
	}

	now := time.Now()
	newBalance := miner.Balance + task.Proceeds
	newCount := miner.TransactionCount + 1

	if err := s.miners.Update(ctx, task.MinerHotkey, postgres.MinerUpdate{
		Balance:          &newBalance,
		TransactionCount: &newCount,
		LastUpdated:      &now,
	}); err != nil {
		logger.WithError(err).Error("failed to credit settlement")
		return
	}

	profit := (1-task.FeeFrom)*task.PriceTo*(1-task.FeeTo)/task.PriceFrom - 1

	event := &postgres.ArbitrageEvent{
		MinerHotkey:  task.MinerHotkey,
		Pair:         task.Pair,
		ExchangeFrom: task.ExchangeFrom,
		ExchangeTo:   task.ExchangeTo,
		PriceFrom:    task.PriceFrom,
		PriceTo:      task.PriceTo,
		FeeFrom:      task.FeeFrom,
		FeeTo:        task.FeeTo,
		Amount:       task.Amount,
		Profit:       profit,
		CompletedAt:  now,
	}

	if err := s.settlements.RecordSettlement(ctx, event); err != nil {
		logger.WithError(err).Error("failed to record settlement event")
		return
	}

	s.logger.LogSettlement(task.MinerHotkey, task.Pair, task.Amount, profit)
}
