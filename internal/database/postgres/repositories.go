package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ErrMinerNotFound is returned when a miner lookup matches no row.
var ErrMinerNotFound = fmt.Errorf("miner not found")

// MinerRepository handles miner-related database operations
type MinerRepository struct {
	db *sql.DB
}

// NewMinerRepository creates a new miner repository
func NewMinerRepository(db *sql.DB) *MinerRepository {
	return &MinerRepository{db: db}
}

// Create inserts a new miner row.
func (r *MinerRepository) Create(ctx context.Context, miner *Miner) error {
	query := `
		INSERT INTO miners (hotkey, balance, transaction_count, last_updated)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		miner.Hotkey, miner.Balance, miner.TransactionCount, miner.LastUpdated,
	).Scan(&miner.ID)

	if err != nil {
		return fmt.Errorf("failed to create miner: %w", err)
	}

	return nil
}

// GetByHotkey retrieves a miner by its hotkey.
func (r *MinerRepository) GetByHotkey(ctx context.Context, hotkey string) (*Miner, error) {
	query := `
		SELECT id, hotkey, balance, transaction_count, last_updated
		FROM miners WHERE hotkey = $1`

	miner := &Miner{}
	err := r.db.QueryRowContext(ctx, query, hotkey).Scan(
		&miner.ID, &miner.Hotkey, &miner.Balance,
		&miner.TransactionCount, &miner.LastUpdated,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrMinerNotFound
		}
		return nil, fmt.Errorf("failed to get miner: %w", err)
	}

	return miner, nil
}

// List retrieves all miners.
func (r *MinerRepository) List(ctx context.Context) ([]*Miner, error) {
	query := `
		SELECT id, hotkey, balance, transaction_count, last_updated
		FROM miners ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query miners: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var miners []*Miner
	for rows.Next() {
		miner := &Miner{}
		err := rows.Scan(
			&miner.ID, &miner.Hotkey, &miner.Balance,
			&miner.TransactionCount, &miner.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan miner: %w", err)
		}
		miners = append(miners, miner)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating miners: %w", err)
	}

	return miners, nil
}

// Update applies a typed partial update to the miner identified by hotkey.
// Nil fields in upd are left unchanged.
func (r *MinerRepository) Update(ctx context.Context, hotkey string, upd MinerUpdate) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if upd.Balance != nil {
		args = append(args, *upd.Balance)
		sets = append(sets, fmt.Sprintf("balance = $%d", len(args)))
	}
	if upd.TransactionCount != nil {
		args = append(args, *upd.TransactionCount)
		sets = append(sets, fmt.Sprintf("transaction_count = $%d", len(args)))
	}
	if upd.LastUpdated != nil {
		args = append(args, *upd.LastUpdated)
		sets = append(sets, fmt.Sprintf("last_updated = $%d", len(args)))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, hotkey)
	query := fmt.Sprintf("UPDATE miners SET %s WHERE hotkey = $%d",
		strings.Join(sets, ", "), len(args))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update miner: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrMinerNotFound
	}

	return nil
}

// Delete removes a miner. Its events and snapshots cascade.
func (r *MinerRepository) Delete(ctx context.Context, hotkey string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM miners WHERE hotkey = $1`, hotkey); err != nil {
		return fmt.Errorf("failed to delete miner: %w", err)
	}
	return nil
}

// EventRepository handles arbitrage event database operations
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new arbitrage event record.
func (r *EventRepository) Create(ctx context.Context, event *ArbitrageEvent) error {
	query := `
		INSERT INTO arbitrage_events (miner_hotkey, pair, exchange_from, exchange_to,
			price_from, price_to, fee_from, fee_to, amount, profit, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		event.MinerHotkey, event.Pair, event.ExchangeFrom, event.ExchangeTo,
		event.PriceFrom, event.PriceTo, event.FeeFrom, event.FeeTo,
		event.Amount, event.Profit, event.CompletedAt,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to create arbitrage event: %w", err)
	}

	return nil
}

// SumProfitSince returns the sum of amount*profit over a miner's events
// completed after the given time. The window is bounded by timestamp so that
// events left over from earlier rollup periods are never double-counted.
func (r *EventRepository) SumProfitSince(ctx context.Context, hotkey string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount * profit), 0)
		FROM arbitrage_events
		WHERE miner_hotkey = $1 AND completed_at > $2`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, hotkey, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum profit: %w", err)
	}

	return total, nil
}

// ListByMiner retrieves a miner's events, most recent first.
func (r *EventRepository) ListByMiner(ctx context.Context, hotkey string, limit int) ([]*ArbitrageEvent, error) {
	query := `
		SELECT id, miner_hotkey, pair, exchange_from, exchange_to,
			price_from, price_to, fee_from, fee_to, amount, profit, completed_at
		FROM arbitrage_events
		WHERE miner_hotkey = $1
		ORDER BY completed_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, hotkey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []*ArbitrageEvent
	for rows.Next() {
		event := &ArbitrageEvent{}
		err := rows.Scan(
			&event.ID, &event.MinerHotkey, &event.Pair, &event.ExchangeFrom, &event.ExchangeTo,
			&event.PriceFrom, &event.PriceTo, &event.FeeFrom, &event.FeeTo,
			&event.Amount, &event.Profit, &event.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// SnapshotRepository handles daily profit snapshot database operations
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Create inserts a new daily snapshot.
func (r *SnapshotRepository) Create(ctx context.Context, snapshot *DailySnapshot) error {
	query := `
		INSERT INTO daily_snapshots (miner_hotkey, total_profit, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		snapshot.MinerHotkey, snapshot.TotalProfit, snapshot.CreatedAt,
	).Scan(&snapshot.ID)

	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	return nil
}

// RecentByMiner retrieves a miner's most recent snapshots, newest first.
func (r *SnapshotRepository) RecentByMiner(ctx context.Context, hotkey string, limit int) ([]*DailySnapshot, error) {
	query := `
		SELECT id, miner_hotkey, total_profit, created_at
		FROM daily_snapshots
		WHERE miner_hotkey = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, hotkey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var snapshots []*DailySnapshot
	for rows.Next() {
		snapshot := &DailySnapshot{}
		err := rows.Scan(
			&snapshot.ID, &snapshot.MinerHotkey, &snapshot.TotalProfit, &snapshot.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// LastCreatedAt returns the timestamp of a miner's most recent snapshot, or
// the Unix epoch when the miner has none.
func (r *SnapshotRepository) LastCreatedAt(ctx context.Context, hotkey string) (time.Time, error) {
	query := `
		SELECT COALESCE(MAX(created_at), 'epoch'::timestamptz)
		FROM daily_snapshots
		WHERE miner_hotkey = $1`

	var last time.Time
	if err := r.db.QueryRowContext(ctx, query, hotkey).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("failed to get last snapshot time: %w", err)
	}

	return last, nil
}

// OpportunityRepository handles the scanned opportunity table
type OpportunityRepository struct {
	db *sql.DB
}

// NewOpportunityRepository creates a new opportunity repository
func NewOpportunityRepository(db *sql.DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

// ReplaceAll reconciles the opportunity table against the new candidate set in
// a single transaction: rows keyed by (pair, exchange_from, exchange_to) that
// are absent from the new set are deleted, the rest are upserted.
func (r *OpportunityRepository) ReplaceAll(ctx context.Context, opportunities []Opportunity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if len(opportunities) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM opportunities`); err != nil {
			return fmt.Errorf("failed to clear opportunities: %w", err)
		}
		return tx.Commit()
	}

	// Delete rows not present in the new set.
	deleteQuery := `
		DELETE FROM opportunities
		WHERE NOT (pair, exchange_from, exchange_to) IN (`
	args := make([]any, 0, len(opportunities)*3)
	placeholders := make([]string, 0, len(opportunities))
	for _, opp := range opportunities {
		args = append(args, opp.Pair, opp.ExchangeFrom, opp.ExchangeTo)
		n := len(args)
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d)", n-2, n-1, n))
	}
	deleteQuery += strings.Join(placeholders, ", ") + ")"

	if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
		return fmt.Errorf("failed to delete stale opportunities: %w", err)
	}

	upsertQuery := `
		INSERT INTO opportunities (pair, exchange_from, exchange_to,
			price_from, price_to, volume, profit_pct, price_ratio, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pair, exchange_from, exchange_to) DO UPDATE SET
			price_from = EXCLUDED.price_from,
			price_to = EXCLUDED.price_to,
			volume = EXCLUDED.volume,
			profit_pct = EXCLUDED.profit_pct,
			price_ratio = EXCLUDED.price_ratio,
			observed_at = EXCLUDED.observed_at`

	for _, opp := range opportunities {
		if _, err := tx.ExecContext(ctx, upsertQuery,
			opp.Pair, opp.ExchangeFrom, opp.ExchangeTo,
			opp.PriceFrom, opp.PriceTo, opp.Volume,
			opp.ProfitPct, opp.PriceRatio, opp.ObservedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert opportunity: %w", err)
		}
	}

	return tx.Commit()
}

// List retrieves all stored opportunities ordered by ascending price ratio.
func (r *OpportunityRepository) List(ctx context.Context) ([]Opportunity, error) {
	query := `
		SELECT pair, exchange_from, exchange_to, price_from, price_to,
			volume, profit_pct, price_ratio, observed_at
		FROM opportunities
		ORDER BY price_ratio`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var opportunities []Opportunity
	for rows.Next() {
		var opp Opportunity
		err := rows.Scan(
			&opp.Pair, &opp.ExchangeFrom, &opp.ExchangeTo,
			&opp.PriceFrom, &opp.PriceTo, &opp.Volume,
			&opp.ProfitPct, &opp.PriceRatio, &opp.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		opportunities = append(opportunities, opp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating opportunities: %w", err)
	}

	return opportunities, nil
}
