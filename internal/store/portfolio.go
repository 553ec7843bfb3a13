package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// PortfolioRepo persists portfolio state. Mutations happen only inside
// the executor's transaction, under row locks on the affected tickers.
type PortfolioRepo struct {
	s *Store
}

// Get returns the row for a ticker.
func (r *PortfolioRepo) Get(ctx context.Context, ticker string) (models.Position, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var p models.Position
	err := r.s.pool.QueryRow(ctx,
		`SELECT ticker, quantity, avg_entry_price, last_updated
		 FROM portfolio_state WHERE ticker = $1`, ticker).
		Scan(&p.Ticker, &p.Quantity, &p.AvgEntryPrice, &p.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Position{}, ErrNotFound
	}
	return p, err
}

// All returns every portfolio row, CASH included.
func (r *PortfolioRepo) All(ctx context.Context) ([]models.Position, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := r.s.pool.Query(ctx,
		`SELECT ticker, quantity, avg_entry_price, last_updated
		 FROM portfolio_state ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var p models.Position
		if err := rows.Scan(&p.Ticker, &p.Quantity, &p.AvgEntryPrice, &p.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OpenPositions returns instrument rows with quantity > 0.
func (r *PortfolioRepo) OpenPositions(ctx context.Context) ([]models.Position, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Position
	for _, p := range all {
		if p.Open() {
			out = append(out, p)
		}
	}
	return out, nil
}

// EnsureCash seeds the CASH row with the initial balance if absent.
func (r *PortfolioRepo) EnsureCash(ctx context.Context, initial float64) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := r.s.pool.Exec(ctx,
		`INSERT INTO portfolio_state (ticker, quantity, avg_entry_price, last_updated)
		 VALUES ($1, $2, 0, now())
		 ON CONFLICT (ticker) DO NOTHING`, models.CashTicker, initial)
	return err
}

// GetForUpdate locks and returns a row inside the caller's transaction.
// A missing row is created with zero quantity before locking, so every
// trade sees a stable lock target.
func (r *PortfolioRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, ticker string) (models.Position, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO portfolio_state (ticker, quantity, avg_entry_price, last_updated)
		 VALUES ($1, 0, 0, now())
		 ON CONFLICT (ticker) DO NOTHING`, ticker)
	if err != nil {
		return models.Position{}, fmt.Errorf("seed portfolio row %s: %w", ticker, err)
	}

	var p models.Position
	err = tx.QueryRow(ctx,
		`SELECT ticker, quantity, avg_entry_price, last_updated
		 FROM portfolio_state WHERE ticker = $1 FOR UPDATE`, ticker).
		Scan(&p.Ticker, &p.Quantity, &p.AvgEntryPrice, &p.LastUpdated)
	return p, err
}

// Set writes quantity and entry price for a row inside the caller's
// transaction. The row must already be locked via GetForUpdate.
func (r *PortfolioRepo) Set(ctx context.Context, tx pgx.Tx, ticker string, quantity, avgEntry float64) error {
	_, err := tx.Exec(ctx,
		`UPDATE portfolio_state
		 SET quantity = $2, avg_entry_price = $3, last_updated = now()
		 WHERE ticker = $1`, ticker, quantity, avgEntry)
	return err
}

// ── Trade journal ──

// TradeRepo appends to and reads the trade journal. Rows are never
// updated after insert.
type TradeRepo struct {
	s *Store
}

// Append inserts a journal row inside the caller's transaction and
// returns it with id and timestamp filled in.
func (r *TradeRepo) Append(ctx context.Context, tx pgx.Tx, t models.Trade) (models.Trade, error) {
	if t.Ts.IsZero() {
		t.Ts = time.Now().UTC()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO trade_history
			(ts, ticker, side, quantity, price, commission, signal_type,
			 strategy_name, total_value, sentiment_at_trade)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, nullif($8, ''), $9, $10)
		 RETURNING id`,
		t.Ts, t.Ticker, t.Side, t.Quantity, t.Price, t.Commission, t.SignalType,
		t.StrategyName, t.TotalValue, t.SentimentAtTrade).Scan(&t.ID)
	if err != nil {
		return models.Trade{}, fmt.Errorf("append trade: %w", err)
	}
	return t, nil
}

// Recent returns the latest journal rows, optionally filtered by ticker.
func (r *TradeRepo) Recent(ctx context.Context, ticker string, limit int) ([]models.Trade, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, ts, ticker, side, quantity, price, commission, signal_type,
			coalesce(strategy_name, ''), total_value, sentiment_at_trade
		FROM trade_history`
	args := []any{}
	if ticker != "" {
		q += ` WHERE ticker = $1`
		args = append(args, ticker)
	}
	q += fmt.Sprintf(` ORDER BY ts DESC LIMIT %d`, limit)

	rows, err := r.s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		err := rows.Scan(&t.ID, &t.Ts, &t.Ticker, &t.Side, &t.Quantity, &t.Price,
			&t.Commission, &t.SignalType, &t.StrategyName, &t.TotalValue, &t.SentimentAtTrade)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LastBuy returns the most recent BUY for a ticker, used by the
// executor's hold-time rule.
func (r *TradeRepo) LastBuy(ctx context.Context, ticker string) (models.Trade, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var t models.Trade
	err := r.s.pool.QueryRow(ctx,
		`SELECT id, ts, ticker, side, quantity, price, commission, signal_type,
			coalesce(strategy_name, ''), total_value, sentiment_at_trade
		 FROM trade_history WHERE ticker = $1 AND side = 'BUY'
		 ORDER BY ts DESC LIMIT 1`, ticker).
		Scan(&t.ID, &t.Ts, &t.Ticker, &t.Side, &t.Quantity, &t.Price,
			&t.Commission, &t.SignalType, &t.StrategyName, &t.TotalValue, &t.SentimentAtTrade)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Trade{}, ErrNotFound
	}
	return t, err
}

// RealizedPnLToday returns today's net cash delta from the journal
// (sell proceeds minus buy cost, commissions included). The risk
// manager treats it as the day's realized PnL.
func (r *TradeRepo) RealizedPnLToday(ctx context.Context) (float64, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var pnl float64
	err := r.s.pool.QueryRow(ctx,
		`SELECT coalesce(sum(
			CASE WHEN side = 'SELL' THEN total_value - commission
			     ELSE -(total_value + commission) END), 0)
		 FROM trade_history WHERE ts::date = now()::date`).Scan(&pnl)
	return pnl, err
}
