package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// QuoteRepo persists OHLC bars and their derived indicators.
// The quote table is write-owned by the quote service.
type QuoteRepo struct {
	s *Store
}

const quoteColumns = `id, ticker, date, close, volume, sma_5, volatility_5, rsi`

func scanQuote(row pgx.Row) (models.Quote, error) {
	var q models.Quote
	err := row.Scan(&q.ID, &q.Ticker, &q.Date, &q.Close, &q.Volume, &q.SMA5, &q.Volatility5, &q.RSI)
	return q, err
}

// UpsertBars inserts bars missing by (ticker, date). Reinsertion is a
// no-op. Returns the number of newly inserted rows.
func (r *QuoteRepo) UpsertBars(ctx context.Context, ticker string, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	ctx, cancel := opCtx(ctx)
	defer cancel()

	inserted := 0
	err := r.s.WithTx(ctx, func(tx pgx.Tx) error {
		for _, b := range bars {
			tag, err := tx.Exec(ctx,
				`INSERT INTO quotes (date, ticker, close, volume)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (date, ticker) DO NOTHING`,
				b.Date, ticker, b.Close, b.Volume)
			if err != nil {
				return fmt.Errorf("insert bar %s %s: %w", ticker, b.Date.Format("2006-01-02"), err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	return inserted, err
}

// History returns up to limit bars for ticker with date <= asOf,
// oldest first. asOf.IsZero() means no upper bound.
func (r *QuoteRepo) History(ctx context.Context, ticker string, asOf time.Time, limit int) ([]models.Quote, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	q := `SELECT ` + quoteColumns + ` FROM quotes WHERE ticker = $1`
	args := []any{ticker}
	if !asOf.IsZero() {
		q += ` AND date <= $2`
		args = append(args, asOf)
	}
	q += fmt.Sprintf(` ORDER BY date DESC LIMIT %d`, limit)

	rows, err := r.s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Quote
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, quote)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Latest returns the most recent bar for ticker.
func (r *QuoteRepo) Latest(ctx context.Context, ticker string) (models.Quote, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	q, err := scanQuote(r.s.pool.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE ticker = $1 ORDER BY date DESC LIMIT 1`, ticker))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Quote{}, ErrNotFound
	}
	return q, err
}

// At returns the bar at the nearest trading day <= date within a 7-day
// lookback, used to anchor outcome analysis.
func (r *QuoteRepo) At(ctx context.Context, ticker string, date time.Time) (models.Quote, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	q, err := scanQuote(r.s.pool.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes
		 WHERE ticker = $1 AND date <= $2 AND date > $2::date - 7
		 ORDER BY date DESC LIMIT 1`, ticker, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Quote{}, ErrNotFound
	}
	return q, err
}

// AtOrAfter returns the bar at the nearest trading day >= date within a
// 7-day lookahead.
func (r *QuoteRepo) AtOrAfter(ctx context.Context, ticker string, date time.Time) (models.Quote, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	q, err := scanQuote(r.s.pool.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes
		 WHERE ticker = $1 AND date >= $2 AND date < $2::date + 7
		 ORDER BY date ASC LIMIT 1`, ticker, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Quote{}, ErrNotFound
	}
	return q, err
}

// Range returns all bars in [from, to], oldest first.
func (r *QuoteRepo) Range(ctx context.Context, ticker string, from, to time.Time) ([]models.Quote, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := r.s.pool.Query(ctx,
		`SELECT `+quoteColumns+` FROM quotes
		 WHERE ticker = $1 AND date >= $2 AND date <= $3
		 ORDER BY date ASC`, ticker, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpdateIndicators writes the derived indicator columns for one bar.
// Nil pointers clear the column.
func (r *QuoteRepo) UpdateIndicators(ctx context.Context, ticker string, date time.Time, sma5, vol5, rsi *float64) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := r.s.pool.Exec(ctx,
		`UPDATE quotes SET sma_5 = $3, volatility_5 = $4, rsi = $5
		 WHERE ticker = $1 AND date = $2`,
		ticker, date, sma5, vol5, rsi)
	return err
}

// UpdateRSI overwrites only the RSI column, used when an external RSI
// provider supplies a fresher value than the computed one.
func (r *QuoteRepo) UpdateRSI(ctx context.Context, ticker string, date time.Time, rsi float64) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := r.s.pool.Exec(ctx,
		`UPDATE quotes SET rsi = $3 WHERE ticker = $1 AND date = $2`,
		ticker, date, rsi)
	return err
}
