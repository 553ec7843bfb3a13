// Package store owns PostgreSQL persistence: the connection pool,
// schema migrations, and one repository per aggregate (quotes,
// knowledge base, portfolio, trade journal).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// DefaultQueryTimeout bounds individual statements unless the caller
// already carries a deadline.
const DefaultQueryTimeout = 5 * time.Second

// Store wraps the pgx pool and hands out repositories.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger

	Quotes    *QuoteRepo
	KB        *KBRepo
	Portfolio *PortfolioRepo
	Trades    *TradeRepo
}

// Open connects to PostgreSQL, registers the pgvector codec on every
// connection, and pings the server. maxConns <= 0 selects the default of 8.
func Open(ctx context.Context, url string, maxConns int, log zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 8
	}
	cfg.MaxConns = int32(maxConns)
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		pool: pool,
		log:  log.With().Str("component", "store").Logger(),
	}
	s.Quotes = &QuoteRepo{s}
	s.KB = &KBRepo{s}
	s.Portfolio = &PortfolioRepo{s}
	s.Trades = &TradeRepo{s}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for transactional callers (the
// executor runs multi-row mutations in a single transaction).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// WithTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// opCtx attaches the default statement timeout when the caller has no
// deadline of its own.
func opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}
