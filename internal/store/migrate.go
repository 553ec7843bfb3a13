package store

import (
	"context"
	"fmt"
)

// migrations run in order inside a single transaction each. The schema
// is small enough that plain idempotent DDL beats a migration library.
var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS quotes (
		id           bigserial PRIMARY KEY,
		date         date        NOT NULL,
		ticker       varchar(16) NOT NULL,
		close        numeric     NOT NULL,
		volume       bigint      NOT NULL DEFAULT 0,
		sma_5        numeric,
		volatility_5 numeric,
		rsi          numeric(5,2),
		UNIQUE (date, ticker)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quotes_ticker_date ON quotes (ticker, date)`,

	`CREATE TABLE IF NOT EXISTS knowledge_base (
		id              serial PRIMARY KEY,
		ts              timestamp    NOT NULL,
		ticker          varchar(16)  NOT NULL,
		source          varchar(128) NOT NULL,
		content         text         NOT NULL,
		content_hash    char(64)     NOT NULL,
		event_type      varchar(50)  NOT NULL DEFAULT 'NEWS',
		importance      varchar(10)  NOT NULL DEFAULT 'MEDIUM',
		region          varchar(20)  NOT NULL DEFAULT 'USA',
		link            text,
		sentiment_score numeric(3,2),
		insight         text,
		embedding       vector(768),
		outcome_json    jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS idx_kb_ts ON knowledge_base (ts)`,
	`CREATE INDEX IF NOT EXISTS idx_kb_ticker ON knowledge_base (ticker)`,
	`CREATE INDEX IF NOT EXISTS idx_kb_event_type ON knowledge_base (event_type)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_kb_source_link
		ON knowledge_base (source, link) WHERE link IS NOT NULL AND link <> ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_kb_ts_ticker_hash
		ON knowledge_base (ts, ticker, content_hash) WHERE link IS NULL OR link = ''`,

	`CREATE TABLE IF NOT EXISTS portfolio_state (
		ticker          varchar(16) PRIMARY KEY,
		quantity        numeric   NOT NULL DEFAULT 0,
		avg_entry_price numeric   NOT NULL DEFAULT 0,
		last_updated    timestamp NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS trade_history (
		id                 serial PRIMARY KEY,
		ts                 timestamp   NOT NULL DEFAULT now(),
		ticker             varchar(16) NOT NULL,
		side               varchar(4)  NOT NULL,
		quantity           numeric     NOT NULL,
		price              numeric     NOT NULL,
		commission         numeric     NOT NULL DEFAULT 0,
		signal_type        varchar(32) NOT NULL,
		strategy_name      varchar(64),
		total_value        numeric     NOT NULL,
		sentiment_at_trade numeric(3,2)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_ticker_ts ON trade_history (ticker, ts)`,
}

// Migrate applies the schema. Safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	s.log.Debug().Int("statements", len(migrations)).Msg("schema migrated")

	// The ANN index needs training data; create it lazily once enough
	// rows carry embeddings. Re-invoked by the embedding backfill job.
	if err := s.EnsureVectorIndex(ctx); err != nil {
		s.log.Warn().Err(err).Msg("vector index not created yet")
	}
	return nil
}

// EnsureVectorIndex creates the IVF-flat cosine index once at least 10
// rows carry embeddings. A no-op before that threshold and after the
// index exists.
func (s *Store) EnsureVectorIndex(ctx context.Context) error {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM knowledge_base WHERE embedding IS NOT NULL`).Scan(&n); err != nil {
		return err
	}
	if n < 10 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_kb_embedding ON knowledge_base
		 USING ivfflat (embedding vector_cosine_ops)
		 WHERE embedding IS NOT NULL`)
	return err
}
