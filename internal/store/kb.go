package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// KBRepo persists knowledge-base entries. Inserts are deduplicated;
// updates are restricted to the enrichment columns.
type KBRepo struct {
	s *Store
}

const kbColumns = `id, ts, ticker, source, content, event_type, importance, region,
	coalesce(link, ''), sentiment_score, insight, embedding, outcome_json`

func scanKBEntry(row pgx.Row) (models.KBEntry, error) {
	var (
		e       models.KBEntry
		vec     *pgvector.Vector
		outcome []byte
	)
	err := row.Scan(&e.ID, &e.Ts, &e.Ticker, &e.Source, &e.Content, &e.EventType,
		&e.Importance, &e.Region, &e.Link, &e.SentimentScore, &e.Insight, &vec, &outcome)
	if err != nil {
		return e, err
	}
	if vec != nil {
		e.Embedding = vec.Slice()
	}
	if len(outcome) > 0 {
		var o models.Outcome
		if err := json.Unmarshal(outcome, &o); err == nil {
			e.Outcome = &o
		}
	}
	return e, nil
}

// Insert stores a new entry, or returns the id of the deduplication
// match without writing anything. Dedup key is (source, link) when the
// link is non-empty, otherwise (ts, ticker, content hash). created
// reports whether a new row was written.
func (r *KBRepo) Insert(ctx context.Context, e models.KBEntry) (id int64, created bool, err error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	if strings.TrimSpace(e.Content) == "" {
		return 0, false, fmt.Errorf("kb: empty content")
	}
	if e.EventType == "" {
		e.EventType = models.EventNews
	}
	if e.Importance == "" {
		e.Importance = models.ImportanceMedium
	}
	if e.Region == "" {
		e.Region = models.RegionUSA
	}
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}
	hash := e.ContentHash()

	var emb any
	if len(e.Embedding) > 0 {
		v := pgvector.NewVector(e.Embedding)
		emb = v
	}

	err = r.s.pool.QueryRow(ctx,
		`INSERT INTO knowledge_base
			(ts, ticker, source, content, content_hash, event_type, importance, region,
			 link, sentiment_score, insight, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, nullif($9, ''), $10, $11, $12)
		 ON CONFLICT DO NOTHING
		 RETURNING id`,
		e.Ts, e.Ticker, e.Source, e.Content, hash, e.EventType, e.Importance, e.Region,
		e.Link, e.SentimentScore, e.Insight, emb).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("kb insert: %w", err)
	}

	// Conflict — resolve the existing row's id by the same dedup key.
	if e.Link != "" {
		err = r.s.pool.QueryRow(ctx,
			`SELECT id FROM knowledge_base WHERE source = $1 AND link = $2`,
			e.Source, e.Link).Scan(&id)
	} else {
		err = r.s.pool.QueryRow(ctx,
			`SELECT id FROM knowledge_base
			 WHERE ts = $1 AND ticker = $2 AND content_hash = $3 AND (link IS NULL OR link = '')`,
			e.Ts, e.Ticker, hash).Scan(&id)
	}
	if err != nil {
		return 0, false, fmt.Errorf("kb dedup lookup: %w", err)
	}
	return id, false, nil
}

// Get returns a single entry by id.
func (r *KBRepo) Get(ctx context.Context, id int64) (models.KBEntry, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	e, err := scanKBEntry(r.s.pool.QueryRow(ctx,
		`SELECT `+kbColumns+` FROM knowledge_base WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.KBEntry{}, ErrNotFound
	}
	return e, err
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	Ticker       string             // exact ticker
	IncludeMacro bool               // also match the macro sentinels
	MacroOnly    bool               // only the macro sentinels
	From, To     time.Time          // ts window
	EventTypes   []models.EventType // any of
	ContentLike  string             // case-insensitive substring on content
	Limit        int                // default 100
}

// Query returns entries matching the filter, newest first.
func (r *KBRepo) Query(ctx context.Context, f Filter) ([]models.KBEntry, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch {
	case f.MacroOnly:
		where = append(where, fmt.Sprintf("ticker IN (%s, %s)",
			arg(models.TickerMacro), arg(models.TickerUSMacro)))
	case f.Ticker != "" && f.IncludeMacro:
		where = append(where, fmt.Sprintf("(ticker = %s OR ticker IN (%s, %s))",
			arg(f.Ticker), arg(models.TickerMacro), arg(models.TickerUSMacro)))
	case f.Ticker != "":
		where = append(where, "ticker = "+arg(f.Ticker))
	}
	if !f.From.IsZero() {
		where = append(where, "ts >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "ts <= "+arg(f.To))
	}
	if len(f.EventTypes) > 0 {
		placeholders := make([]string, len(f.EventTypes))
		for i, et := range f.EventTypes {
			placeholders[i] = arg(string(et))
		}
		where = append(where, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.ContentLike != "" {
		where = append(where, "content ILIKE "+arg("%"+f.ContentLike+"%"))
	}

	q := `SELECT ` + kbColumns + ` FROM knowledge_base`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += fmt.Sprintf(" ORDER BY ts DESC LIMIT %d", limit)

	rows, err := r.s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KBEntry
	for rows.Next() {
		e, err := scanKBEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// KNN returns up to limit entries ranked by cosine similarity to the
// query vector, restricted to rows carrying an embedding. asOf bounds
// the search window for replay correctness; zero means no bound.
func (r *KBRepo) KNN(ctx context.Context, query []float32, ticker string, asOf time.Time, windowDays, limit int, minSimilarity float64) ([]models.SimilarEvent, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	vec := pgvector.NewVector(query)
	var (
		where = []string{"embedding IS NOT NULL"}
		args  = []any{vec}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if ticker != "" {
		where = append(where, "ticker = "+arg(ticker))
	}
	if windowDays > 0 {
		ref := asOf
		if ref.IsZero() {
			ref = time.Now().UTC()
		}
		where = append(where, "ts >= "+arg(ref.AddDate(0, 0, -windowDays)))
	}
	if !asOf.IsZero() {
		where = append(where, "ts <= "+arg(asOf))
	}
	if limit <= 0 {
		limit = 5
	}

	q := `SELECT ` + kbColumns + `, 1 - (embedding <=> $1) AS similarity
		FROM knowledge_base
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY embedding <=> $1
		LIMIT ` + fmt.Sprintf("%d", limit)

	rows, err := r.s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SimilarEvent
	for rows.Next() {
		var (
			e       models.KBEntry
			vecCol  *pgvector.Vector
			outcome []byte
			sim     float64
		)
		err := rows.Scan(&e.ID, &e.Ts, &e.Ticker, &e.Source, &e.Content, &e.EventType,
			&e.Importance, &e.Region, &e.Link, &e.SentimentScore, &e.Insight, &vecCol, &outcome, &sim)
		if err != nil {
			return nil, err
		}
		if sim < minSimilarity {
			continue
		}
		if vecCol != nil {
			e.Embedding = vecCol.Slice()
		}
		if len(outcome) > 0 {
			var o models.Outcome
			if json.Unmarshal(outcome, &o) == nil {
				e.Outcome = &o
			}
		}
		out = append(out, models.SimilarEvent{Entry: e, Similarity: sim})
	}
	return out, rows.Err()
}

// ── Enrichment selections ──

// PendingSentiment returns entries with no sentiment whose content is
// long enough to score, newest first.
func (r *KBRepo) PendingSentiment(ctx context.Context, maxAge time.Duration, limit int) ([]models.KBEntry, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := r.s.pool.Query(ctx,
		`SELECT `+kbColumns+` FROM knowledge_base
		 WHERE sentiment_score IS NULL AND length(content) >= 20 AND ts >= $1
		 ORDER BY ts DESC LIMIT $2`,
		time.Now().UTC().Add(-maxAge), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// PendingEmbeddings returns entries with no embedding and non-empty content.
func (r *KBRepo) PendingEmbeddings(ctx context.Context, limit int) ([]models.KBEntry, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := r.s.pool.Query(ctx,
		`SELECT `+kbColumns+` FROM knowledge_base
		 WHERE embedding IS NULL AND length(content) > 0
		 ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// RipeEvents returns entries old enough for outcome analysis that have
// none yet, excluding macro sentinels.
func (r *KBRepo) RipeEvents(ctx context.Context, daysAfter, limit int) ([]models.KBEntry, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -daysAfter)
	rows, err := r.s.pool.Query(ctx,
		`SELECT `+kbColumns+` FROM knowledge_base
		 WHERE outcome_json IS NULL
		   AND ts <= $1
		   AND ticker NOT IN ($2, $3)
		   AND ticker <> ''
		 ORDER BY ts ASC LIMIT $4`,
		cutoff, models.TickerMacro, models.TickerUSMacro, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]models.KBEntry, error) {
	var out []models.KBEntry
	for rows.Next() {
		e, err := scanKBEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── Enrichment updates (the only mutable columns) ──

// SetSentiment writes score and insight, only when the row has none yet.
func (r *KBRepo) SetSentiment(ctx context.Context, id int64, score float64, insight string) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := r.s.pool.Exec(ctx,
		`UPDATE knowledge_base SET sentiment_score = $2, insight = $3
		 WHERE id = $1 AND sentiment_score IS NULL`, id, score, insight)
	return err
}

// SetEmbedding writes the vector, only when the row has none yet.
func (r *KBRepo) SetEmbedding(ctx context.Context, id int64, embedding []float32) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := r.s.pool.Exec(ctx,
		`UPDATE knowledge_base SET embedding = $2
		 WHERE id = $1 AND embedding IS NULL`, id, pgvector.NewVector(embedding))
	return err
}

// SetOutcome writes the outcome record as JSONB.
func (r *KBRepo) SetOutcome(ctx context.Context, id int64, o models.Outcome) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = r.s.pool.Exec(ctx,
		`UPDATE knowledge_base SET outcome_json = $2
		 WHERE id = $1 AND outcome_json IS NULL`, id, data)
	return err
}
