// Package kb is the knowledge-base service: deduplicated inserts,
// guarded enrichment updates, filtered queries and similar-event
// search over the embedding index.
package kb

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/embed"
	"github.com/avkuzmin/sibyl/internal/store"
	"github.com/avkuzmin/sibyl/pkg/models"
)

// Service fronts the knowledge-base repository. The embedding provider
// is optional; without it similar-event search degrades to empty
// results and the analyst proceeds without a prior.
type Service struct {
	store    *store.Store
	embedder embed.Provider
	log      zerolog.Logger
}

// New creates the knowledge-base service. embedder may be nil.
func New(s *store.Store, embedder embed.Provider, log zerolog.Logger) *Service {
	return &Service{
		store:    s,
		embedder: embedder,
		log:      log.With().Str("component", "kb").Logger(),
	}
}

// Insert stores an entry, returning the id of the new row or of the
// deduplication match. created reports whether a new row was written.
func (s *Service) Insert(ctx context.Context, e models.KBEntry) (int64, bool, error) {
	return s.store.KB.Insert(ctx, e)
}

// Get returns one entry by id.
func (s *Service) Get(ctx context.Context, id int64) (models.KBEntry, error) {
	return s.store.KB.Get(ctx, id)
}

// Query returns entries matching the filter, newest first.
func (s *Service) Query(ctx context.Context, f store.Filter) ([]models.KBEntry, error) {
	return s.store.KB.Query(ctx, f)
}

// SimilarOptions tunes similar-event search.
type SimilarOptions struct {
	Ticker         string    // restrict to one ticker; empty searches all
	AsOf           time.Time // replay bound; zero means now
	TimeWindowDays int       // how far back to search (default 365)
	Limit          int       // max hits (default 5)
	MinSimilarity  float64   // cosine similarity floor (default 0.55)
}

// SimilarTo embeds the query text and returns past entries ranked by
// cosine similarity. Returns nil (not an error) when no embedding
// provider is configured or the provider is down.
func (s *Service) SimilarTo(ctx context.Context, queryText string, opts SimilarOptions) ([]models.SimilarEvent, error) {
	if s.embedder == nil || queryText == "" {
		return nil, nil
	}
	if opts.TimeWindowDays <= 0 {
		opts.TimeWindowDays = 365
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = 0.55
	}

	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		s.log.Debug().Err(err).Msg("query embedding failed, skipping similar-event search")
		return nil, nil
	}

	return s.store.KB.KNN(ctx, vec, opts.Ticker, opts.AsOf, opts.TimeWindowDays, opts.Limit, opts.MinSimilarity)
}
