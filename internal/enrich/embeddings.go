package enrich

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/embed"
	"github.com/avkuzmin/sibyl/internal/metrics"
	"github.com/avkuzmin/sibyl/internal/store"
)

// Embedder backfills embeddings for rows with a NULL vector. The sweep
// is monotonic: an existing vector is never overwritten.
type Embedder struct {
	store    *store.Store
	provider embed.Provider
	log      zerolog.Logger
}

// NewEmbedder creates the sweep.
func NewEmbedder(s *store.Store, provider embed.Provider, log zerolog.Logger) *Embedder {
	return &Embedder{
		store:    s,
		provider: provider,
		log:      log.With().Str("component", "embeddings").Logger(),
	}
}

// BackfillEmbeddings embeds up to limit pending rows in batches of
// batchSize selections, then gives the ANN index a chance to appear.
// Returns the number of vectors written.
func (e *Embedder) BackfillEmbeddings(ctx context.Context, limit, batchSize int) (int, error) {
	if e.provider == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 200
	}
	if batchSize <= 0 || batchSize > limit {
		batchSize = 50
	}

	written := 0
	for written < limit {
		n := batchSize
		if remaining := limit - written; n > remaining {
			n = remaining
		}
		pending, err := e.store.KB.PendingEmbeddings(ctx, n)
		if err != nil {
			return written, err
		}
		if len(pending) == 0 {
			break
		}

		progressed := false
		for _, entry := range pending {
			vec, err := e.provider.Embed(ctx, entry.Content)
			if err != nil {
				metrics.EnrichFailures.WithLabelValues("embedding").Inc()
				e.log.Warn().Err(err).Int64("id", entry.ID).Msg("embedding failed, stopping batch")
				// Provider trouble affects every remaining row; stop
				// rather than hammer it.
				return written, nil
			}
			if err := e.store.KB.SetEmbedding(ctx, entry.ID, vec); err != nil {
				return written, err
			}
			written++
			progressed = true
		}
		if !progressed {
			break
		}
	}

	if written > 0 {
		e.log.Info().Int("embedded", written).Msg("embedding backfill complete")
		if err := e.store.EnsureVectorIndex(ctx); err != nil {
			e.log.Debug().Err(err).Msg("vector index check failed")
		}
	}
	return written, nil
}
