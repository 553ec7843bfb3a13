// Package enrich implements the in-place knowledge-base enrichment
// sweeps: LLM sentiment scoring, embedding backfill, and post-event
// outcome analysis. Each sweep only fills NULL columns, so the sweeps
// commute and are safe to re-run.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/llm"
	"github.com/avkuzmin/sibyl/internal/metrics"
	"github.com/avkuzmin/sibyl/internal/store"
)

const sentimentSystem = `You are a financial sentiment rater. Given a news item, ` +
	`answer with a JSON object {"score": number, "insight": string}. ` +
	`score is the sentiment for the affected instrument on a 0.0-1.0 scale ` +
	`(0.0 strongly bearish, 0.5 neutral, 1.0 strongly bullish). ` +
	`insight is one sentence on the likely market impact. JSON only.`

// Sentimenter backfills sentiment scores for unsentimented entries.
// With an LLM provider it prompts for a score and insight; without one
// it falls back to the deterministic keyword scorer.
type Sentimenter struct {
	store    *store.Store
	provider llm.Provider
	lexicon  bool
	pace     time.Duration
	log      zerolog.Logger
}

// NewSentimenter creates the sweep. pace <= 0 selects the default
// 500 ms between LLM calls. lexicon enables the offline fallback when
// provider is nil.
func NewSentimenter(s *store.Store, provider llm.Provider, lexicon bool, pace time.Duration, log zerolog.Logger) *Sentimenter {
	if pace <= 0 {
		pace = 500 * time.Millisecond
	}
	return &Sentimenter{
		store:    s,
		provider: provider,
		lexicon:  lexicon,
		pace:     pace,
		log:      log.With().Str("component", "sentiment").Logger(),
	}
}

type sentimentAnswer struct {
	Score   float64 `json:"score"`
	Insight string  `json:"insight"`
}

// EnrichPending scores up to limit entries younger than maxAgeDays that
// have no sentiment yet. A parse failure skips the row; a transport
// failure stops the batch (the rows stay NULL and are retried later).
// Returns the number of rows written.
func (s *Sentimenter) EnrichPending(ctx context.Context, maxAgeDays, limit int) (int, error) {
	if s.provider == nil && !s.lexicon {
		return 0, nil
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 14
	}
	if limit <= 0 {
		limit = 50
	}

	pending, err := s.store.KB.PendingSentiment(ctx, time.Duration(maxAgeDays)*24*time.Hour, limit)
	if err != nil {
		return 0, err
	}

	written := 0
	for i, entry := range pending {
		if s.provider == nil {
			// Offline path: keyword scan, no pacing needed.
			score, insight, ok := lexiconScore(entry.Content)
			if !ok {
				continue
			}
			if err := s.store.KB.SetSentiment(ctx, entry.ID, score, insight); err != nil {
				return written, fmt.Errorf("write sentiment %d: %w", entry.ID, err)
			}
			written++
			continue
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return written, ctx.Err()
			case <-time.After(s.pace):
			}
		}

		resp, err := s.provider.Generate(ctx, sentimentSystem, entry.Content,
			&llm.Options{MaxTokens: 200})
		if err != nil {
			if errors.Is(err, llm.ErrRateLimit) || errors.Is(err, llm.ErrProviderDown) {
				s.log.Warn().Err(err).Msg("LLM transport error, stopping batch")
				return written, err
			}
			metrics.EnrichFailures.WithLabelValues("sentiment").Inc()
			s.log.Warn().Err(err).Int64("id", entry.ID).Msg("sentiment call failed")
			continue
		}

		var answer sentimentAnswer
		if err := llm.ExtractJSON(resp.Text, &answer); err != nil {
			metrics.EnrichFailures.WithLabelValues("sentiment").Inc()
			s.log.Debug().Err(err).Int64("id", entry.ID).Msg("unparseable sentiment answer")
			continue
		}
		score := clamp01(answer.Score)

		if err := s.store.KB.SetSentiment(ctx, entry.ID, score, answer.Insight); err != nil {
			return written, fmt.Errorf("write sentiment %d: %w", entry.ID, err)
		}
		written++
	}
	if written > 0 {
		s.log.Info().Int("scored", written).Msg("sentiment sweep complete")
	}
	return written, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
