package enrich

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/avkuzmin/sibyl/internal/metrics"
	"github.com/avkuzmin/sibyl/internal/store"
	"github.com/avkuzmin/sibyl/pkg/models"
)

// Outcome classification thresholds, in percent.
const (
	outcomePositivePct = 2.0
	outcomeNegativePct = -2.0
)

// OutcomeAnalyzer computes post-event price outcomes for ripe entries.
// An event is ripe when it is older than the horizon and quotes exist
// at both anchors; macro sentinels are skipped at selection time.
type OutcomeAnalyzer struct {
	store *store.Store
	log   zerolog.Logger
}

// NewOutcomeAnalyzer creates the sweep.
func NewOutcomeAnalyzer(s *store.Store, log zerolog.Logger) *OutcomeAnalyzer {
	return &OutcomeAnalyzer{
		store: s,
		log:   log.With().Str("component", "outcomes").Logger(),
	}
}

// AnalyzeRipeEvents processes up to limit ripe entries. Entries with
// missing anchor quotes are skipped (left NULL) and revisited by later
// sweeps once quotes arrive. Returns the number of outcomes written.
func (a *OutcomeAnalyzer) AnalyzeRipeEvents(ctx context.Context, daysAfter, limit int) (int, error) {
	if daysAfter <= 0 {
		daysAfter = 7
	}
	if limit <= 0 {
		limit = 100
	}

	ripe, err := a.store.KB.RipeEvents(ctx, daysAfter, limit)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, entry := range ripe {
		outcome, ok, err := a.analyzeOne(ctx, entry, daysAfter)
		if err != nil {
			return written, err
		}
		if !ok {
			continue
		}
		if err := a.store.KB.SetOutcome(ctx, entry.ID, outcome); err != nil {
			metrics.EnrichFailures.WithLabelValues("outcome").Inc()
			return written, err
		}
		written++
	}
	if written > 0 {
		a.log.Info().Int("analyzed", written).Msg("outcome sweep complete")
	}
	return written, nil
}

func (a *OutcomeAnalyzer) analyzeOne(ctx context.Context, entry models.KBEntry, daysAfter int) (models.Outcome, bool, error) {
	eventDate := entry.Ts

	base, err := a.store.Quotes.At(ctx, entry.Ticker, eventDate)
	if errors.Is(err, store.ErrNotFound) {
		return models.Outcome{}, false, nil
	}
	if err != nil {
		return models.Outcome{}, false, err
	}

	after, err := a.store.Quotes.AtOrAfter(ctx, entry.Ticker, eventDate.AddDate(0, 0, daysAfter))
	if errors.Is(err, store.ErrNotFound) {
		return models.Outcome{}, false, nil
	}
	if err != nil {
		return models.Outcome{}, false, err
	}
	if base.Close == 0 {
		return models.Outcome{}, false, nil
	}

	interval, err := a.store.Quotes.Range(ctx, entry.Ticker, base.Date, after.Date)
	if err != nil {
		return models.Outcome{}, false, err
	}

	changePct := (after.Close - base.Close) / base.Close * 100

	maxUp, maxDown := 0.0, 0.0
	closes := make([]float64, 0, len(interval))
	for _, q := range interval {
		closes = append(closes, q.Close)
		pct := (q.Close - base.Close) / base.Close * 100
		if pct > maxUp {
			maxUp = pct
		}
		if pct < maxDown {
			maxDown = pct
		}
	}

	out := models.Outcome{
		PriceAtEvent:   base.Close,
		PriceAfter:     after.Close,
		PriceChangePct: changePct,
		MaxUpPct:       maxUp,
		MaxDownPct:     maxDown,
		DaysAfter:      daysAfter,
		Outcome:        classify(changePct),
	}

	// Volatility shift across the event: stored 5-bar volatility at
	// both anchors when present, interval stddev as the fallback.
	switch {
	case base.Volatility5 != nil && after.Volatility5 != nil && *base.Volatility5 > 0:
		out.VolatilityChangePct = (*after.Volatility5 - *base.Volatility5) / *base.Volatility5 * 100
	case len(closes) >= 3:
		mid := len(closes) / 2
		before, post := stat.StdDev(closes[:mid+1], nil), stat.StdDev(closes[mid:], nil)
		if before > 0 {
			out.VolatilityChangePct = (post - before) / before * 100
		}
	}

	if entry.SentimentScore != nil {
		match := sentimentMatches(*entry.SentimentScore, changePct)
		out.SentimentMatch = &match
	}
	return out, true, nil
}

func classify(changePct float64) models.OutcomeLabel {
	switch {
	case changePct >= outcomePositivePct:
		return models.OutcomePositive
	case changePct <= outcomeNegativePct:
		return models.OutcomeNegative
	default:
		return models.OutcomeNeutral
	}
}

// sentimentMatches reports whether the sign of (sentiment − 0.5) agrees
// with the sign of the realized change.
func sentimentMatches(score, changePct float64) bool {
	switch {
	case score > 0.5:
		return changePct > 0
	case score < 0.5:
		return changePct < 0
	default:
		return changePct == 0
	}
}
