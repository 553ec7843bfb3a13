package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/quotefeed"
	"github.com/avkuzmin/sibyl/internal/store"
	"github.com/avkuzmin/sibyl/pkg/models"
)

// Service owns the quote table: it pulls bars from the provider,
// upserts them, and recomputes indicators for the affected rows.
type Service struct {
	store    *store.Store
	provider quotefeed.Provider
	rsi      quotefeed.RSIProvider // optional
	log      zerolog.Logger
}

// New creates the quote service. rsi may be nil.
func New(s *store.Store, provider quotefeed.Provider, rsi quotefeed.RSIProvider, log zerolog.Logger) *Service {
	return &Service{
		store:    s,
		provider: provider,
		rsi:      rsi,
		log:      log.With().Str("component", "quotes").Logger(),
	}
}

// UpsertBars inserts bars missing by (ticker, date) and recomputes
// indicators from the earliest date in bars.
func (s *Service) UpsertBars(ctx context.Context, ticker string, bars []models.Bar) (int, error) {
	inserted, err := s.store.Quotes.UpsertBars(ctx, ticker, bars)
	if err != nil {
		return 0, err
	}
	if inserted == 0 {
		return 0, nil
	}

	from := bars[0].Date
	for _, b := range bars {
		if b.Date.Before(from) {
			from = b.Date
		}
	}
	if err := s.RecomputeIndicators(ctx, ticker, from); err != nil {
		return inserted, fmt.Errorf("recompute indicators %s: %w", ticker, err)
	}
	return inserted, nil
}

// RecomputeIndicators recomputes sma_5, volatility_5 and rsi for all
// bars of ticker dated >= from. A zero from recomputes everything.
// Each bar only looks back, so rows before from are unaffected.
func (s *Service) RecomputeIndicators(ctx context.Context, ticker string, from time.Time) error {
	// Pull enough history before from to seed the RSI smoothing.
	lookback := from
	if !from.IsZero() {
		lookback = from.AddDate(0, 0, -3*rsiPeriod)
	}
	all, err := s.store.Quotes.Range(ctx, ticker, lookback, time.Now().UTC().AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return nil
	}

	closes := make([]float64, len(all))
	for i, q := range all {
		closes[i] = q.Close
	}

	for i, q := range all {
		if !from.IsZero() && q.Date.Before(from) {
			continue
		}
		sma := sma5At(closes, i)
		vol := volatility5At(closes, i)
		rsi := rsiAt(closes, i)
		if err := s.store.Quotes.UpdateIndicators(ctx, ticker, q.Date, sma, vol, rsi); err != nil {
			return err
		}
	}
	return nil
}

// Refresh pulls the last lookbackDays of bars for each ticker from the
// provider. One ticker's failure is logged and does not affect others;
// the failed ticker is retried on the next cycle.
func (s *Service) Refresh(ctx context.Context, tickers []string, lookbackDays int) {
	if lookbackDays <= 0 {
		lookbackDays = 60
	}
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -lookbackDays)

	for _, ticker := range tickers {
		bars, err := s.provider.GetBars(ctx, ticker, from, now)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("quote fetch failed")
			continue
		}
		inserted, err := s.UpsertBars(ctx, ticker, bars)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("quote upsert failed")
			continue
		}
		if inserted > 0 {
			s.log.Info().Str("ticker", ticker).Int("bars", inserted).Msg("quotes updated")
		}
		s.importRSI(ctx, ticker)
	}
}

// importRSI overwrites the computed RSI on the latest bar with the
// provider's value when an external RSI source is configured.
func (s *Service) importRSI(ctx context.Context, ticker string) {
	if s.rsi == nil {
		return
	}
	val, err := s.rsi.GetRSI(ctx, ticker)
	if err != nil {
		s.log.Debug().Err(err).Str("ticker", ticker).Msg("external RSI unavailable")
		return
	}
	if val < 0 || val > 100 {
		return
	}
	latest, err := s.store.Quotes.Latest(ctx, ticker)
	if err != nil {
		return
	}
	if err := s.store.Quotes.UpdateRSI(ctx, ticker, latest.Date, val); err != nil {
		s.log.Warn().Err(err).Str("ticker", ticker).Msg("RSI import failed")
	}
}
