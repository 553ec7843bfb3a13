// Package session is the market-session oracle: phase detection over
// the wall clock and pre-market context for a ticker. It is the only
// component allowed to call the quote capability for off-hours data.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/quotefeed"
	"github.com/avkuzmin/sibyl/pkg/marketclock"
)

// PremarketContext is the off-hours snapshot the analyst folds into a
// pre-market decision.
type PremarketContext struct {
	Ticker           string  `json:"ticker"`
	PrevClose        float64 `json:"prev_close"`
	PremarketLast    float64 `json:"premarket_last"`
	PremarketGapPct  float64 `json:"premarket_gap_pct"`
	MinutesUntilOpen int     `json:"minutes_until_open"`
	Err              string  `json:"error,omitempty"`
}

// Oracle answers session-phase and pre-market questions. A nil
// provider disables pre-market context (phase detection still works).
type Oracle struct {
	provider quotefeed.Provider
	now      func() time.Time
	log      zerolog.Logger
}

// New creates the oracle. now may be nil for the wall clock; backtests
// inject a replay clock.
func New(provider quotefeed.Provider, now func() time.Time, log zerolog.Logger) *Oracle {
	if now == nil {
		now = time.Now
	}
	return &Oracle{
		provider: provider,
		now:      now,
		log:      log.With().Str("component", "session").Logger(),
	}
}

// Phase returns the current session phase.
func (o *Oracle) Phase() marketclock.Phase {
	return marketclock.PhaseAt(o.now())
}

// MinutesUntilOpen returns minutes until the next regular open.
func (o *Oracle) MinutesUntilOpen() int {
	return marketclock.MinutesUntilOpen(o.now())
}

// Premarket returns the pre-market context for a ticker. Outside
// PRE_MARKET, or when the feed is unavailable, the Err field is set and
// the caller proceeds without gap context.
func (o *Oracle) Premarket(ctx context.Context, ticker string) PremarketContext {
	pc := PremarketContext{
		Ticker:           ticker,
		MinutesUntilOpen: o.MinutesUntilOpen(),
	}
	if o.Phase() != marketclock.PreMarket {
		pc.Err = fmt.Sprintf("session phase is %s, not PRE_MARKET", o.Phase())
		return pc
	}
	if o.provider == nil {
		pc.Err = "no quote provider configured"
		return pc
	}

	pm, err := o.provider.GetPremarket(ctx, ticker)
	if err != nil {
		o.log.Debug().Err(err).Str("ticker", ticker).Msg("premarket fetch failed")
		pc.Err = err.Error()
		return pc
	}
	pc.PrevClose = pm.PrevClose
	pc.PremarketLast = pm.Last
	pc.PremarketGapPct = pm.GapPct()
	return pc
}
