// Package risk implements the pre-trade risk manager: file-backed
// limits applied as a gate in front of every BUY.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/metrics"
	"github.com/avkuzmin/sibyl/internal/store"
	"github.com/avkuzmin/sibyl/pkg/marketclock"
	"github.com/avkuzmin/sibyl/pkg/models"
)

// Limits holds the risk parameters, loaded from a JSON file.
type Limits struct {
	TotalCapital         float64 `json:"total_capital"`
	MaxPositionUSD       float64 `json:"max_position_usd"`
	MaxPortfolioExpoPct  float64 `json:"max_portfolio_exposure_pct"`
	MaxTickerExpoPct     float64 `json:"max_single_ticker_exposure_pct"`
	MaxPositionsOpen     int     `json:"max_positions_open"`
	DailyLossLimitUSD    float64 `json:"daily_loss_limit_usd"`
	DailyLossLimitPct    float64 `json:"daily_loss_limit_pct"`
	MinTradeSizeUSD      float64 `json:"min_trade_size_usd"`
	MaxTradeSizeUSD      float64 `json:"max_trade_size_usd"`
	CommissionRate       float64 `json:"commission_rate"`
	AllowPremarket       bool    `json:"allow_premarket"`
	TradingHoursOverride bool    `json:"trading_hours_override"` // operator escape hatch for off-hours paper trades
}

// DefaultLimits is the conservative configuration used when no risk
// file is present.
func DefaultLimits() Limits {
	return Limits{
		TotalCapital:        10_000,
		MaxPositionUSD:      2_000,
		MaxPortfolioExpoPct: 80,
		MaxTickerExpoPct:    25,
		MaxPositionsOpen:    5,
		DailyLossLimitUSD:   300,
		DailyLossLimitPct:   3,
		MinTradeSizeUSD:     100,
		MaxTradeSizeUSD:     2_000,
		CommissionRate:      0.001,
		AllowPremarket:      false,
	}
}

// LoadLimits reads the JSON limits file, falling back to defaults when
// the file is absent.
func LoadLimits(path string, log zerolog.Logger) Limits {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Info().Str("path", path).Msg("no risk config file, using conservative defaults")
		return DefaultLimits()
	}
	limits := DefaultLimits()
	if err := json.Unmarshal(data, &limits); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("bad risk config, using conservative defaults")
		return DefaultLimits()
	}
	return limits
}

// Request describes a would-be BUY for checking.
type Request struct {
	Ticker      string
	PositionUSD float64 // price × quantity
}

// Verdict is the check result handed back to the executor.
type Verdict struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Manager applies the limits against live portfolio state.
type Manager struct {
	store  *store.Store
	limits Limits
	now    func() time.Time
	log    zerolog.Logger
}

// New creates the risk manager. now may be nil for the wall clock.
func New(s *store.Store, limits Limits, now func() time.Time, log zerolog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:  s,
		limits: limits,
		now:    now,
		log:    log.With().Str("component", "risk").Logger(),
	}
}

// Limits returns the active limits.
func (m *Manager) Limits() Limits { return m.limits }

// Check runs every gate. All must pass; the first failure is returned
// as the reason and no partial state is touched.
func (m *Manager) Check(ctx context.Context, req Request) (Verdict, error) {
	deny := func(format string, args ...any) Verdict {
		metrics.RiskRejections.Inc()
		v := Verdict{Allow: false, Reason: fmt.Sprintf(format, args...)}
		m.log.Info().Str("ticker", req.Ticker).Str("reason", v.Reason).Msg("buy rejected")
		return v
	}

	// 1. Trade size bounds.
	if req.PositionUSD < m.limits.MinTradeSizeUSD {
		return deny("position $%.2f below broker minimum $%.2f", req.PositionUSD, m.limits.MinTradeSizeUSD), nil
	}
	if req.PositionUSD > m.limits.MaxPositionUSD || req.PositionUSD > m.limits.MaxTradeSizeUSD {
		return deny("position $%.2f above per-position limit", req.PositionUSD), nil
	}

	positions, err := m.store.Portfolio.OpenPositions(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("risk: read portfolio: %w", err)
	}

	// 2. Portfolio exposure.
	exposure, tickerExposure := 0.0, 0.0
	for _, p := range positions {
		value := m.markValue(ctx, p)
		exposure += value
		if p.Ticker == req.Ticker {
			tickerExposure += value
		}
	}
	maxExposure := m.limits.MaxPortfolioExpoPct / 100 * m.limits.TotalCapital
	if exposure+req.PositionUSD > maxExposure {
		return deny("portfolio exposure $%.2f + $%.2f exceeds %.0f%% of capital",
			exposure, req.PositionUSD, m.limits.MaxPortfolioExpoPct), nil
	}

	// 3. Single-ticker exposure.
	maxTicker := m.limits.MaxTickerExpoPct / 100 * m.limits.TotalCapital
	if tickerExposure+req.PositionUSD > maxTicker {
		return deny("%s exposure $%.2f + $%.2f exceeds %.0f%% of capital",
			req.Ticker, tickerExposure, req.PositionUSD, m.limits.MaxTickerExpoPct), nil
	}

	// 4. Open position count. Adding to an existing position does not
	// open a new slot.
	holdsTicker := false
	for _, p := range positions {
		if p.Ticker == req.Ticker {
			holdsTicker = true
		}
	}
	if !holdsTicker && len(positions) >= m.limits.MaxPositionsOpen {
		return deny("%d positions already open (limit %d)", len(positions), m.limits.MaxPositionsOpen), nil
	}

	// 5. Trading hours.
	if !m.limits.TradingHoursOverride {
		phase := marketclock.PhaseAt(m.now())
		inHours := phase == marketclock.Regular ||
			(m.limits.AllowPremarket && phase == marketclock.PreMarket)
		if !inHours {
			return deny("market session is %s", phase), nil
		}
	}

	// 6. Daily loss limit.
	pnl, err := m.store.Trades.RealizedPnLToday(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("risk: read daily pnl: %w", err)
	}
	loss := -pnl
	if loss > 0 {
		if loss >= m.limits.DailyLossLimitUSD {
			return deny("daily loss $%.2f at limit $%.2f", loss, m.limits.DailyLossLimitUSD), nil
		}
		if loss >= m.limits.DailyLossLimitPct/100*m.limits.TotalCapital {
			return deny("daily loss $%.2f at %.1f%% of capital", loss, m.limits.DailyLossLimitPct), nil
		}
	}

	return Verdict{Allow: true}, nil
}

// markValue prices a position at the latest stored close, falling back
// to the entry price when no quote exists yet.
func (m *Manager) markValue(ctx context.Context, p models.Position) float64 {
	latest, err := m.store.Quotes.Latest(ctx, p.Ticker)
	if err != nil {
		return p.Quantity * p.AvgEntryPrice
	}
	return p.Quantity * latest.Close
}
