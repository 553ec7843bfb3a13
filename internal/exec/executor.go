// Package exec mutates the simulated portfolio: risk-gated buys,
// position-closing sells and the stop/target/timeout exit sweep. Every
// decision's mutations happen in one database transaction under row
// locks, so a crash mid-decision leaves state unchanged.
package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/metrics"
	"github.com/avkuzmin/sibyl/internal/risk"
	"github.com/avkuzmin/sibyl/internal/store"
	"github.com/avkuzmin/sibyl/internal/strategy"
	"github.com/avkuzmin/sibyl/pkg/marketclock"
	"github.com/avkuzmin/sibyl/pkg/models"
)

// Common errors.
var (
	ErrRejected   = errors.New("exec: rejected by risk limits")
	ErrNoPosition = errors.New("exec: no open position")
	ErrNoPrice    = errors.New("exec: no price available")
)

// Position sizing weights per entry signal.
var signalWeights = map[models.Decision]float64{
	models.DecisionStrongBuy: 1.0,
	models.DecisionBuy:       0.5,
}

// Config holds executor tunables.
type Config struct {
	CommissionRate         float64
	SandboxSlippageSellPct float64  // haircut applied to market sells
	StopLossLevel          float64  // fallback stop when no strategy params apply
	FastTickers            []string // 5m-strategy tickers subject to the timeout rule
	HoldTimeoutDays        int      // trading days before a fast position times out (default 2)
}

// Executor applies decisions to the portfolio.
type Executor struct {
	store  *store.Store
	risk   *risk.Manager
	cfg    Config
	now    func() time.Time
	notify func(models.Trade)
	log    zerolog.Logger
}

// Option configures the executor.
type Option func(*Executor)

// WithClock injects a replay clock.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithTradeNotifier registers a sink for executed trades (the API's
// websocket hub).
func WithTradeNotifier(fn func(models.Trade)) Option {
	return func(e *Executor) { e.notify = fn }
}

// SetTradeNotifier registers the trade sink after construction, for
// wiring that only exists once the API server is up.
func (e *Executor) SetTradeNotifier(fn func(models.Trade)) {
	e.notify = fn
}

// New creates the executor.
func New(s *store.Store, riskMgr *risk.Manager, cfg Config, log zerolog.Logger, opts ...Option) *Executor {
	if cfg.HoldTimeoutDays <= 0 {
		cfg.HoldTimeoutDays = 2
	}
	e := &Executor{
		store: s,
		risk:  riskMgr,
		cfg:   cfg,
		now:   time.Now,
		log:   log.With().Str("component", "exec").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteDecision turns an analyst decision into at most one trade.
// HOLD, and SELL without a position, produce none.
func (e *Executor) ExecuteDecision(ctx context.Context, a *models.Analysis) (*models.Trade, error) {
	switch a.Decision {
	case models.DecisionStrongBuy, models.DecisionBuy:
		sentiment := a.WeightedSentiment
		trade, err := e.Buy(ctx, BuyRequest{
			Ticker:    a.Ticker,
			Signal:    a.Decision,
			Price:     a.EntryPrice,
			Strategy:  a.Strategy,
			Sentiment: &sentiment,
		})
		if errors.Is(err, ErrRejected) {
			return nil, nil
		}
		return trade, err
	case models.DecisionSell:
		trade, err := e.Sell(ctx, a.Ticker, models.SignalSignal, 0)
		if errors.Is(err, ErrNoPosition) {
			return nil, nil
		}
		return trade, err
	default:
		return nil, nil
	}
}

// BuyRequest describes one buy.
type BuyRequest struct {
	Ticker    string
	Signal    models.Decision // STRONG_BUY or BUY; drives default sizing
	Quantity  float64         // optional; 0 means size from the signal weight
	Price     float64         // optional; 0 means latest stored close
	Strategy  string
	Sentiment *float64
}

// Buy opens or adds to a position. The quantity defaults to
// floor(capital × weight / price). Gated by the risk manager; debits
// CASH and journals the trade in one transaction.
func (e *Executor) Buy(ctx context.Context, req BuyRequest) (*models.Trade, error) {
	price := req.Price
	if price <= 0 {
		latest, err := e.store.Quotes.Latest(ctx, req.Ticker)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoPrice, req.Ticker)
		}
		price = latest.Close
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, req.Ticker)
	}

	qty := req.Quantity
	if qty <= 0 {
		weight, ok := signalWeights[req.Signal]
		if !ok {
			return nil, fmt.Errorf("exec: signal %s does not size a buy", req.Signal)
		}
		qty = math.Floor(e.risk.Limits().TotalCapital * weight / price)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("exec: capital too small to buy %s at %.2f", req.Ticker, price)
	}

	verdict, err := e.risk.Check(ctx, risk.Request{Ticker: req.Ticker, PositionUSD: qty * price})
	if err != nil {
		return nil, err
	}
	if !verdict.Allow {
		return nil, fmt.Errorf("%w: %s", ErrRejected, verdict.Reason)
	}

	commission := price * qty * e.cfg.CommissionRate
	cost := price*qty + commission

	var trade models.Trade
	err = e.store.WithTx(ctx, func(tx pgx.Tx) error {
		cash, pos, err := e.lockPair(ctx, tx, req.Ticker)
		if err != nil {
			return err
		}
		if cash.Quantity < cost {
			return fmt.Errorf("%w: cash $%.2f below cost $%.2f", ErrRejected, cash.Quantity, cost)
		}

		// Weighted-average entry when adding to an existing position.
		newQty := pos.Quantity + qty
		newAvg := price
		if pos.Quantity > 0 {
			newAvg = (pos.Quantity*pos.AvgEntryPrice + qty*price) / newQty
		}

		if err := e.store.Portfolio.Set(ctx, tx, models.CashTicker, cash.Quantity-cost, 0); err != nil {
			return err
		}
		if err := e.store.Portfolio.Set(ctx, tx, req.Ticker, newQty, newAvg); err != nil {
			return err
		}

		trade, err = e.store.Trades.Append(ctx, tx, models.Trade{
			Ts:               e.now().UTC(),
			Ticker:           req.Ticker,
			Side:             models.SideBuy,
			Quantity:         qty,
			Price:            price,
			Commission:       commission,
			SignalType:       string(req.Signal),
			StrategyName:     req.Strategy,
			TotalValue:       price * qty,
			SentimentAtTrade: req.Sentiment,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesExecuted.WithLabelValues(string(models.SideBuy)).Inc()
	e.log.Info().Str("ticker", req.Ticker).Float64("qty", qty).Float64("price", price).
		Str("signal", string(req.Signal)).Msg("bought")
	e.emit(trade)
	return &trade, nil
}

// Sell closes the full position at the given price (latest close with
// the sandbox slippage haircut when zero), credits CASH and journals
// the trade with the realized context.
func (e *Executor) Sell(ctx context.Context, ticker, signalType string, price float64) (*models.Trade, error) {
	if price <= 0 {
		latest, err := e.store.Quotes.Latest(ctx, ticker)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoPrice, ticker)
		}
		price = latest.Close * (1 - e.cfg.SandboxSlippageSellPct/100)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, ticker)
	}

	var trade models.Trade
	err := e.store.WithTx(ctx, func(tx pgx.Tx) error {
		cash, pos, err := e.lockPair(ctx, tx, ticker)
		if err != nil {
			return err
		}
		if pos.Quantity <= 0 {
			return fmt.Errorf("%w: %s", ErrNoPosition, ticker)
		}

		proceeds := price * pos.Quantity
		commission := proceeds * e.cfg.CommissionRate

		if err := e.store.Portfolio.Set(ctx, tx, models.CashTicker, cash.Quantity+proceeds-commission, 0); err != nil {
			return err
		}
		if err := e.store.Portfolio.Set(ctx, tx, ticker, 0, 0); err != nil {
			return err
		}

		trade, err = e.store.Trades.Append(ctx, tx, models.Trade{
			Ts:         e.now().UTC(),
			Ticker:     ticker,
			Side:       models.SideSell,
			Quantity:   pos.Quantity,
			Price:      price,
			Commission: commission,
			SignalType: signalType,
			TotalValue: proceeds,
		})
		if err != nil {
			return err
		}

		pnl := (price - pos.AvgEntryPrice) * pos.Quantity
		e.log.Info().Str("ticker", ticker).Float64("qty", pos.Quantity).
			Float64("price", price).Float64("pnl", pnl).Str("signal", signalType).Msg("sold")
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesExecuted.WithLabelValues(string(models.SideSell)).Inc()
	e.emit(trade)
	return &trade, nil
}

// ApplyExitRules sweeps open positions and sells the ones that hit
// their stop, target or hold-time limit.
func (e *Executor) ApplyExitRules(ctx context.Context) ([]models.Trade, error) {
	positions, err := e.store.Portfolio.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.Trade
	for _, pos := range positions {
		latest, err := e.store.Quotes.Latest(ctx, pos.Ticker)
		if err != nil {
			// No price, no exit decision. Skip until quotes arrive.
			continue
		}
		price := latest.Close

		signalType := e.exitSignal(ctx, pos, price)
		if signalType == "" {
			continue
		}
		trade, err := e.Sell(ctx, pos.Ticker, signalType, 0)
		if err != nil {
			e.log.Warn().Err(err).Str("ticker", pos.Ticker).Msg("exit sell failed")
			continue
		}
		out = append(out, *trade)
	}
	return out, nil
}

// exitSignal decides whether a position must be closed, and why.
func (e *Executor) exitSignal(ctx context.Context, pos models.Position, price float64) string {
	stopPct, targetPct := e.positionParams(ctx, pos.Ticker)

	if price <= pos.AvgEntryPrice*(1-stopPct/100) {
		return models.SignalStopLoss
	}
	if targetPct > 0 && price >= pos.AvgEntryPrice*(1+targetPct/100) {
		return models.SignalTakeProfit
	}

	if e.isFastTicker(pos.Ticker) {
		if buy, err := e.store.Trades.LastBuy(ctx, pos.Ticker); err == nil {
			if marketclock.TradingDaysBetween(buy.Ts, e.now()) > e.cfg.HoldTimeoutDays {
				return models.SignalTimeout
			}
		}
	}
	return ""
}

// positionParams returns the stop/target for a position from the
// strategy recorded on its entry trade.
func (e *Executor) positionParams(ctx context.Context, ticker string) (stopPct, targetPct float64) {
	stopPct = e.cfg.StopLossLevel * 100
	if stopPct <= 0 {
		stopPct = 3
	}

	buy, err := e.store.Trades.LastBuy(ctx, ticker)
	if err != nil {
		return stopPct, 0
	}
	switch buy.StrategyName {
	case strategy.NameMomentum:
		return 3, 8
	case strategy.NameMeanReversion:
		return 5, 4
	case strategy.NameVolatileGap:
		return 7, 12
	default:
		return stopPct, 0
	}
}

func (e *Executor) isFastTicker(ticker string) bool {
	for _, t := range e.cfg.FastTickers {
		if t == ticker {
			return true
		}
	}
	return false
}

// lockPair locks the CASH row and the ticker row in lexical order so
// concurrent decisions on different tickers cannot deadlock.
func (e *Executor) lockPair(ctx context.Context, tx pgx.Tx, ticker string) (cash, pos models.Position, err error) {
	names := []string{models.CashTicker, ticker}
	sort.Strings(names)

	rows := make(map[string]models.Position, 2)
	for _, name := range names {
		p, err := e.store.Portfolio.GetForUpdate(ctx, tx, name)
		if err != nil {
			return models.Position{}, models.Position{}, err
		}
		rows[name] = p
	}
	return rows[models.CashTicker], rows[ticker], nil
}

func (e *Executor) emit(t models.Trade) {
	if e.notify != nil {
		e.notify(t)
	}
}
