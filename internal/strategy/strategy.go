// Package strategy implements the regime selector: four stateless
// strategies sharing a suitability/signal interface, evaluated in
// priority order against the current market state.
package strategy

import (
	"fmt"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// MarketState is the technical and news snapshot a regime decides on.
// Indicator pointers are nil when history is insufficient.
type MarketState struct {
	Ticker       string
	Close        float64
	SMA5         *float64
	Volatility5  *float64
	AvgVol20     *float64 // mean 5-bar volatility over the last 20 bars
	NewsCount    int
	HasMacroNews bool
	Sentiment    float64 // weighted, [0,1]
}

// Signal is a regime's answer for the current state.
type Signal struct {
	Signal     models.Decision `json:"signal"` // BUY, STRONG_BUY, HOLD, SELL
	Confidence float64         `json:"confidence"`
	EntryPrice float64         `json:"entry_price"`
	StopPct    float64         `json:"stop_pct"`
	TargetPct  float64         `json:"target_pct"`
	Reason     string          `json:"reason"`
}

// Strategy is one trading regime. Implementations hold no mutable
// state; adding a regime means adding a type and a selector slot.
type Strategy interface {
	Name() string
	IsSuitable(s MarketState) bool
	CalculateSignal(s MarketState) Signal
}

// Regime names, also recorded on trades as strategy_name.
const (
	NameMomentum      = "Momentum"
	NameMeanReversion = "MeanReversion"
	NameVolatileGap   = "VolatileGap"
	NameNeutral       = "Neutral"
)

// Select evaluates the regimes in priority order and returns the first
// suitable one. Neutral always matches.
func Select(s MarketState) Strategy {
	for _, strat := range ordered {
		if strat.IsSuitable(s) {
			return strat
		}
	}
	return neutral{}
}

var ordered = []Strategy{momentum{}, meanReversion{}, volatileGap{}, neutral{}}

// ── Momentum ──

// momentum rides a calm uptrend: price above the short average with
// volatility at or below its recent norm and supportive sentiment.
type momentum struct{}

func (momentum) Name() string { return NameMomentum }

func (momentum) IsSuitable(s MarketState) bool {
	if s.SMA5 == nil || s.Volatility5 == nil || s.AvgVol20 == nil {
		return false
	}
	return s.Close > *s.SMA5 && *s.Volatility5 <= *s.AvgVol20 && s.Sentiment >= 0.55
}

func (momentum) CalculateSignal(s MarketState) Signal {
	sig := Signal{
		Signal:     models.DecisionBuy,
		Confidence: 0.6,
		EntryPrice: s.Close,
		StopPct:    3,
		TargetPct:  8,
	}
	// Strong trend plus strong sentiment upgrades the signal.
	if s.Sentiment >= 0.7 {
		sig.Signal = models.DecisionStrongBuy
		sig.Confidence = 0.8
	}
	sig.Reason = fmt.Sprintf("close %.2f above SMA5 %.2f in calm volatility, sentiment %.2f",
		s.Close, *s.SMA5, s.Sentiment)
	return sig
}

// ── Mean reversion ──

// meanReversion fades a stretched move: price far from the short
// average in elevated volatility with indifferent sentiment.
type meanReversion struct{}

func (meanReversion) Name() string { return NameMeanReversion }

func (meanReversion) IsSuitable(s MarketState) bool {
	if s.SMA5 == nil || *s.SMA5 == 0 || s.Volatility5 == nil || s.AvgVol20 == nil {
		return false
	}
	deviation := (s.Close - *s.SMA5) / *s.SMA5
	if deviation < 0 {
		deviation = -deviation
	}
	return deviation > 0.02 && *s.Volatility5 > *s.AvgVol20 &&
		s.Sentiment >= 0.30 && s.Sentiment <= 0.70
}

func (meanReversion) CalculateSignal(s MarketState) Signal {
	deviation := (s.Close - *s.SMA5) / *s.SMA5 * 100
	sig := Signal{
		Confidence: 0.55,
		EntryPrice: s.Close,
		StopPct:    5,
		TargetPct:  4,
		Reason:     fmt.Sprintf("close %.2f deviates %.1f%% from SMA5 in high volatility", s.Close, deviation),
	}
	// Buy the dip, sell the rip; holding is the default in between.
	switch {
	case deviation < -2:
		sig.Signal = models.DecisionBuy
	case deviation > 2:
		sig.Signal = models.DecisionSell
	default:
		sig.Signal = models.DecisionHold
	}
	return sig
}

// ── Volatile gap ──

// volatileGap trades volatility expansions driven by macro events or
// extreme sentiment.
type volatileGap struct{}

func (volatileGap) Name() string { return NameVolatileGap }

func (volatileGap) IsSuitable(s MarketState) bool {
	if s.Volatility5 == nil || s.AvgVol20 == nil {
		return false
	}
	if *s.Volatility5 <= 1.5*(*s.AvgVol20) {
		return false
	}
	return s.HasMacroNews || s.Sentiment > 0.8 || s.Sentiment < 0.2
}

func (volatileGap) CalculateSignal(s MarketState) Signal {
	sig := Signal{
		Confidence: 0.5,
		EntryPrice: s.Close,
		StopPct:    7,
		TargetPct:  12,
	}
	switch {
	case s.Sentiment >= 0.7:
		sig.Signal = models.DecisionStrongBuy
		sig.Confidence = 0.65
	case s.Sentiment <= 0.3:
		sig.Signal = models.DecisionSell
		sig.Confidence = 0.65
	default:
		sig.Signal = models.DecisionHold
	}
	sig.Reason = fmt.Sprintf("volatility %.2f above 1.5×%.2f with %s",
		*s.Volatility5, *s.AvgVol20, gapTrigger(s))
	return sig
}

func gapTrigger(s MarketState) string {
	if s.HasMacroNews {
		return "fresh macro news"
	}
	return fmt.Sprintf("extreme sentiment %.2f", s.Sentiment)
}

// ── Neutral ──

// neutral is the fallback: no edge, no trade.
type neutral struct{}

func (neutral) Name() string { return NameNeutral }

func (neutral) IsSuitable(MarketState) bool { return true }

func (neutral) CalculateSignal(s MarketState) Signal {
	return Signal{
		Signal:     models.DecisionHold,
		Confidence: 0.3,
		EntryPrice: s.Close,
		Reason:     "no regime matched current conditions",
	}
}
