// Package analyst fuses technicals, weighted news sentiment,
// similar-event outcomes, optional LLM guidance and session context
// into a discrete trading decision per ticker.
package analyst

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/avkuzmin/sibyl/internal/kb"
	"github.com/avkuzmin/sibyl/internal/llm"
	"github.com/avkuzmin/sibyl/internal/session"
	"github.com/avkuzmin/sibyl/internal/store"
	"github.com/avkuzmin/sibyl/internal/strategy"
	"github.com/avkuzmin/sibyl/pkg/marketclock"
	"github.com/avkuzmin/sibyl/pkg/models"
)

// News windows for weighted sentiment.
const (
	tickerNewsWindow = 24 * time.Hour
	macroNewsWindow  = 72 * time.Hour
)

// Pre-market gap thresholds, in percent.
const (
	gapCautionPct = 2.0
	gapAvoidPct   = 5.0
)

// Analyst produces decisions. All reads are bounded by the injected
// clock, so a replay clock turns every analysis into a backtest step
// with no look-ahead.
type Analyst struct {
	store   *store.Store
	kb      *kb.Service
	oracle  *session.Oracle
	llm     llm.Provider // optional guidance
	now     func() time.Time
	minBars int
	log     zerolog.Logger
}

// Option configures the analyst.
type Option func(*Analyst)

// WithClock injects a replay clock for backtests.
func WithClock(now func() time.Time) Option {
	return func(a *Analyst) { a.now = now }
}

// WithLLM enables the LLM guidance step.
func WithLLM(p llm.Provider) Option {
	return func(a *Analyst) { a.llm = p }
}

// New creates the analyst.
func New(s *store.Store, kbSvc *kb.Service, oracle *session.Oracle, log zerolog.Logger, opts ...Option) *Analyst {
	a := &Analyst{
		store:   s,
		kb:      kbSvc,
		oracle:  oracle,
		now:     time.Now,
		minBars: 20,
		log:     log.With().Str("component", "analyst").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the full decision procedure for one ticker. useLLM
// additionally gates on the analyst having a provider at all.
func (a *Analyst) Analyze(ctx context.Context, ticker string, useLLM bool) (*models.Analysis, error) {
	now := a.now()
	result := &models.Analysis{
		Ticker:       ticker,
		Ts:           now,
		Decision:     models.DecisionHold,
		Strategy:     strategy.NameNeutral,
		SessionPhase: string(a.oracle.Phase()),
		EntryAdvice:  models.EntryOK,
	}

	// 1. Technicals. Insufficient history is a HOLD, never an error.
	bars, err := a.store.Quotes.History(ctx, ticker, now, a.minBars)
	if err != nil {
		return nil, fmt.Errorf("analyst: read quotes %s: %w", ticker, err)
	}
	if len(bars) < 5 {
		result.Reason = fmt.Sprintf("only %d bars of history", len(bars))
		return result, nil
	}
	latest := bars[len(bars)-1]
	result.Close = latest.Close
	result.EntryPrice = latest.Close

	avgVol20 := averageVolatility(bars)
	tech := models.DecisionHold
	if latest.SMA5 != nil && latest.Volatility5 != nil && avgVol20 != nil &&
		latest.Close > *latest.SMA5 && *latest.Volatility5 < *avgVol20 {
		tech = models.DecisionBuy
	}
	result.TechnicalSignal = tech

	// 2. Weighted sentiment.
	sentiment, newsCount, hasMacro, latestNews, err := a.weightedSentiment(ctx, ticker, now)
	if err != nil {
		return nil, fmt.Errorf("analyst: read news %s: %w", ticker, err)
	}
	result.WeightedSentiment = sentiment

	// 3. Similar-event prior from past outcomes.
	result.Prior = a.eventPrior(ctx, ticker, latestNews, now)

	// 4. Regime selection.
	state := strategy.MarketState{
		Ticker:       ticker,
		Close:        latest.Close,
		SMA5:         latest.SMA5,
		Volatility5:  latest.Volatility5,
		AvgVol20:     avgVol20,
		NewsCount:    newsCount,
		HasMacroNews: hasMacro,
		Sentiment:    sentiment,
	}
	regime := strategy.Select(state)
	signal := regime.CalculateSignal(state)
	result.Strategy = regime.Name()
	result.Confidence = signal.Confidence
	result.StopPct = signal.StopPct
	result.TargetPct = signal.TargetPct
	result.Reason = signal.Reason

	// 5. Pre-market context ahead of the LLM so the prompt can carry it.
	a.applyPremarket(ctx, ticker, result)

	// 6. Optional LLM guidance: it owns the strategy label and
	// confidence, and may force Hold, but never flips the mapping.
	if useLLM && a.llm != nil {
		if guidance := a.askGuidance(ctx, result, state); guidance != nil {
			result.Guidance = guidance
			if guidance.Confidence > 0 {
				result.Confidence = clamp01(guidance.Confidence)
			}
			if strings.EqualFold(guidance.Strategy, "hold") {
				result.Decision = models.DecisionHold
				result.Strategy = regime.Name()
				a.finish(result)
				return result, nil
			}
			if guidance.Strategy != "" {
				result.Strategy = guidance.Strategy
			}
		}
	}

	// 7. Final mapping from regime × technicals × sentiment.
	result.Decision = mapDecision(regime.Name(), tech, sentiment)
	a.finish(result)
	return result, nil
}

// finish derives the estimate fields from the final decision state.
func (a *Analyst) finish(r *models.Analysis) {
	r.EstimatedUpsidePctDay = r.TargetPct * r.Confidence
	if r.Close > 0 && r.TargetPct > 0 {
		r.SuggestedTakeProfitPrice = r.Close * (1 + r.TargetPct/100)
	}
}

// weightedSentiment aggregates recent news into a single score.
// Ticker-specific entries (or ones mentioning the symbol) weigh 2.0,
// macro entries 1.0. No news in window means a neutral 0.5.
func (a *Analyst) weightedSentiment(ctx context.Context, ticker string, now time.Time) (score float64, count int, hasMacro bool, latestNews string, err error) {
	entries, err := a.kb.Query(ctx, store.Filter{
		Ticker:       ticker,
		IncludeMacro: true,
		From:         now.Add(-macroNewsWindow),
		To:           now,
		Limit:        200,
	})
	if err != nil {
		return 0, 0, false, "", err
	}

	var weightedSum, weightTotal float64
	tickerCutoff := now.Add(-tickerNewsWindow)

	for _, e := range entries {
		isMacro := models.IsMacroTicker(e.Ticker)
		if isMacro {
			hasMacro = true
		} else if e.Ts.Before(tickerCutoff) {
			// Tickered news ages out after 24h; macro stays 72h.
			continue
		}
		count++
		if latestNews == "" && !isMacro {
			latestNews = e.Content
		}
		if e.SentimentScore == nil {
			continue
		}

		var w float64
		switch {
		case e.Ticker == ticker || mentionsTicker(e.Content, ticker):
			w = 2.0
		case isMacro:
			w = 1.0
		}
		if w == 0 {
			continue
		}
		weightedSum += *e.SentimentScore * w
		weightTotal += w
	}

	if weightTotal == 0 {
		return 0.5, count, hasMacro, latestNews, nil
	}
	return clamp01(weightedSum / weightTotal), count, hasMacro, latestNews, nil
}

// eventPrior searches for similar past events and aggregates their
// recorded outcomes. Missing embeddings or provider trouble simply
// yield no prior.
func (a *Analyst) eventPrior(ctx context.Context, ticker, latestNews string, now time.Time) *models.EventPrior {
	if latestNews == "" {
		return nil
	}
	similar, err := a.kb.SimilarTo(ctx, latestNews, kb.SimilarOptions{
		Ticker:         ticker,
		AsOf:           now,
		TimeWindowDays: 365,
		Limit:          10,
	})
	if err != nil || len(similar) == 0 {
		return nil
	}

	var changes []float64
	var sims []float64
	positive := 0
	for _, hit := range similar {
		if hit.Entry.Outcome == nil {
			continue
		}
		changes = append(changes, hit.Entry.Outcome.PriceChangePct)
		sims = append(sims, hit.Similarity)
		if hit.Entry.Outcome.Outcome == models.OutcomePositive {
			positive++
		}
	}
	if len(changes) == 0 {
		return nil
	}

	return &models.EventPrior{
		Events:         len(changes),
		AvgPriceChange: stat.Mean(changes, nil),
		SuccessRate:    float64(positive) / float64(len(changes)),
		Confidence:     clamp01(stat.Mean(sims, nil) * float64(len(changes)) / 10),
	}
}

// applyPremarket folds the pre-market gap into the entry advice.
func (a *Analyst) applyPremarket(ctx context.Context, ticker string, r *models.Analysis) {
	if a.oracle.Phase() != marketclock.PreMarket {
		return
	}
	pc := a.oracle.Premarket(ctx, ticker)
	if pc.Err != "" {
		return
	}
	gap := pc.PremarketGapPct
	r.PremarketGapPct = &gap

	abs := gap
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= gapAvoidPct:
		r.EntryAdvice = models.EntryAvoid
		r.PremarketEntry = models.PremarketWaitOpen
	case abs >= gapCautionPct:
		r.EntryAdvice = models.EntryCaution
		if gap > 0 {
			// Chasing a gap-up: work a limit between yesterday's close
			// and the pre-market print.
			limit := (pc.PrevClose + pc.PremarketLast) / 2
			r.PremarketEntry = models.PremarketLimitBelow
			r.PremarketLimit = &limit
		} else {
			r.PremarketEntry = models.PremarketWaitOpen
		}
	default:
		r.PremarketEntry = models.PremarketEnterNow
	}
}

// mapDecision is the final regime × technical × sentiment table.
func mapDecision(regime string, tech models.Decision, sentiment float64) models.Decision {
	techBuy := tech == models.DecisionBuy
	switch regime {
	case strategy.NameMomentum:
		switch {
		case techBuy && sentiment >= 0.7:
			return models.DecisionStrongBuy
		case techBuy && sentiment >= 0.5:
			return models.DecisionBuy
		default:
			return models.DecisionHold
		}
	case strategy.NameMeanReversion:
		switch {
		case techBuy && sentiment >= 0.7:
			return models.DecisionBuy
		case !techBuy && sentiment < 0.3:
			return models.DecisionSell
		default:
			return models.DecisionHold
		}
	case strategy.NameVolatileGap:
		switch {
		case techBuy && sentiment >= 0.7:
			return models.DecisionStrongBuy
		case techBuy && sentiment >= 0.5:
			return models.DecisionBuy
		case !techBuy && sentiment < 0.3:
			return models.DecisionSell
		default:
			return models.DecisionHold
		}
	default:
		return models.DecisionHold
	}
}

// averageVolatility returns the mean stored 5-bar volatility over the
// bars, or nil when fewer than 5 carry one.
func averageVolatility(bars []models.Quote) *float64 {
	var vols []float64
	for _, b := range bars {
		if b.Volatility5 != nil {
			vols = append(vols, *b.Volatility5)
		}
	}
	if len(vols) < 5 {
		return nil
	}
	v := stat.Mean(vols, nil)
	return &v
}

// mentionsTicker reports whether the text names the symbol as a word.
func mentionsTicker(content, ticker string) bool {
	upper := strings.ToUpper(content)
	ticker = strings.ToUpper(ticker)
	for idx := 0; ; {
		i := strings.Index(upper[idx:], ticker)
		if i < 0 {
			return false
		}
		i += idx
		leftOK := i == 0 || !isAlnum(upper[i-1])
		right := i + len(ticker)
		rightOK := right >= len(upper) || !isAlnum(upper[right])
		if leftOK && rightOK {
			return true
		}
		idx = i + len(ticker)
	}
}

func isAlnum(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
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
