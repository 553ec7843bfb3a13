package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/avkuzmin/sibyl/internal/llm"
	"github.com/avkuzmin/sibyl/internal/strategy"
	"github.com/avkuzmin/sibyl/pkg/models"
)

const guidanceSystem = `You are a trading strategy advisor. Given a market snapshot, ` +
	`answer with a JSON object only: {"strategy": string, "reasoning": string, ` +
	`"confidence": number, "entry_price": number, "stop_loss": number, "take_profit": number}. ` +
	`strategy is one of "Momentum", "MeanReversion", "VolatileGap", "Hold". ` +
	`confidence is 0.0-1.0. Sentiment figures are on a 0.0-1.0 scale where 0.5 is neutral. ` +
	`Choose "Hold" when conditions are unclear.`

// askGuidance submits the snapshot prompt and parses the strict-JSON
// answer. Any failure degrades to no guidance.
func (a *Analyst) askGuidance(ctx context.Context, r *models.Analysis, state strategy.MarketState) *models.LLMGuidance {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ticker: %s\nClose: %.2f\n", r.Ticker, r.Close)
	if state.SMA5 != nil {
		fmt.Fprintf(&sb, "SMA5: %.2f\n", *state.SMA5)
	}
	if state.Volatility5 != nil && state.AvgVol20 != nil {
		fmt.Fprintf(&sb, "Volatility5: %.3f (20-bar average %.3f)\n", *state.Volatility5, *state.AvgVol20)
	}
	fmt.Fprintf(&sb, "Technical signal: %s\n", r.TechnicalSignal)
	fmt.Fprintf(&sb, "Weighted news sentiment: %.2f over %d items\n", state.Sentiment, state.NewsCount)
	if state.HasMacroNews {
		sb.WriteString("Fresh macro news is present.\n")
	}
	if r.Prior != nil {
		fmt.Fprintf(&sb, "Similar past events: %d, avg move %+.1f%%, success rate %.0f%%\n",
			r.Prior.Events, r.Prior.AvgPriceChange, r.Prior.SuccessRate*100)
	}
	fmt.Fprintf(&sb, "Pre-selected regime: %s\n", r.Strategy)
	fmt.Fprintf(&sb, "Market session: %s\n", r.SessionPhase)
	if r.PremarketGapPct != nil {
		fmt.Fprintf(&sb, "Pre-market gap: %+.2f%%\n", *r.PremarketGapPct)
	}

	resp, err := a.llm.Generate(ctx, guidanceSystem, sb.String(), &llm.Options{MaxTokens: 400})
	if err != nil {
		a.log.Warn().Err(err).Str("ticker", r.Ticker).Msg("LLM guidance failed")
		return nil
	}

	var g models.LLMGuidance
	if err := llm.ExtractJSON(resp.Text, &g); err != nil {
		a.log.Debug().Err(err).Str("ticker", r.Ticker).Msg("unparseable guidance")
		return nil
	}
	return &g
}
