package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/analyst"
	"github.com/avkuzmin/sibyl/internal/config"
	"github.com/avkuzmin/sibyl/internal/enrich"
	"github.com/avkuzmin/sibyl/internal/exec"
	"github.com/avkuzmin/sibyl/internal/infra"
	"github.com/avkuzmin/sibyl/internal/news"
	"github.com/avkuzmin/sibyl/internal/quotes"
	"github.com/avkuzmin/sibyl/internal/session"
	"github.com/avkuzmin/sibyl/pkg/marketclock"
)

// Deps gathers the services the default job set drives. Optional
// members may be nil; the corresponding jobs are then skipped.
type Deps struct {
	Quotes    *quotes.Service
	Pipeline  *news.Pipeline
	Sentiment *enrich.Sentimenter
	Embedder  *enrich.Embedder
	Outcomes  *enrich.OutcomeAnalyzer
	Analyst   *analyst.Analyst
	Executor  *exec.Executor
	Oracle    *session.Oracle
}

// RegisterDefaultJobs wires the standing job set onto the scheduler.
func RegisterDefaultJobs(s *Scheduler, deps Deps, cfg *config.Config, log zerolog.Logger) error {
	jlog := log.With().Str("component", "jobs").Logger()
	allTickers := cfg.Quotes.All()
	cycleTickers := cfg.Quotes.TradingCycleTickers

	type job struct {
		name, spec string
		enabled    bool
		fn         JobFunc
	}

	updatePrices := func(ctx context.Context) error {
		deps.Quotes.Refresh(ctx, allTickers, 60)
		return nil
	}

	cooldown := infra.NewCache(time.Duration(cfg.Scheduler.Game5mCooldownMinutes) * time.Minute)

	jobs := []job{
		{
			name: "update_prices", spec: "0 22 * * *",
			enabled: deps.Quotes != nil, fn: updatePrices,
		},
		{
			// Every two hours while the market trades.
			name: "update_prices_market", spec: "0 10,12,14,16 * * 1-5",
			enabled: deps.Quotes != nil, fn: updatePrices,
		},
		{
			name: "fetch_news", spec: "0 * * * *",
			enabled: deps.Pipeline != nil,
			fn: func(ctx context.Context) error {
				deps.Pipeline.Run(ctx)
				return nil
			},
		},
		{
			name: "backfill_embeddings", spec: "10 * * * *",
			enabled: deps.Embedder != nil,
			fn: func(ctx context.Context) error {
				_, err := deps.Embedder.BackfillEmbeddings(ctx, 200, 50)
				return err
			},
		},
		{
			name: "sentiment_enrich", spec: "20 * * * *",
			enabled: deps.Sentiment != nil && cfg.Enrichment.SentimentAutoCalculate,
			fn: func(ctx context.Context) error {
				_, err := deps.Sentiment.EnrichPending(ctx, 14, 50)
				return err
			},
		},
		{
			name: "outcome_analyze", spec: "0 4 * * *",
			enabled: deps.Outcomes != nil,
			fn: func(ctx context.Context) error {
				_, err := deps.Outcomes.AnalyzeRipeEvents(ctx, cfg.Enrichment.OutcomeDaysAfter, 100)
				return err
			},
		},
		{
			name: "trading_cycle", spec: "0 9,13,17 * * 1-5",
			enabled: deps.Analyst != nil && deps.Executor != nil && len(cycleTickers) > 0,
			fn: func(ctx context.Context) error {
				return runTradingCycle(ctx, deps, cycleTickers, cfg.Enrichment.UseLLM, jlog)
			},
		},
		{
			name: "intraday_signal", spec: "*/5 * * * 1-5",
			enabled: deps.Analyst != nil && deps.Executor != nil && len(cfg.Quotes.TickersFast) > 0,
			fn: func(ctx context.Context) error {
				if marketclock.PhaseAt(time.Now()) != marketclock.Regular {
					return nil
				}
				for _, ticker := range cfg.Quotes.TickersFast {
					if _, cooling := cooldown.Get(ticker); cooling {
						continue
					}
					if err := cycleOne(ctx, deps, ticker, false, jlog); err != nil {
						jlog.Warn().Err(err).Str("ticker", ticker).Msg("intraday cycle failed")
						continue
					}
					cooldown.Set(ticker, time.Now())
				}
				_, err := deps.Executor.ApplyExitRules(ctx)
				return err
			},
		},
		{
			name: "premarket_cron", spec: "30 16 * * 1-5",
			enabled: deps.Oracle != nil && cfg.Scheduler.PremarketAlert && len(cycleTickers) > 0,
			fn: func(ctx context.Context) error {
				for _, ticker := range cycleTickers {
					pc := deps.Oracle.Premarket(ctx, ticker)
					if pc.Err != "" {
						continue
					}
					jlog.Info().Str("ticker", ticker).
						Float64("gap_pct", pc.PremarketGapPct).
						Int("minutes_until_open", pc.MinutesUntilOpen).
						Msg("premarket gap")
				}
				return nil
			},
		},
	}

	for _, j := range jobs {
		if !j.enabled {
			continue
		}
		if err := s.Add(j.name, j.spec, j.fn); err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return nil
}

// runTradingCycle analyzes and executes every cycle ticker, then
// applies the exit rules once.
func runTradingCycle(ctx context.Context, deps Deps, tickers []string, useLLM bool, log zerolog.Logger) error {
	for _, ticker := range tickers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := cycleOne(ctx, deps, ticker, useLLM, log); err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("trading cycle ticker failed")
		}
	}
	_, err := deps.Executor.ApplyExitRules(ctx)
	return err
}

func cycleOne(ctx context.Context, deps Deps, ticker string, useLLM bool, log zerolog.Logger) error {
	analysis, err := deps.Analyst.Analyze(ctx, ticker, useLLM)
	if err != nil {
		return err
	}
	trade, err := deps.Executor.ExecuteDecision(ctx, analysis)
	if err != nil {
		return err
	}
	if trade != nil {
		log.Info().Str("ticker", ticker).Str("decision", string(analysis.Decision)).
			Str("side", string(trade.Side)).Float64("qty", trade.Quantity).Msg("cycle trade")
	}
	return nil
}
