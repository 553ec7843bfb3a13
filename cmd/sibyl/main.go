// Sibyl — automated trading assistant.
//
// Main CLI entrypoint using the cobra command framework.
// Exit codes: 0 success, 1 usage error, 2 transient external failure,
// 3 fatal configuration error.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/avkuzmin/sibyl/api"
	"github.com/avkuzmin/sibyl/internal/analyst"
	"github.com/avkuzmin/sibyl/internal/config"
	"github.com/avkuzmin/sibyl/internal/embed"
	"github.com/avkuzmin/sibyl/internal/enrich"
	"github.com/avkuzmin/sibyl/internal/exec"
	"github.com/avkuzmin/sibyl/internal/kb"
	"github.com/avkuzmin/sibyl/internal/llm"
	"github.com/avkuzmin/sibyl/internal/logging"
	"github.com/avkuzmin/sibyl/internal/news"
	"github.com/avkuzmin/sibyl/internal/quotefeed"
	"github.com/avkuzmin/sibyl/internal/quotes"
	"github.com/avkuzmin/sibyl/internal/risk"
	"github.com/avkuzmin/sibyl/internal/sched"
	"github.com/avkuzmin/sibyl/internal/session"
	"github.com/avkuzmin/sibyl/internal/store"
)

// Exit codes per the CLI contract.
const (
	exitOK          = 0
	exitUsage       = 1
	exitTransient   = 2
	exitFatalConfig = 3
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

var (
	cfg *config.Config
	log zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sibyl",
	Short: "Sibyl — automated paper-trading assistant",
	Long: `Sibyl ingests market quotes and news, enriches them with sentiment,
embeddings and post-event outcomes, and runs a strategy-driven decision
pipeline against a simulated portfolio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			fmt.Fprintln(os.Stderr, fmt.Errorf("failed to load config: %w", err))
			os.Exit(exitFatalConfig)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		log = logging.New(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(outcomesCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(cycleCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sibyl %s (%s)\n", version, commit)
	},
}

// app bundles the wired services for command bodies.
type app struct {
	store    *store.Store
	kb       *kb.Service
	quotes   *quotes.Service
	pipeline *news.Pipeline
	analyst  *analyst.Analyst
	executor *exec.Executor
	oracle   *session.Oracle
	llm      llm.Provider
	embedder embed.Provider
	deps     sched.Deps
}

// buildApp validates configuration, opens the store and wires every
// service. Configuration problems exit with code 3.
func buildApp(ctx context.Context) (*app, error) {
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("fatal configuration error")
		os.Exit(exitFatalConfig)
	}

	st, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns, log)
	if err != nil {
		log.Error().Err(err).Msg("cannot reach database")
		os.Exit(exitFatalConfig)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		log.Error().Err(err).Msg("schema migration failed")
		os.Exit(exitFatalConfig)
	}
	if err := st.Portfolio.EnsureCash(ctx, cfg.Trading.InitialCashUSD); err != nil {
		st.Close()
		return nil, err
	}

	feed := quotefeed.NewYahooChart()
	quoteSvc := quotes.New(st, feed, nil, log)

	var embedder embed.Provider
	if fallback, err := embed.NewFallback(cfg, log); err == nil {
		embedder = fallback
	} else {
		log.Info().Msg("no embedding provider configured; similar-event search disabled")
	}
	kbSvc := kb.New(st, embedder, log)

	var llmProvider llm.Provider
	if router, err := llm.NewRouterFromConfig(cfg, log); err != nil {
		log.Warn().Err(err).Msg("LLM setup failed; continuing without guidance")
	} else if router != nil {
		llmProvider = router
	}

	oracle := session.New(feed, nil, log)

	limits := risk.LoadLimits(cfg.Risk.ConfigPath, log)
	riskMgr := risk.New(st, limits, nil, log)

	analystOpts := []analyst.Option{}
	if llmProvider != nil {
		analystOpts = append(analystOpts, analyst.WithLLM(llmProvider))
	}
	an := analyst.New(st, kbSvc, oracle, log, analystOpts...)

	ex := exec.New(st, riskMgr, exec.Config{
		CommissionRate:         cfg.Trading.CommissionRate,
		SandboxSlippageSellPct: cfg.Trading.SandboxSlippageSellPct,
		StopLossLevel:          cfg.Trading.StopLossLevel,
		FastTickers:            cfg.Quotes.TickersFast,
	}, log)

	pipeline := news.NewPipeline(kbSvc, buildFetchers(llmProvider), cfg.News.Workers,
		time.Duration(cfg.News.FetchTimeoutSec)*time.Second, log)

	a := &app{
		store:    st,
		kb:       kbSvc,
		quotes:   quoteSvc,
		pipeline: pipeline,
		analyst:  an,
		executor: ex,
		oracle:   oracle,
		llm:      llmProvider,
		embedder: embedder,
	}
	a.deps = sched.Deps{
		Quotes:    quoteSvc,
		Pipeline:  pipeline,
		Sentiment: enrich.NewSentimenter(st, llmProvider, cfg.Enrichment.SentimentAutoCalculate, 0, log),
		Embedder:  enrich.NewEmbedder(st, embedder, log),
		Outcomes:  enrich.NewOutcomeAnalyzer(st, log),
		Analyst:   an,
		Executor:  ex,
		Oracle:    oracle,
	}
	return a, nil
}

// buildFetchers assembles the fetcher set from configuration. Sources
// without credentials are simply left out.
func buildFetchers(llmProvider llm.Provider) []news.Fetcher {
	fetchers := []news.Fetcher{news.NewRSSFetcher(nil)}

	allTickers := cfg.Quotes.All()
	if cfg.News.AggregatorKey != "" {
		fetchers = append(fetchers, news.NewAggregatorFetcher(news.AggregatorConfig{
			APIKey:     cfg.News.AggregatorKey,
			Tickers:    allTickers,
			DailyQuota: cfg.News.AggregatorQuota,
		}))
	}
	if cfg.News.EarningsURL != "" {
		fetchers = append(fetchers, news.NewEarningsFetcher(cfg.News.EarningsURL, allTickers))
	}
	if cfg.News.SentimentFeedKey != "" {
		fetchers = append(fetchers, news.NewSentimentFeedFetcher(cfg.News.SentimentFeedKey, allTickers))
	}
	if llmProvider != nil {
		fetchers = append(fetchers, news.NewLLMNewsFetcher(llmProvider, allTickers,
			time.Duration(cfg.Enrichment.LLMNewsCooldownHours)*time.Hour))
	}
	return fetchers
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.store.Close()
		fmt.Println("schema up to date")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		server := api.NewServer(cfg, a.store, a.kb, a.analyst, a.executor, log)
		a.executor.SetTradeNotifier(server.Hub().NotifyTrade)

		scheduler := sched.New(log)
		if err := sched.RegisterDefaultJobs(scheduler, a.deps, cfg, log); err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()

		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		return server.ListenAndServe(addr)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one news ingestion pass and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		summary := a.pipeline.Run(ctx)
		printJSON(summary)
		if summary.Inserted == 0 && len(summary.Errors) > 0 {
			os.Exit(exitTransient)
		}
		return nil
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run the sentiment and embedding sweeps once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		scored, err := a.deps.Sentiment.EnrichPending(ctx, 14, 50)
		if err != nil {
			log.Warn().Err(err).Msg("sentiment sweep stopped early")
			os.Exit(exitTransient)
		}
		embedded, err := a.deps.Embedder.BackfillEmbeddings(ctx, 200, 50)
		if err != nil {
			return err
		}
		fmt.Printf("scored %d, embedded %d\n", scored, embedded)
		return nil
	},
}

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Analyze ripe events and write outcome records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		n, err := a.deps.Outcomes.AnalyzeRipeEvents(ctx, cfg.Enrichment.OutcomeDaysAfter, 100)
		if err != nil {
			return err
		}
		fmt.Printf("analyzed %d events\n", n)
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze TICKER",
	Short: "Run the analyst for one ticker and print the decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		useLLM, _ := cmd.Flags().GetBool("llm")
		result, err := a.analyst.Analyze(ctx, strings.ToUpper(args[0]), useLLM)
		if err != nil {
			return err
		}
		printJSON(result)
		return nil
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one full trading cycle for the configured tickers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.store.Close()

		tickers := cfg.Quotes.TradingCycleTickers
		if len(tickers) == 0 {
			return fmt.Errorf("no trading_cycle_tickers configured")
		}

		a.quotes.Refresh(ctx, tickers, 60)
		for _, ticker := range tickers {
			analysis, err := a.analyst.Analyze(ctx, ticker, cfg.Enrichment.UseLLM)
			if err != nil {
				log.Warn().Err(err).Str("ticker", ticker).Msg("analysis failed")
				continue
			}
			trade, err := a.executor.ExecuteDecision(ctx, analysis)
			if err != nil {
				log.Warn().Err(err).Str("ticker", ticker).Msg("execution failed")
				continue
			}
			fmt.Printf("%s: %s (%s", ticker, analysis.Decision, analysis.Strategy)
			if trade != nil {
				fmt.Printf("; %s %.0f @ %.2f", trade.Side, trade.Quantity, trade.Price)
			}
			fmt.Println(")")
		}

		exits, err := a.executor.ApplyExitRules(ctx)
		if err != nil {
			return err
		}
		for _, t := range exits {
			fmt.Printf("%s: exit %s %.0f @ %.2f (%s)\n", t.Ticker, t.Side, t.Quantity, t.Price, t.SignalType)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Bool("llm", false, "include LLM guidance")
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(data))
}
