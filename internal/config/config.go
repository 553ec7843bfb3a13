// Package config handles configuration loading for Sibyl.
// It supports layered YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"   yaml:"database"   json:"database"`
	Quotes     QuotesConfig     `mapstructure:"quotes"     yaml:"quotes"     json:"quotes"`
	Trading    TradingConfig    `mapstructure:"trading"    yaml:"trading"    json:"trading"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment" yaml:"enrichment" json:"enrichment"`
	LLM        LLMConfig        `mapstructure:"llm"        yaml:"llm"        json:"llm"`
	News       NewsConfig       `mapstructure:"news"       yaml:"news"       json:"news"`
	Risk       RiskConfig       `mapstructure:"risk"       yaml:"risk"       json:"risk"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"  yaml:"scheduler"  json:"scheduler"`
	API        APIConfig        `mapstructure:"api"        yaml:"api"        json:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"    json:"logging"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"       yaml:"url"       json:"-"` // excluded from JSON — carries credentials
	MaxConns int    `mapstructure:"max_conns" yaml:"max_conns" json:"max_conns"`
}

// QuotesConfig holds ticker universes and quote-feed settings.
// The scheduler refreshes quotes for all tiers together; fast tickers
// also drive the five-minute intraday signal job.
type QuotesConfig struct {
	TickersFast         []string `mapstructure:"tickers_fast"          yaml:"tickers_fast"          json:"tickers_fast"`
	TickersMedium       []string `mapstructure:"tickers_medium"        yaml:"tickers_medium"        json:"tickers_medium"`
	TickersLong         []string `mapstructure:"tickers_long"          yaml:"tickers_long"          json:"tickers_long"`
	TradingCycleTickers []string `mapstructure:"trading_cycle_tickers" yaml:"trading_cycle_tickers" json:"trading_cycle_tickers"`
}

// All returns the union of all configured ticker universes, de-duplicated.
func (q QuotesConfig) All() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range [][]string{q.TickersFast, q.TickersMedium, q.TickersLong} {
		for _, t := range group {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// TradingConfig holds trading simulation settings.
type TradingConfig struct {
	InitialCashUSD         float64 `mapstructure:"initial_cash_usd"          yaml:"initial_cash_usd"          json:"initial_cash_usd"`
	CommissionRate         float64 `mapstructure:"commission_rate"           yaml:"commission_rate"           json:"commission_rate"`
	StopLossLevel          float64 `mapstructure:"stop_loss_level"           yaml:"stop_loss_level"           json:"stop_loss_level"`
	SandboxSlippageSellPct float64 `mapstructure:"sandbox_slippage_sell_pct" yaml:"sandbox_slippage_sell_pct" json:"sandbox_slippage_sell_pct"`
}

// EnrichmentConfig controls the sentiment/embedding/outcome sweeps.
type EnrichmentConfig struct {
	UseLLM                 bool `mapstructure:"use_llm"                  yaml:"use_llm"                  json:"use_llm"`
	SentimentAutoCalculate bool `mapstructure:"sentiment_auto_calculate" yaml:"sentiment_auto_calculate" json:"sentiment_auto_calculate"`
	LLMNewsCooldownHours   int  `mapstructure:"llm_news_cooldown_hours"  yaml:"llm_news_cooldown_hours"  json:"llm_news_cooldown_hours"`
	UseOpenAIEmbeddings    bool `mapstructure:"use_openai_embeddings"    yaml:"use_openai_embeddings"    json:"use_openai_embeddings"`
	UseGeminiEmbeddings    bool `mapstructure:"use_gemini_embeddings"    yaml:"use_gemini_embeddings"    json:"use_gemini_embeddings"`
	OutcomeDaysAfter       int  `mapstructure:"outcome_days_after"       yaml:"outcome_days_after"       json:"outcome_days_after"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	BaseURL       string  `mapstructure:"llm_base_url"       yaml:"llm_base_url"       json:"llm_base_url"`
	Model         string  `mapstructure:"llm_model"          yaml:"llm_model"          json:"llm_model"`
	APIKey        string  `mapstructure:"llm_api_key"        yaml:"llm_api_key"        json:"-"`
	Temperature   float64 `mapstructure:"llm_temperature"    yaml:"llm_temperature"    json:"llm_temperature"`
	TimeoutSec    int     `mapstructure:"llm_timeout"        yaml:"llm_timeout"        json:"llm_timeout"`
	CompareModels string  `mapstructure:"llm_compare_models" yaml:"llm_compare_models" json:"llm_compare_models"` // comma list of provider|model
	GeminiKey     string  `mapstructure:"gemini_key"         yaml:"gemini_key"         json:"-"`
	OpenAIKey     string  `mapstructure:"openai_key"         yaml:"openai_key"         json:"-"`
	EmbeddingURL  string  `mapstructure:"embedding_url"      yaml:"embedding_url"      json:"embedding_url"` // local embedding server
}

// CompareList parses llm_compare_models into (provider, model) pairs.
func (l LLMConfig) CompareList() [][2]string {
	if strings.TrimSpace(l.CompareModels) == "" {
		return nil
	}
	var out [][2]string
	for _, part := range strings.Split(l.CompareModels, ",") {
		fields := strings.SplitN(strings.TrimSpace(part), "|", 2)
		if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
			continue
		}
		out = append(out, [2]string{fields[0], fields[1]})
	}
	return out
}

// NewsConfig holds ingestion pipeline settings.
type NewsConfig struct {
	Workers          int    `mapstructure:"workers"            yaml:"workers"            json:"workers"`
	FetchTimeoutSec  int    `mapstructure:"fetch_timeout_sec"  yaml:"fetch_timeout_sec"  json:"fetch_timeout_sec"`
	AggregatorKey    string `mapstructure:"aggregator_key"     yaml:"aggregator_key"     json:"-"`
	AggregatorQuota  int    `mapstructure:"aggregator_quota"   yaml:"aggregator_quota"   json:"aggregator_quota"`
	EarningsURL      string `mapstructure:"earnings_url"       yaml:"earnings_url"       json:"earnings_url"`
	SentimentFeedKey string `mapstructure:"sentiment_feed_key" yaml:"sentiment_feed_key" json:"-"`
}

// RiskConfig points at the file-backed risk limits.
type RiskConfig struct {
	ConfigPath string `mapstructure:"config_path" yaml:"config_path" json:"config_path"`
}

// SchedulerConfig holds scheduler tunables.
type SchedulerConfig struct {
	Game5mCooldownMinutes int  `mapstructure:"game_5m_cooldown_minutes" yaml:"game_5m_cooldown_minutes" json:"game_5m_cooldown_minutes"`
	PremarketAlert        bool `mapstructure:"premarket_alert"          yaml:"premarket_alert"          json:"premarket_alert"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"         json:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  json:"level"`  // "debug", "info", "warn", "error"
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" json:"pretty"` // console writer instead of JSON
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.sibyl/config.yaml (home directory)
//  3. /etc/sibyl/config.yaml (system)
//
// A .env file in the working directory is loaded first, then environment
// variables override config file values. Format: SIBYL_<SECTION>_<KEY>,
// e.g. SIBYL_DATABASE_URL.
func Load() (*Config, error) {
	// Best-effort .env load; absence is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".sibyl"))
	v.AddConfigPath("/etc/sibyl")

	v.SetEnvPrefix("SIBYL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine — defaults plus env may be enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks for fatal configuration errors. A missing database URL
// means the process cannot start.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required (set SIBYL_DATABASE_URL or config.yaml)")
	}
	if c.Enrichment.UseLLM && c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		return fmt.Errorf("enrichment.use_llm is set but no llm_api_key or llm_base_url configured")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so environment-only values
	// survive Unmarshal.
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 8)

	v.SetDefault("quotes.tickers_fast", []string{})
	v.SetDefault("quotes.tickers_medium", []string{})
	v.SetDefault("quotes.trading_cycle_tickers", []string{})

	v.SetDefault("quotes.tickers_long", []string{"MSFT", "AAPL", "GOOG"})

	v.SetDefault("trading.initial_cash_usd", 10_000.0)
	v.SetDefault("trading.commission_rate", 0.001)
	v.SetDefault("trading.stop_loss_level", 0.03)
	v.SetDefault("trading.sandbox_slippage_sell_pct", 0.05)

	v.SetDefault("enrichment.use_llm", false)
	v.SetDefault("enrichment.sentiment_auto_calculate", true)
	v.SetDefault("enrichment.llm_news_cooldown_hours", 6)
	v.SetDefault("enrichment.outcome_days_after", 7)

	v.SetDefault("llm.llm_base_url", "")
	v.SetDefault("llm.llm_api_key", "")
	v.SetDefault("llm.llm_model", "gpt-4o-mini")
	v.SetDefault("llm.llm_temperature", 0.2)
	v.SetDefault("llm.llm_timeout", 60)
	v.SetDefault("llm.llm_compare_models", "")
	v.SetDefault("llm.gemini_key", "")
	v.SetDefault("llm.openai_key", "")
	v.SetDefault("llm.embedding_url", "")

	v.SetDefault("news.workers", 4)
	v.SetDefault("news.fetch_timeout_sec", 30)
	v.SetDefault("news.aggregator_key", "")
	v.SetDefault("news.aggregator_quota", 100)
	v.SetDefault("news.earnings_url", "")
	v.SetDefault("news.sentiment_feed_key", "")

	v.SetDefault("risk.config_path", "./config/risk.json")

	v.SetDefault("scheduler.game_5m_cooldown_minutes", 15)
	v.SetDefault("scheduler.premarket_alert", true)

	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8090)
	v.SetDefault("api.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
