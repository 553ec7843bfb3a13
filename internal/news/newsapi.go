package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// AggregatorFetcher pulls articles from a NewsAPI-style aggregator with
// a query, a source allowlist and a daily request quota.
type AggregatorFetcher struct {
	apiKey  string
	baseURL string
	query   string
	sources []string
	tickers []string

	quota    int64 // requests allowed per day
	used     atomic.Int64
	quotaDay atomic.Value // string YYYY-MM-DD

	client *retryablehttp.Client
}

// AggregatorConfig configures the aggregator fetcher.
type AggregatorConfig struct {
	APIKey     string
	BaseURL    string   // default https://newsapi.org/v2
	Query      string   // default "stock market OR federal reserve"
	Sources    []string // aggregator source ids
	Tickers    []string // tickers to tag mentioned articles with
	DailyQuota int      // default 100
}

// NewAggregatorFetcher creates the fetcher.
func NewAggregatorFetcher(cfg AggregatorConfig) *AggregatorFetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 15 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://newsapi.org/v2"
	}
	if cfg.Query == "" {
		cfg.Query = "stock market OR federal reserve"
	}
	if cfg.DailyQuota <= 0 {
		cfg.DailyQuota = 100
	}

	f := &AggregatorFetcher{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		query:   cfg.Query,
		sources: cfg.Sources,
		tickers: cfg.Tickers,
		quota:   int64(cfg.DailyQuota),
		client:  client,
	}
	f.quotaDay.Store("")
	return f
}

func (f *AggregatorFetcher) Name() string { return "aggregator" }

type aggregatorResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

// Fetch pulls the latest articles, honoring the daily quota.
func (f *AggregatorFetcher) Fetch(ctx context.Context) ([]models.KBEntry, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("aggregator: no API key configured")
	}
	if !f.consumeQuota() {
		return nil, fmt.Errorf("aggregator: daily quota of %d requests exhausted", f.quota)
	}

	q := url.Values{}
	q.Set("q", f.query)
	q.Set("language", "en")
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", "50")
	if len(f.sources) > 0 {
		q.Set("sources", strings.Join(f.sources, ","))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/everything?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("aggregator: status %d: %s", resp.StatusCode, body)
	}

	var parsed aggregatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("aggregator: decode: %w", err)
	}
	if parsed.Status != "ok" {
		return nil, fmt.Errorf("aggregator: %s", parsed.Message)
	}

	var out []models.KBEntry
	for _, a := range parsed.Articles {
		content := strings.TrimSpace(a.Title)
		if a.Description != "" {
			content += "\n" + strings.TrimSpace(a.Description)
		}
		if content == "" {
			continue
		}
		out = append(out, models.KBEntry{
			Ts:         a.PublishedAt.UTC(),
			Ticker:     f.matchTicker(content),
			Source:     "aggregator:" + a.Source.Name,
			Content:    content,
			EventType:  models.EventNews,
			Importance: models.ImportanceMedium,
			Region:     models.RegionUSA,
			Link:       a.URL,
		})
	}
	return out, nil
}

// matchTicker tags an article with the first configured ticker its text
// mentions, falling back to the macro sentinel.
func (f *AggregatorFetcher) matchTicker(content string) string {
	upper := strings.ToUpper(content)
	for _, t := range f.tickers {
		if containsWord(upper, t) {
			return t
		}
	}
	return models.TickerMacro
}

// consumeQuota decrements today's budget, resetting at day boundaries.
func (f *AggregatorFetcher) consumeQuota() bool {
	today := time.Now().UTC().Format("2006-01-02")
	if f.quotaDay.Load().(string) != today {
		f.quotaDay.Store(today)
		f.used.Store(0)
	}
	return f.used.Add(1) <= f.quota
}

// containsWord reports whether upper contains word bounded by
// non-alphanumerics, avoiding substring hits like MS in MSCI.
func containsWord(upper, word string) bool {
	idx := 0
	for {
		i := strings.Index(upper[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i - 1
		after := i + len(word)
		leftOK := before < 0 || !isAlnum(upper[before])
		rightOK := after >= len(upper) || !isAlnum(upper[after])
		if leftOK && rightOK {
			return true
		}
		idx = i + len(word)
	}
}

func isAlnum(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
