package news

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// SentimentFeedFetcher pulls a news-sentiment provider whose articles
// already carry a per-ticker sentiment score in [-1,1], rescaled here to
// [0,1]. Entries arrive pre-scored, so the sentiment sweep skips them.
type SentimentFeedFetcher struct {
	apiKey  string
	baseURL string
	tickers []string
	client  *retryablehttp.Client
}

// NewSentimentFeedFetcher creates the fetcher for the given tickers.
func NewSentimentFeedFetcher(apiKey string, tickers []string) *SentimentFeedFetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 15 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	return &SentimentFeedFetcher{
		apiKey:  apiKey,
		baseURL: "https://www.alphavantage.co/query",
		tickers: tickers,
		client:  client,
	}
}

func (f *SentimentFeedFetcher) Name() string { return "sentiment-feed" }

type sentimentFeedResponse struct {
	Feed []struct {
		Title         string `json:"title"`
		Summary       string `json:"summary"`
		URL           string `json:"url"`
		TimePublished string `json:"time_published"` // 20060102T150405
		Source        string `json:"source"`
		TickerSent    []struct {
			Ticker string `json:"ticker"`
			Score  string `json:"ticker_sentiment_score"` // [-1,1] as string
		} `json:"ticker_sentiment"`
	} `json:"feed"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// Fetch pulls scored articles for the configured tickers.
func (f *SentimentFeedFetcher) Fetch(ctx context.Context) ([]models.KBEntry, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("sentiment-feed: no API key configured")
	}
	if len(f.tickers) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("function", "NEWS_SENTIMENT")
	q.Set("tickers", strings.Join(f.tickers, ","))
	q.Set("apikey", f.apiKey)
	q.Set("limit", "50")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sentiment-feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("sentiment-feed: status %d: %s", resp.StatusCode, body)
	}

	var parsed sentimentFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("sentiment-feed: decode: %w", err)
	}
	if parsed.Note != "" {
		return nil, fmt.Errorf("sentiment-feed: rate limited: %s", parsed.Note)
	}

	tickerSet := make(map[string]struct{}, len(f.tickers))
	for _, t := range f.tickers {
		tickerSet[strings.ToUpper(t)] = struct{}{}
	}

	var out []models.KBEntry
	for _, item := range parsed.Feed {
		ts, err := time.Parse("20060102T150405", item.TimePublished)
		if err != nil {
			ts = time.Now().UTC()
		}
		content := strings.TrimSpace(item.Title)
		if item.Summary != "" {
			content += "\n" + strings.TrimSpace(item.Summary)
		}
		if content == "" {
			continue
		}

		// One entry per relevant ticker the provider scored.
		for _, sent := range item.TickerSent {
			ticker := strings.ToUpper(sent.Ticker)
			if _, ok := tickerSet[ticker]; !ok {
				continue
			}
			score := parseProviderScore(sent.Score)
			out = append(out, models.KBEntry{
				Ts:             ts.UTC(),
				Ticker:         ticker,
				Source:         "sentiment-feed:" + item.Source,
				Content:        content,
				EventType:      models.EventNews,
				Importance:     models.ImportanceMedium,
				Region:         models.RegionUSA,
				Link:           item.URL,
				SentimentScore: score,
			})
		}
	}
	return out, nil
}

// parseProviderScore maps the provider's [-1,1] score onto the
// knowledge base's [0,1] convention.
func parseProviderScore(s string) *float64 {
	var raw float64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &raw); err != nil {
		return nil
	}
	if raw < -1 {
		raw = -1
	}
	if raw > 1 {
		raw = 1
	}
	score := (raw + 1) / 2
	return &score
}
