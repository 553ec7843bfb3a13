package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avkuzmin/sibyl/internal/infra"
	"github.com/avkuzmin/sibyl/internal/llm"
	"github.com/avkuzmin/sibyl/pkg/models"
)

const llmNewsSystem = `You are a financial news recall assistant. ` +
	`Given a stock ticker, list significant news you know about the company ` +
	`from the last few weeks. Answer with a JSON object: ` +
	`{"items": [{"headline": string, "detail": string, "approx_date": "YYYY-MM-DD"}]}. ` +
	`Only include news you are confident about. Return {"items": []} if none.`

// LLMNewsFetcher asks the language model for known recent news per
// ticker. Each ticker is cooled down between prompts so repeated
// pipeline runs do not re-spend tokens on the same question.
type LLMNewsFetcher struct {
	provider llm.Provider
	tickers  []string
	cooldown *infra.Cache
}

// NewLLMNewsFetcher creates the fetcher. cooldown bounds how often one
// ticker is asked about.
func NewLLMNewsFetcher(provider llm.Provider, tickers []string, cooldown time.Duration) *LLMNewsFetcher {
	if cooldown <= 0 {
		cooldown = 6 * time.Hour
	}
	return &LLMNewsFetcher{
		provider: provider,
		tickers:  tickers,
		cooldown: infra.NewCache(cooldown),
	}
}

func (f *LLMNewsFetcher) Name() string { return "llm-news" }

type llmNewsItems struct {
	Items []struct {
		Headline   string `json:"headline"`
		Detail     string `json:"detail"`
		ApproxDate string `json:"approx_date"`
	} `json:"items"`
}

// Fetch prompts the model for each ticker not in cooldown. A transport
// failure stops the batch; the remaining tickers stay un-cooled and are
// retried next run.
func (f *LLMNewsFetcher) Fetch(ctx context.Context) ([]models.KBEntry, error) {
	if f.provider == nil {
		return nil, nil
	}

	var out []models.KBEntry
	for _, ticker := range f.tickers {
		if _, cooling := f.cooldown.Get(ticker); cooling {
			continue
		}

		resp, err := f.provider.Generate(ctx, llmNewsSystem,
			fmt.Sprintf("Ticker: %s", ticker),
			&llm.Options{MaxTokens: 800})
		if err != nil {
			return out, fmt.Errorf("llm-news %s: %w", ticker, err)
		}
		f.cooldown.Set(ticker, time.Now())

		var parsed llmNewsItems
		if err := llm.ExtractJSON(resp.Text, &parsed); err != nil {
			// Malformed answer for one ticker is skipped, not fatal.
			continue
		}

		for _, item := range parsed.Items {
			headline := strings.TrimSpace(item.Headline)
			if headline == "" {
				continue
			}
			ts := time.Now().UTC()
			if d, err := time.Parse("2006-01-02", item.ApproxDate); err == nil {
				ts = d
			}
			content := headline
			if detail := strings.TrimSpace(item.Detail); detail != "" {
				content += "\n" + detail
			}
			out = append(out, models.KBEntry{
				Ts:         ts,
				Ticker:     ticker,
				Source:     "llm:" + resp.Model,
				Content:    content,
				EventType:  models.EventNews,
				Importance: models.ImportanceLow,
				Region:     models.RegionUSA,
			})
		}
	}
	return out, nil
}
