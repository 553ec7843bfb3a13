package quotefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// YahooChart fetches daily bars from a Yahoo-chart-compatible endpoint.
// Transient failures (5xx, 429, timeouts) are retried with exponential
// backoff; other HTTP errors surface immediately.
type YahooChart struct {
	baseURL string
	client  *retryablehttp.Client
}

// YahooOption configures the provider.
type YahooOption func(*YahooChart)

// WithBaseURL points the provider at a different chart endpoint
// (test servers, proxies).
func WithBaseURL(url string) YahooOption {
	return func(y *YahooChart) { y.baseURL = url }
}

// NewYahooChart creates the default quote provider.
func NewYahooChart(opts ...YahooOption) *YahooChart {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 15 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	y := &YahooChart{
		baseURL: "https://query1.finance.yahoo.com",
		client:  client,
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string  `json:"symbol"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
		PreviousClose      float64 `json:"chartPreviousClose"`
		RegularMarketTime  int64   `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// GetBars returns daily bars for [from, to], oldest first. Bars with a
// missing close (halts, partial sessions) are dropped rather than
// written as zeros.
func (y *YahooChart) GetBars(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d",
		y.baseURL, ticker, from.Unix(), to.Unix())

	result, err := y.fetchChart(ctx, url, ticker)
	if err != nil {
		return nil, err
	}

	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("quotefeed: no quote series for %s", ticker)
	}
	series := result.Indicators.Quote[0]

	bars := make([]models.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(series.Close) || series.Close[i] == nil {
			continue
		}
		bar := models.Bar{
			Date:  time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Close: *series.Close[i],
		}
		if i < len(series.Open) && series.Open[i] != nil {
			bar.Open = *series.Open[i]
		}
		if i < len(series.High) && series.High[i] != nil {
			bar.High = *series.High[i]
		}
		if i < len(series.Low) && series.Low[i] != nil {
			bar.Low = *series.Low[i]
		}
		if i < len(series.Volume) && series.Volume[i] != nil {
			bar.Volume = *series.Volume[i]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// GetPremarket returns the latest off-hours snapshot via the 1-minute
// chart with pre/post data included.
func (y *YahooChart) GetPremarket(ctx context.Context, ticker string) (models.Premarket, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1m&range=1d&includePrePost=true",
		y.baseURL, ticker)

	result, err := y.fetchChart(ctx, url, ticker)
	if err != nil {
		return models.Premarket{}, err
	}

	pm := models.Premarket{
		Ticker:    ticker,
		Last:      result.Meta.RegularMarketPrice,
		PrevClose: result.Meta.PreviousClose,
		Timestamp: time.Unix(result.Meta.RegularMarketTime, 0).UTC(),
	}

	// Prefer the last printed pre/post trade over the stale regular price.
	if len(result.Indicators.Quote) > 0 {
		series := result.Indicators.Quote[0]
		for i := len(series.Close) - 1; i >= 0; i-- {
			if series.Close[i] != nil {
				pm.Last = *series.Close[i]
				if i < len(result.Timestamp) {
					pm.Timestamp = time.Unix(result.Timestamp[i], 0).UTC()
				}
				break
			}
		}
	}
	if pm.Last == 0 || pm.PrevClose == 0 {
		return models.Premarket{}, fmt.Errorf("quotefeed: no premarket data for %s", ticker)
	}
	return pm, nil
}

func (y *YahooChart) fetchChart(ctx context.Context, url, ticker string) (*chartResult, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; sibyl/1.0)")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quotefeed: fetch %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("quotefeed: %s returned %d: %s", ticker, resp.StatusCode, body)
	}

	var parsed chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("quotefeed: decode %s: %w", ticker, err)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("quotefeed: %s: %s", ticker, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("quotefeed: no data for %s", ticker)
	}
	return &parsed.Chart.Result[0], nil
}
