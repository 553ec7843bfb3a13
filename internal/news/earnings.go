package news

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// EarningsFetcher pulls an earnings-calendar CSV and maps each row to
// an EARNINGS entry. Expected columns: symbol, company, date (ISO),
// optional eps_estimate.
type EarningsFetcher struct {
	url     string
	tickers map[string]struct{} // restrict to the configured universe; empty = all
	client  *retryablehttp.Client
}

// NewEarningsFetcher creates the fetcher. tickers narrows the calendar
// to the operator's universe.
func NewEarningsFetcher(url string, tickers []string) *EarningsFetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 15 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	set := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		set[strings.ToUpper(t)] = struct{}{}
	}
	return &EarningsFetcher{url: url, tickers: set, client: client}
}

func (f *EarningsFetcher) Name() string { return "earnings" }

// Fetch downloads and parses the calendar. Malformed rows are skipped;
// they never poison the batch.
func (f *EarningsFetcher) Fetch(ctx context.Context) ([]models.KBEntry, error) {
	if f.url == "" {
		return nil, fmt.Errorf("earnings: no calendar URL configured")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("earnings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("earnings: status %d", resp.StatusCode)
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("earnings: read header: %w", err)
	}
	col := indexColumns(header)

	var out []models.KBEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		entry, ok := f.rowToEntry(record, col)
		if ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func indexColumns(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return col
}

func (f *EarningsFetcher) rowToEntry(record []string, col map[string]int) (models.KBEntry, bool) {
	get := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	symbol := strings.ToUpper(get("symbol"))
	if symbol == "" {
		return models.KBEntry{}, false
	}
	if len(f.tickers) > 0 {
		if _, ok := f.tickers[symbol]; !ok {
			return models.KBEntry{}, false
		}
	}

	date, err := time.Parse("2006-01-02", get("date"))
	if err != nil {
		return models.KBEntry{}, false
	}

	company := get("company")
	if company == "" {
		company = symbol
	}
	content := fmt.Sprintf("%s (%s) reports earnings on %s", company, symbol, date.Format("2006-01-02"))
	if eps := get("eps_estimate"); eps != "" {
		content += fmt.Sprintf(", consensus EPS estimate %s", eps)
	}

	return models.KBEntry{
		Ts:         date,
		Ticker:     symbol,
		Source:     "earnings-calendar",
		Content:    content,
		EventType:  models.EventEarnings,
		Importance: models.ImportanceHigh,
		Region:     models.RegionUSA,
	}, true
}
