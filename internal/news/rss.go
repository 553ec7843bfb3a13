package news

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// RSSFeed describes one central-bank or market RSS/Atom feed.
type RSSFeed struct {
	Name      string
	URL       string
	EventType models.EventType
	Region    models.Region
	Ticker    string // macro sentinel or instrument ticker
}

// DefaultCentralBankFeeds lists the built-in central-bank feeds.
var DefaultCentralBankFeeds = []RSSFeed{
	{
		Name:      "FederalReserve",
		URL:       "https://www.federalreserve.gov/feeds/press_monetary.xml",
		EventType: models.EventFOMCStmt,
		Region:    models.RegionUSA,
		Ticker:    models.TickerUSMacro,
	},
	{
		Name:      "FederalReserveSpeeches",
		URL:       "https://www.federalreserve.gov/feeds/speeches.xml",
		EventType: models.EventFOMCSpeech,
		Region:    models.RegionUSA,
		Ticker:    models.TickerUSMacro,
	},
	{
		Name:      "ECB",
		URL:       "https://www.ecb.europa.eu/rss/press.html",
		EventType: models.EventECBStmt,
		Region:    models.RegionEU,
		Ticker:    models.TickerMacro,
	},
	{
		Name:      "BankOfEngland",
		URL:       "https://www.bankofengland.co.uk/rss/news",
		EventType: models.EventBOEStmt,
		Region:    models.RegionUK,
		Ticker:    models.TickerMacro,
	},
	{
		Name:      "BankOfJapan",
		URL:       "https://www.boj.or.jp/en/rss/whatsnew.xml",
		EventType: models.EventBOJStmt,
		Region:    models.RegionJapan,
		Ticker:    models.TickerMacro,
	},
}

// RSSFetcher parses central-bank RSS/Atom feeds into macro entries.
type RSSFetcher struct {
	feeds  []RSSFeed
	parser *gofeed.Parser
	maxAge time.Duration
}

// NewRSSFetcher creates the fetcher over the given feeds, or the
// defaults when feeds is empty.
func NewRSSFetcher(feeds []RSSFeed) *RSSFetcher {
	if len(feeds) == 0 {
		feeds = DefaultCentralBankFeeds
	}
	return &RSSFetcher{
		feeds:  feeds,
		parser: gofeed.NewParser(),
		maxAge: 7 * 24 * time.Hour,
	}
}

func (f *RSSFetcher) Name() string { return "rss" }

// Fetch parses every feed, skipping the ones that fail. An all-feed
// failure surfaces the last error so the pipeline can count it.
func (f *RSSFetcher) Fetch(ctx context.Context) ([]models.KBEntry, error) {
	var (
		out     []models.KBEntry
		lastErr error
		fetched int
	)
	cutoff := time.Now().Add(-f.maxAge)

	for _, feed := range f.feeds {
		parsed, err := f.parser.ParseURLWithContext(feed.URL, ctx)
		if err != nil {
			lastErr = err
			continue
		}
		fetched++
		for _, item := range parsed.Items {
			entry, ok := itemToEntry(feed, item, cutoff)
			if ok {
				out = append(out, entry)
			}
		}
	}
	if fetched == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func itemToEntry(feed RSSFeed, item *gofeed.Item, cutoff time.Time) (models.KBEntry, bool) {
	ts := time.Now().UTC()
	if item.PublishedParsed != nil {
		ts = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		ts = item.UpdatedParsed.UTC()
	}
	if ts.Before(cutoff) {
		return models.KBEntry{}, false
	}

	content := strings.TrimSpace(item.Title)
	if summary := stripHTML(item.Description); summary != "" {
		content += "\n" + summary
	}
	if content == "" {
		return models.KBEntry{}, false
	}

	return models.KBEntry{
		Ts:         ts,
		Ticker:     feed.Ticker,
		Source:     feed.Name,
		Content:    content,
		EventType:  feed.EventType,
		Importance: models.ImportanceHigh,
		Region:     feed.Region,
		Link:       item.Link,
	}, true
}

// stripHTML flattens an HTML fragment to its text content. Feed
// summaries routinely embed markup.
func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
