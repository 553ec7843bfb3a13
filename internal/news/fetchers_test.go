package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avkuzmin/sibyl/pkg/models"
)

func TestRSSFetcherParsesFeed(t *testing.T) {
	now := time.Now().UTC().Format(time.RFC1123Z)
	feedXML := `<?xml version="1.0"?>
<rss version="2.0"><channel>
	<title>Press Releases</title>
	<item>
		<title>FOMC statement</title>
		<description>&lt;p&gt;The Committee decided to maintain the target range.&lt;/p&gt;</description>
		<link>https://example.org/fomc/2025-03</link>
		<pubDate>` + now + `</pubDate>
	</item>
	<item>
		<title>Stale item</title>
		<link>https://example.org/old</link>
		<pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
	</item>
</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	f := NewRSSFetcher([]RSSFeed{{
		Name:      "FederalReserve",
		URL:       srv.URL,
		EventType: models.EventFOMCStmt,
		Region:    models.RegionUSA,
		Ticker:    models.TickerUSMacro,
	}})

	entries, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1, "stale items must be dropped")

	e := entries[0]
	assert.Equal(t, models.TickerUSMacro, e.Ticker)
	assert.Equal(t, models.EventFOMCStmt, e.EventType)
	assert.Equal(t, "https://example.org/fomc/2025-03", e.Link)
	assert.Contains(t, e.Content, "FOMC statement")
	assert.Contains(t, e.Content, "maintain the target range")
	assert.NotContains(t, e.Content, "<p>", "HTML must be stripped")
}

func TestRSSFetcherSkipsBrokenFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewRSSFetcher([]RSSFeed{{Name: "Broken", URL: srv.URL, Ticker: models.TickerMacro}})
	_, err := f.Fetch(context.Background())
	assert.Error(t, err, "an all-feed failure must surface")
}

func TestEarningsFetcherParsesCSV(t *testing.T) {
	csv := "symbol,company,date,eps_estimate\n" +
		"MSFT,Microsoft,2025-04-24,2.93\n" +
		"AAPL,Apple,2025-05-01,\n" +
		"XXXX,Unknown Co,2025-05-01,1.00\n" +
		"BAD,BadDate Co,not-a-date,1.00\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(csv))
	}))
	defer srv.Close()

	f := NewEarningsFetcher(srv.URL, []string{"MSFT", "AAPL"})
	entries, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2, "off-universe and malformed rows are skipped")

	assert.Equal(t, "MSFT", entries[0].Ticker)
	assert.Equal(t, models.EventEarnings, entries[0].EventType)
	assert.Contains(t, entries[0].Content, "Microsoft")
	assert.Contains(t, entries[0].Content, "2.93")
	assert.Equal(t, time.Date(2025, 4, 24, 0, 0, 0, 0, time.UTC), entries[0].Ts)
}

func TestAggregatorFetcherMapsArticles(t *testing.T) {
	payload := `{"status":"ok","articles":[
		{"source":{"name":"Wire"},"title":"MSFT rallies on cloud growth",
		 "description":"Azure demand strong","url":"https://example.org/a1",
		 "publishedAt":"2025-03-10T14:00:00Z"},
		{"source":{"name":"Wire"},"title":"Broad market update",
		 "description":"","url":"https://example.org/a2",
		 "publishedAt":"2025-03-10T15:00:00Z"}
	]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key123", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	f := NewAggregatorFetcher(AggregatorConfig{
		APIKey:  "key123",
		BaseURL: srv.URL,
		Tickers: []string{"MSFT"},
	})
	entries, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "MSFT", entries[0].Ticker, "mentioned ticker is tagged")
	assert.Equal(t, models.TickerMacro, entries[1].Ticker, "unmatched articles fall to macro")
	assert.Equal(t, "aggregator:Wire", entries[0].Source)
}

func TestAggregatorQuotaExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","articles":[]}`))
	}))
	defer srv.Close()

	f := NewAggregatorFetcher(AggregatorConfig{APIKey: "k", BaseURL: srv.URL, DailyQuota: 2})

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background())
		require.NoError(t, err)
	}
	_, err := f.Fetch(context.Background())
	assert.ErrorContains(t, err, "quota")
}

func TestSentimentFeedMapsScores(t *testing.T) {
	payload := `{"feed":[
		{"title":"MSFT beats","summary":"solid quarter","url":"https://example.org/s1",
		 "time_published":"20250310T140000","source":"Wire",
		 "ticker_sentiment":[
			{"ticker":"MSFT","ticker_sentiment_score":"0.5"},
			{"ticker":"IBM","ticker_sentiment_score":"0.1"}
		]}
	]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	f := NewSentimentFeedFetcher("key", []string{"MSFT"})
	f.baseURL = srv.URL

	entries, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1, "only configured tickers are kept")

	e := entries[0]
	require.NotNil(t, e.SentimentScore)
	// Provider score 0.5 on [-1,1] maps to 0.75 on [0,1].
	assert.InDelta(t, 0.75, *e.SentimentScore, 1e-9)
	assert.Equal(t, "MSFT", e.Ticker)
}

func TestParseProviderScoreBounds(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1", 1}, {"-1", 0}, {"0", 0.5}, {"2.5", 1}, {"-3", 0},
	}
	for _, tt := range tests {
		got := parseProviderScore(tt.in)
		require.NotNil(t, got, tt.in)
		assert.InDelta(t, tt.want, *got, 1e-9, "input %s", tt.in)
	}
	assert.Nil(t, parseProviderScore("n/a"))
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("MSFT RALLIES", "MSFT"))
	assert.True(t, containsWord("BUY MSFT NOW", "MSFT"))
	assert.False(t, containsWord("MSCI REBALANCE", "MS"))
	assert.False(t, containsWord("THERMS", "TER"))
}
