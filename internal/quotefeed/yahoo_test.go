package quotefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const chartPayload = `{
	"chart": {
		"result": [{
			"meta": {
				"symbol": "MSFT",
				"regularMarketPrice": 352.5,
				"chartPreviousClose": 350.0,
				"regularMarketTime": 1741618800
			},
			"timestamp": [1741359600, 1741446000, 1741618800],
			"indicators": {
				"quote": [{
					"open":   [348.0, 350.5, null],
					"high":   [351.0, 353.0, null],
					"low":    [347.0, 349.5, null],
					"close":  [350.0, 352.0, null],
					"volume": [21000000, 19500000, null]
				}]
			}
		}],
		"error": null
	}
}`

func TestGetBars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chartPayload))
	}))
	defer srv.Close()

	y := NewYahooChart(WithBaseURL(srv.URL))
	bars, err := y.GetBars(context.Background(), "MSFT",
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	// The null-close bar is dropped.
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].Close != 350.0 || bars[1].Close != 352.0 {
		t.Errorf("closes = %.1f, %.1f", bars[0].Close, bars[1].Close)
	}
	if bars[0].Volume != 21000000 {
		t.Errorf("volume = %d", bars[0].Volume)
	}
	if !bars[1].Date.After(bars[0].Date) {
		t.Error("bars must be oldest first")
	}
}

func TestGetBarsRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(chartPayload))
	}))
	defer srv.Close()

	y := NewYahooChart(WithBaseURL(srv.URL))
	y.client.RetryWaitMin = time.Millisecond
	y.client.RetryWaitMax = 5 * time.Millisecond

	bars, err := y.GetBars(context.Background(), "MSFT", time.Now().AddDate(0, 0, -10), time.Now())
	if err != nil {
		t.Fatalf("expected retries to recover: %v", err)
	}
	if len(bars) != 2 {
		t.Errorf("got %d bars", len(bars))
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, saw %d", calls.Load())
	}
}

func TestGetBarsChartError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found"}}}`))
	}))
	defer srv.Close()

	y := NewYahooChart(WithBaseURL(srv.URL))
	if _, err := y.GetBars(context.Background(), "BOGUS", time.Now().AddDate(0, 0, -5), time.Now()); err == nil {
		t.Fatal("expected a provider error")
	}
}

func TestGetPremarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("includePrePost"); got != "true" {
			t.Errorf("includePrePost = %q", got)
		}
		_, _ = w.Write([]byte(chartPayload))
	}))
	defer srv.Close()

	y := NewYahooChart(WithBaseURL(srv.URL))
	pm, err := y.GetPremarket(context.Background(), "MSFT")
	if err != nil {
		t.Fatal(err)
	}
	// Last printed trade (352.0) wins over the stale regular price.
	if pm.Last != 352.0 {
		t.Errorf("last = %.2f, want 352.0", pm.Last)
	}
	if pm.PrevClose != 350.0 {
		t.Errorf("prev close = %.2f", pm.PrevClose)
	}
}
