package news

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avkuzmin/sibyl/internal/llm"
	"github.com/avkuzmin/sibyl/pkg/models"
)

// scriptedLLM returns canned text per call and counts invocations.
type scriptedLLM struct {
	text  string
	err   error
	calls atomic.Int32
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Generate(ctx context.Context, system, user string, opts *llm.Options) (*llm.Response, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.text, Model: "scripted-1"}, nil
}

func TestLLMNewsFetcherParsesItems(t *testing.T) {
	provider := &scriptedLLM{text: `{"items": [
		{"headline": "MSFT announces buyback", "detail": "A $60B program", "approx_date": "2025-03-08"},
		{"headline": "", "detail": "ignored"},
		{"headline": "Azure outage resolved", "approx_date": "bad date"}
	]}`}

	f := NewLLMNewsFetcher(provider, []string{"MSFT"}, time.Hour)
	entries, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (empty headline dropped)", len(entries))
	}

	first := entries[0]
	if first.Ticker != "MSFT" || first.EventType != models.EventNews {
		t.Errorf("entry fields wrong: %+v", first)
	}
	if first.Source != "llm:scripted-1" {
		t.Errorf("source = %s", first.Source)
	}
	if first.Ts != time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC) {
		t.Errorf("approx date not honored: %s", first.Ts)
	}
}

func TestLLMNewsFetcherCooldown(t *testing.T) {
	provider := &scriptedLLM{text: `{"items": []}`}
	f := NewLLMNewsFetcher(provider, []string{"MSFT", "AAPL"}, time.Hour)

	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("cooldown failed: %d calls, want 2 (one per ticker)", got)
	}
}

func TestLLMNewsFetcherTransportErrorStopsBatch(t *testing.T) {
	provider := &scriptedLLM{err: errors.New("connection refused")}
	f := NewLLMNewsFetcher(provider, []string{"MSFT", "AAPL"}, time.Hour)

	_, err := f.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected the transport error to surface")
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("batch should stop at the first failure, saw %d calls", got)
	}
}
