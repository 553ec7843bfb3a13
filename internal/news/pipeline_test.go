package news

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/pkg/models"
)

// memoryKB is an in-memory Inserter with the store's dedup semantics.
type memoryKB struct {
	mu      sync.Mutex
	nextID  int64
	byLink  map[string]int64
	byHash  map[string]int64
	entries []models.KBEntry
}

func newMemoryKB() *memoryKB {
	return &memoryKB{
		byLink: make(map[string]int64),
		byHash: make(map[string]int64),
	}
}

func (m *memoryKB) Insert(_ context.Context, e models.KBEntry) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var key string
	var index map[string]int64
	if e.Link != "" {
		key = e.Source + "|" + e.Link
		index = m.byLink
	} else {
		key = fmt.Sprintf("%d|%s|%s", e.Ts.UnixNano(), e.Ticker, e.ContentHash())
		index = m.byHash
	}
	if id, ok := index[key]; ok {
		return id, false, nil
	}
	m.nextID++
	index[key] = m.nextID
	m.entries = append(m.entries, e)
	return m.nextID, true, nil
}

// stubFetcher returns canned entries or an error.
type stubFetcher struct {
	name    string
	entries []models.KBEntry
	err     error
	delay   time.Duration
}

func (f stubFetcher) Name() string { return f.name }

func (f stubFetcher) Fetch(ctx context.Context) ([]models.KBEntry, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.entries, f.err
}

func entry(source, link, content string) models.KBEntry {
	return models.KBEntry{
		Ts:      time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Ticker:  "MSFT",
		Source:  source,
		Content: content,
		Link:    link,
	}
}

func TestPipelineMergesAllFetchers(t *testing.T) {
	kb := newMemoryKB()
	p := NewPipeline(kb, []Fetcher{
		stubFetcher{name: "a", entries: []models.KBEntry{entry("a", "http://x/1", "one")}},
		stubFetcher{name: "b", entries: []models.KBEntry{entry("b", "http://x/2", "two"), entry("b", "http://x/3", "three")}},
	}, 2, time.Second, zerolog.Nop())

	summary := p.Run(context.Background())

	if summary.Inserted != 3 {
		t.Fatalf("inserted = %d, want 3", summary.Inserted)
	}
	if summary.PerSource["a"] != 1 || summary.PerSource["b"] != 2 {
		t.Errorf("per-source counts wrong: %v", summary.PerSource)
	}
	if len(summary.Errors) != 0 {
		t.Errorf("unexpected errors: %v", summary.Errors)
	}
}

func TestPipelineIdempotentAcrossRuns(t *testing.T) {
	kb := newMemoryKB()
	fetchers := []Fetcher{
		stubFetcher{name: "rss", entries: []models.KBEntry{
			entry("rss", "http://x/1", "one"),
			entry("rss", "", "no link item"),
		}},
	}
	p := NewPipeline(kb, fetchers, 4, time.Second, zerolog.Nop())

	first := p.Run(context.Background())
	second := p.Run(context.Background())

	if first.Inserted != 2 {
		t.Fatalf("first run inserted %d, want 2", first.Inserted)
	}
	if second.Inserted != 0 {
		t.Errorf("second run inserted %d, want 0 (dedup)", second.Inserted)
	}
	if len(kb.entries) != 2 {
		t.Errorf("kb holds %d entries, want 2", len(kb.entries))
	}
}

func TestPipelineIsolatesFetcherFailure(t *testing.T) {
	kb := newMemoryKB()
	p := NewPipeline(kb, []Fetcher{
		stubFetcher{name: "broken", err: errors.New("boom")},
		stubFetcher{name: "ok", entries: []models.KBEntry{entry("ok", "http://x/1", "one")}},
	}, 2, time.Second, zerolog.Nop())

	summary := p.Run(context.Background())

	if summary.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", summary.Inserted)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", summary.Errors)
	}
}

func TestPipelineHonorsPerFetcherTimeout(t *testing.T) {
	kb := newMemoryKB()
	p := NewPipeline(kb, []Fetcher{
		stubFetcher{name: "stuck", delay: 5 * time.Second},
		stubFetcher{name: "fast", entries: []models.KBEntry{entry("fast", "http://x/1", "one")}},
	}, 2, 50*time.Millisecond, zerolog.Nop())

	start := time.Now()
	summary := p.Run(context.Background())

	if time.Since(start) > 2*time.Second {
		t.Fatal("stuck fetcher blocked the batch past its deadline")
	}
	if summary.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", summary.Inserted)
	}
	if len(summary.Errors) != 1 {
		t.Errorf("expected the stuck fetcher to report an error, got %v", summary.Errors)
	}
}
