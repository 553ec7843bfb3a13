package news

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/avkuzmin/sibyl/internal/metrics"
	"github.com/avkuzmin/sibyl/pkg/models"
)

// Inserter is the slice of the knowledge base the pipeline writes
// through. Satisfied by kb.Service.
type Inserter interface {
	Insert(ctx context.Context, e models.KBEntry) (id int64, created bool, err error)
}

// Summary reports one pipeline run: entries inserted per source and
// the fetcher errors encountered. Errors never abort the run.
type Summary struct {
	PerSource map[string]int `json:"per_source"`
	Inserted  int            `json:"inserted"`
	Errors    []string       `json:"errors,omitempty"`
}

// Pipeline fans fetchers out over a bounded worker pool and funnels
// results through a single inserter that owns the knowledge-base
// writes. Inserts deduplicate, so overlapping fetch windows are safe.
type Pipeline struct {
	kb       Inserter
	fetchers []Fetcher
	workers  int
	timeout  time.Duration
	log      zerolog.Logger
}

// NewPipeline creates the pipeline. workers <= 0 selects the default
// of 4; timeout <= 0 selects 30 s per fetcher.
func NewPipeline(kbSvc Inserter, fetchers []Fetcher, workers int, timeout time.Duration, log zerolog.Logger) *Pipeline {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		kb:       kbSvc,
		fetchers: fetchers,
		workers:  workers,
		timeout:  timeout,
		log:      log.With().Str("component", "news").Logger(),
	}
}

type fetchResult struct {
	source  string
	entries []models.KBEntry
}

// Run executes every fetcher once and persists the merged results.
func (p *Pipeline) Run(ctx context.Context) Summary {
	summary := Summary{PerSource: make(map[string]int)}

	results := make(chan fetchResult, len(p.fetchers))
	var errMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, f := range p.fetchers {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, p.timeout)
			defer cancel()

			entries, err := f.Fetch(fctx)
			if err != nil {
				metrics.NewsErrors.WithLabelValues(f.Name()).Inc()
				p.log.Warn().Err(err).Str("fetcher", f.Name()).Msg("fetch failed")
				errMu.Lock()
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", f.Name(), err))
				errMu.Unlock()
			}
			if len(entries) > 0 {
				metrics.NewsFetched.WithLabelValues(f.Name()).Add(float64(len(entries)))
				results <- fetchResult{source: f.Name(), entries: entries}
			}
			// Fetcher errors are isolated; never fail the group.
			return nil
		})
	}

	// Single inserter goroutine owns all writes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range results {
			for _, e := range res.entries {
				_, created, err := p.kb.Insert(ctx, e)
				if err != nil {
					p.log.Warn().Err(err).Str("source", res.source).Msg("insert failed")
					continue
				}
				if created {
					summary.PerSource[res.source]++
				}
			}
		}
	}()

	_ = g.Wait()
	close(results)
	<-done

	for _, n := range summary.PerSource {
		summary.Inserted += n
	}
	if summary.Inserted > 0 {
		metrics.NewsInserted.Add(float64(summary.Inserted))
	}
	p.log.Info().Int("inserted", summary.Inserted).Int("errors", len(summary.Errors)).
		Msg("ingestion run complete")
	return summary
}
