// Package metrics registers the Prometheus instruments. Ingestion and
// enrichment failures are observable here and in logs only; they never
// reach the decision path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NewsFetched counts entries fetched per source.
	NewsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sibyl_news_fetched_total",
		Help: "News entries fetched, by source.",
	}, []string{"source"})

	// NewsErrors counts fetcher failures per source.
	NewsErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sibyl_news_errors_total",
		Help: "News fetcher failures, by source.",
	}, []string{"source"})

	// NewsInserted counts entries actually written (post-dedup).
	NewsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sibyl_news_inserted_total",
		Help: "Knowledge-base entries inserted after deduplication.",
	})

	// EnrichFailures counts enrichment sweep failures by kind.
	EnrichFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sibyl_enrich_failures_total",
		Help: "Enrichment failures, by kind (sentiment, embedding, outcome).",
	}, []string{"kind"})

	// TradesExecuted counts journal rows written by side.
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sibyl_trades_executed_total",
		Help: "Trades recorded in the journal, by side.",
	}, []string{"side"})

	// RiskRejections counts risk-manager vetoes.
	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sibyl_risk_rejections_total",
		Help: "Buy attempts vetoed by the risk manager.",
	})

	// JobRuns counts scheduler job executions by job and result.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sibyl_job_runs_total",
		Help: "Scheduler job executions, by job and result.",
	}, []string{"job", "result"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
