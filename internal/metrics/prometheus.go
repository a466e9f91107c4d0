package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docs_agent_query_duration_seconds",
			Help:    "Time from query receipt to the first generated token",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"transport"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_agent_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	SearchResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docs_agent_search_results_count",
			Help:    "Number of sections returned by each similarity search",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	IndexRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_agent_index_runs_total",
			Help: "Indexing attempts by outcome",
		},
		[]string{"status"},
	)

	SectionsIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_agent_sections_total",
			Help: "Sections processed during indexing",
		},
		[]string{"result"},
	)

	IndexDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docs_agent_index_duration_seconds",
			Help:    "Duration of a full indexing run",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_agent_llm_requests_total",
			Help: "Generation and embedding requests by backend and outcome",
		},
		[]string{"backend", "operation", "status"},
	)

	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docs_agent_llm_latency_seconds",
			Help:    "Latency of generation and embedding requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend", "operation"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	HistoryEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docs_agent_history_entries_total",
			Help: "Query history entries appended",
		},
	)

	CompetitionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_agent_competition_runs_total",
			Help: "Writer competitions by outcome",
		},
		[]string{"status"},
	)

	CompetitionWinner = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_agent_competition_winner_total",
			Help: "Judge decisions by winning position",
		},
		[]string{"winner"},
	)

	SchemaValidationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docs_agent_schema_validation_failures_total",
			Help: "Payloads rejected by schema validation",
		},
		[]string{"schema"},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Later calls are no-ops.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			SearchResultsCount,
			IndexRuns,
			SectionsIndexed,
			IndexDuration,
			LLMRequests,
			LLMLatency,
			LLMTokensUsed,
			HistoryEntries,
			CompetitionRuns,
			CompetitionWinner,
			SchemaValidationFailures,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
