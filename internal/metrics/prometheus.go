package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newsprism/backend/pkg/circuitbreaker"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsprism_stage_duration_seconds",
			Help:    "Pipeline stage batch duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	StageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_stage_runs_total",
			Help: "Total pipeline stage runs",
		},
		[]string{"stage", "status"},
	)

	DiscoveredURLs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_discovered_urls_total",
			Help: "URLs seen during discovery, by outcome",
		},
		[]string{"outcome"},
	)

	ScrapeJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_scrape_jobs_total",
			Help: "Scrape job transitions, by resulting status",
		},
		[]string{"status"},
	)

	ArticlesUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_articles_upserted_total",
			Help: "Articles written to the store",
		},
		[]string{"origin"},
	)

	ChunksEmbedded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_chunks_embedded_total",
			Help: "Chunk embedding attempts, by status",
		},
		[]string{"status"},
	)

	EmbeddingCompletion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsprism_embedding_completion_percent",
			Help: "Share of articles that have embeddings",
		},
	)

	Analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_analyses_total",
			Help: "Comparative analyses, by outcome",
		},
		[]string{"outcome"},
	)

	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_provider_requests_total",
			Help: "Outbound provider requests, by provider and status",
		},
		[]string{"provider", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsprism_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsprism_circuit_breaker_state",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

// BreakerStateChanged is a circuitbreaker.Config OnStateChange hook.
func BreakerStateChanged(name string, from, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
}

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(StageRuns)
		prometheus.MustRegister(DiscoveredURLs)
		prometheus.MustRegister(ScrapeJobs)
		prometheus.MustRegister(ArticlesUpserted)
		prometheus.MustRegister(ChunksEmbedded)
		prometheus.MustRegister(EmbeddingCompletion)
		prometheus.MustRegister(Analyses)
		prometheus.MustRegister(ProviderRequests)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(BreakerState)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
