// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TokensGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spindle_tokens_generated_total",
		Help: "Tokens sampled by the generation engine",
	})

	TokensEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spindle_tokens_evaluated_total",
		Help: "Tokens sent to the backend for evaluation",
	})

	PrefixHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spindle_prefix_hits_total",
		Help: "Generations that reused a cached context prefix",
	})

	PrefixMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spindle_prefix_misses_total",
		Help: "Generations that restarted from an empty context",
	})

	PrefixReusedTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spindle_prefix_reused_tokens",
		Help:    "Tokens skipped thanks to prefix reuse",
		Buckets: []float64{1, 8, 32, 128, 512, 2048, 8192},
	})

	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spindle_eval_duration_seconds",
		Help:    "Duration of one backend decode call",
		Buckets: prometheus.DefBuckets,
	})

	Completions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spindle_completions_total",
		Help: "Finished completions by finish reason",
	}, []string{"finish_reason"})

	PromptCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spindle_prompt_cache_hits_total",
		Help: "Prompt cache lookups that restored a saved state",
	})

	PromptCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spindle_prompt_cache_bytes",
		Help: "Bytes held by the prompt cache",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spindle_errors_total",
		Help: "Errors by kind",
	}, []string{"kind"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
