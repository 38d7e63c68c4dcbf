package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/womenscare/clinical-analysis/internal/domain/aiconfig"
	"github.com/womenscare/clinical-analysis/internal/domain/analysis"
)

var (
	AnalysisRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_runs_total",
			Help: "Analysis runs by stage, final status and error category",
		},
		[]string{"type", "status", "category"},
	)

	AnalysisRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_run_duration_seconds",
			Help:    "End to end duration of an analysis run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"type"},
	)

	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_provider_calls_total",
			Help: "LLM provider calls by outcome",
		},
		[]string{"provider", "model", "outcome"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_provider_call_duration_seconds",
			Help:    "Latency of a single LLM provider call",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"provider"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Tokens consumed by kind",
		},
		[]string{"provider", "model", "kind"},
	)

	CostUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cost_usd_total",
			Help: "Estimated provider spend in USD",
		},
		[]string{"provider", "model"},
	)
)

// Recorder feeds pipeline observations into the collectors above.
type Recorder struct{}

func (Recorder) RunFinished(t aiconfig.AnalysisType, status analysis.Status, category analysis.ErrorCategory, d time.Duration) {
	AnalysisRunsTotal.WithLabelValues(string(t), string(status), string(category)).Inc()
	AnalysisRunDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}

func (Recorder) ProviderCall(p aiconfig.Provider, model, outcome string, d time.Duration) {
	ProviderCallsTotal.WithLabelValues(string(p), model, outcome).Inc()
	ProviderCallDuration.WithLabelValues(string(p)).Observe(d.Seconds())
}

func (Recorder) Usage(p aiconfig.Provider, model string, promptTokens, completionTokens int, cost float64) {
	TokensTotal.WithLabelValues(string(p), model, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(string(p), model, "completion").Add(float64(completionTokens))
	CostUSDTotal.WithLabelValues(string(p), model).Add(cost)
}
