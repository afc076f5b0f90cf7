package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the Omega turn pipeline.
type Metrics struct {
	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// TurnCounter counts conversation turns by outcome.
	// Labels: outcome (completed|failed|rejected)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	TurnDuration prometheus.Histogram

	// ActiveTurns is a gauge of turns currently streaming.
	ActiveTurns prometheus.Gauge

	// LLMRequestDuration measures LLM streaming call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts executor-backed tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures executor round-trip time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// RegistrySearchCounter counts registry searches by outcome.
	// Labels: outcome (ok|empty|error)
	RegistrySearchCounter *prometheus.CounterVec

	// DynamicToolsLoaded counts dynamic tools registered into sessions.
	DynamicToolsLoaded prometheus.Counter

	// RateLimitRejections counts 429 responses.
	RateLimitRejections prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return newMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsForRegistry creates metrics bound to a specific registry.
// Used in tests to avoid duplicate-registration panics.
func NewMetricsForRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegisterer(reg)
}

func newMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "omega_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method", "path", "status_code"}),

		HTTPRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "omega_http_requests_total",
			Help: "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "omega_turns_total",
			Help: "Conversation turns by outcome.",
		}, []string{"outcome"}),

		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "omega_turn_duration_seconds",
			Help:    "End-to-end conversation turn latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		ActiveTurns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "omega_active_turns",
			Help: "Turns currently streaming.",
		}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "omega_llm_request_duration_seconds",
			Help:    "LLM streaming call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "omega_llm_tokens_total",
			Help: "LLM token consumption.",
		}, []string{"provider", "model", "type"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "omega_tool_executions_total",
			Help: "Tool invocations proxied to the executor service.",
		}, []string{"tool_name", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "omega_tool_execution_duration_seconds",
			Help:    "Executor round-trip time per tool.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		RegistrySearchCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "omega_registry_searches_total",
			Help: "Tool registry relevance searches by outcome.",
		}, []string{"outcome"}),

		DynamicToolsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "omega_dynamic_tools_loaded_total",
			Help: "Dynamic tools registered into conversation sessions.",
		}),

		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "omega_rate_limit_rejections_total",
			Help: "Requests rejected by the per-caller rate limit.",
		}),
	}
}
