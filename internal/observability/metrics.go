package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the agent runtime.
type Metrics struct {
	LLMRequests   *prometheus.CounterVec
	LLMDuration   *prometheus.HistogramVec
	LLMTokens     *prometheus.CounterVec
	ToolRuns      *prometheus.CounterVec
	ToolDuration  *prometheus.HistogramVec
	RouteRetries  *prometheus.CounterVec
	RouteFallback *prometheus.CounterVec
	BreakerState  *prometheus.CounterVec
	Compressions  prometheus.Counter
	LoopsDetected *prometheus.CounterVec
}

// NewMetrics registers the runtime collectors against reg. Passing nil
// registers against the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drover_llm_requests_total",
			Help: "Total LLM completion requests by provider, model and status.",
		}, []string{"provider", "model", "status"}),

		LLMDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drover_llm_request_duration_seconds",
			Help:    "LLM completion request duration in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drover_llm_tokens_total",
			Help: "Total tokens consumed by direction (input or output).",
		}, []string{"provider", "model", "direction"}),

		ToolRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drover_tool_executions_total",
			Help: "Total tool executions by tool name and status.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drover_tool_execution_duration_seconds",
			Help:    "Tool execution duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		}, []string{"tool"}),

		RouteRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drover_route_retries_total",
			Help: "Total routed request retries by provider and error class.",
		}, []string{"provider", "class"}),

		RouteFallback: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drover_route_fallbacks_total",
			Help: "Total fallbacks from one backend to another.",
		}, []string{"from", "to"}),

		BreakerState: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drover_breaker_transitions_total",
			Help: "Circuit breaker state transitions by backend and new state.",
		}, []string{"backend", "state"}),

		Compressions: factory.NewCounter(prometheus.CounterOpts{
			Name: "drover_context_compressions_total",
			Help: "Total context window compressions performed.",
		}),

		LoopsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drover_loops_detected_total",
			Help: "Total tool call loops detected by tool name.",
		}, []string{"tool"}),
	}
}

// ObserveLLMRequest records one completion request outcome.
func (m *Metrics) ObserveLLMRequest(provider, model, status string, elapsed time.Duration) {
	m.LLMRequests.WithLabelValues(provider, model, status).Inc()
	m.LLMDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
}

// ObserveTokens records token usage for one request.
func (m *Metrics) ObserveTokens(provider, model string, input, output int) {
	if input > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "output").Add(float64(output))
	}
}

// ObserveToolRun records one tool execution outcome.
func (m *Metrics) ObserveToolRun(tool, status string, elapsed time.Duration) {
	m.ToolRuns.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}
