package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Jace.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Command execution metrics.
	CommandExecutionsTotal   *prometheus.CounterVec
	CommandExecutionDuration *prometheus.HistogramVec
	CommandValidationsTotal  *prometheus.CounterVec

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec
	LLMCostUSDTotal    *prometheus.CounterVec

	// Pipeline metrics.
	PipelineTasksTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		CommandExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jace",
			Subsystem: "command",
			Name:      "executions_total",
			Help:      "Total command executions.",
		}, []string{"base_command", "status"}),

		CommandExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jace",
			Subsystem: "command",
			Name:      "execution_duration_seconds",
			Help:      "Command execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"base_command"}),

		CommandValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jace",
			Subsystem: "command",
			Name:      "validations_total",
			Help:      "Total command validation decisions.",
		}, []string{"result"}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jace",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jace",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jace",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "direction"}),

		LLMCostUSDTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jace",
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Total estimated LLM spend in USD.",
		}, []string{"model"}),

		PipelineTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jace",
			Subsystem: "pipeline",
			Name:      "tasks_total",
			Help:      "Total pipeline task transitions.",
		}, []string{"outcome"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jace",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jace",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jace",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.CommandExecutionsTotal,
		m.CommandExecutionDuration,
		m.CommandValidationsTotal,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.LLMCostUSDTotal,
		m.PipelineTasksTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
