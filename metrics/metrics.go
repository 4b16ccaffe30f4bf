// Package metrics exposes Prometheus instrumentation for the contract
// engine: pipeline executions, circuit breaker transitions, memory tier
// operations, and LLM helper calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dealkit"

var (
	// pipelineDuration is a histogram of pipeline execution duration.
	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Histogram of pipeline execution duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"pipeline"},
	)

	// pipelineExecutionsTotal counts pipeline executions by outcome status.
	pipelineExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_executions_total",
			Help:      "Total number of pipeline executions",
		},
		[]string{"pipeline", "status"}, // status: ok, success, fallback, no_products, error, too_many_results
	)

	// componentDuration is a histogram of per-component processing duration.
	componentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "component_duration_seconds",
			Help:      "Histogram of pipeline component duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"pipeline", "component"},
	)

	// breakerTransitionsTotal counts circuit breaker state transitions.
	breakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	// contractTransitionsTotal counts FSM state transitions.
	contractTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_transitions_total",
			Help:      "Total number of contract FSM state transitions",
		},
		[]string{"from", "to", "status"},
	)

	// memoryOperationsTotal counts memory tier operations.
	memoryOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Total number of memory tier operations",
		},
		[]string{"tier", "operation", "status"}, // tier: buffer, summary, semantic
	)

	// llmRequestsTotal counts LLM helper calls.
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM helper calls",
		},
		[]string{"model", "status"},
	)

	// sessionsActive is a gauge of sessions with a resident contract FSM.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions with a resident contract machine",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		pipelineDuration,
		pipelineExecutionsTotal,
		componentDuration,
		breakerTransitionsTotal,
		contractTransitionsTotal,
		memoryOperationsTotal,
		llmRequestsTotal,
		sessionsActive,
	}
)

// RecordPipelineExecution records one pipeline run.
func RecordPipelineExecution(pipeline, status string, durationSeconds float64) {
	pipelineDuration.WithLabelValues(pipeline).Observe(durationSeconds)
	pipelineExecutionsTotal.WithLabelValues(pipeline, status).Inc()
}

// RecordComponentDuration records one component step within a pipeline run.
func RecordComponentDuration(pipeline, component string, durationSeconds float64) {
	componentDuration.WithLabelValues(pipeline, component).Observe(durationSeconds)
}

// RecordBreakerTransition records a circuit breaker state change.
func RecordBreakerTransition(service, from, to string) {
	breakerTransitionsTotal.WithLabelValues(service, from, to).Inc()
}

// RecordContractTransition records an FSM state change.
func RecordContractTransition(from, to, status string) {
	contractTransitionsTotal.WithLabelValues(from, to, status).Inc()
}

// RecordMemoryOperation records a memory tier operation.
func RecordMemoryOperation(tier, operation, status string) {
	memoryOperationsTotal.WithLabelValues(tier, operation, status).Inc()
}

// RecordLLMRequest records an LLM helper call.
func RecordLLMRequest(model, status string) {
	llmRequestsTotal.WithLabelValues(model, status).Inc()
}

// SessionStarted marks a resident contract machine as active.
func SessionStarted() { sessionsActive.Inc() }

// SessionEnded marks a resident contract machine as released.
func SessionEnded() { sessionsActive.Dec() }
