// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors the daemon registers. Construct with New
// and pass to the components that record into it; a nil *Metrics is safe
// and records nothing.
type Metrics struct {
	PipelineRuns   *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	TasksProcessed *prometheus.CounterVec
	TaskRetries    prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labflow",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline invocations by terminal outcome.",
		}, []string{"outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "labflow",
			Name:      "pipeline_step_duration_seconds",
			Help:      "Wall time spent in each pipeline step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labflow",
			Name:      "inventory_cache_hits_total",
			Help:      "Inventory cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labflow",
			Name:      "inventory_cache_misses_total",
			Help:      "Inventory cache misses.",
		}),
		TasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labflow",
			Name:      "tasks_processed_total",
			Help:      "Queue tasks processed by result.",
		}, []string{"kind", "result"}),
		TaskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labflow",
			Name:      "task_retries_total",
			Help:      "Queue task retry attempts.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labflow",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		m.PipelineRuns,
		m.StepDuration,
		m.CacheHits,
		m.CacheMisses,
		m.TasksProcessed,
		m.TaskRetries,
		m.HTTPRequests,
	)
	return m
}

// ObservePipelineRun records a pipeline outcome.
func (m *Metrics) ObservePipelineRun(outcome string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
}

// ObserveStep records the duration of a pipeline step in seconds.
func (m *Metrics) ObserveStep(step string, seconds float64) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(seconds)
}

// ObserveCache records an inventory cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// ObserveTask records a processed queue task.
func (m *Metrics) ObserveTask(kind, result string) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(kind, result).Inc()
}

// ObserveTaskRetry records a task retry.
func (m *Metrics) ObserveTaskRetry() {
	if m == nil {
		return
	}
	m.TaskRetries.Inc()
}

// ObserveHTTP records a completed HTTP request.
func (m *Metrics) ObserveHTTP(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}
