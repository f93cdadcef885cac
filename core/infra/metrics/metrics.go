// Package metrics exposes Prometheus instrumentation for the gateway.
// Three planes are measured separately: the HTTP surface, calls into
// AI providers, and workflow execution. Each plane has an interface so
// tests and minimal deployments can run with Noop.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GatewayMetrics captures request metrics for the HTTP surface.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// ProviderMetrics counts calls into AI providers. Outcome is "ok" or
// the classified error code of the failure.
type ProviderMetrics interface {
	IncProviderCall(category, provider, outcome string)
	IncFailover(category string)
}

// WorkflowMetrics captures executor-level workflow metrics.
type WorkflowMetrics interface {
	IncWorkflowStarted(workflow string)
	IncWorkflowCompleted(workflow, status string)
	ObserveWorkflowDuration(workflow string, durationSeconds float64)
	SetQueueDepth(n int)
	SetRunning(n int)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) IncProviderCall(string, string, string)         {}
func (Noop) IncFailover(string)                             {}
func (Noop) IncWorkflowStarted(string)                      {}
func (Noop) IncWorkflowCompleted(string, string)            {}
func (Noop) ObserveWorkflowDuration(string, float64)        {}
func (Noop) SetQueueDepth(int)                              {}
func (Noop) SetRunning(int)                                 {}

// Handler returns the HTTP handler served on the metrics port.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics backed by Prometheus.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// --- Provider metrics ---

type providerProm struct {
	calls     *prometheus.CounterVec
	failovers *prometheus.CounterVec
	once      sync.Once
}

// NewProviderProm constructs a ProviderMetrics backed by Prometheus.
func NewProviderProm(namespace string) ProviderMetrics {
	p := &providerProm{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider invocations by category, provider and outcome",
		}, []string{"category", "provider", "outcome"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failovers_total",
			Help:      "Failover rotations by category",
		}, []string{"category"}),
	}
	p.once.Do(func() {
		prometheus.MustRegister(p.calls, p.failovers)
	})
	return p
}

func (p *providerProm) IncProviderCall(category, provider, outcome string) {
	p.calls.WithLabelValues(category, provider, outcome).Inc()
}

func (p *providerProm) IncFailover(category string) {
	p.failovers.WithLabelValues(category).Inc()
}

// --- Workflow metrics ---

type workflowProm struct {
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	queue     prometheus.Gauge
	running   prometheus.Gauge
	once      sync.Once
}

// NewWorkflowProm constructs a WorkflowMetrics backed by Prometheus.
func NewWorkflowProm(namespace string) WorkflowMetrics {
	w := &workflowProm{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Workflows started by name",
		}, []string{"workflow"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_completed_total",
			Help:      "Workflows completed by name and terminal status",
		}, []string{"workflow", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow duration seconds by name",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow"}),
		queue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_queue_depth",
			Help:      "Workflows waiting for an execution slot",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_running",
			Help:      "Workflows currently executing",
		}),
	}
	w.once.Do(func() {
		prometheus.MustRegister(w.started, w.completed, w.duration, w.queue, w.running)
	})
	return w
}

func (w *workflowProm) IncWorkflowStarted(workflow string) {
	w.started.WithLabelValues(workflow).Inc()
}

func (w *workflowProm) IncWorkflowCompleted(workflow, status string) {
	w.completed.WithLabelValues(workflow, status).Inc()
}

func (w *workflowProm) ObserveWorkflowDuration(workflow string, durationSeconds float64) {
	w.duration.WithLabelValues(workflow).Observe(durationSeconds)
}

func (w *workflowProm) SetQueueDepth(n int) {
	w.queue.Set(float64(n))
}

func (w *workflowProm) SetRunning(n int) {
	w.running.Set(float64(n))
}
