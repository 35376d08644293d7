// Package metrics exposes bridge and HTTP metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vizbridge"

// Registry owns the bridge collectors. It satisfies rpc.Observer.
type Registry struct {
	reg *prometheus.Registry

	rpcRequests   *prometheus.CounterVec
	rpcLatency    *prometheus.HistogramVec
	schemaRuns    *prometheus.CounterVec
	schemaLatency prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

// New builds a registry with the bridge collectors and the Go runtime
// collectors registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "RPC requests handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "Time from receipt to response delivery.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		schemaRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "collections_total",
			Help:      "Schema collections, by outcome.",
		}, []string{"outcome"}),
		schemaLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "collection_duration_seconds",
			Help:      "Duration of a full schema collection.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by handler, method and status code.",
		}, []string{"handler", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by handler and method.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	r.reg.MustRegister(
		r.rpcRequests, r.rpcLatency,
		r.schemaRuns, r.schemaLatency,
		r.httpRequests, r.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveRPC records one delivered RPC response.
func (r *Registry) ObserveRPC(method, outcome string, elapsed time.Duration) {
	r.rpcRequests.WithLabelValues(method, outcome).Inc()
	r.rpcLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveSchema records one schema collection.
func (r *Registry) ObserveSchema(elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.schemaRuns.WithLabelValues(outcome).Inc()
	r.schemaLatency.Observe(elapsed.Seconds())
}

// Instrument wraps next so that requests to it are counted and timed under
// the given handler label.
func (r *Registry) Instrument(handler string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"handler": handler}
	counted := promhttp.InstrumentHandlerCounter(r.httpRequests.MustCurryWith(labels), next)
	return promhttp.InstrumentHandlerDuration(r.httpLatency.MustCurryWith(labels), counted)
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests and embedding.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
