// Package metrics exposes the service's Prometheus instruments
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so several recorders can coexist in tests
type Recorder struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	sourceErrors    *prometheus.CounterVec
	staleDiscards   *prometheus.CounterVec
	sessionDiscards prometheus.Counter
	fallbacks       *prometheus.CounterVec
	snapshotVersion prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	streamClients   prometheus.Gauge
}

// New creates a new Prometheus metrics recorder
func New(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_cycles_total",
				Help:      "Total number of refresh cycles by result",
			},
			[]string{"result"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_cycle_duration_seconds",
				Help:      "Duration of refresh cycles in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		sourceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of failed source reads",
			},
			[]string{"source"},
		),
		staleDiscards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_responses_discarded_total",
				Help:      "Responses dropped because a newer one was already applied",
			},
			[]string{"source"},
		),
		sessionDiscards: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_discards_total",
				Help:      "Refresh cycles dropped after a session switch",
			},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "last_known_fallbacks_total",
				Help:      "Prices served from the last known store",
			},
			[]string{"source"},
		),
		snapshotVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_version",
				Help:      "Version of the latest published snapshot",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"route", "method"},
		),
		streamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_clients",
				Help:      "Connected snapshot stream clients",
			},
		),
	}
}

// RecordCycle records a finished refresh cycle
func (r *Recorder) RecordCycle(result string, seconds float64) {
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(seconds)
}

// RecordSourceError records a failed source read
func (r *Recorder) RecordSourceError(source string) {
	r.sourceErrors.WithLabelValues(source).Inc()
}

// RecordStaleDiscard records a dropped out-of-order response
func (r *Recorder) RecordStaleDiscard(source string) {
	r.staleDiscards.WithLabelValues(source).Inc()
}

// RecordSessionDiscard records a cycle dropped after a session switch
func (r *Recorder) RecordSessionDiscard() {
	r.sessionDiscards.Inc()
}

// RecordFallback records a last-known price standing in for a source
func (r *Recorder) RecordFallback(source string) {
	r.fallbacks.WithLabelValues(source).Inc()
}

// SetSnapshotVersion records the latest published snapshot version
func (r *Recorder) SetSnapshotVersion(version uint64) {
	r.snapshotVersion.Set(float64(version))
}

// RecordHTTPRequest records one served request
func (r *Recorder) RecordHTTPRequest(route, method, status string, seconds float64) {
	r.httpRequests.WithLabelValues(route, method, status).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(seconds)
}

// SetStreamClients records the number of connected stream clients
func (r *Recorder) SetStreamClients(n int) {
	r.streamClients.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
