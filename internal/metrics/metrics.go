package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tsrr"

// scoreBuckets spans the reciprocal-rank range (0, 1].
var scoreBuckets = []float64{0.01, 0.05, 0.1, 0.2, 0.25, 1.0 / 3, 0.5, 0.75, 1}

// Metrics holds all application metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Scoring metrics
	ScoresTotal        *prometheus.CounterVec   // labels: variant
	ScoreValue         *prometheus.HistogramVec // labels: variant
	NoRelevantTotal    *prometheus.CounterVec   // labels: variant
	InvalidInputsTotal *prometheus.CounterVec   // labels: variant

	// Run metrics
	RunsTotal   *prometheus.CounterVec   // labels: variant
	RunQueries  *prometheus.HistogramVec // labels: variant
	RunDuration *prometheus.HistogramVec // labels: variant

	// Bus metrics
	BusEventsPublished *prometheus.CounterVec   // labels: topic
	BusEventLatency    *prometheus.HistogramVec // labels: topic
	BusErrors          *prometheus.CounterVec   // labels: topic
	BusDeliveries      *prometheus.CounterVec   // labels: topic, outcome

	// HTTP metrics
	HTTPRequests         *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration         *prometheus.HistogramVec // labels: method, path
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates a metrics set registered on its own registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ScoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_total",
			Help:      "Queries scored, by metric variant.",
		}, []string{"variant"}),
		ScoreValue: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score",
			Help:      "Distribution of per-query TsRR values.",
			Buckets:   scoreBuckets,
		}, []string{"variant"}),
		NoRelevantTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_relevant_total",
			Help:      "Queries whose ranked list held no relevant document.",
		}, []string{"variant"}),
		InvalidInputsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_inputs_total",
			Help:      "Queries rejected as invalid input.",
		}, []string{"variant"}),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed evaluation runs.",
		}, []string{"variant"}),
		RunQueries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_queries",
			Help:      "Number of queries per evaluation run.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"variant"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of evaluation runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"variant"}),

		BusEventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Events published to the event bus.",
		}, []string{"topic"}),
		BusEventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_duration_seconds",
			Help:      "Latency of event bus publishes.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"topic"}),
		BusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_errors_total",
			Help:      "Failed event bus publishes.",
		}, []string{"topic"}),
		BusDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_deliveries_total",
			Help:      "Events handed to subscribers, by handler outcome.",
		}, []string{"topic", "outcome"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ScoresTotal, m.ScoreValue, m.NoRelevantTotal, m.InvalidInputsTotal,
		m.RunsTotal, m.RunQueries, m.RunDuration,
		m.BusEventsPublished, m.BusEventLatency, m.BusErrors, m.BusDeliveries,
		m.HTTPRequests, m.HTTPDuration, m.HTTPRequestsInFlight,
	)
	return m
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

// RecordScore records one scored query.
func (m *Metrics) RecordScore(variant string, score float64, noRelevant bool) {
	m.ScoresTotal.WithLabelValues(variant).Inc()
	m.ScoreValue.WithLabelValues(variant).Observe(score)
	if noRelevant {
		m.NoRelevantTotal.WithLabelValues(variant).Inc()
	}
}

// RecordInvalidInput records a query rejected before scoring.
func (m *Metrics) RecordInvalidInput(variant string) {
	m.InvalidInputsTotal.WithLabelValues(variant).Inc()
}

// RecordRun records a completed evaluation run.
func (m *Metrics) RecordRun(variant string, queries int, duration time.Duration) {
	m.RunsTotal.WithLabelValues(variant).Inc()
	m.RunQueries.WithLabelValues(variant).Observe(float64(queries))
	m.RunDuration.WithLabelValues(variant).Observe(duration.Seconds())
}

// RecordBusPublish records an event bus publish.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusEventsPublished.WithLabelValues(topic).Inc()
	m.BusEventLatency.WithLabelValues(topic).Observe(latency.Seconds())
	if err != nil {
		m.BusErrors.WithLabelValues(topic).Inc()
	}
}

// RecordBusDelivery records one event handed to a subscriber.
func (m *Metrics) RecordBusDelivery(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BusDeliveries.WithLabelValues(topic, outcome).Inc()
}

// RecordHTTP records one served HTTP request.
func (m *Metrics) RecordHTTP(method, path string, status int, duration time.Duration) {
	path = normalizePath(path)
	m.HTTPRequests.WithLabelValues(method, path, statusCode(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
