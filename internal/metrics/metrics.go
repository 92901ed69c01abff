// Package metrics exposes pipeline counters on a private Prometheus registry.
// All methods are nil-safe so services can run without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trailwatch"

// Metrics holds all pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	capturesIngested  *prometheus.CounterVec
	ingestRejected    *prometheus.CounterVec
	orphanedBlobs     prometheus.Counter
	labelOutcomes     *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	sinkFailures      *prometheus.CounterVec
	dispatchDropped   prometheus.Counter
	staleCaptures     prometheus.Gauge
	abandonedAttempts prometheus.Counter
	redispatched      prometheus.Counter
	httpDuration      *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry, including Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		capturesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "captures_ingested_total",
			Help: "Captures stored, by source.",
		}, []string{"source"}),
		ingestRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_rejected_total",
			Help: "Uploads rejected before storage, by error kind.",
		}, []string{"kind"}),
		orphanedBlobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orphaned_blobs_total",
			Help: "Blobs left behind after a failed metadata insert.",
		}),
		labelOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "label_callbacks_total",
			Help: "Labeler callbacks, by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notification_attempts_total",
			Help: "Finalized notification attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "external_sink_failures_total",
			Help: "Failed calls to external sinks after retries, by sink.",
		}, []string{"sink"}),
		dispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_jobs_dropped_total",
			Help: "Dispatch jobs dropped because the queue was full.",
		}),
		staleCaptures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stale_captures",
			Help: "Captures still awaiting a label past the staleness threshold.",
		}),
		abandonedAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notification_attempts_abandoned_total",
			Help: "Pending notification claims expired by the sweeper.",
		}),
		redispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "labels_redispatched_total",
			Help: "Labels re-enqueued by the sweeper.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency, by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.capturesIngested, m.ingestRejected, m.orphanedBlobs, m.labelOutcomes,
		m.notifications, m.sinkFailures, m.dispatchDropped, m.staleCaptures,
		m.abandonedAttempts, m.redispatched, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterQueueDepth exposes the dispatch queue length through fn.
func (m *Metrics) RegisterQueueDepth(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "dispatch_queue_depth",
		Help: "Jobs waiting in the dispatch queue.",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) CaptureIngested(source string) {
	if m != nil {
		m.capturesIngested.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) IngestRejected(kind string) {
	if m != nil {
		m.ingestRejected.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) OrphanedBlob() {
	if m != nil {
		m.orphanedBlobs.Inc()
	}
}

// LabelCallback counts a correlator result: created, already_labeled, forbidden, not_found, invalid, error.
func (m *Metrics) LabelCallback(result string) {
	if m != nil {
		m.labelOutcomes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) NotificationFinalized(provider, outcome string) {
	if m != nil {
		if provider == "" {
			provider = "none"
		}
		m.notifications.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) SinkFailure(sink string) {
	if m != nil {
		m.sinkFailures.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) DispatchDropped() {
	if m != nil {
		m.dispatchDropped.Inc()
	}
}

func (m *Metrics) SetStaleCaptures(n int) {
	if m != nil {
		m.staleCaptures.Set(float64(n))
	}
}

func (m *Metrics) AttemptsAbandoned(n int64) {
	if m != nil && n > 0 {
		m.abandonedAttempts.Add(float64(n))
	}
}

func (m *Metrics) Redispatched(n int) {
	if m != nil && n > 0 {
		m.redispatched.Add(float64(n))
	}
}

func (m *Metrics) ObserveHTTP(route, method, status string, d time.Duration) {
	if m != nil {
		m.httpDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
	}
}
