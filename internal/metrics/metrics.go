// Package metrics exposes Prometheus instruments for ingestion, the task
// queue and the background workers. Each Metrics owns its registry, so tests
// and multiple servers in one process never collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/phrazzld/recall/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recall"

// Metrics groups every instrument the server records. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	IngestTotal      *prometheus.CounterVec
	TasksResolved    *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
	ClaimOrder       *prometheus.GaugeVec
	RecoveredTasks   *prometheus.GaugeVec
	StoreRetries     prometheus.Counter
	ProducerLastSeen prometheus.Gauge
}

// New creates and registers every instrument on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Captures received by the ingest endpoint, by kind and result.",
		}, []string{"kind", "result"}), // accepted | duplicate | rejected | error

		TasksResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_resolved_total",
			Help:      "Tasks resolved by the workers, by kind and terminal status.",
		}, []string{"kind", "status"}),

		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of enrichment stages.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind", "stage"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks per kind and status at the last status scrape.",
		}, []string{"kind", "status"}),

		ClaimOrder: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_lifo",
			Help:      "1 when the worker for a kind is claiming newest-first.",
		}, []string{"kind"}),

		RecoveredTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_recovered_tasks",
			Help:      "Tasks reset from processing to pending at the last worker start.",
		}, []string{"kind"}),

		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Store operations retried after transient contention.",
		}),

		ProducerLastSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "producer_last_seen_timestamp_seconds",
			Help:      "Unix time of the last producer heartbeat.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IngestTotal,
		m.TasksResolved,
		m.StageDuration,
		m.QueueDepth,
		m.ClaimOrder,
		m.RecoveredTasks,
		m.StoreRetries,
		m.ProducerLastSeen,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Ingested counts one ingest request outcome.
func (m *Metrics) Ingested(kind domain.ArtifactKind, result string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(string(kind), result).Inc()
}

// Resolved counts a task reaching a terminal status.
func (m *Metrics) Resolved(kind domain.ArtifactKind, status domain.TaskStatus) {
	if m == nil {
		return
	}
	m.TasksResolved.WithLabelValues(string(kind), string(status)).Inc()
}

// ObserveStage records how long an enrichment stage ran.
func (m *Metrics) ObserveStage(kind domain.ArtifactKind, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(string(kind), stage).Observe(d.Seconds())
}

// SetOrder records the claim order a worker last used.
func (m *Metrics) SetOrder(kind domain.ArtifactKind, order domain.ClaimOrder) {
	if m == nil {
		return
	}
	v := 0.0
	if order == domain.OrderLIFO {
		v = 1
	}
	m.ClaimOrder.WithLabelValues(string(kind)).Set(v)
}

// SetRecovered records the crash-recovery count of a worker start.
func (m *Metrics) SetRecovered(kind domain.ArtifactKind, n int64) {
	if m == nil {
		return
	}
	m.RecoveredTasks.WithLabelValues(string(kind)).Set(float64(n))
}

// SetQueueDepth replaces the queue depth gauges.
func (m *Metrics) SetQueueDepth(counts map[domain.ArtifactKind]map[domain.TaskStatus]int) {
	if m == nil {
		return
	}
	for kind, byStatus := range counts {
		for status, n := range byStatus {
			m.QueueDepth.WithLabelValues(string(kind), string(status)).Set(float64(n))
		}
	}
}

// StoreRetried counts one retried store operation.
func (m *Metrics) StoreRetried() {
	if m == nil {
		return
	}
	m.StoreRetries.Inc()
}

// Heartbeat records a producer heartbeat time.
func (m *Metrics) Heartbeat(at time.Time) {
	if m == nil {
		return
	}
	m.ProducerLastSeen.Set(float64(at.Unix()))
}
