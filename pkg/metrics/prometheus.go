// Package metrics provides Prometheus metrics for the pointward service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every Prometheus collector used by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	// Ingestion
	eventsIngested  prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsUnmapped  prometheus.Counter

	// Derivation
	balanceUpdates    prometheus.Counter
	derivationLatency prometheus.Histogram
	balancesTracked   prometheus.Gauge

	// Consistency checks
	checkRuns       *prometheus.CounterVec
	checkMismatches prometheus.Gauge
	checkDuration   prometheus.Histogram

	// Pipeline health
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueEnqueueFails prometheus.Counter
	workerCount       prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager()
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pointward",
		subsystem:        "points",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	factory := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		}
	}
	gaugeOpts := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		}
	}
	histOpts := func(name, help string) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
			Buckets:   m.histogramBuckets,
		}
	}

	m.eventsIngested = prometheus.NewCounter(factory("events_ingested_total", "Events appended to the ledger."))
	m.eventsDuplicate = prometheus.NewCounter(factory("events_duplicate_total", "Ingest calls resolved as idempotent duplicates."))
	m.eventsUnmapped = prometheus.NewCounter(factory("events_unmapped_total", "Events quarantined for lack of a catalog mapping."))

	m.balanceUpdates = prometheus.NewCounter(factory("balance_updates_total", "Balance rows advanced by the derivation engine."))
	m.derivationLatency = prometheus.NewHistogram(histOpts("derivation_latency_ms", "Latency of applying one event, in milliseconds."))
	m.balancesTracked = prometheus.NewGauge(gaugeOpts("balances_tracked", "Number of (player, attribute) balance rows."))

	m.checkRuns = prometheus.NewCounterVec(factory("check_runs_total", "Consistency check runs by outcome."), []string{"outcome"})
	m.checkMismatches = prometheus.NewGauge(gaugeOpts("check_mismatches", "Mismatches found by the most recent consistency check."))
	m.checkDuration = prometheus.NewHistogram(histOpts("check_duration_ms", "Duration of consistency check runs, in milliseconds."))

	m.queueSize = prometheus.NewGauge(gaugeOpts("queue_size", "Events waiting in the derivation queue."))
	m.queueCapacity = prometheus.NewGauge(gaugeOpts("queue_capacity", "Capacity of the derivation queue."))
	m.queueEnqueueFails = prometheus.NewCounter(factory("queue_enqueue_failures_total", "Enqueue attempts rejected by backpressure."))
	m.workerCount = prometheus.NewGauge(gaugeOpts("worker_count", "Number of derivation workers."))

	m.httpRequests = prometheus.NewCounterVec(factory("http_requests_total", "HTTP requests by endpoint, method and status."), []string{"endpoint", "method", "status"})
	m.httpRequestDuration = prometheus.NewHistogramVec(histOpts("http_request_duration_ms", "HTTP request duration by endpoint, in milliseconds."), []string{"endpoint"})

	m.registry.MustRegister(
		m.eventsIngested, m.eventsDuplicate, m.eventsUnmapped,
		m.balanceUpdates, m.derivationLatency, m.balancesTracked,
		m.checkRuns, m.checkMismatches, m.checkDuration,
		m.queueSize, m.queueCapacity, m.queueEnqueueFails, m.workerCount,
		m.httpRequests, m.httpRequestDuration,
	)
}

// Handler returns an http.Handler serving the manager's registry.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package-level helpers operating on the global manager.

func RecordEventIngested()  { globalManager.eventsIngested.Inc() }
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }
func RecordEventUnmapped()  { globalManager.eventsUnmapped.Inc() }

func RecordBalanceUpdate()               { globalManager.balanceUpdates.Inc() }
func RecordDerivationLatency(ms float64) { globalManager.derivationLatency.Observe(ms) }
func UpdateBalancesTracked(n int)        { globalManager.balancesTracked.Set(float64(n)) }

func RecordCheckRun(outcome string)  { globalManager.checkRuns.WithLabelValues(outcome).Inc() }
func UpdateCheckMismatches(n int)    { globalManager.checkMismatches.Set(float64(n)) }
func RecordCheckDuration(ms float64) { globalManager.checkDuration.Observe(ms) }

func UpdateQueueSize(n int)      { globalManager.queueSize.Set(float64(n)) }
func UpdateQueueCapacity(n int)  { globalManager.queueCapacity.Set(float64(n)) }
func RecordQueueEnqueueFailure() { globalManager.queueEnqueueFails.Inc() }
func UpdateWorkerCount(n int)    { globalManager.workerCount.Set(float64(n)) }

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(endpoint, method string, status int, durationMS float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint).Observe(durationMS)
}

// Handler exposes the global manager's registry.
func Handler() http.Handler { return globalManager.Handler() }
