// Package metrics provides Prometheus metrics for the CommunityWatch triage engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the triage engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Duplicate detection
	duplicateChecks       *prometheus.CounterVec
	duplicateCheckLatency prometheus.Histogram
	similarityMode        *prometheus.CounterVec
	searches              *prometheus.CounterVec

	// Embedding backend
	embeddingRequests *prometheus.CounterVec
	embeddingLatency  prometheus.Histogram
	embeddingHealthy  prometheus.Gauge

	// Abuse detection
	admissions           *prometheus.CounterVec
	suspicionTransitions *prometheus.CounterVec
	ledgerIdentities     prometheus.Gauge
	ledgerEvictions      prometheus.Counter
	limiterCounters      prometheus.Gauge

	// Issues and priority
	issuesReported         prometheus.Counter
	issuesRejected         prometheus.Counter
	issuesTotal            prometheus.Gauge
	openIssues             prometheus.Gauge
	geoIndexSize           prometheus.Gauge
	priorityRecomputations prometheus.Counter
	priorityLatency        prometheus.Histogram

	// Internal defects that were corrected in place
	invariantViolations *prometheus.CounterVec

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            *prometheus.CounterVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "communitywatch",
		subsystem:        "triage",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// RefreshInterval reports how often gauge updaters should run.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// RefreshInterval reports the global manager's gauge refresh interval.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

// Enabled reports whether collection is enabled for this manager.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels}
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: m.customLabels}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.duplicateChecks = auto.NewCounterVec(m.counter("duplicate_checks_total",
		"Duplicate checks by outcome (duplicate, unique, failed_open) and similarity mode"),
		[]string{"outcome", "mode"})
	m.duplicateCheckLatency = auto.NewHistogram(m.histogram("duplicate_check_latency_milliseconds",
		"Latency of a full duplicate check in milliseconds", m.histogramBuckets))
	m.similarityMode = auto.NewCounterVec(m.counter("similarity_queries_total",
		"Similarity queries by strategy actually used"), []string{"mode"})
	m.searches = auto.NewCounterVec(m.counter("searches_total",
		"Issue searches by mode (embedding, lexical, location) and whether anything matched"),
		[]string{"mode", "matched"})

	m.embeddingRequests = auto.NewCounterVec(m.counter("embedding_requests_total",
		"Embedding backend calls by result (ok, unavailable, throttled, malformed)"), []string{"result"})
	m.embeddingLatency = auto.NewHistogram(m.histogram("embedding_latency_milliseconds",
		"Embedding backend latency in milliseconds", m.histogramBuckets))
	m.embeddingHealthy = auto.NewGauge(m.gauge("embedding_healthy",
		"1 when the embedding backend is considered available, 0 while degraded"))

	m.admissions = auto.NewCounterVec(m.counter("admissions_total",
		"Admission decisions by endpoint, suspicion level and decision"), []string{"endpoint", "level", "decision"})
	m.suspicionTransitions = auto.NewCounterVec(m.counter("suspicion_transitions_total",
		"Suspicion level transitions observed by the behavior ledger"), []string{"from", "to"})
	m.ledgerIdentities = auto.NewGauge(m.gauge("ledger_identities",
		"Identities currently tracked by the behavior ledger"))
	m.ledgerEvictions = auto.NewCounter(m.counter("ledger_evictions_total",
		"Identities evicted from the behavior ledger"))
	m.limiterCounters = auto.NewGauge(m.gauge("limiter_counters",
		"Live identity+endpoint window counters in the adaptive limiter"))

	m.issuesReported = auto.NewCounter(m.counter("issues_reported_total", "Issues accepted by intake"))
	m.issuesRejected = auto.NewCounter(m.counter("issues_rejected_duplicate_total",
		"Submissions turned away because they duplicate an existing issue"))
	m.issuesTotal = auto.NewGauge(m.gauge("issues", "Issues known to the engine"))
	m.openIssues = auto.NewGauge(m.gauge("open_issues", "Issues not yet resolved"))
	m.geoIndexSize = auto.NewGauge(m.gauge("geo_index_points", "Points held by the geo index"))
	m.priorityRecomputations = auto.NewCounter(m.counter("priority_recomputations_total",
		"Priority recomputations performed"))
	m.priorityLatency = auto.NewHistogram(m.histogram("priority_latency_milliseconds",
		"Latency of a priority recomputation including density lookup", m.histogramBuckets))

	m.invariantViolations = auto.NewCounterVec(m.counter("invariant_violations_total",
		"Internal invariant violations corrected in place"), []string{"component", "kind"})

	m.storeLatency = auto.NewHistogramVec(m.histogram("store_latency_milliseconds",
		"Issue store operation latency", m.histogramBuckets), []string{"store", "op"})
	m.storeErrors = auto.NewCounterVec(m.counter("store_errors_total",
		"Issue store failures"), []string{"store", "op"})

	m.httpRequests = auto.NewCounterVec(m.counter("http_requests_total",
		"Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogram("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets), []string{"endpoint", "method", "status_code"})

	m.queueSize = auto.NewGauge(m.gauge("queue_size", "Current size of the task queue"))
	m.queueCapacity = auto.NewGauge(m.gauge("queue_capacity", "Maximum capacity of the task queue"))
	m.queueUtilization = auto.NewGauge(m.gauge("queue_utilization_ratio", "Queue size divided by capacity"))
	m.queueEnqueueRate = auto.NewCounter(m.counter("queue_enqueued_total", "Tasks enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counter("queue_dequeued_total", "Tasks dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counter("queue_enqueue_errors_total", "Tasks rejected by the queue"))

	m.workerCount = auto.NewGauge(m.gauge("worker_count", "Number of recompute workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogram("worker_processing_latency_milliseconds",
		"Time spent by a worker on one task", m.histogramBuckets))
	m.workerErrors = auto.NewCounterVec(m.counter("worker_errors_total",
		"Worker task failures by task kind"), []string{"kind"})

	m.errorRateByComponent = auto.NewCounterVec(m.counter("errors_by_component_total",
		"Errors by component and error type"), []string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counter("errors_by_endpoint_total",
		"HTTP errors by endpoint, method and error type"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gauge("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gauge("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogram("system_gc_pause_time_milliseconds",
		"GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RecordDuplicateCheck counts a finished duplicate check.
func RecordDuplicateCheck(outcome, mode string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.duplicateChecks.WithLabelValues(outcome, mode).Inc()
	globalManager.duplicateCheckLatency.Observe(latencyMs)
}

// RecordSimilarityMode counts a similarity query by the strategy that served it.
func RecordSimilarityMode(mode string) {
	globalManager.similarityMode.WithLabelValues(mode).Inc()
}

// RecordSearch counts an issue search.
func RecordSearch(mode string, results int) {
	globalManager.searches.WithLabelValues(mode, strconv.FormatBool(results > 0)).Inc()
}

// RecordEmbeddingRequest counts an embedding backend call.
func RecordEmbeddingRequest(result string, latencyMs float64) {
	globalManager.embeddingRequests.WithLabelValues(result).Inc()
	globalManager.embeddingLatency.Observe(latencyMs)
}

// UpdateEmbeddingHealthy publishes the embedding backend availability.
func UpdateEmbeddingHealthy(healthy bool) {
	if healthy {
		globalManager.embeddingHealthy.Set(1)
		return
	}
	globalManager.embeddingHealthy.Set(0)
}

// RecordAdmission counts an admission decision.
func RecordAdmission(endpoint, level string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	globalManager.admissions.WithLabelValues(endpoint, level, decision).Inc()
}

// RecordSuspicionTransition counts a level change for an identity.
func RecordSuspicionTransition(from, to string) {
	globalManager.suspicionTransitions.WithLabelValues(from, to).Inc()
}

// UpdateLedgerIdentities sets the number of tracked identities.
func UpdateLedgerIdentities(count int) {
	globalManager.ledgerIdentities.Set(float64(count))
}

// RecordLedgerEvictions adds n evicted identities.
func RecordLedgerEvictions(n int) {
	globalManager.ledgerEvictions.Add(float64(n))
}

// UpdateLimiterCounters sets the number of live limiter windows.
func UpdateLimiterCounters(count int) {
	globalManager.limiterCounters.Set(float64(count))
}

// RecordIssueReported counts an accepted issue.
func RecordIssueReported() {
	globalManager.issuesReported.Inc()
}

// RecordIssueRejectedDuplicate counts a submission rejected as duplicate.
func RecordIssueRejectedDuplicate() {
	globalManager.issuesRejected.Inc()
}

// UpdateIssueCounts sets the total and open issue gauges.
func UpdateIssueCounts(total, open int) {
	globalManager.issuesTotal.Set(float64(total))
	globalManager.openIssues.Set(float64(open))
}

// UpdateGeoIndexSize sets the number of indexed points.
func UpdateGeoIndexSize(n int) {
	globalManager.geoIndexSize.Set(float64(n))
}

// RecordPriorityRecomputation counts a priority recomputation.
func RecordPriorityRecomputation(latencyMs float64) {
	globalManager.priorityRecomputations.Inc()
	globalManager.priorityLatency.Observe(latencyMs)
}

// RecordInvariantViolation counts a corrected internal defect.
func RecordInvariantViolation(component, kind string) {
	globalManager.invariantViolations.WithLabelValues(component, kind).Inc()
}

// RecordStoreLatency observes an issue store operation.
func RecordStoreLatency(store, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(store, op).Observe(latencyMs)
}

// RecordStoreError counts an issue store failure.
func RecordStoreError(store, op string) {
	globalManager.storeErrors.WithLabelValues(store, op).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed worker task.
func RecordWorkerError(kind string) {
	globalManager.workerErrors.WithLabelValues(kind).Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
