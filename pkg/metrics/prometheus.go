// Package metrics provides Prometheus metrics for the holdout competition service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Competition metrics
	submissions             *prometheus.CounterVec
	admissionDenials        *prometheus.CounterVec
	evaluations             prometheus.Counter
	selectionUpdates        *prometheus.CounterVec
	leaderboardParticipants *prometheus.GaugeVec
	scoringLatency          prometheus.Histogram
	scoringErrors           prometheus.Counter

	// Maintenance metrics
	exports        *prometheus.CounterVec
	exportDuration prometheus.Histogram
	scheduledTasks prometheus.Gauge

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository metrics
	repositoryRecordsTotal  prometheus.Gauge
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Job queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram

	// Error metrics
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "holdout",
		subsystem:        "competition",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.submissions = auto.NewCounterVec(
		m.counterOpts("submissions_total", "Submission attempts by outcome"),
		[]string{"outcome"},
	)
	m.admissionDenials = auto.NewCounterVec(
		m.counterOpts("admission_denials_total", "Submission attempts refused by admission control, by reason"),
		[]string{"reason"},
	)
	m.evaluations = auto.NewCounter(m.counterOpts("evaluations_total", "Evaluations persisted"))
	m.selectionUpdates = auto.NewCounterVec(
		m.counterOpts("selection_updates_total", "Final selection update requests by outcome"),
		[]string{"outcome"},
	)
	m.leaderboardParticipants = auto.NewGaugeVec(
		m.gaugeOpts("leaderboard_participants", "Participants ranked on the last computed board"),
		[]string{"board"},
	)
	m.scoringLatency = auto.NewHistogram(m.histogramOpts("scoring_latency_milliseconds", "Scoring latency in milliseconds"))
	m.scoringErrors = auto.NewCounter(m.counterOpts("scoring_errors_total", "Scoring failures on validated data"))

	m.exports = auto.NewCounterVec(
		m.counterOpts("exports_total", "Maintenance exports by stage and status"),
		[]string{"stage", "status"},
	)
	m.exportDuration = auto.NewHistogram(m.histogramOpts("export_duration_milliseconds", "Maintenance export duration in milliseconds"))
	m.scheduledTasks = auto.NewGauge(m.gaugeOpts("scheduled_tasks", "Maintenance tasks waiting for their fire time"))

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"},
	)

	m.repositoryRecordsTotal = auto.NewGauge(m.gaugeOpts("repository_records_total", "Stored submissions"))
	m.repositoryUpdateLatency = auto.NewHistogram(m.histogramOpts("repository_update_latency_milliseconds", "Repository write latency in milliseconds"))
	m.repositoryQueryLatency = auto.NewHistogram(m.histogramOpts("repository_query_latency_milliseconds", "Repository snapshot read latency in milliseconds"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("job_queue_size", "Jobs waiting in the maintenance queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("job_queue_capacity", "Maintenance queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("job_queue_utilization_ratio", "Maintenance queue fill ratio"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("job_queue_enqueued_total", "Jobs enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("job_queue_dequeued_total", "Jobs dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("job_queue_enqueue_errors_total", "Jobs refused by the queue"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts("job_queue_enqueue_latency_milliseconds", "Enqueue latency in milliseconds"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured maintenance workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Workers currently running a job"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Job run time in milliseconds"))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Jobs that returned an error"))

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_milliseconds", "Average GC pause in milliseconds"))

	m.errorsByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)
}

// Competition metrics.

// RecordSubmission counts a submission attempt by outcome.
func RecordSubmission(outcome string) {
	globalManager.submissions.WithLabelValues(outcome).Inc()
}

// RecordAdmissionDenial counts a refused attempt by reason.
func RecordAdmissionDenial(reason string) {
	globalManager.admissionDenials.WithLabelValues(reason).Inc()
}

// RecordEvaluation counts a persisted evaluation.
func RecordEvaluation() {
	globalManager.evaluations.Inc()
}

// RecordSelectionUpdate counts a selection request by outcome.
func RecordSelectionUpdate(outcome string) {
	globalManager.selectionUpdates.WithLabelValues(outcome).Inc()
}

// UpdateLeaderboardParticipants sets the size of the last computed board.
func UpdateLeaderboardParticipants(board string, count int) {
	globalManager.leaderboardParticipants.WithLabelValues(board).Set(float64(count))
}

// RecordScoringLatency records scoring latency.
func RecordScoringLatency(latencyMs float64) {
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordScoringError increments the scoring errors counter.
func RecordScoringError() {
	globalManager.scoringErrors.Inc()
}

// Maintenance metrics.

// RecordExport counts an export run by stage and status.
func RecordExport(stage, status string) {
	globalManager.exports.WithLabelValues(stage, status).Inc()
}

// RecordExportDuration records how long an export took.
func RecordExportDuration(latencyMs float64) {
	globalManager.exportDuration.Observe(latencyMs)
}

// UpdateScheduledTasks sets the number of pending scheduled tasks.
func UpdateScheduledTasks(count int) {
	globalManager.scheduledTasks.Set(float64(count))
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Repository metrics.

// UpdateRepositoryRecordsTotal sets the number of stored submissions.
func UpdateRepositoryRecordsTotal(count int) {
	globalManager.repositoryRecordsTotal.Set(float64(count))
}

// RecordRepositoryUpdateLatency records repository update operation latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// Queue metrics.

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
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker metrics.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the allocated heap size.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime observes the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
