// Package metrics provides Prometheus metrics for the fieldtrack service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the fieldtrack service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Recorder metrics
	fixesReceived       prometheus.Counter
	fixesAccepted       *prometheus.CounterVec
	fixesDiscarded      *prometheus.CounterVec
	samplePersistErrors prometheus.Counter
	gateDistance        prometheus.Histogram
	recordersActive     prometheus.Gauge

	// Attendance
	checkIns  prometheus.Counter
	checkOuts prometheus.Counter

	// Geocoding
	geocodeRequests   *prometheus.CounterVec
	geocodeLatency    *prometheus.HistogramVec
	geocodeUnresolved prometheus.Counter

	// Caches
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheEntries *prometheus.GaugeVec

	// Dashboard
	presenceRecords      *prometheus.GaugeVec
	presenceBuildLatency prometheus.Histogram
	trailBuilds          prometheus.Counter
	trailEvents          prometheus.Histogram

	// Repository
	repositoryWriteLatency prometheus.Histogram
	repositoryQueryLatency prometheus.Histogram

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Configure replaces the global manager with one built from opts on a fresh
// registry and returns it. Call it once at startup, before anything records
// or serves the registry.
func Configure(opts ...Option) *Manager {
	reg := prometheus.NewRegistry()
	m := NewManager(append(opts, WithPrometheusRegistry(reg))...)
	customRegistry = reg
	globalManager = m
	return m
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fieldtrack",
		subsystem:        "presence",
		histogramBuckets: prometheus.DefBuckets,
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

// RefreshInterval is how often system gauges should be sampled.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.fixesReceived = auto.NewCounter(m.counterOpts("fixes_received_total",
		"Total number of location fixes handed to recorders"))
	m.fixesAccepted = auto.NewCounterVec(m.counterOpts("fixes_accepted_total",
		"Fixes persisted as samples, by gate reason"), []string{"reason"})
	m.fixesDiscarded = auto.NewCounterVec(m.counterOpts("fixes_discarded_total",
		"Fixes dropped before persistence, by reason"), []string{"reason"})
	m.samplePersistErrors = auto.NewCounter(m.counterOpts("sample_persist_errors_total",
		"Sample inserts that failed and were dropped"))
	m.gateDistance = auto.NewHistogram(m.histogramOpts("gate_distance_meters",
		"Distance between a fix and the last persisted sample",
		[]float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000}))
	m.recordersActive = auto.NewGauge(m.gaugeOpts("recorders_active",
		"Number of users with a running location recorder"))

	m.checkIns = auto.NewCounter(m.counterOpts("check_ins_total", "Total number of check-ins"))
	m.checkOuts = auto.NewCounter(m.counterOpts("check_outs_total", "Total number of check-outs"))

	m.geocodeRequests = auto.NewCounterVec(m.counterOpts("geocode_requests_total",
		"Reverse geocoding attempts by provider and outcome"), []string{"provider", "outcome"})
	m.geocodeLatency = auto.NewHistogramVec(m.histogramOpts("geocode_latency_milliseconds",
		"Reverse geocoding latency by provider",
		[]float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 12000}), []string{"provider"})
	m.geocodeUnresolved = auto.NewCounter(m.counterOpts("geocode_unresolved_total",
		"Coordinates for which every provider failed"))

	m.cacheHits = auto.NewCounterVec(m.counterOpts("cache_hits_total",
		"Cache hits by cache"), []string{"cache"})
	m.cacheMisses = auto.NewCounterVec(m.counterOpts("cache_misses_total",
		"Cache misses by cache"), []string{"cache"})
	m.cacheEntries = auto.NewGaugeVec(m.gaugeOpts("cache_entries",
		"Entries held in memory by cache"), []string{"cache"})

	m.presenceRecords = auto.NewGaugeVec(m.gaugeOpts("presence_records",
		"Presence records of the last build, by status"), []string{"status"})
	m.presenceBuildLatency = auto.NewHistogram(m.histogramOpts("presence_build_latency_milliseconds",
		"Time to assemble the presence list", m.histogramBuckets))
	m.trailBuilds = auto.NewCounter(m.counterOpts("trail_builds_total", "Total number of trails built"))
	m.trailEvents = auto.NewHistogram(m.histogramOpts("trail_events",
		"Number of events per built trail", []float64{2, 5, 10, 25, 50, 80, 150, 300, 1000}))

	m.repositoryWriteLatency = auto.NewHistogram(m.histogramOpts("repository_write_latency_milliseconds",
		"Repository write latency", m.histogramBuckets))
	m.repositoryQueryLatency = auto.NewHistogram(m.histogramOpts("repository_query_latency_milliseconds",
		"Repository query latency", m.histogramBuckets))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Fixes waiting in recorder queues"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Capacity of a recorder queue"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Fixes enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Fixes dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total",
		"Fixes rejected by a full or closed queue"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Total number of errors by component"), []string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"Total number of errors by endpoint"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds",
		"GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RecordFixReceived increments the fixes received counter.
func RecordFixReceived() {
	globalManager.fixesReceived.Inc()
}

// RecordFixAccepted counts a persisted fix; reason is first, distance or interval.
func RecordFixAccepted(reason string) {
	globalManager.fixesAccepted.WithLabelValues(reason).Inc()
}

// RecordFixDiscarded counts a dropped fix.
func RecordFixDiscarded(reason string) {
	globalManager.fixesDiscarded.WithLabelValues(reason).Inc()
}

// RecordSamplePersistError counts a failed sample insert.
func RecordSamplePersistError() {
	globalManager.samplePersistErrors.Inc()
}

// RecordGateDistance observes the haversine distance evaluated by the gate.
func RecordGateDistance(meters float64) {
	globalManager.gateDistance.Observe(meters)
}

// UpdateRecordersActive sets the number of running recorders.
func UpdateRecordersActive(count int) {
	globalManager.recordersActive.Set(float64(count))
}

// RecordCheckIn increments the check-in counter.
func RecordCheckIn() {
	globalManager.checkIns.Inc()
}

// RecordCheckOut increments the check-out counter.
func RecordCheckOut() {
	globalManager.checkOuts.Inc()
}

// RecordGeocodeRequest counts a provider attempt; outcome is ok, empty, error or timeout.
func RecordGeocodeRequest(provider, outcome string) {
	globalManager.geocodeRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordGeocodeLatency records a provider call latency in milliseconds.
func RecordGeocodeLatency(provider string, latencyMs float64) {
	globalManager.geocodeLatency.WithLabelValues(provider).Observe(latencyMs)
}

// RecordGeocodeUnresolved counts a coordinate left without a place name.
func RecordGeocodeUnresolved() {
	globalManager.geocodeUnresolved.Inc()
}

// RecordCacheHit counts a hit on the named cache.
func RecordCacheHit(cache string) {
	globalManager.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss counts a miss on the named cache.
func RecordCacheMiss(cache string) {
	globalManager.cacheMisses.WithLabelValues(cache).Inc()
}

// UpdateCacheEntries sets the in-memory entry count of the named cache.
func UpdateCacheEntries(cache string, count int) {
	globalManager.cacheEntries.WithLabelValues(cache).Set(float64(count))
}

// UpdatePresenceRecords sets the number of presence records with the given status.
func UpdatePresenceRecords(status string, count int) {
	globalManager.presenceRecords.WithLabelValues(status).Set(float64(count))
}

// RecordPresenceBuildLatency records presence assembly latency.
func RecordPresenceBuildLatency(latencyMs float64) {
	globalManager.presenceBuildLatency.Observe(latencyMs)
}

// RecordTrailBuild counts a built trail and its size.
func RecordTrailBuild(events int) {
	globalManager.trailBuilds.Inc()
	globalManager.trailEvents.Observe(float64(events))
}

// RecordRepositoryWriteLatency records repository write latency.
func RecordRepositoryWriteLatency(latencyMs float64) {
	globalManager.repositoryWriteLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository query latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
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

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
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
