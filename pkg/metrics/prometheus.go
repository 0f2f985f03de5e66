// Package metrics provides Prometheus metrics for the mindshare service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the mindshare service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Market
	predictionsSubmitted *prometheus.CounterVec
	predictionsRejected  *prometheus.CounterVec
	stakeLocked          prometheus.Counter

	// Ledger
	ledgerTransitions *prometheus.CounterVec
	ledgerVolume      *prometheus.CounterVec
	ledgerRejections  *prometheus.CounterVec

	// Settlement
	settlements        *prometheus.CounterVec
	settlementDuration prometheus.Histogram
	payoutsTotal       prometheus.Counter
	forfeitedTotal     prometheus.Counter

	// Leaderboard
	leaderboardUpdates prometheus.Counter
	leaderboardPublish prometheus.Histogram
	totalProjects      prometheus.Gauge

	// Reputation
	reputationCacheHits   prometheus.Counter
	reputationCacheMisses prometheus.Counter
	reputationLatency     prometheus.Histogram
	verificationFailures  prometheus.Counter
	verificationBreaker   prometheus.Gauge

	// Chain events
	chainEventsProcessed *prometheus.CounterVec
	chainEventsDuplicate prometheus.Counter
	rateLimited          *prometheus.CounterVec
	schedulerTicks       *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueEnqueueErrs prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	errorsByComponent *prometheus.CounterVec

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

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "mindshare",
		subsystem:        "market",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: name, Help: help, ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: name, Help: help, ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.predictionsSubmitted = auto.NewCounterVec(
		m.counterOpts("predictions_submitted_total", "Predictions accepted, by early-bird flag"),
		[]string{"early_bird"})
	m.predictionsRejected = auto.NewCounterVec(
		m.counterOpts("predictions_rejected_total", "Predictions rejected, by reason"),
		[]string{"reason"})
	m.stakeLocked = auto.NewCounter(
		m.counterOpts("stake_locked_units_total", "Token units locked for predictions"))

	m.ledgerTransitions = auto.NewCounterVec(
		m.counterOpts("ledger_transitions_total", "Ledger history entries, by operation"),
		[]string{"op"})
	m.ledgerVolume = auto.NewCounterVec(
		m.counterOpts("ledger_volume_units_total", "Token units moved by the ledger, by operation"),
		[]string{"op"})
	m.ledgerRejections = auto.NewCounterVec(
		m.counterOpts("ledger_rejections_total", "Ledger operations refused, by reason"),
		[]string{"reason"})

	m.settlements = auto.NewCounterVec(
		m.counterOpts("settlements_total", "Round settlement attempts, by outcome"),
		[]string{"outcome"})
	m.settlementDuration = auto.NewHistogram(
		m.histogramOpts("settlement_duration_milliseconds", "Round settlement duration in milliseconds", nil))
	m.payoutsTotal = auto.NewCounter(
		m.counterOpts("payouts_units_total", "Token units paid out to winners"))
	m.forfeitedTotal = auto.NewCounter(
		m.counterOpts("forfeited_units_total", "Token units forfeited by losing predictions"))

	m.leaderboardUpdates = auto.NewCounter(
		m.counterOpts("leaderboard_updates_total", "Leaderboard mutations"))
	m.leaderboardPublish = auto.NewHistogram(
		m.histogramOpts("leaderboard_publish_duration_milliseconds", "Leaderboard view rebuild duration in milliseconds", nil))
	m.totalProjects = auto.NewGauge(
		m.gaugeOpts("projects", "Projects tracked by the leaderboard"))

	m.reputationCacheHits = auto.NewCounter(
		m.counterOpts("reputation_cache_hits_total", "Reputation reads served from cache"))
	m.reputationCacheMisses = auto.NewCounter(
		m.counterOpts("reputation_cache_misses_total", "Reputation reads that recomputed the score"))
	m.reputationLatency = auto.NewHistogram(
		m.histogramOpts("reputation_latency_milliseconds", "Reputation computation latency in milliseconds", nil))
	m.verificationFailures = auto.NewCounter(
		m.counterOpts("verification_failures_total", "Verification signal lookups that fell back to neutral"))
	m.verificationBreaker = auto.NewGauge(
		m.gaugeOpts("verification_breaker_state", "Verification breaker state (0 closed, 1 half-open, 2 open)"))

	m.chainEventsProcessed = auto.NewCounterVec(
		m.counterOpts("chain_events_processed_total", "Chain events applied, by kind"),
		[]string{"kind"})
	m.chainEventsDuplicate = auto.NewCounter(
		m.counterOpts("chain_events_duplicate_total", "Chain events dropped as duplicates"))
	m.rateLimited = auto.NewCounterVec(
		m.counterOpts("rate_limited_total", "Requests refused by the rate limiter, by endpoint"),
		[]string{"endpoint"})
	m.schedulerTicks = auto.NewCounterVec(
		m.counterOpts("scheduler_ticks_total", "Scheduler ticks, by result"),
		[]string{"result"})

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", nil),
		[]string{"endpoint", "method", "status_code"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current size of the chain event queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue utilization ratio (size / capacity)"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Total number of messages enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Total number of messages dequeued"))
	m.queueEnqueueErrs = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Total number of enqueue errors"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured chain event workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Workers currently applying an event"))
	m.workerProcessingLatency = auto.NewHistogram(
		m.histogramOpts("worker_processing_latency_milliseconds", "Worker processing latency in milliseconds", nil))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Total number of worker errors"))

	m.errorsByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RecordPredictionSubmitted counts an accepted prediction and its stake.
func RecordPredictionSubmitted(earlyBird bool, stake int64) {
	label := "false"
	if earlyBird {
		label = "true"
	}
	globalManager.predictionsSubmitted.WithLabelValues(label).Inc()
	globalManager.stakeLocked.Add(float64(stake))
}

// RecordPredictionRejected counts a rejected prediction.
func RecordPredictionRejected(reason string) {
	globalManager.predictionsRejected.WithLabelValues(reason).Inc()
}

// RecordLedgerTransition counts a ledger history entry.
func RecordLedgerTransition(op string, amount int64) {
	globalManager.ledgerTransitions.WithLabelValues(op).Inc()
	globalManager.ledgerVolume.WithLabelValues(op).Add(float64(amount))
}

// RecordLedgerRejection counts a refused ledger operation.
func RecordLedgerRejection(reason string) {
	globalManager.ledgerRejections.WithLabelValues(reason).Inc()
}

// RecordSettlement counts a settlement attempt.
func RecordSettlement(outcome string) {
	globalManager.settlements.WithLabelValues(outcome).Inc()
}

// RecordSettlementDuration records settlement duration in milliseconds.
func RecordSettlementDuration(ms float64) {
	globalManager.settlementDuration.Observe(ms)
}

// RecordPayouts records paid and forfeited totals of a settled round.
func RecordPayouts(paid, forfeited int64) {
	globalManager.payoutsTotal.Add(float64(paid))
	globalManager.forfeitedTotal.Add(float64(forfeited))
}

// RecordLeaderboardUpdate increments the leaderboard updates counter.
func RecordLeaderboardUpdate() {
	globalManager.leaderboardUpdates.Inc()
}

// RecordLeaderboardPublish records a view rebuild duration.
func RecordLeaderboardPublish(ms float64) {
	globalManager.leaderboardPublish.Observe(ms)
}

// UpdateTotalProjects sets the tracked project count.
func UpdateTotalProjects(count int) {
	globalManager.totalProjects.Set(float64(count))
}

// RecordReputationCache counts a cache hit or miss.
func RecordReputationCache(hit bool) {
	if hit {
		globalManager.reputationCacheHits.Inc()
		return
	}
	globalManager.reputationCacheMisses.Inc()
}

// RecordReputationLatency records reputation computation latency.
func RecordReputationLatency(ms float64) {
	globalManager.reputationLatency.Observe(ms)
}

// RecordVerificationFailure counts a verification lookup that failed open.
func RecordVerificationFailure() {
	globalManager.verificationFailures.Inc()
}

// UpdateVerificationBreakerState sets the breaker state gauge.
func UpdateVerificationBreakerState(state int) {
	globalManager.verificationBreaker.Set(float64(state))
}

// RecordChainEventProcessed counts an applied chain event.
func RecordChainEventProcessed(kind string) {
	globalManager.chainEventsProcessed.WithLabelValues(kind).Inc()
}

// RecordChainEventDuplicate counts a duplicate chain event.
func RecordChainEventDuplicate() {
	globalManager.chainEventsDuplicate.Inc()
}

// RecordRateLimited counts a request refused by the rate limiter.
func RecordRateLimited(endpoint string) {
	globalManager.rateLimited.WithLabelValues(endpoint).Inc()
}

// RecordSchedulerTick counts a scheduler pass.
func RecordSchedulerTick(result string) {
	globalManager.schedulerTicks.WithLabelValues(result).Inc()
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
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrs.Inc()
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerActive adjusts the active worker gauge by delta.
func AddWorkerActive(delta int) {
	globalManager.workerActiveCount.Add(float64(delta))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
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
