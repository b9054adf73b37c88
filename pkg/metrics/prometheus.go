// Package metrics provides Prometheus metrics for the start/sit analysis service.
package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes used as the "outcome" label.
const (
	OutcomeQueued    = "queued"
	OutcomeCached    = "cached"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// Manager owns every collector the service exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Gateway
	tasksSubmitted *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	tasksCancelled prometheus.Counter

	// Workers
	tasksStarted   *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	taskRetries    *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	workersBusy    *prometheus.GaugeVec
	workersTotal   prometheus.Gauge

	// Calculators
	calculatorLatency   *prometheus.HistogramVec
	calculatorFallbacks *prometheus.CounterVec

	// Queues
	queueDepth         *prometheus.GaugeVec
	queueEnqueueErrors *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "startsit",
		subsystem:        "analysis",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
		Buckets:     m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.tasksSubmitted = m.counterVec("tasks_submitted_total",
		"Submissions by queue and outcome (queued, cached, duplicate, rejected)", "queue", "outcome")
	m.cacheLookups = m.counterVec("result_cache_lookups_total",
		"Result cache lookups by fingerprint", "hit")
	m.tasksCancelled = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "tasks_cancelled_total",
		Help:        "Tasks cancelled before reaching a terminal state",
		ConstLabels: m.constLabels,
	})

	m.tasksStarted = m.counterVec("tasks_started_total", "Task attempts started", "queue")
	m.tasksCompleted = m.counterVec("tasks_completed_total",
		"Tasks that reached a terminal state", "queue", "state")
	m.taskRetries = m.counterVec("task_retries_total", "Task attempts scheduled for retry", "queue")
	m.taskDuration = m.histogramVec("task_duration_milliseconds",
		"Wall time of a single task attempt", "queue")
	m.workersBusy = m.gaugeVec("workers_busy", "Workers currently executing a task", "group")
	m.workersTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "workers_total",
		Help:        "Workers started across all groups",
		ConstLabels: m.constLabels,
	})

	m.calculatorLatency = m.histogramVec("calculator_latency_milliseconds",
		"Fetch plus score latency per component", "component")
	m.calculatorFallbacks = m.counterVec("calculator_fallbacks_total",
		"Components that fell back to the neutral score", "component")

	m.queueDepth = m.gaugeVec("queue_depth", "Ready items per queue", "queue")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Failed enqueue calls", "queue")

	m.httpRequests = m.counterVec("http_requests_total",
		"Ops HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"Ops HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_memory_usage_bytes",
		Help:        "Heap bytes in use",
		ConstLabels: m.constLabels,
	})
	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_goroutine_count",
		Help:        "Number of goroutines",
		ConstLabels: m.constLabels,
	})
}

// RecordTaskSubmitted counts one submission outcome.
func RecordTaskSubmitted(queue, outcome string) {
	globalManager.tasksSubmitted.WithLabelValues(queue, outcome).Inc()
}

// RecordCacheLookup counts a fingerprint lookup against the result cache.
func RecordCacheLookup(hit bool) {
	label := "false"
	if hit {
		label = "true"
	}
	globalManager.cacheLookups.WithLabelValues(label).Inc()
}

// RecordTaskCancelled counts a cancellation.
func RecordTaskCancelled() {
	globalManager.tasksCancelled.Inc()
}

// RecordTaskStarted counts an attempt picked up by a worker.
func RecordTaskStarted(queue string) {
	globalManager.tasksStarted.WithLabelValues(queue).Inc()
}

// RecordTaskCompleted counts a terminal transition.
func RecordTaskCompleted(queue, state string) {
	globalManager.tasksCompleted.WithLabelValues(queue, state).Inc()
}

// RecordTaskRetry counts an attempt rescheduled with backoff.
func RecordTaskRetry(queue string) {
	globalManager.taskRetries.WithLabelValues(queue).Inc()
}

// RecordTaskDuration observes one attempt's duration.
func RecordTaskDuration(queue string, latencyMs float64) {
	globalManager.taskDuration.WithLabelValues(queue).Observe(latencyMs)
}

// WorkerBusy marks a worker of group as executing.
func WorkerBusy(group string) {
	globalManager.workersBusy.WithLabelValues(group).Inc()
}

// WorkerIdle reverts WorkerBusy.
func WorkerIdle(group string) {
	globalManager.workersBusy.WithLabelValues(group).Dec()
}

// UpdateWorkersTotal sets the number of started workers.
func UpdateWorkersTotal(count int) {
	globalManager.workersTotal.Set(float64(count))
}

// RecordCalculatorLatency observes one component's fetch plus score time.
func RecordCalculatorLatency(component string, latencyMs float64) {
	globalManager.calculatorLatency.WithLabelValues(component).Observe(latencyMs)
}

// RecordCalculatorFallback counts a component that used the neutral fallback.
func RecordCalculatorFallback(component string) {
	globalManager.calculatorFallbacks.WithLabelValues(component).Inc()
}

// UpdateQueueDepth sets the ready-item count of a queue.
func UpdateQueueDepth(queue string, depth int) {
	globalManager.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordQueueEnqueueError counts a failed enqueue.
func RecordQueueEnqueueError(queue string) {
	globalManager.queueEnqueueErrors.WithLabelValues(queue).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMetrics samples heap usage and goroutine count.
func UpdateSystemMetrics() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	globalManager.systemMemoryUsage.Set(float64(ms.HeapInuse))
	globalManager.systemGoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
