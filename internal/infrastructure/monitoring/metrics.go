package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Span lifecycle metrics
	SpansStarted   prometheus.Counter
	SpansCompleted *prometheus.CounterVec
	OpenSpans      prometheus.Gauge
	ActiveContexts prometheus.Gauge

	// Capture metrics
	EventsRecorded     prometheus.Counter
	MetadataAttached   prometheus.Counter
	CaptureTruncations prometheus.Counter
	ContextCorruptions prometheus.Counter

	// Writer metrics
	QueueDepth      prometheus.Gauge
	RecordsEnqueued prometheus.Counter
	RecordsDropped  *prometheus.CounterVec
	BatchCommits    prometheus.Counter
	BatchRetries    prometheus.Counter
	WriteDuration   prometheus.Histogram
	Degraded        prometheus.Gauge

	// Viewer HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSDropped     prometheus.Counter

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON health API
type Snapshot struct {
	SpansStarted   int64 `json:"spans_started"`
	SpansSucceeded int64 `json:"spans_succeeded"`
	SpansFailed    int64 `json:"spans_failed"`
	EventsRecorded int64 `json:"events_recorded"`
	OpenSpans      int64 `json:"open_spans"`
	QueueDepth     int64 `json:"queue_depth"`
	RecordsDropped int64 `json:"records_dropped"`
	BatchCommits   int64 `json:"batch_commits"`
	BatchRetries   int64 `json:"batch_retries"`
	Corruptions    int64 `json:"context_corruptions"`
	Degraded       bool  `json:"degraded"`
}

// NewMetrics creates a new metrics collector backed by a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		// Span lifecycle metrics
		SpansStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_spans_started_total",
				Help: "Total number of spans entered",
			},
		),
		SpansCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentlens_spans_completed_total",
				Help: "Total number of spans closed, by terminal status",
			},
			[]string{"status"},
		),
		OpenSpans: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentlens_spans_open",
				Help: "Number of spans currently open across all contexts",
			},
		),
		ActiveContexts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentlens_contexts_active",
				Help: "Number of execution contexts with live span stacks",
			},
		),

		// Capture metrics
		EventsRecorded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_events_recorded_total",
				Help: "Total number of point-in-time events recorded",
			},
		),
		MetadataAttached: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_metadata_attached_total",
				Help: "Total number of metadata attachments",
			},
		),
		CaptureTruncations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_capture_truncations_total",
				Help: "Total number of payload snapshots truncated to the size cap",
			},
		),
		ContextCorruptions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_context_corruptions_total",
				Help: "Total number of span stack corruption conditions detected",
			},
		),

		// Writer metrics
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentlens_writer_queue_depth",
				Help: "Records waiting in the write queue",
			},
		),
		RecordsEnqueued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_writer_enqueued_total",
				Help: "Total number of records accepted into the write queue",
			},
		),
		RecordsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentlens_writer_dropped_total",
				Help: "Total number of records dropped, by reason",
			},
			[]string{"reason"},
		),
		BatchCommits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_writer_batch_commits_total",
				Help: "Total number of committed write batches",
			},
		),
		BatchRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_writer_batch_retries_total",
				Help: "Total number of write batch retry attempts",
			},
		),
		WriteDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentlens_writer_batch_duration_seconds",
				Help:    "Write batch commit duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		Degraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentlens_degraded",
				Help: "1 when the engine has dropped records and is in degraded mode",
			},
		),

		// Viewer HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentlens_http_requests_total",
				Help: "Total number of viewer HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentlens_http_request_duration_seconds",
				Help:    "Viewer HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentlens_ws_connections",
				Help: "Number of active live-stream WebSocket connections",
			},
		),
		WSDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentlens_ws_dropped_total",
				Help: "Total number of stream notices dropped for slow consumers",
			},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentlens_uptime_seconds",
				Help: "Engine uptime in seconds",
			},
		),
	}

	return m
}

// Handler returns the Prometheus scrape handler for this instance's registry
func (m *Metrics) Handler() http.Handler {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for host programs that aggregate metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSpanStart records a span being entered
func (m *Metrics) RecordSpanStart() {
	m.SpansStarted.Inc()
	m.OpenSpans.Inc()

	m.mu.Lock()
	m.snapshot.SpansStarted++
	m.snapshot.OpenSpans++
	m.mu.Unlock()
}

// RecordSpanEnd records a span closing with its terminal status
func (m *Metrics) RecordSpanEnd(status string) {
	m.SpansCompleted.WithLabelValues(status).Inc()
	m.OpenSpans.Dec()

	m.mu.Lock()
	if status == "failed" {
		m.snapshot.SpansFailed++
	} else {
		m.snapshot.SpansSucceeded++
	}
	if m.snapshot.OpenSpans > 0 {
		m.snapshot.OpenSpans--
	}
	m.mu.Unlock()
}

// RecordEvent records a point-in-time event capture
func (m *Metrics) RecordEvent() {
	m.EventsRecorded.Inc()

	m.mu.Lock()
	m.snapshot.EventsRecorded++
	m.mu.Unlock()
}

// RecordMetadata records a metadata attachment
func (m *Metrics) RecordMetadata() {
	m.MetadataAttached.Inc()
}

// RecordTruncation records a snapshot hitting the capture size cap
func (m *Metrics) RecordTruncation() {
	m.CaptureTruncations.Inc()
}

// RecordCorruption records a detected span stack corruption
func (m *Metrics) RecordCorruption() {
	m.ContextCorruptions.Inc()

	m.mu.Lock()
	m.snapshot.Corruptions++
	m.mu.Unlock()
}

// SetActiveContexts sets the number of live execution contexts
func (m *Metrics) SetActiveContexts(count int) {
	m.ActiveContexts.Set(float64(count))
}

// SetQueueDepth sets the current write queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))

	m.mu.Lock()
	m.snapshot.QueueDepth = int64(depth)
	m.mu.Unlock()
}

// RecordEnqueue records a record accepted into the write queue
func (m *Metrics) RecordEnqueue() {
	m.RecordsEnqueued.Inc()
}

// RecordDrop records a dropped record and flips the degraded gauge
func (m *Metrics) RecordDrop(reason string) {
	m.RecordDrops(reason, 1)
}

// RecordDrops records n dropped records with a shared reason and flips
// the degraded gauge
func (m *Metrics) RecordDrops(reason string, n int) {
	if n <= 0 {
		return
	}
	m.RecordsDropped.WithLabelValues(reason).Add(float64(n))
	m.Degraded.Set(1)

	m.mu.Lock()
	m.snapshot.RecordsDropped += int64(n)
	m.snapshot.Degraded = true
	m.mu.Unlock()
}

// RecordBatchCommit records a successful batch write
func (m *Metrics) RecordBatchCommit(duration time.Duration) {
	m.BatchCommits.Inc()
	m.WriteDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.BatchCommits++
	m.mu.Unlock()
}

// RecordBatchRetry records a failed batch write attempt
func (m *Metrics) RecordBatchRetry() {
	m.BatchRetries.Inc()

	m.mu.Lock()
	m.snapshot.BatchRetries++
	m.mu.Unlock()
}

// RecordHTTPRequest records a viewer HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncWSConnections increments live-stream connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements live-stream connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// RecordWSDrop records a stream notice dropped for a slow consumer
func (m *Metrics) RecordWSDrop() {
	m.WSDropped.Inc()
}

// GetSnapshot returns a copy of current values for the JSON health API
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
