package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription gateway.
type Metrics struct {
	// Session lifecycle metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsClosed   prometheus.Counter
	SessionsRejected prometheus.Counter
	SessionsReaped   prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioChunksReceived prometheus.Counter
	ChunksRejected      prometheus.Counter

	// Result metrics
	PartialResults     prometheus.Counter
	FinalResults       prometheus.Counter
	ResultErrors       prometheus.Counter
	TranscribeDuration prometheus.Histogram

	// Backpressure metrics
	OutboundDropped       prometheus.Counter
	SlowClientDisconnects prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session lifecycle metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "asr_active_sessions",
			Help: "Current number of active transcription sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_rejected_total",
			Help: "Total number of session creations rejected at a concurrency limit",
		}),
		SessionsReaped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_reaped_total",
			Help: "Total number of sessions closed by the idle reaper",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_session_duration_seconds",
			Help:    "Duration of transcription sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Audio metrics
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_bytes_received_total",
			Help: "Total audio bytes accepted across all sessions",
		}),
		AudioChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_chunks_received_total",
			Help: "Total audio chunks accepted across all sessions",
		}),
		ChunksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_chunks_rejected_total",
			Help: "Total oversized or malformed audio chunks rejected at the boundary",
		}),

		// Result metrics
		PartialResults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_partial_results_total",
			Help: "Total partial transcription results emitted",
		}),
		FinalResults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_final_results_total",
			Help: "Total final utterance-boundary results emitted",
		}),
		ResultErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_result_errors_total",
			Help: "Total errors emitted to clients",
		}),
		TranscribeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_transcribe_duration_seconds",
			Help:    "Time spent in transcription engine calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		// Backpressure metrics
		OutboundDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_outbound_dropped_total",
			Help: "Total outbound messages dropped at the per-connection queue",
		}),
		SlowClientDisconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_slow_client_disconnects_total",
			Help: "Total connections terminated for persistent slowness",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the created counter and active gauge.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionClosed decrements the active gauge and records the lifetime.
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.SessionsClosed.Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionRejected increments the limit-rejection counter.
func (m *Metrics) RecordSessionRejected() {
	m.SessionsRejected.Inc()
}

// RecordSessionReaped increments the reaper counter.
func (m *Metrics) RecordSessionReaped() {
	m.SessionsReaped.Inc()
}

// RecordChunkAccepted records one accepted audio chunk.
func (m *Metrics) RecordChunkAccepted(sizeBytes int) {
	m.AudioChunksReceived.Inc()
	m.AudioBytesReceived.Add(float64(sizeBytes))
}

// RecordChunkRejected records one rejected audio chunk.
func (m *Metrics) RecordChunkRejected() {
	m.ChunksRejected.Inc()
}

// RecordPartialResult records one partial result and its engine latency.
func (m *Metrics) RecordPartialResult(transcribeSeconds float64) {
	m.PartialResults.Inc()
	m.TranscribeDuration.Observe(transcribeSeconds)
}

// RecordFinalResult records one final result.
func (m *Metrics) RecordFinalResult() {
	m.FinalResults.Inc()
}

// RecordResultError records one error sent to a client.
func (m *Metrics) RecordResultError() {
	m.ResultErrors.Inc()
}

// RecordOutboundDropped records one message dropped at the outbound queue.
func (m *Metrics) RecordOutboundDropped() {
	m.OutboundDropped.Inc()
}

// RecordSlowClientDisconnect records one forced slow-client disconnection.
func (m *Metrics) RecordSlowClientDisconnect() {
	m.SlowClientDisconnects.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
