// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinical_dictation"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Recording metrics
	RecordingsStarted prometheus.Counter
	RecordingsActive  prometheus.Gauge
	RecordingsStopped prometheus.Counter
	RecordingsFailed  *prometheus.CounterVec
	RecordingDuration prometheus.Histogram

	// Audio metrics
	AudioBytesCaptured  prometheus.Counter
	AudioChunksCaptured prometheus.Counter

	// Transcript metrics
	TranscriptsPartial   prometheus.Counter
	TranscriptsFinal     prometheus.Counter
	FallbackTranscripts  *prometheus.CounterVec
	RecognizerRestarts   prometheus.Counter
	RecognizerErrors     *prometheus.CounterVec
	TranscriptionLatency *prometheus.HistogramVec

	// Idle lock metrics
	IdlePhaseTransitions *prometheus.CounterVec
	UnlockAttempts       *prometheus.CounterVec

	// Audit metrics
	AuditWriteErrors *prometheus.CounterVec

	// Event publish metrics
	EventPublishTotal   *prometheus.CounterVec
	EventPublishErrors  *prometheus.CounterVec
	EventPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RecordingsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_started_total",
			Help:      "Total number of recordings started",
		}),
		RecordingsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recordings_active",
			Help:      "Number of recordings currently capturing audio",
		}),
		RecordingsStopped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_stopped_total",
			Help:      "Total number of recordings stopped with a result",
		}),
		RecordingsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_failed_total",
			Help:      "Total number of recordings that failed to start",
		}, []string{"kind"}),
		RecordingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Duration of completed recordings in seconds",
			Buckets:   []float64{5, 15, 30, 45, 60, 120, 300, 600, 1200},
		}),

		AudioBytesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Total audio bytes captured",
		}),
		AudioChunksCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_captured_total",
			Help:      "Total audio chunks captured",
		}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of interim transcript results",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcript results",
		}),
		FallbackTranscripts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_transcripts_total",
			Help:      "Total number of transcripts produced by the fallback transcriber",
		}, []string{"backend"}),
		RecognizerRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_restarts_total",
			Help:      "Total number of automatic speech engine restarts",
		}),
		RecognizerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_errors_total",
			Help:      "Total number of speech engine errors",
		}, []string{"provider", "error_type"}),
		TranscriptionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Latency of post-recording transcription",
			Buckets:   []float64{0.1, 0.5, 1, 1.5, 2, 5, 10, 30},
		}, []string{"backend"}),

		IdlePhaseTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_phase_transitions_total",
			Help:      "Total number of idle guard phase transitions",
		}, []string{"phase"}),
		UnlockAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_attempts_total",
			Help:      "Total number of lock screen unlock attempts",
		}, []string{"outcome"}),

		AuditWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_errors_total",
			Help:      "Total number of audit log writes that failed",
		}, []string{"sink"}),

		EventPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Total number of events published",
		}, []string{"topic", "event_type"}),
		EventPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Total number of event publish errors",
		}, []string{"topic", "event_type"}),
		EventPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordRecordingStart records a recording that began capturing.
func (m *Metrics) RecordRecordingStart() {
	m.RecordingsStarted.Inc()
	m.RecordingsActive.Inc()
}

// RecordRecordingStop records a recording that stopped after durationSeconds.
func (m *Metrics) RecordRecordingStop(durationSeconds float64) {
	m.RecordingsActive.Dec()
	m.RecordingsStopped.Inc()
	m.RecordingDuration.Observe(durationSeconds)
}

// RecordRecordingReleased records a recording torn down without a stop.
func (m *Metrics) RecordRecordingReleased() {
	m.RecordingsActive.Dec()
}

// RecordRecordingFailed records a start failure by error kind.
func (m *Metrics) RecordRecordingFailed(kind string) {
	m.RecordingsFailed.WithLabelValues(kind).Inc()
}

// RecordAudioCaptured records one captured chunk.
func (m *Metrics) RecordAudioCaptured(bytes int) {
	m.AudioBytesCaptured.Add(float64(bytes))
	m.AudioChunksCaptured.Inc()
}

// RecordPartialTranscript records an interim result.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final result.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordFallbackTranscript records a transcript produced at stop time.
func (m *Metrics) RecordFallbackTranscript(backend string, latencySeconds float64) {
	m.FallbackTranscripts.WithLabelValues(backend).Inc()
	m.TranscriptionLatency.WithLabelValues(backend).Observe(latencySeconds)
}

// RecordRecognizerRestart records an automatic speech engine restart.
func (m *Metrics) RecordRecognizerRestart() {
	m.RecognizerRestarts.Inc()
}

// RecordRecognizerError records a speech engine error.
func (m *Metrics) RecordRecognizerError(provider, errorType string) {
	m.RecognizerErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordIdlePhase records a transition into phase.
func (m *Metrics) RecordIdlePhase(phase string) {
	m.IdlePhaseTransitions.WithLabelValues(phase).Inc()
}

// RecordUnlockAttempt records an unlock attempt outcome.
func (m *Metrics) RecordUnlockAttempt(outcome string) {
	m.UnlockAttempts.WithLabelValues(outcome).Inc()
}

// RecordAuditError records a failed audit write.
func (m *Metrics) RecordAuditError(sink string) {
	m.AuditWriteErrors.WithLabelValues(sink).Inc()
}

// RecordEventPublish records an event publish attempt.
func (m *Metrics) RecordEventPublish(topic, eventType string, err error, latencySeconds float64) {
	m.EventPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.EventPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.EventPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
