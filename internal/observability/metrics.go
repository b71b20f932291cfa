package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture metrics
	activeRecordings = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_notes_active_recordings",
		Help: "Number of open recording sessions per slot",
	}, []string{"slot"})

	recordingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_notes_recording_duration_seconds",
		Help:    "Duration of finished recordings in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"slot"})

	audioBytesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_audio_bytes_total",
		Help: "Total audio bytes captured per slot",
	}, []string{"slot"})

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_stt_requests_total",
		Help: "Total number of transcription requests",
	}, []string{"provider", "status"})

	sttLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_notes_stt_latency_seconds",
		Help:    "Transcription latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 180},
	}, []string{"provider"})

	// LLM metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_llm_requests_total",
		Help: "Total number of enrichment and question requests",
	}, []string{"provider", "operation", "status"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_notes_llm_latency_seconds",
		Help:    "LLM request latency in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"provider", "operation"})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_tts_requests_total",
		Help: "Total number of speech synthesis requests",
	}, []string{"provider", "status"})

	// Event stream metrics
	eventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_notes_event_subscribers",
		Help: "Number of connected event stream clients",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_notes_events_dropped_total",
		Help: "Events dropped for slow event stream clients",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_notes_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_notes_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordingStarted marks a slot as recording.
func RecordingStarted(slot string) {
	activeRecordings.WithLabelValues(slot).Inc()
}

// RecordingStopped records the end of a recording on a slot.
func RecordingStopped(slot string, started time.Time, bytes int) {
	activeRecordings.WithLabelValues(slot).Dec()
	recordingDuration.WithLabelValues(slot).Observe(time.Since(started).Seconds())
	audioBytesCaptured.WithLabelValues(slot).Add(float64(bytes))
}

// ObserveSTT records one transcription request.
func ObserveSTT(provider string, started time.Time, err error) {
	sttLatency.WithLabelValues(provider).Observe(time.Since(started).Seconds())
	sttRequests.WithLabelValues(provider, statusLabel(err)).Inc()
}

// ObserveLLM records one enrichment or question request.
func ObserveLLM(provider, operation string, started time.Time, err error) {
	llmLatency.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
	llmRequests.WithLabelValues(provider, operation, statusLabel(err)).Inc()
}

// ObserveTTS records one synthesis request.
func ObserveTTS(provider string, err error) {
	ttsRequests.WithLabelValues(provider, statusLabel(err)).Inc()
}

// EventSubscriberConnected tracks an event stream client joining (+1) or leaving (-1).
func EventSubscriberConnected(delta int) {
	eventSubscribers.Add(float64(delta))
}

// EventDropped counts an event not delivered to a slow client.
func EventDropped() {
	eventsDropped.Inc()
}

// RecordError records an error by kind and component
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
