package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions       prometheus.Gauge
	SessionEvents        *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	ChunksComposed       prometheus.Counter
	ChaptersTotal        prometheus.Counter
	TimelineDuration     prometheus.Gauge
	BufferOperations     *prometheus.CounterVec
	BufferEvictions      *prometheus.CounterVec
	SynthesisAttempts    *prometheus.CounterVec
	SynthesisErrors      *prometheus.CounterVec
	SynthesisLatency     prometheus.Histogram
	BufferingTransitions prometheus.Counter
	HighlightEmissions   prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active narration sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ChunksComposed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_composed_total",
			Help:      "Audio chunks registered on the virtual timeline.",
		}),
		ChaptersTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chapters_total",
			Help:      "Chapters appended across all timelines.",
		}),
		TimelineDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timeline_duration_seconds",
			Help:      "Total composed timeline duration of the most recent session.",
		}),
		BufferOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_operations_total",
			Help:      "Media buffer mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		BufferEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_evictions_total",
			Help:      "Buffer evictions by trigger (window or quota).",
		}, []string{"trigger"}),
		SynthesisAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_attempts_total",
			Help:      "Speech synthesis attempts by outcome.",
		}, []string{"outcome"}),
		SynthesisErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_errors_total",
			Help:      "Speech synthesis errors by code.",
		}, []string{"code"}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Latency of one segment synthesis in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		BufferingTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffering_transitions_total",
			Help:      "Transitions into the buffering state.",
		}),
		HighlightEmissions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "highlight_emissions_total",
			Help:      "Word highlight events emitted to clients.",
		}),
	}
}

func (m *Metrics) ObserveSynthesisLatency(d time.Duration) {
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
