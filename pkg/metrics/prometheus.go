package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used as the "reason" label on PacketsDropped.
const (
	ReasonInactive  = "inactive"
	ReasonMalformed = "malformed"
	ReasonMuted     = "muted"
	ReasonResampler = "resampler"
	ReasonBuffer    = "buffer"
)

// Metrics contains all Prometheus metrics for the audio bridge
type Metrics struct {
	// Packet metrics
	PacketsReceived prometheus.Counter
	PacketsDropped  *prometheus.CounterVec
	FramesBuffered  prometheus.Counter

	// Buffer metrics
	BytesBuffered prometheus.Gauge
	BytesDrained  prometheus.Counter

	// Stream metrics
	StreamStarts prometheus.Counter
	StreamErrors prometheus.Counter
	StreamState  prometheus.Gauge

	// Resampler metrics
	ResamplerBuilds   prometheus.Counter
	ResamplerFailures prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. Passing nil
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "cef_audio_packets_received_total",
			Help: "Total number of audio packets delivered by the browser engine",
		}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cef_audio_packets_dropped_total",
			Help: "Total number of audio packets dropped, by reason",
		}, []string{"reason"}),
		FramesBuffered: factory.NewCounter(prometheus.CounterOpts{
			Name: "cef_audio_frames_buffered_total",
			Help: "Total number of output frames appended to the audio channel",
		}),
		BytesBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cef_audio_buffered_bytes",
			Help: "Current number of bytes waiting in the audio channel",
		}),
		BytesDrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "cef_audio_drained_bytes_total",
			Help: "Total number of bytes drained from the audio channel by the host",
		}),
		StreamStarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "cef_audio_stream_starts_total",
			Help: "Total number of audio stream start events",
		}),
		StreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "cef_audio_stream_errors_total",
			Help: "Total number of audio stream error events",
		}),
		StreamState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cef_audio_stream_state",
			Help: "Current stream state (0 idle, 1 active, 2 error)",
		}),
		ResamplerBuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "cef_audio_resampler_builds_total",
			Help: "Total number of resampler constructions",
		}),
		ResamplerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cef_audio_resampler_failures_total",
			Help: "Total number of failed resampler constructions",
		}),
	}
}

// Dropped increments the drop counter for reason. Nil-safe.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Inc()
}
