package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rapidoutput/pkg/models"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Output metrics
	ActiveOutputs   prometheus.Gauge
	OutputsStarted  prometheus.Counter
	OutputsStopped  *prometheus.CounterVec
	OutputDuration  prometheus.Histogram
	AbandonedQueue  prometheus.Histogram
	StopFrameQueued prometheus.Counter

	// Reconnect metrics
	ReconnectAttempts  *prometheus.CounterVec
	ReconnectSuccesses *prometheus.CounterVec

	// Packet metrics
	PacketsDelivered *prometheus.CounterVec
	PacketSize       *prometheus.HistogramVec
	PacketsPruned    *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	TrackedFrames    *prometheus.CounterVec
	DelayBuffered    *prometheus.GaugeVec

	// Segment metrics
	SegmentsCreated prometheus.Counter
	SegmentDuration prometheus.Histogram
	SegmentSize     prometheus.Histogram
	SegmentsStored  prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// RTMP metrics
	RTMPConnections prometheus.Counter
	RTMPDisconnects prometheus.Counter
	RTMPErrors      prometheus.Counter
	RTMPBytes       *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
// A nil reg registers with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		// Output metrics
		ActiveOutputs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidoutput_active_outputs",
			Help: "Number of outputs currently capturing data",
		}),
		OutputsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidoutput_outputs_started_total",
			Help: "Total number of output starts",
		}),
		OutputsStopped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidoutput_outputs_stopped_total",
				Help: "Total number of terminal output stops",
			},
			[]string{"output", "code"},
		),
		OutputDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidoutput_output_duration_seconds",
			Help:    "Media duration delivered per output activation",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~2.8h
		}),
		AbandonedQueue: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidoutput_abandoned_queue_microseconds",
			Help:    "Queued media left undelivered when a timed stop hit its deadline",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 8), // 1ms to ~16s
		}),
		StopFrameQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidoutput_stop_frame_queued_total",
			Help: "Timed stops whose stop frame was still queued at the deadline",
		}),

		// Reconnect metrics
		ReconnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidoutput_reconnect_attempts_total",
				Help: "Total number of reconnect attempts",
			},
			[]string{"output"},
		),
		ReconnectSuccesses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidoutput_reconnect_successes_total",
				Help: "Total number of successful reconnects",
			},
			[]string{"output"},
		),

		// Packet metrics
		PacketsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidoutput_packets_delivered_total",
				Help: "Total number of packets delivered to sinks",
			},
			[]string{"output", "type"}, // type: video or audio
		),
		PacketSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapidoutput_packet_size_bytes",
				Help:    "Size of delivered packets in bytes",
				Buckets: prometheus.ExponentialBuckets(128, 2, 12), // 128B to ~256KB
			},
			[]string{"type"},
		),
		PacketsPruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidoutput_packets_pruned_total",
				Help: "Leading audio packets discarded before interleaving started",
			},
			[]string{"output"},
		),
		PacketsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidoutput_packets_dropped_total",
				Help: "Total number of packets dropped",
			},
			[]string{"output", "reason"},
		),
		TrackedFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidoutput_tracked_frames_sent_total",
				Help: "Tracked video frames delivered to sinks",
			},
			[]string{"output"},
		),
		DelayBuffered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rapidoutput_delay_buffered_entries",
				Help: "Entries held in the broadcast delay buffer",
			},
			[]string{"output"},
		),

		// Segment metrics
		SegmentsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidoutput_segments_created_total",
			Help: "Total number of recorded segments",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidoutput_segment_duration_seconds",
			Help:    "Duration of recorded segments",
			Buckets: []float64{1, 2, 4, 6, 10, 30},
		}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidoutput_segment_size_bytes",
			Help:    "Size of recorded segments in bytes",
			Buckets: prometheus.ExponentialBuckets(10240, 2, 10), // 10KB to ~5MB
		}),
		SegmentsStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidoutput_segments_stored",
			Help: "Number of segments currently stored",
		}),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidoutput_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapidoutput_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// RTMP metrics
		RTMPConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidoutput_rtmp_connections_total",
			Help: "Total number of RTMP connections",
		}),
		RTMPDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidoutput_rtmp_disconnects_total",
			Help: "Total number of RTMP disconnections",
		}),
		RTMPErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidoutput_rtmp_errors_total",
			Help: "Total number of RTMP errors",
		}),
		RTMPBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidoutput_rtmp_bytes_total",
				Help: "Total RTMP payload bytes",
			},
			[]string{"direction"}, // sent or received
		),
	}

	return m
}

// RecordOutputStart records an output starting to capture
func (m *Metrics) RecordOutputStart() {
	if m == nil {
		return
	}
	m.ActiveOutputs.Inc()
	m.OutputsStarted.Inc()
}

// RecordOutputDeactivate records an output ending capture
func (m *Metrics) RecordOutputDeactivate() {
	if m == nil {
		return
	}
	m.ActiveOutputs.Dec()
}

// RecordOutputStop records a terminal stop
func (m *Metrics) RecordOutputStop(output string, code models.StopCode, durationSeconds float64) {
	if m == nil {
		return
	}
	m.OutputsStopped.WithLabelValues(output, code.String()).Inc()
	if durationSeconds > 0 {
		m.OutputDuration.Observe(durationSeconds)
	}
}

// RecordStopTimeout records a timed stop that hit its deadline
func (m *Metrics) RecordStopTimeout(abandonedUsec int64, stopFrameQueued bool) {
	if m == nil {
		return
	}
	m.AbandonedQueue.Observe(float64(abandonedUsec))
	if stopFrameQueued {
		m.StopFrameQueued.Inc()
	}
}

// RecordReconnectAttempt records a scheduled reconnect attempt
func (m *Metrics) RecordReconnectAttempt(output string) {
	if m == nil {
		return
	}
	m.ReconnectAttempts.WithLabelValues(output).Inc()
}

// RecordReconnectSuccess records a successful reconnect
func (m *Metrics) RecordReconnectSuccess(output string) {
	if m == nil {
		return
	}
	m.ReconnectSuccesses.WithLabelValues(output).Inc()
}

// RecordPacket records a packet delivered to a sink
func (m *Metrics) RecordPacket(output string, kind models.TrackType, size int) {
	if m == nil {
		return
	}
	m.PacketsDelivered.WithLabelValues(output, kind.String()).Inc()
	m.PacketSize.WithLabelValues(kind.String()).Observe(float64(size))
}

// RecordPruned records packets discarded before interleaving started
func (m *Metrics) RecordPruned(output string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PacketsPruned.WithLabelValues(output).Add(float64(n))
}

// RecordDropped records dropped packets
func (m *Metrics) RecordDropped(output, reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(output, reason).Inc()
}

// RecordTrackedFrame records a tracked frame delivered to a sink
func (m *Metrics) RecordTrackedFrame(output string) {
	if m == nil {
		return
	}
	m.TrackedFrames.WithLabelValues(output).Inc()
}

// SetDelayBuffered sets the number of entries in an output's delay buffer
func (m *Metrics) SetDelayBuffered(output string, n int) {
	if m == nil {
		return
	}
	m.DelayBuffered.WithLabelValues(output).Set(float64(n))
}

// RecordSegment records a segment created
func (m *Metrics) RecordSegment(durationSeconds float64, sizeBytes int64) {
	if m == nil {
		return
	}
	m.SegmentsCreated.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
	m.SegmentsStored.Inc()
}

// RecordSegmentDeleted records a segment deleted
func (m *Metrics) RecordSegmentDeleted() {
	if m == nil {
		return
	}
	m.SegmentsStored.Dec()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordRTMPConnection records an RTMP connection
func (m *Metrics) RecordRTMPConnection() {
	if m == nil {
		return
	}
	m.RTMPConnections.Inc()
}

// RecordRTMPDisconnect records an RTMP disconnection
func (m *Metrics) RecordRTMPDisconnect() {
	if m == nil {
		return
	}
	m.RTMPDisconnects.Inc()
}

// RecordRTMPError records an RTMP error
func (m *Metrics) RecordRTMPError() {
	if m == nil {
		return
	}
	m.RTMPErrors.Inc()
}

// RecordRTMPBytes records RTMP payload bytes, direction is "sent" or "received"
func (m *Metrics) RecordRTMPBytes(direction string, bytes int) {
	if m == nil {
		return
	}
	m.RTMPBytes.WithLabelValues(direction).Add(float64(bytes))
}

// statusCodeToString converts an HTTP status code to a string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "code_" + strconv.Itoa(code)
	}
}
