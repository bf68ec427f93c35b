// Package metrics holds the Prometheus instruments for the transport. Instruments are
// registered on the default registry at init, the way promauto does it, and are
// written through the Record helpers so call sites stay one line.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vitalink"

var (
	// Consumer side

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read from the ring and decoded, by frame type",
		},
		[]string{"type"},
	)

	ChecksumFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checksum_failures_total",
			Help:      "Slots skipped because their checksum did not match",
		},
	)

	UnknownFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_frames_total",
			Help:      "Slots with a valid checksum and an unrecognized type tag",
		},
	)

	PayloadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_errors_total",
			Help:      "Frames whose payload could not be decoded, by frame type",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames overwritten before the consumer could read them",
		},
	)

	Stalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_stalls_total",
			Help:      "Times the producer heartbeat stopped advancing past the threshold",
		},
	)

	HandshakeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_attempts_total",
			Help:      "Handshake attempts by result",
		},
		[]string{"result"}, // "ok", "absent", "timeout", "malformed", "missing_handle", "error"
	)

	HandshakeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Duration of successful handshakes",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	FrameLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_latency_seconds",
			Help:      "Time from frame origin timestamp to decode on the consumer",
			Buckets:   []float64{.0001, .00025, .0005, .001, .002, .004, .008, .016, .032, .064},
		},
	)

	RingLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_lag_frames",
			Help:      "Published frames not yet consumed at the end of the last poll",
		},
	)

	SourceState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_state",
			Help:      "Current data source state (0 idle, 1 handshaking, 2 mapping, 3 polling, 4 stalled, 5 stopped, 6 failed)",
		},
	)

	HandlerOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_overflows_total",
			Help:      "Events discarded because the receiving channel was full",
		},
	)

	// Producer side

	FramesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_written_total",
			Help:      "Frames appended to the ring, by frame type",
		},
		[]string{"type"},
	)

	StageDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_drops_total",
			Help:      "Generated frames discarded because the staging queue was full, by frame type",
		},
		[]string{"type"},
	)

	HandshakesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_served_total",
			Help:      "Descriptors handed to consumers",
		},
	)

	// Feed

	FeedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_clients",
			Help:      "Connected websocket feed clients",
		},
	)

	FeedDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_messages_dropped_total",
			Help:      "Feed messages not delivered to a slow client",
		},
	)
)

// RecordFrame counts a decoded frame and observes its origin-to-decode latency.
func RecordFrame(frameType string, origin time.Time) {
	FramesReceived.WithLabelValues(frameType).Inc()
	if lat := time.Since(origin); lat >= 0 {
		FrameLatency.Observe(lat.Seconds())
	}
}

func RecordChecksumFailure() { ChecksumFailures.Inc() }

func RecordUnknownFrame() { UnknownFrames.Inc() }

func RecordPayloadError(frameType string) { PayloadErrors.WithLabelValues(frameType).Inc() }

// RecordDropped adds n overrun frames.
func RecordDropped(n uint64) { FramesDropped.Add(float64(n)) }

func RecordStall() { Stalls.Inc() }

// RecordHandshake counts an attempt; duration is observed only for successes.
func RecordHandshake(result string, duration time.Duration) {
	HandshakeAttempts.WithLabelValues(result).Inc()
	if result == "ok" {
		HandshakeDuration.Observe(duration.Seconds())
	}
}

func RecordLag(frames uint64) { RingLag.Set(float64(frames)) }

func RecordState(state int) { SourceState.Set(float64(state)) }

func RecordHandlerOverflow() { HandlerOverflows.Inc() }

func RecordWrite(frameType string) { FramesWritten.WithLabelValues(frameType).Inc() }

func RecordStageDrop(frameType string) { StageDrops.WithLabelValues(frameType).Inc() }

func RecordHandshakeServed() { HandshakesServed.Inc() }
