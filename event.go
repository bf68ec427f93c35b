package vitalink

import (
	"time"

	"github.com/google/uuid"

	"gosuda.org/vitalink/internal/metrics"
)

// EventKind identifies what an Event reports.
//
//go:generate go tool stringer -type=EventKind -trimprefix=Event
type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventVitals
	EventWaveform
	EventHeartbeat
	EventStalled
	EventResumed
	EventDropped
	EventCorruptFrame
	EventUnknownFrame
	EventError
	EventStateChanged
)

// Event is delivered to the Handler from the session goroutine, one at a time.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Session uuid.UUID
	State   State

	Vitals    *VitalsRecord
	Waveform  *WaveformRecord
	Heartbeat *HeartbeatRecord

	// Count is the number of frames lost for EventDropped.
	Count uint64
	// Index is the logical ring index the event refers to.
	Index uint64
	// FrameType is the raw type byte for EventUnknownFrame.
	FrameType uint8
	Err       error
}

// VitalsRecord is one decoded vitals frame.
type VitalsRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Sequence      uint32    `json:"sequence"`
	HeartRate     int       `json:"hr"`
	SpO2          int       `json:"spo2"`
	RespRate      int       `json:"rr"`
	SignalQuality int       `json:"signal_quality,omitempty"`
}

// WaveformSample is one point of a waveform channel.
type WaveformSample struct {
	Timestamp time.Time `json:"t"`
	Value     float32   `json:"v"`
}

// WaveformRecord is one decoded waveform frame with per-sample timestamps.
type WaveformRecord struct {
	Timestamp  time.Time        `json:"timestamp"`
	Sequence   uint32           `json:"sequence"`
	Channel    string           `json:"channel"`
	SampleRate int              `json:"sample_rate"`
	Samples    []WaveformSample `json:"samples"`
}

// HeartbeatRecord is an explicit heartbeat frame.
type HeartbeatRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint32    `json:"sequence"`
}

// Handler receives events. It runs on the session goroutine, so it must return
// promptly and must not call Stop.
type Handler func(Event)

// ChannelHandler returns a Handler that forwards events to ch without blocking.
// Events that do not fit are dropped and counted.
func ChannelHandler(ch chan<- Event) Handler {
	return func(ev Event) {
		select {
		case ch <- ev:
		default:
			metrics.RecordHandlerOverflow()
		}
	}
}

// Capabilities advertised by a shared-memory data source.
const (
	CapHeartRate = "HR"
	CapSpO2      = "SPO2"
	CapRespRate  = "RR"
	CapECG       = "ECG"
	CapPleth     = "PLETH"
)

// DataSourceInfo describes a data source.
type DataSourceInfo struct {
	Name              string   `json:"name"`
	Type              string   `json:"type"`
	Version           string   `json:"version"`
	Capabilities      []string `json:"capabilities"`
	SupportsWaveforms bool     `json:"supports_waveforms"`
}

// Stats are cumulative counters of a DataSource across sessions.
type Stats struct {
	State      string `json:"state"`
	Sessions   uint64 `json:"sessions"`
	Handshakes uint64 `json:"handshakes"`
	Frames     uint64 `json:"frames"`
	Vitals     uint64 `json:"vitals"`
	Waveforms  uint64 `json:"waveforms"`
	Heartbeats uint64 `json:"heartbeats"`
	Dropped    uint64 `json:"dropped"`
	Corrupt    uint64 `json:"corrupt"`
	Unknown    uint64 `json:"unknown"`
	Stalls     uint64 `json:"stalls"`
	WriteIndex uint64 `json:"write_index"`
	Cursor     uint64 `json:"cursor"`
}
