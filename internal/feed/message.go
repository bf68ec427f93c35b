// Package feed is the monitor's HTTP surface: a websocket broadcast of data source
// events plus health, info and metrics endpoints.
package feed

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"gosuda.org/vitalink"
)

// Message types carried on the websocket.
const (
	TypeHello        = "hello"
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
	TypeVitals       = "vitals"
	TypeWaveform     = "waveform"
	TypeHeartbeat    = "heartbeat"
	TypeStalled      = "stalled"
	TypeResumed      = "resumed"
	TypeDropped      = "dropped"
	TypeCorruptFrame = "corrupt_frame"
	TypeUnknownFrame = "unknown_frame"
	TypeError        = "error"
	TypeState        = "state"
)

var eventTypes = map[vitalink.EventKind]string{
	vitalink.EventConnected:    TypeConnected,
	vitalink.EventDisconnected: TypeDisconnected,
	vitalink.EventVitals:       TypeVitals,
	vitalink.EventWaveform:     TypeWaveform,
	vitalink.EventHeartbeat:    TypeHeartbeat,
	vitalink.EventStalled:      TypeStalled,
	vitalink.EventResumed:      TypeResumed,
	vitalink.EventDropped:      TypeDropped,
	vitalink.EventCorruptFrame: TypeCorruptFrame,
	vitalink.EventUnknownFrame: TypeUnknownFrame,
	vitalink.EventError:        TypeError,
	vitalink.EventStateChanged: TypeState,
}

// Message is one websocket text frame.
type Message struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	State   string    `json:"state,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// Detail is the payload of events that carry no record.
type Detail struct {
	Index     uint64 `json:"index"`
	Count     uint64 `json:"count,omitempty"`
	FrameType uint8  `json:"frame_type,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Hello is sent to each client right after it connects.
type Hello struct {
	Info    vitalink.DataSourceInfo `json:"info"`
	Clients int                     `json:"clients"`
}

// FromEvent converts a data source event to a Message.
func FromEvent(ev vitalink.Event) Message {
	m := Message{
		Type:  eventTypes[ev.Kind],
		Time:  ev.Time,
		State: ev.State.String(),
	}
	if m.Type == "" {
		m.Type = ev.Kind.String()
	}
	if ev.Session != uuid.Nil {
		m.Session = ev.Session.String()
	}

	switch {
	case ev.Vitals != nil:
		m.Data = ev.Vitals
	case ev.Waveform != nil:
		m.Data = ev.Waveform
	case ev.Heartbeat != nil:
		m.Data = ev.Heartbeat
	case ev.Kind == vitalink.EventStateChanged:
	default:
		d := Detail{Index: ev.Index, Count: ev.Count, FrameType: ev.FrameType}
		if ev.Err != nil {
			d.Error = ev.Err.Error()
			if k := vitalink.KindOf(ev.Err); k != 0 {
				d.Kind = k.String()
				d.Retryable = k.Retryable()
			}
		}
		m.Data = d
	}
	return m
}

// Encode marshals m for the wire.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
