// Package protocol defines the byte-exact layouts shared by the producer and the
// consumer: the fixed-size ring slot and the handshake message.
//
// All multi-byte integers are little-endian. ByteOrder is the single place that
// decision lives; every encoder in the module goes through it.
package protocol

import (
	"encoding/binary"
	"errors"
)

// ByteOrder is the byte order of every multi-byte field on the wire and in the ring.
var ByteOrder = binary.LittleEndian

// FrameType tags the content of a ring slot.
//
//go:generate go tool stringer -type=FrameType -trimprefix=Frame
type FrameType uint8

const (
	// Vitals: JSON Vitals payload, one sample per frame.
	FrameVitals FrameType = 0x01

	// Waveform: JSON Waveform payload, a short run of samples of one channel.
	FrameWaveform FrameType = 0x02

	// Heartbeat: empty payload, emitted by producers that publish liveness in-band.
	FrameHeartbeat FrameType = 0x03

	// 0x04-0xFF: Reserved
)

// Valid reports whether t is a frame type this version understands.
func (t FrameType) Valid() bool {
	return t >= FrameVitals && t <= FrameHeartbeat
}

// MessageType tags a control message on the rendezvous socket.
//
//go:generate go tool stringer -type=MessageType -trimprefix=Msg
type MessageType uint8

const (
	// Handshake: RingSize, Name; carries the segment descriptor as SCM_RIGHTS.
	MsgHandshake MessageType = 0x01

	// Heartbeat: no operands.
	MsgHeartbeat MessageType = 0x02

	// Shutdown: no operands, no descriptor. The producer is going away.
	MsgShutdown MessageType = 0x03

	// Error: Flags holds the error code, no descriptor.
	MsgError MessageType = 0xFF
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MsgHandshake, MsgHeartbeat, MsgShutdown, MsgError:
		return true
	}
	return false
}

var (
	ErrShortSlot        = errors.New("protocol: slot smaller than minimum frame size")
	ErrPayloadTooLarge  = errors.New("protocol: payload length exceeds slot capacity")
	ErrChecksum         = errors.New("protocol: frame checksum mismatch")
	ErrUnknownFrameType = errors.New("protocol: unknown frame type")
	ErrMalformedMessage = errors.New("protocol: malformed control message")
	ErrNameTooLong      = errors.New("protocol: segment name too long")
)
