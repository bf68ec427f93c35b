package protocol

import "bytes"

// MessageVersion is the control message layout version.
const MessageVersion uint16 = 1

// Message Layout:
//
// TYPE       u8      // MessageType
// RESERVED   [3]u8
// VERSION    u16     // MessageVersion
// RESERVED   u16
// RING_SIZE  u64     // total segment size in bytes
// FLAGS      u32
// RESERVED   u32
// NAME       [104]u8 // NUL padded segment name, diagnostic only
const (
	msgOffType     = 0
	msgOffVersion  = 4
	msgOffRingSize = 8
	msgOffFlags    = 16
	msgOffName     = 24

	// MessageSize is the fixed size of a control message.
	MessageSize = 128

	// MaxNameLen is the longest segment name a message can carry.
	MaxNameLen = MessageSize - msgOffName - 1
)

// Message is a control message exchanged on the rendezvous socket. The segment
// descriptor itself travels beside it as ancillary data, never inside it.
type Message struct {
	Type     MessageType
	Version  uint16
	RingSize uint64
	Flags    uint32
	Name     string
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *Message) MarshalBinary() ([]byte, error) {
	if len(m.Name) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	b := make([]byte, MessageSize)
	b[msgOffType] = byte(m.Type)
	ByteOrder.PutUint16(b[msgOffVersion:], m.Version)
	ByteOrder.PutUint64(b[msgOffRingSize:], m.RingSize)
	ByteOrder.PutUint32(b[msgOffFlags:], m.Flags)
	copy(b[msgOffName:], m.Name)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) != MessageSize {
		return ErrMalformedMessage
	}
	t := MessageType(b[msgOffType])
	if !t.Valid() {
		return ErrMalformedMessage
	}
	name := b[msgOffName:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	} else {
		return ErrMalformedMessage
	}

	m.Type = t
	m.Version = ByteOrder.Uint16(b[msgOffVersion:])
	m.RingSize = ByteOrder.Uint64(b[msgOffRingSize:])
	m.Flags = ByteOrder.Uint32(b[msgOffFlags:])
	m.Name = string(name)
	return nil
}
