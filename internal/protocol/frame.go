package protocol

import (
	"hash/crc32"
)

// Slot Layout:
//
// <<<< SLOT_START
// TYPE        u8       // FrameType
// RESERVED    [7]u8    // zero
// TIMESTAMP   u64      // origin time, ns since unix epoch, producer clock
// SEQUENCE    u32      // low 32 bits of the logical ring index
// LENGTH      u32      // payload length in bytes
// PAYLOAD     [...]u8  // zero padded to the end of the slot
// CHECKSUM    u32      // CRC32 (IEEE) of every byte before it
// <<<< SLOT_END
const (
	offType      = 0
	offTimestamp = 8
	offSequence  = 16
	offLength    = 20
	offPayload   = 24

	// ChecksumSize is the width of the trailing checksum field.
	ChecksumSize = 4

	// SlotOverhead is the number of bytes in a slot that are not payload.
	SlotOverhead = offPayload + ChecksumSize

	// MinFrameSize is the smallest slot the codec accepts.
	MinFrameSize = 64
)

// Frame is the decoded form of one ring slot.
type Frame struct {
	Type      FrameType
	Timestamp int64 // ns since unix epoch
	Sequence  uint32
	Payload   []byte
}

// PayloadCapacity returns the number of payload bytes a slot of frameSize bytes holds.
func PayloadCapacity(frameSize int) int {
	return frameSize - SlotOverhead
}

// Checksum computes the CRC32 of slot, excluding its trailing checksum field.
func Checksum(slot []byte) uint32 {
	return crc32.ChecksumIEEE(slot[:len(slot)-ChecksumSize])
}

// VerifyChecksum reports whether the stored checksum of slot matches its contents.
func VerifyChecksum(slot []byte) bool {
	if len(slot) < MinFrameSize {
		return false
	}
	return ByteOrder.Uint32(slot[len(slot)-ChecksumSize:]) == Checksum(slot)
}

// EncodeFrame writes f into slot and seals it with a checksum.
// The whole slot is rewritten, so stale bytes from a previous lap never survive.
func EncodeFrame(slot []byte, f Frame) error {
	if len(slot) < MinFrameSize {
		return ErrShortSlot
	}
	if len(f.Payload) > PayloadCapacity(len(slot)) {
		return ErrPayloadTooLarge
	}
	if !f.Type.Valid() {
		return ErrUnknownFrameType
	}

	slot[offType] = byte(f.Type)
	clear(slot[offType+1 : offTimestamp])
	ByteOrder.PutUint64(slot[offTimestamp:], uint64(f.Timestamp))
	ByteOrder.PutUint32(slot[offSequence:], f.Sequence)
	ByteOrder.PutUint32(slot[offLength:], uint32(len(f.Payload)))
	n := copy(slot[offPayload:], f.Payload)
	clear(slot[offPayload+n : len(slot)-ChecksumSize])
	ByteOrder.PutUint32(slot[len(slot)-ChecksumSize:], Checksum(slot))
	return nil
}

// DecodeFrame parses slot. The checksum is verified before any field is read.
//
// A slot with an unrecognized type tag decodes successfully but is returned together
// with ErrUnknownFrameType, so callers can report it instead of dropping it.
// The returned Payload aliases slot.
func DecodeFrame(slot []byte) (Frame, error) {
	if len(slot) < MinFrameSize {
		return Frame{}, ErrShortSlot
	}
	if !VerifyChecksum(slot) {
		return Frame{}, ErrChecksum
	}

	length := uint64(ByteOrder.Uint32(slot[offLength:]))
	if length > uint64(PayloadCapacity(len(slot))) {
		return Frame{}, ErrPayloadTooLarge
	}

	f := Frame{
		Type:      FrameType(slot[offType]),
		Timestamp: int64(ByteOrder.Uint64(slot[offTimestamp:])),
		Sequence:  ByteOrder.Uint32(slot[offSequence:]),
		Payload:   slot[offPayload : offPayload+int(length)],
	}
	if !f.Type.Valid() {
		return f, ErrUnknownFrameType
	}
	return f, nil
}

// PeekSequence returns the sequence field of slot without verifying it.
func PeekSequence(slot []byte) uint32 {
	return ByteOrder.Uint32(slot[offSequence:])
}
