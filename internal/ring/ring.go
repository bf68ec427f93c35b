// Package ring implements the single-producer single-consumer frame ring laid over a
// shared-memory segment.
//
// The producer writes a slot in full and only then release-stores the incremented
// write index. The consumer acquire-loads the write index before touching a slot.
// That pairing is the only synchronization between the two processes.
package ring

import (
	"errors"
	"fmt"
	"unsafe"

	"gosuda.org/vitalink/internal/protocol"
)

var (
	ErrUnaligned      = errors.New("ring: memory is not 8-byte aligned")
	ErrShortRegion    = errors.New("ring: region smaller than header")
	ErrBadMagic       = errors.New("ring: bad magic")
	ErrBadVersion     = errors.New("ring: unsupported layout version")
	ErrHeaderChecksum = errors.New("ring: header checksum mismatch")
	ErrBadGeometry    = errors.New("ring: geometry does not match region")
	ErrNotWritten     = errors.New("ring: index not yet published")
	ErrLapped         = errors.New("ring: slot overwritten by producer")
	ErrShortBuffer    = errors.New("ring: destination smaller than frame size")
)

// Ring is a bounds-checked view of a mapped ring segment. It is built once per
// mapping and never outlives it.
type Ring struct {
	mem        []byte
	frameSize  int
	frameCount uint64
	writeIndex *uint64
	heartbeat  *uint64
}

// Init lays out a fresh ring header over mem. Only the producer calls Init, and only
// once per segment, before the segment is offered to any consumer.
func Init(mem []byte, frameSize, frameCount int) (*Ring, error) {
	if frameSize < protocol.MinFrameSize || frameSize%8 != 0 || frameCount <= 0 {
		return nil, fmt.Errorf("%w: frame size %d, frame count %d", ErrBadGeometry, frameSize, frameCount)
	}
	if len(mem) != Size(frameSize, frameCount) {
		return nil, fmt.Errorf("%w: region %d bytes, need %d", ErrBadGeometry, len(mem), Size(frameSize, frameCount))
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, ErrUnaligned
	}

	clear(mem[:HeaderSize])
	le.PutUint32(mem[offMagic:], Magic)
	le.PutUint16(mem[offVersion:], Version)
	le.PutUint32(mem[offFrameSize:], uint32(frameSize))
	le.PutUint32(mem[offFrameCount:], uint32(frameCount))
	le.PutUint32(mem[offHeaderCheck:], headerChecksum(mem))

	r := newRing(mem)
	store(r.writeIndex, 0)
	store(r.heartbeat, 0)
	return r, nil
}

// Attach builds a view over a mapped segment written by a producer. The header is not
// trusted until ValidateHeader returns true.
func Attach(mem []byte) (*Ring, error) {
	if len(mem) < HeaderSize {
		return nil, ErrShortRegion
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, ErrUnaligned
	}
	return newRing(mem), nil
}

func newRing(mem []byte) *Ring {
	return &Ring{
		mem:        mem,
		frameSize:  int(le.Uint32(mem[offFrameSize:])),
		frameCount: uint64(le.Uint32(mem[offFrameCount:])),
		writeIndex: atomicAt(mem, offWriteIndex),
		heartbeat:  atomicAt(mem, offHeartbeat),
	}
}

// ValidateHeader checks magic, version, header checksum and geometry.
// It returns false on any mismatch; HeaderError names the reason.
func (r *Ring) ValidateHeader() bool {
	return r.HeaderError() == nil
}

// HeaderError returns the first header check that fails, or nil.
func (r *Ring) HeaderError() error {
	if m := le.Uint32(r.mem[offMagic:]); m != Magic {
		return fmt.Errorf("%w: %#08x", ErrBadMagic, m)
	}
	if v := le.Uint16(r.mem[offVersion:]); v != Version {
		return fmt.Errorf("%w: %d, want %d", ErrBadVersion, v, Version)
	}
	if le.Uint32(r.mem[offHeaderCheck:]) != headerChecksum(r.mem) {
		return ErrHeaderChecksum
	}
	if r.frameSize < protocol.MinFrameSize || r.frameSize%8 != 0 || r.frameCount == 0 {
		return fmt.Errorf("%w: frame size %d, frame count %d", ErrBadGeometry, r.frameSize, r.frameCount)
	}
	if want := uint64(HeaderSize) + uint64(r.frameSize)*r.frameCount; want != uint64(len(r.mem)) {
		return fmt.Errorf("%w: header declares %d bytes, mapped %d", ErrBadGeometry, want, len(r.mem))
	}
	return nil
}

// FrameSize returns the slot size in bytes.
func (r *Ring) FrameSize() int { return r.frameSize }

// FrameCount returns the number of slots.
func (r *Ring) FrameCount() uint64 { return r.frameCount }

// CurrentWriteIndex returns the number of frames the producer has published.
// Every logical index below it refers to a fully written slot.
func (r *Ring) CurrentWriteIndex() uint64 {
	return load(r.writeIndex)
}

// Heartbeat returns the producer's last liveness stamp.
func (r *Ring) Heartbeat() uint64 {
	return load(r.heartbeat)
}

// Oldest returns the oldest logical index still intact when the write index is w.
func (r *Ring) Oldest(w uint64) uint64 {
	if w <= r.frameCount {
		return 0
	}
	return w - r.frameCount
}

func (r *Ring) slot(index uint64) []byte {
	off := HeaderSize + int(index%r.frameCount)*r.frameSize
	return r.mem[off : off+r.frameSize : off+r.frameSize]
}

// ReadFrame copies the slot holding logical index into out and verifies it.
// It returns false if the slot is not safely readable.
func (r *Ring) ReadFrame(index uint64, out []byte) bool {
	return r.Read(index, out) == nil
}

// Read is ReadFrame with the reason for a failure: ErrNotWritten, ErrLapped,
// protocol.ErrChecksum or ErrShortBuffer.
func (r *Ring) Read(index uint64, out []byte) error {
	if len(out) < r.frameSize {
		return ErrShortBuffer
	}
	w := r.CurrentWriteIndex()
	if index >= w {
		return ErrNotWritten
	}
	if w-index > r.frameCount {
		return ErrLapped
	}

	out = out[:r.frameSize]
	copy(out, r.slot(index))

	if !protocol.VerifyChecksum(out) {
		// A copy torn by the producer's next lap shows up as a checksum failure.
		// At w-index == frameCount the slot is the target of the unpublished write.
		if r.CurrentWriteIndex()-index >= r.frameCount {
			return ErrLapped
		}
		return protocol.ErrChecksum
	}
	// An intact slot from a later lap carries a later sequence.
	if protocol.PeekSequence(out) != uint32(index) {
		return ErrLapped
	}
	return nil
}

// Writer is the producer side of a ring. It must be used from one goroutine.
type Writer struct {
	r    *Ring
	next uint64
}

// NewWriter returns a writer that continues from the ring's current write index.
func NewWriter(r *Ring) *Writer {
	return &Writer{r: r, next: r.CurrentWriteIndex()}
}

// AppendFrame writes one frame into the next slot and publishes it.
// It never waits for the consumer; a slow consumer loses the oldest frames.
func (w *Writer) AppendFrame(typ protocol.FrameType, timestamp int64, payload []byte) (uint64, error) {
	index := w.next
	err := protocol.EncodeFrame(w.r.slot(index), protocol.Frame{
		Type:      typ,
		Timestamp: timestamp,
		Sequence:  uint32(index),
		Payload:   payload,
	})
	if err != nil {
		return 0, err
	}
	w.next++
	store(w.r.writeIndex, w.next)
	return index, nil
}

// Beat publishes a liveness stamp.
func (w *Writer) Beat(ts uint64) {
	store(w.r.heartbeat, ts)
}

// Ring returns the ring the writer appends to.
func (w *Writer) Ring() *Ring { return w.r }
