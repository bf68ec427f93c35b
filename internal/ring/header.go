package ring

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"gosuda.org/vitalink/internal/protocol"
)

// Magic identifies a vitalink ring segment ("SMRB").
const Magic uint32 = 0x534D5242

// Version is the ring layout version. Any change to the header or slot layout bumps it.
const Version uint16 = 1

// HeaderSize is the fixed size of the ring header.
const HeaderSize = 64

// Ring Memory Layout:
//
// <<<< SEGMENT_START
// MAGIC            u32   // Magic
// VERSION          u16   // Version
// RESERVED         u16
// FRAME_SIZE       u32   // bytes per slot
// FRAME_COUNT      u32   // number of slots
// WRITE_INDEX      u64   // atomic, frames published so far
// HEARTBEAT        u64   // atomic, producer monotonic ns
// HEADER_CHECKSUM  u32   // CRC32 of MAGIC..FRAME_COUNT
// RESERVED         [28]u8
// <<<< HEADER_END (64)
// SLOT[0] .. SLOT[FRAME_COUNT-1]
// <<<< SEGMENT_END
const (
	offMagic       = 0
	offVersion     = 4
	offFrameSize   = 8
	offFrameCount  = 12
	offWriteIndex  = 16
	offHeartbeat   = 24
	offHeaderCheck = 32
	staticFields   = 16
)

// Size returns the segment size needed for the given geometry.
func Size(frameSize, frameCount int) int {
	return HeaderSize + frameSize*frameCount
}

var le = protocol.ByteOrder

// hostLittle reports whether native loads already produce little-endian values.
var hostLittle = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

func headerChecksum(mem []byte) uint32 {
	return crc32.ChecksumIEEE(mem[:staticFields])
}

func atomicAt(mem []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&mem[off]))
}

// load is an acquire load of a little-endian u64.
func load(p *uint64) uint64 {
	v := atomic.LoadUint64(p)
	if !hostLittle {
		v = bits.ReverseBytes64(v)
	}
	return v
}

// store is a release store of a little-endian u64.
func store(p *uint64, v uint64) {
	if !hostLittle {
		v = bits.ReverseBytes64(v)
	}
	atomic.StoreUint64(p, v)
}
