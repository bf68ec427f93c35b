// Package shm creates, maps and releases the shared-memory segment that holds the
// frame ring. How the segment is created depends on the platform and is hidden
// behind Backend; everything above this package only sees a descriptor and a size.
package shm

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

var (
	ErrUnsupported  = errors.New("shm: backend not supported on this platform")
	ErrUnknownKind  = errors.New("shm: unknown backend")
	ErrSizeMismatch = errors.New("shm: descriptor smaller than advertised size")
	ErrInvalidSize  = errors.New("shm: invalid segment size")
	ErrClosed       = errors.New("shm: segment closed")
)

// Segment is a producer-owned shared memory region for inter-process communication.
// The producer is the only party that creates and destroys it; consumers receive its
// descriptor over the handshake socket and map it read-only.
type Segment struct {
	name   string   // Name/identifier of the segment
	size   int      // Size of the segment in bytes
	file   *os.File // Descriptor backing the segment
	unlink func() error

	mu  sync.Mutex
	mem mmap.MMap
}

// Name returns the segment name. For memfd segments the name is diagnostic only.
func (s *Segment) Name() string {
	return s.name
}

// Size returns the size of the segment in bytes.
func (s *Segment) Size() int {
	return s.size
}

// FD returns the descriptor to hand to a consumer.
// The segment keeps ownership; the kernel duplicates it on transfer.
func (s *Segment) FD() int {
	return int(s.file.Fd())
}

// Map maps the whole segment read-write. Repeated calls return the same mapping.
func (s *Segment) Map() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil, ErrClosed
	}
	if s.mem != nil {
		return s.mem, nil
	}
	m, err := mmap.MapRegion(s.file, s.size, mmap.RDWR, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: map %s: %w", s.name, err)
	}
	s.mem = m
	return m, nil
}

// Close unmaps the segment, closes its descriptor and, for named backends, removes
// the name. It is safe to call more than once.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.mem != nil {
		errs = append(errs, s.mem.Unmap())
		s.mem = nil
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	if s.unlink != nil {
		errs = append(errs, s.unlink())
		s.unlink = nil
	}
	return errors.Join(errs...)
}

// Mapping is a consumer's read-only view of a segment received by descriptor.
type Mapping struct {
	file *os.File
	mem  mmap.MMap
}

// MapFD maps exactly size bytes of the segment behind fd, read-only and shared.
// MapFD takes ownership of fd: it is closed on failure and by Close.
func MapFD(fd int, size int) (*Mapping, error) {
	f := os.NewFile(uintptr(fd), "vitalink-segment")
	if f == nil {
		return nil, fmt.Errorf("shm: invalid descriptor %d", fd)
	}
	if size <= 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: stat descriptor: %w", err)
	}
	if st.Size() < int64(size) {
		f.Close()
		return nil, fmt.Errorf("%w: descriptor %d bytes, advertised %d", ErrSizeMismatch, st.Size(), size)
	}

	m, err := mmap.MapRegion(f, size, mmap.RDONLY, 0, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: map descriptor: %w", err)
	}
	return &Mapping{file: f, mem: m}, nil
}

// Bytes returns the mapped region.
func (m *Mapping) Bytes() []byte {
	return m.mem
}

// Close unmaps the region and closes the descriptor. The segment itself is left to
// its producer.
func (m *Mapping) Close() error {
	var errs []error
	if m.mem != nil {
		errs = append(errs, m.mem.Unmap())
		m.mem = nil
	}
	if m.file != nil {
		errs = append(errs, m.file.Close())
		m.file = nil
	}
	return errors.Join(errs...)
}
