//go:build linux

package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const memfdSupported = true

// memfdBackend creates anonymous segments with memfd_create. The segment has no
// filesystem name, so nothing needs unlinking; it disappears with its last descriptor.
type memfdBackend struct{}

func (memfdBackend) Kind() Kind { return KindMemfd }

func (memfdBackend) Create(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create %s: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: size memfd %s: %w", name, err)
	}
	// Consumers must not be able to resize the segment under the producer.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: seal memfd %s: %w", name, err)
	}

	return &Segment{
		name: name,
		size: size,
		file: os.NewFile(uintptr(fd), "memfd:"+name),
	}, nil
}
