package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// NamedBackend creates segments as files in a memory-backed directory, /dev/shm when
// it is usable and the temp dir otherwise. The file is removed when the segment is
// closed.
type NamedBackend struct {
	dir string
}

// NewNamedBackend returns a named backend rooted at dir, or at the default
// directory when dir is empty.
func NewNamedBackend(dir string) *NamedBackend {
	if dir == "" {
		dir = defaultNamedDir()
	}
	return &NamedBackend{dir: dir}
}

func defaultNamedDir() string {
	if unix.Access("/dev/shm", unix.W_OK) == nil {
		return "/dev/shm"
	}
	return os.TempDir()
}

func (b *NamedBackend) Kind() Kind { return KindNamed }

// Dir returns the directory segments are created in.
func (b *NamedBackend) Dir() string { return b.dir }

func (b *NamedBackend) Create(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	path := filepath.Join(b.dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		// Left behind by a producer that did not shut down cleanly.
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("shm: remove stale segment %s: %w", path, err)
		}
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	}
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: size %s: %w", path, err)
	}

	return &Segment{
		name: name,
		size: size,
		file: f,
		unlink: func() error {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}, nil
}
