package shm_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"gosuda.org/vitalink/internal/shm"
)

func backends(t *testing.T) []shm.Backend {
	t.Helper()
	out := []shm.Backend{shm.NewNamedBackend(t.TempDir())}
	if runtime.GOOS == "linux" {
		b, err := shm.NewBackend(shm.KindMemfd)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

// dupFD hands MapFD its own descriptor, the way a handshake would
func dupFD(t *testing.T, seg *shm.Segment) int {
	t.Helper()
	fd, err := unix.Dup(seg.FD())
	require.NoError(t, err)
	return fd
}

// TestSharedView writes through the producer mapping and reads through a consumer
// mapping of the same descriptor
func TestSharedView(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(string(b.Kind()), func(t *testing.T) {
			seg, err := b.Create("vitalink-test", 8192)
			require.NoError(t, err)
			defer seg.Close()
			assert.Equal(t, 8192, seg.Size())
			assert.Equal(t, "vitalink-test", seg.Name())

			mem, err := seg.Map()
			require.NoError(t, err)
			again, err := seg.Map()
			require.NoError(t, err)
			assert.Same(t, &mem[0], &again[0])

			m, err := shm.MapFD(dupFD(t, seg), seg.Size())
			require.NoError(t, err)
			defer m.Close()

			mem[0], mem[8191] = 0xAA, 0x55
			view := m.Bytes()
			require.Len(t, view, 8192)
			assert.Equal(t, byte(0xAA), view[0])
			assert.Equal(t, byte(0x55), view[8191])
		})
	}
}

func TestMapFDRejectsOversizedClaim(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(string(b.Kind()), func(t *testing.T) {
			seg, err := b.Create("vitalink-short", 4096)
			require.NoError(t, err)
			defer seg.Close()

			_, err = shm.MapFD(dupFD(t, seg), 8192)
			assert.ErrorIs(t, err, shm.ErrSizeMismatch)

			_, err = shm.MapFD(dupFD(t, seg), 0)
			assert.ErrorIs(t, err, shm.ErrInvalidSize)
		})
	}
}

func TestNamedCleanup(t *testing.T) {
	dir := t.TempDir()
	b := shm.NewNamedBackend(dir)
	path := filepath.Join(dir, "vitalink-named")

	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))
	seg, err := b.Create("vitalink-named", 4096)
	require.NoError(t, err)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), st.Size())

	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = seg.Map()
	assert.ErrorIs(t, err, shm.ErrClosed)
}

func TestNewBackend(t *testing.T) {
	b, err := shm.NewBackend(shm.KindAuto)
	require.NoError(t, err)
	if runtime.GOOS == "linux" {
		assert.Equal(t, shm.KindMemfd, b.Kind())
	} else {
		assert.Equal(t, shm.KindNamed, b.Kind())
	}

	_, err = shm.NewBackend("sysv")
	assert.ErrorIs(t, err, shm.ErrUnknownKind)

	_, err = shm.NewBackend(shm.KindNamed)
	assert.NoError(t, err)
}

func TestCreateRejectsSize(t *testing.T) {
	for _, b := range backends(t) {
		_, err := b.Create("vitalink-zero", 0)
		assert.ErrorIs(t, err, shm.ErrInvalidSize)
	}
}
