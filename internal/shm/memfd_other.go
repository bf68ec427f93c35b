//go:build !linux

package shm

const memfdSupported = false

type memfdBackend struct{}

func (memfdBackend) Kind() Kind { return KindMemfd }

func (memfdBackend) Create(string, int) (*Segment, error) {
	return nil, ErrUnsupported
}
