package shm

import "fmt"

// Kind selects a segment backend.
type Kind string

const (
	KindAuto  Kind = "auto"
	KindMemfd Kind = "memfd"
	KindNamed Kind = "named"
)

// Backend creates memory-backed segments whose descriptor can be passed to another
// process.
type Backend interface {
	Create(name string, size int) (*Segment, error)
	Kind() Kind
}

// NewBackend returns the backend for kind. KindAuto prefers an anonymous memfd and
// falls back to a named file where memfd is unavailable.
func NewBackend(kind Kind) (Backend, error) {
	switch kind {
	case KindAuto, "":
		if memfdSupported {
			return memfdBackend{}, nil
		}
		return NewNamedBackend(""), nil
	case KindMemfd:
		if !memfdSupported {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
		}
		return memfdBackend{}, nil
	case KindNamed:
		return NewNamedBackend(""), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}
