package vitalink

import (
	"errors"

	"gosuda.org/vitalink/internal/handshake"
	"gosuda.org/vitalink/internal/protocol"
	"gosuda.org/vitalink/internal/ring"
	"gosuda.org/vitalink/internal/shm"
)

// ErrorKind classifies a failure by what can be done about it.
//
//go:generate go tool stringer -type=ErrorKind -trimprefix=Kind
type ErrorKind uint8

const (
	KindHandshake ErrorKind = iota + 1 // endpoint absent, timeout, bad message, no descriptor
	KindMapping                        // descriptor cannot be mapped at the advertised size
	KindHeader                         // magic, version or geometry mismatch
	KindFraming                        // one slot failed its checksum or payload decode
	KindOverrun                        // consumer fell more than a ring length behind
	KindLiveness                       // heartbeat stopped advancing
)

// Retryable reports whether retrying can help. Mapping and header failures mean the
// two sides disagree on the format, which no retry fixes.
func (k ErrorKind) Retryable() bool {
	return k != KindMapping && k != KindHeader
}

// Error definitions for vitalink operations
var (
	ErrAlreadyStarted = errors.New("vitalink: data source already started")
	ErrStopped        = errors.New("vitalink: data source stopped")
	ErrStallTimeout   = errors.New("vitalink: producer stalled past timeout")
	ErrClosed         = errors.New("vitalink: producer closed")
	ErrInvalidOptions = errors.New("vitalink: invalid options")

	ErrEndpointAbsent     = handshake.ErrEndpointAbsent
	ErrHandshakeTimeout   = handshake.ErrTimeout
	ErrMalformedHandshake = handshake.ErrMalformed
	ErrMissingHandle      = handshake.ErrMissingHandle

	ErrSizeMismatch   = shm.ErrSizeMismatch
	ErrBadMagic       = ring.ErrBadMagic
	ErrBadVersion     = ring.ErrBadVersion
	ErrBadGeometry    = ring.ErrBadGeometry
	ErrHeaderChecksum = ring.ErrHeaderChecksum

	ErrChecksum         = protocol.ErrChecksum
	ErrUnknownFrameType = protocol.ErrUnknownFrameType
	ErrPayloadTooLarge  = protocol.ErrPayloadTooLarge
)

// SessionError is a classified failure reported through EventError or returned from
// Serve.
type SessionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SessionError) Error() string {
	return "vitalink: " + e.Kind.String() + ": " + e.Op + ": " + e.Err.Error()
}

func (e *SessionError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the failed operation.
func (e *SessionError) Retryable() bool { return e.Kind.Retryable() }

// KindOf returns the kind of err, or 0 if err is not a SessionError.
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
