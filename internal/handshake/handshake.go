// Package handshake is the rendezvous between a producer and a consumer. The
// producer listens on a unix socket; a consumer connects, receives one control
// message with the segment descriptor attached as SCM_RIGHTS, and hangs up.
//
// The connection carries no data after that. Reconnecting after a producer restart
// is a fresh handshake.
package handshake

import (
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a whole Connect call.
const DefaultTimeout = time.Second

// DefaultSocketPath is the well-known rendezvous endpoint.
const DefaultSocketPath = "/tmp/vitalink-sensor.sock"

var (
	ErrEndpointAbsent = errors.New("handshake: endpoint absent")
	ErrTimeout        = errors.New("handshake: timed out")
	ErrMalformed      = errors.New("handshake: malformed message")
	ErrMissingHandle  = errors.New("handshake: no descriptor received")
	ErrClosed         = errors.New("handshake: listener closed")
)

// RefusedError is returned when the producer answers with an error message instead
// of a descriptor.
type RefusedError struct {
	Code uint32
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("handshake: refused by producer, code %d", e.Code)
}
