package handshake

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/metrics"
	"gosuda.org/vitalink/internal/protocol"
)

const writeTimeout = time.Second

// Offer is what a listener hands to every consumer that connects.
type Offer struct {
	FD   int    // descriptor of the shared segment, duplicated by the kernel on send
	Size uint64 // total segment size in bytes
	Name string // segment name, diagnostic only
}

// Listener is the producer end of the rendezvous.
type Listener struct {
	path string
	ln   *net.UnixListener
	log  zerolog.Logger

	served    atomic.Uint64
	closeOnce sync.Once
}

// Listen binds a unix socket at path. A socket file left behind by a previous
// producer is removed first; any other kind of file at path is an error.
func Listen(path string) (*Listener, error) {
	if err := removeStale(path); err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("handshake: listen %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("handshake: chmod %s: %w", path, err)
	}

	return &Listener{
		path: path,
		ln:   ln,
		log:  logging.Component("handshake").With().Str("socket", path).Logger(),
	}, nil
}

func removeStale(path string) error {
	st, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("handshake: stat %s: %w", path, err)
	}
	if st.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("handshake: %s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("handshake: remove stale socket %s: %w", path, err)
	}
	return nil
}

// Path returns the socket path.
func (l *Listener) Path() string { return l.path }

// Served returns the number of completed handshakes.
func (l *Listener) Served() uint64 { return l.served.Load() }

// Serve answers connections one at a time with offer until ctx is done or the
// listener is closed. A failed handshake is logged and does not stop the loop.
func (l *Listener) Serve(ctx context.Context, offer Offer) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrClosed
			}
			l.log.Warn().Err(err).Msg("accept failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if ctx.Err() != nil {
			l.refuse(conn)
			return ctx.Err()
		}
		if err := l.handle(conn, offer); err != nil {
			l.log.Warn().Err(err).Msg("handshake failed")
			continue
		}
		n := l.served.Add(1)
		metrics.RecordHandshakeServed()
		l.log.Debug().Uint64("served", n).Uint64("ring_size", offer.Size).Msg("descriptor sent")
	}
}

func (l *Listener) handle(conn *net.UnixConn, offer Offer) error {
	defer conn.Close()

	msg := protocol.Message{
		Type:     protocol.MsgHandshake,
		Version:  protocol.MessageVersion,
		RingSize: offer.Size,
		Name:     offer.Name,
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	oob := unix.UnixRights(offer.FD)

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	n, oobn, err := conn.WriteMsgUnix(b, oob, nil)
	if err != nil {
		return fmt.Errorf("handshake: send: %w", err)
	}
	if n != len(b) || oobn != len(oob) {
		return fmt.Errorf("handshake: short send %d/%d bytes, %d/%d control", n, len(b), oobn, len(oob))
	}
	return nil
}

// refuse tells a consumer accepted during shutdown to come back later.
func (l *Listener) refuse(conn *net.UnixConn) {
	defer conn.Close()
	b, err := (&protocol.Message{Type: protocol.MsgShutdown, Version: protocol.MessageVersion}).MarshalBinary()
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(b); err != nil {
		l.log.Debug().Err(err).Msg("shutdown notice not sent")
	}
}

// Close stops accepting and removes the socket file.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.ln.Close()
	})
	return err
}
