package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"gosuda.org/vitalink/internal/protocol"
)

// maxRights is how many descriptors a receive makes room for. Only one is expected;
// the extra room lets surplus descriptors be received and closed instead of leaking
// through a truncated control message.
const maxRights = 4

// Result is what a successful handshake yields. The caller owns FD.
type Result struct {
	FD      int
	Size    uint64
	Name    string
	Version uint16
}

// Connect performs one handshake against the endpoint at path. The whole exchange is
// bounded by timeout (DefaultTimeout when zero or negative) and by ctx.
//
// The message and its descriptor are read by a single recvmsg; a plain read would
// discard the descriptor.
func Connect(ctx context.Context, path string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrEndpointAbsent, path)
		}
		return Result{}, fmt.Errorf("handshake: stat %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Result{}, classifyDial(ctx, path, err)
	}
	conn := c.(*net.UnixConn)
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Result{}, fmt.Errorf("handshake: set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, protocol.MessageSize+1)
	oob := make([]byte, unix.CmsgSpace(maxRights*4))
	n, oobn, flags, _, err := conn.ReadMsgUnix(buf, oob)
	fds := parseRights(oob[:oobn])
	if err != nil {
		closeAll(fds)
		return Result{}, classifyRead(ctx, err)
	}

	var msg protocol.Message
	if n != protocol.MessageSize {
		closeAll(fds)
		return Result{}, fmt.Errorf("%w: %d bytes", ErrMalformed, n)
	}
	if err := msg.UnmarshalBinary(buf[:n]); err != nil {
		closeAll(fds)
		return Result{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	switch msg.Type {
	case protocol.MsgShutdown:
		closeAll(fds)
		return Result{}, fmt.Errorf("%w: %s is shutting down", ErrEndpointAbsent, path)
	case protocol.MsgError:
		closeAll(fds)
		return Result{}, &RefusedError{Code: msg.Flags}
	}

	if len(fds) == 0 {
		if flags&unix.MSG_CTRUNC != 0 {
			return Result{}, fmt.Errorf("%w: control message truncated", ErrMissingHandle)
		}
		return Result{}, ErrMissingHandle
	}
	fd := fds[0]
	closeAll(fds[1:])

	if msg.Type != protocol.MsgHandshake || msg.Version != protocol.MessageVersion {
		unix.Close(fd)
		return Result{}, fmt.Errorf("%w: %s version %d", ErrMalformed, msg.Type, msg.Version)
	}

	return Result{FD: fd, Size: msg.RingSize, Name: msg.Name, Version: msg.Version}, nil
}

func parseRights(oob []byte) []int {
	if len(oob) == 0 {
		return nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil
	}
	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

func classifyDial(ctx context.Context, path string, err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ENOENT):
		return fmt.Errorf("%w: %s: %w", ErrEndpointAbsent, path, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: dial %s", ErrTimeout, path)
	}
	return fmt.Errorf("handshake: dial %s: %w", path, err)
}

func classifyRead(ctx context.Context, err error) error {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout(), ctx.Err() != nil:
		return ErrTimeout
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: connection closed before message", ErrMalformed)
	}
	return fmt.Errorf("handshake: receive: %w", err)
}
