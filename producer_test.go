package vitalink_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/handshake"
	"gosuda.org/vitalink/internal/protocol"
	"gosuda.org/vitalink/internal/ring"
	"gosuda.org/vitalink/internal/shm"
)

func TestProducerRejectsGeometry(t *testing.T) {
	tests := []struct {
		name       string
		frameSize  int
		frameCount int
	}{
		{"frame too small", 32, 8},
		{"frame unaligned", 100, 8},
		{"no frames", 128, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := vitalink.NewProducer(vitalink.ProducerOptions{
				SocketPath: socketPath(t),
				FrameSize:  tt.frameSize,
				FrameCount: tt.frameCount,
				Logger:     quietLogger(),
			})
			assert.ErrorIs(t, err, vitalink.ErrInvalidOptions)
		})
	}
}

func TestProducerSegmentLayout(t *testing.T) {
	p, _ := startProducer(t, 128, 8)

	idx, err := p.AppendVitals(protocol.Vitals{HeartRate: 61, SpO2: 96, RespRate: 13})
	require.NoError(t, err)
	assert.Zero(t, idx)
	idx, err = p.AppendHeartbeat()
	require.NoError(t, err)
	assert.EqualValues(t, 1, idx)
	assert.EqualValues(t, 2, p.WriteIndex())

	// A raw handshake sees the same segment the producer writes.
	res, err := handshake.Connect(context.Background(), p.SocketPath(), time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, ring.Size(128, 8), res.Size)
	assert.Equal(t, p.SegmentName(), res.Name)

	m, err := shm.MapFD(res.FD, int(res.Size))
	require.NoError(t, err)
	defer m.Close()

	r, err := ring.Attach(m.Bytes())
	require.NoError(t, err)
	require.True(t, r.ValidateHeader())
	assert.Equal(t, 128, r.FrameSize())
	assert.EqualValues(t, 8, r.FrameCount())
	assert.EqualValues(t, 2, r.CurrentWriteIndex())
	assert.NotZero(t, r.Heartbeat())

	buf := make([]byte, r.FrameSize())
	require.NoError(t, r.Read(0, buf))
	f, err := protocol.DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameVitals, f.Type)
	v, err := protocol.UnmarshalVitals(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, 61, v.HeartRate)

	require.NoError(t, r.Read(1, buf))
	f, err = protocol.DecodeFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameHeartbeat, f.Type)
	assert.Empty(t, f.Payload)

	assert.GreaterOrEqual(t, p.Served(), uint64(1))
}

func TestProducerHeartbeatAdvances(t *testing.T) {
	p, stop := startProducer(t, 128, 8)

	res, err := handshake.Connect(context.Background(), p.SocketPath(), time.Second)
	require.NoError(t, err)
	m, err := shm.MapFD(res.FD, int(res.Size))
	require.NoError(t, err)
	defer m.Close()
	r, err := ring.Attach(m.Bytes())
	require.NoError(t, err)

	first := r.Heartbeat()
	require.Eventually(t, func() bool { return r.Heartbeat() > first }, time.Second, 5*time.Millisecond)

	stop()
	time.Sleep(30 * time.Millisecond)
	frozen := r.Heartbeat()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, r.Heartbeat())
}

func TestProducerPayloadTooLarge(t *testing.T) {
	p, _ := startProducer(t, 64, 4)
	_, err := p.Append(protocol.FrameVitals, make([]byte, protocol.PayloadCapacity(64)+1))
	assert.ErrorIs(t, err, vitalink.ErrPayloadTooLarge)
	assert.Zero(t, p.WriteIndex())
}

func TestProducerClose(t *testing.T) {
	p, err := vitalink.NewProducer(vitalink.ProducerOptions{
		SocketPath: socketPath(t),
		FrameSize:  128,
		FrameCount: 4,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)

	_, err = p.AppendHeartbeat()
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.AppendHeartbeat()
	assert.ErrorIs(t, err, vitalink.ErrClosed)
	assert.ErrorIs(t, p.Serve(context.Background()), vitalink.ErrClosed)
	p.Beat()

	_, err = handshake.Connect(context.Background(), p.SocketPath(), 100*time.Millisecond)
	assert.ErrorIs(t, err, vitalink.ErrEndpointAbsent)
}
