package simulator_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/protocol"
	"gosuda.org/vitalink/internal/simulator"
)

type frame struct {
	typ     protocol.FrameType
	ts      time.Time
	payload []byte
}

type recordingSink struct {
	mu     sync.Mutex
	frames []frame
	delay  time.Duration
	err    error
}

func (r *recordingSink) AppendAt(typ protocol.FrameType, ts time.Time, payload []byte) (uint64, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.frames = append(r.frames, frame{typ, ts, payload})
	return uint64(len(r.frames) - 1), nil
}

func (r *recordingSink) snapshot() []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frame(nil), r.frames...)
}

func TestVitalsWalkBounds(t *testing.T) {
	w := simulator.NewVitalsWalk(42)
	for range 20000 {
		v := w.Next()
		require.GreaterOrEqual(t, v.HeartRate, simulator.MinHeartRate)
		require.LessOrEqual(t, v.HeartRate, simulator.MaxHeartRate)
		require.GreaterOrEqual(t, v.SpO2, simulator.MinSpO2)
		require.LessOrEqual(t, v.SpO2, simulator.MaxSpO2)
		require.GreaterOrEqual(t, v.RespRate, simulator.MinRespRate)
		require.LessOrEqual(t, v.RespRate, simulator.MaxRespRate)
	}
}

func TestVitalsWalkSeeded(t *testing.T) {
	a, b := simulator.NewVitalsWalk(7), simulator.NewVitalsWalk(7)
	for range 100 {
		assert.Equal(t, a.Next(), b.Next())
	}

	first := simulator.NewVitalsWalk(7).Next()
	assert.InDelta(t, 72, first.HeartRate, 1)
	assert.InDelta(t, 98, first.SpO2, 1)
	assert.InDelta(t, 16, first.RespRate, 1)
}

func TestECGBeat(t *testing.T) {
	// 60 bpm at 250 Hz is one beat per 250 samples.
	e := simulator.NewECG(1, 250)
	beat := e.Next(250, 60)
	require.Len(t, beat, 250)

	peak, at := float32(-1), 0
	for i, v := range beat {
		if v > peak {
			peak, at = v, i
		}
	}
	assert.Greater(t, peak, float32(0.8))
	assert.InDelta(t, 125, at, 3, "R peak sits mid-beat")

	// The phase carries across calls, so the next beat lines up with the first.
	next := e.Next(250, 60)
	assert.InDelta(t, beat[125], next[125], 0.1)
}

func TestPlethRange(t *testing.T) {
	p := simulator.NewPleth(125)
	for _, v := range p.Next(1000, 90) {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
	}
}

func TestServeFixedValues(t *testing.T) {
	sink := &recordingSink{}
	fixed := protocol.Vitals{HeartRate: 72, SpO2: 98, RespRate: 16}
	sim := simulator.New(sink, simulator.Config{
		VitalsInterval:    10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		Fixed:             &fixed,
		Pleth:             true,
	})
	assert.Equal(t, 40*time.Millisecond, sim.WaveformInterval())

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	require.NoError(t, sim.Serve(ctx))

	counts := map[protocol.FrameType]int{}
	channels := map[string]int{}
	for _, f := range sink.snapshot() {
		counts[f.typ]++
		switch f.typ {
		case protocol.FrameVitals:
			v, err := protocol.UnmarshalVitals(f.payload)
			require.NoError(t, err)
			assert.Equal(t, fixed, v)
		case protocol.FrameWaveform:
			w, err := protocol.UnmarshalWaveform(f.payload)
			require.NoError(t, err)
			assert.Len(t, w.Values, 10)
			assert.Equal(t, 250, w.SampleRate)
			assert.Less(t, w.StartTimestamp, f.ts.UnixNano())
			channels[w.Channel]++
		case protocol.FrameHeartbeat:
			assert.Empty(t, f.payload)
		}
	}
	assert.Greater(t, counts[protocol.FrameVitals], 10)
	assert.Greater(t, counts[protocol.FrameHeartbeat], 3)
	assert.Greater(t, channels["ecg"], 2)
	assert.Equal(t, channels["ecg"], channels["pleth"])

	st := sim.Stats()
	assert.Zero(t, st.Dropped)
	assert.EqualValues(t, len(sink.snapshot()), st.Written)
}

func TestServeDropsWhenStaged(t *testing.T) {
	sink := &recordingSink{delay: 50 * time.Millisecond}
	sim := simulator.New(sink, simulator.Config{
		VitalsInterval: time.Millisecond,
		QueueSize:      2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, sim.Serve(ctx))
	assert.Positive(t, sim.Stats().Dropped)
}

func TestServeStopsOnClosedSink(t *testing.T) {
	sink := &recordingSink{err: vitalink.ErrClosed}
	sim := simulator.New(sink, simulator.Config{VitalsInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sim.Serve(ctx)
	assert.ErrorIs(t, err, vitalink.ErrClosed)
	assert.NoError(t, ctx.Err())
}

func TestServeWithProducer(t *testing.T) {
	p, err := vitalink.NewProducer(vitalink.ProducerOptions{
		SocketPath: filepath.Join(t.TempDir(), "s.sock"),
		FrameSize:  512,
		FrameCount: 256,
	})
	require.NoError(t, err)
	defer p.Close()

	sim := simulator.New(p, simulator.Config{Seed: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	require.NoError(t, sim.Serve(ctx))

	assert.Positive(t, p.WriteIndex())
	assert.EqualValues(t, sim.Stats().Written, p.WriteIndex())
}
