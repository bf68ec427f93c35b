package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/protocol"
	"gosuda.org/vitalink/internal/simulator"
)

func quietSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastTree() *Tree {
	return NewTree(quietSlog(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   50 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
}

func TestTreeDefaults(t *testing.T) {
	tree := NewTree(quietSlog(), TreeConfig{})
	assert.Equal(t, DefaultTreeConfig(), tree.Config())

	tree = NewTree(quietSlog(), TreeConfig{FailureBackoff: time.Second})
	assert.Equal(t, time.Second, tree.Config().FailureBackoff)
	assert.Equal(t, 5.0, tree.Config().FailureThreshold)
}

func TestTreeRestartsFailingService(t *testing.T) {
	tree := fastTree()

	var runs atomic.Int32
	tree.AddTransport(Func{Name: "flaky", Run: func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return runs.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 3, runs.Load())

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeTerminatedByService(t *testing.T) {
	tree := fastTree()
	tree.AddAPI(Func{Name: "idle", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	tree.AddTransport(Func{Name: "fatal", Run: func(context.Context) error {
		return suture.ErrTerminateSupervisorTree
	}})

	select {
	case err := <-tree.ServeBackground(context.Background()):
		assert.ErrorIs(t, err, suture.ErrTerminateSupervisorTree)
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not terminate")
	}
}

func TestClassifySourceError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		noRestart bool
	}{
		{"nil", nil, false},
		{"stopped", vitalink.ErrStopped, true},
		{"already started", vitalink.ErrAlreadyStarted, true},
		{"header", &vitalink.SessionError{Kind: vitalink.KindHeader, Op: "attach", Err: vitalink.ErrBadMagic}, true},
		{"mapping", &vitalink.SessionError{Kind: vitalink.KindMapping, Op: "attach", Err: vitalink.ErrSizeMismatch}, true},
		{"handshake", &vitalink.SessionError{Kind: vitalink.KindHandshake, Op: "connect", Err: vitalink.ErrEndpointAbsent}, false},
		{"stall timeout", vitalink.ErrStallTimeout, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySourceError(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.err)
			assert.Equal(t, tt.noRestart, errors.Is(got, suture.ErrDoNotRestart))
		})
	}
}

func TestSourceServiceStopped(t *testing.T) {
	src := vitalink.NewDataSource(vitalink.Options{SocketPath: "/nonexistent/vitalink.sock"})
	src.Stop()

	err := NewSourceService(src).Serve(context.Background())
	assert.ErrorIs(t, err, suture.ErrDoNotRestart)
	assert.ErrorIs(t, err, vitalink.ErrStopped)
}

type fakeServer struct {
	listenErr error
	stop      chan struct{}
	shutdowns atomic.Int32
}

func (f *fakeServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	close(f.stop)
	return nil
}

func TestHTTPService(t *testing.T) {
	t.Run("shuts down on cancel", func(t *testing.T) {
		srv := &fakeServer{stop: make(chan struct{})}
		svc := NewHTTPService("feed", srv, 0)
		assert.Equal(t, "feed", svc.String())
		assert.Equal(t, 10*time.Second, svc.shutdownTimeout)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("service did not stop")
		}
		assert.EqualValues(t, 1, srv.shutdowns.Load())
	})

	t.Run("reports listen failure", func(t *testing.T) {
		srv := &fakeServer{listenErr: errors.New("address in use"), stop: make(chan struct{})}
		err := NewHTTPService("", srv, time.Second).Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http-server: address in use")
		assert.Zero(t, srv.shutdowns.Load())
	})
}

func TestTreeRunsTransportEndToEnd(t *testing.T) {
	dir, err := os.MkdirTemp("", "vl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")
	quiet := logging.NewTestLogger(io.Discard)

	p, err := vitalink.NewProducer(vitalink.ProducerOptions{
		SocketPath: sock,
		FrameSize:  512,
		FrameCount: 256,
		Logger:     &quiet,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	cfg := simulator.DefaultConfig()
	cfg.Fixed = &protocol.Vitals{HeartRate: 72, SpO2: 98, RespRate: 16}
	sim := simulator.New(p, cfg)

	events := make(chan vitalink.Event, 4096)
	src := vitalink.NewDataSource(vitalink.Options{
		SocketPath:   sock,
		RetryInitial: 10 * time.Millisecond,
		RetryMax:     50 * time.Millisecond,
		Handler:      vitalink.ChannelHandler(events),
		Logger:       &quiet,
	})

	tree := fastTree()
	tree.AddTransport(NewProducerService(p))
	tree.AddTransport(NewSimulatorService(sim))
	tree.AddTransport(NewSourceService(src))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(3 * time.Second)
	var got *vitalink.VitalsRecord
	for got == nil {
		select {
		case ev := <-events:
			if ev.Kind == vitalink.EventVitals {
				got = ev.Vitals
			}
		case <-deadline:
			t.Fatal("no vitals through the supervised transport")
		}
	}
	assert.Equal(t, 72, got.HeartRate)
	assert.Equal(t, 98, got.SpO2)
	assert.Equal(t, 16, got.RespRate)

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	assert.Equal(t, vitalink.StateStopped, src.State())
}

func TestTreeRunsMemorySource(t *testing.T) {
	quiet := logging.NewTestLogger(io.Discard)
	events := make(chan vitalink.Event, 4096)
	src := simulator.NewMemorySource(simulator.MemoryOptions{
		Config: simulator.Config{
			VitalsInterval: 10 * time.Millisecond,
			Fixed:          &protocol.Vitals{HeartRate: 55, SpO2: 96, RespRate: 12},
		},
		Handler: vitalink.ChannelHandler(events),
		Logger:  &quiet,
	})
	svc := NewSourceService(src)
	assert.Equal(t, "source:vitalink-memory", svc.String())

	tree := fastTree()
	tree.AddTransport(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(3 * time.Second)
	var got *vitalink.VitalsRecord
	for got == nil {
		select {
		case ev := <-events:
			if ev.Kind == vitalink.EventVitals {
				got = ev.Vitals
			}
		case <-deadline:
			t.Fatal("no vitals from the supervised memory source")
		}
	}
	assert.Equal(t, 55, got.HeartRate)

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	assert.Equal(t, vitalink.StateStopped, src.State())
	assert.EqualValues(t, 1, src.Stats().Sessions)
}
