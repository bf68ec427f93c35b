package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/metrics"
	"gosuda.org/vitalink/internal/protocol"
)

// MemorySourceType is the DataSourceInfo.Type of an in-process source.
const MemorySourceType = "in-memory"

// MemoryOptions configures a MemorySource.
type MemoryOptions struct {
	Name    string
	Config  Config
	Handler vitalink.Handler
	Logger  *zerolog.Logger
}

// MemorySource is a vitalink.Source that runs the generators in process and
// delivers their frames as events. There is no producer, ring or handshake, so it
// never stalls, drops a frame after staging or reconnects.
//
// Frames reach the Handler from the simulator's drain goroutine, one at a time.
type MemorySource struct {
	name    string
	cfg     Config
	handler vitalink.Handler
	log     zerolog.Logger

	state   atomic.Uint32
	halted  atomic.Bool
	session atomic.Pointer[uuid.UUID]
	sim     atomic.Pointer[Simulator]
	next    atomic.Uint64

	sessions, frames, vitals, waveforms, heartbeats atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

var _ vitalink.Source = (*MemorySource)(nil)

// NewMemorySource returns an idle in-process source.
func NewMemorySource(opts MemoryOptions) *MemorySource {
	if opts.Name == "" {
		opts.Name = "vitalink-memory"
	}
	log := logging.Component("memory-source")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &MemorySource{
		name:    opts.Name,
		cfg:     opts.Config,
		handler: opts.Handler,
		log:     log.With().Str("source", opts.Name).Logger(),
	}
}

func (m *MemorySource) Info() vitalink.DataSourceInfo {
	caps := []string{vitalink.CapHeartRate, vitalink.CapSpO2, vitalink.CapRespRate, vitalink.CapECG}
	if m.cfg.Pleth {
		caps = append(caps, vitalink.CapPleth)
	}
	return vitalink.DataSourceInfo{
		Name:              m.name,
		Type:              MemorySourceType,
		Version:           "1",
		Capabilities:      caps,
		SupportsWaveforms: true,
	}
}

func (m *MemorySource) State() vitalink.State {
	return vitalink.State(m.state.Load())
}

func (m *MemorySource) SessionID() uuid.UUID {
	if id := m.session.Load(); id != nil {
		return *id
	}
	return uuid.Nil
}

func (m *MemorySource) Stats() vitalink.Stats {
	st := vitalink.Stats{
		State:      m.State().String(),
		Sessions:   m.sessions.Load(),
		Frames:     m.frames.Load(),
		Vitals:     m.vitals.Load(),
		Waveforms:  m.waveforms.Load(),
		Heartbeats: m.heartbeats.Load(),
		WriteIndex: m.next.Load(),
		Cursor:     m.next.Load(),
	}
	if sim := m.sim.Load(); sim != nil {
		st.Dropped = sim.Stats().Dropped
	}
	return st
}

// Start runs the source in its own goroutine until ctx is done or Stop is called.
func (m *MemorySource) Start(ctx context.Context) error {
	ctx, finish, err := m.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer finish()
		if err := m.run(ctx); err != nil {
			m.log.Error().Err(err).Msg("memory source ended")
		}
	}()
	return nil
}

// Serve runs the source on the calling goroutine. It returns nil on cancellation.
func (m *MemorySource) Serve(ctx context.Context) error {
	ctx, finish, err := m.begin(ctx)
	if err != nil {
		return err
	}
	defer finish()
	return m.run(ctx)
}

func (m *MemorySource) begin(parent context.Context) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, nil, vitalink.ErrStopped
	}
	if m.done != nil {
		return nil, nil, vitalink.ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	finish := func() {
		cancel()
		m.mu.Lock()
		m.cancel, m.done = nil, nil
		m.mu.Unlock()
		close(done)
	}
	return ctx, finish, nil
}

// Stop ends the source and waits for it. No event is delivered after Stop returns.
func (m *MemorySource) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.halted.Store(true)
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.setState(vitalink.StateStopped)
}

func (m *MemorySource) run(ctx context.Context) error {
	id := uuid.New()
	m.session.Store(&id)
	m.sessions.Add(1)

	sim := New(m, m.cfg)
	m.sim.Store(sim)

	m.setState(vitalink.StatePolling)
	m.emit(vitalink.Event{Kind: vitalink.EventConnected, Session: id, Index: m.next.Load()})
	m.log.Info().Str("session", id.String()).Str("scenario", string(m.cfg.Scenario)).Msg("generating")

	err := sim.Serve(ctx)
	if errors.Is(err, vitalink.ErrClosed) {
		// Stop raced the drain.
		err = nil
	}
	m.emit(vitalink.Event{Kind: vitalink.EventDisconnected, Session: id, Err: err})
	m.setState(vitalink.StateStopped)
	return err
}

// AppendAt turns one generated frame into an event. It is the simulator's sink.
func (m *MemorySource) AppendAt(typ protocol.FrameType, ts time.Time, payload []byte) (uint64, error) {
	if m.halted.Load() {
		return 0, vitalink.ErrClosed
	}
	index := m.next.Load()
	ev := vitalink.Event{Index: index}

	switch typ {
	case protocol.FrameVitals:
		v, err := protocol.UnmarshalVitals(payload)
		if err != nil {
			return 0, fmt.Errorf("memory source: %w", err)
		}
		m.vitals.Add(1)
		ev.Kind = vitalink.EventVitals
		ev.Vitals = vitalink.NewVitalsRecord(ts, uint32(index), v)
	case protocol.FrameWaveform:
		wf, err := protocol.UnmarshalWaveform(payload)
		if err != nil {
			return 0, fmt.Errorf("memory source: %w", err)
		}
		m.waveforms.Add(1)
		ev.Kind = vitalink.EventWaveform
		ev.Waveform = vitalink.NewWaveformRecord(ts, uint32(index), wf)
	case protocol.FrameHeartbeat:
		m.heartbeats.Add(1)
		ev.Kind = vitalink.EventHeartbeat
		ev.Heartbeat = &vitalink.HeartbeatRecord{Timestamp: ts, Sequence: uint32(index)}
	default:
		return 0, fmt.Errorf("memory source: %w: %d", protocol.ErrUnknownFrameType, typ)
	}

	m.next.Add(1)
	m.frames.Add(1)
	metrics.RecordFrame(typ.String(), ts)
	m.emit(ev)
	return index, nil
}

func (m *MemorySource) setState(st vitalink.State) {
	old := vitalink.State(m.state.Swap(uint32(st)))
	if old == st {
		return
	}
	metrics.RecordState(int(st))
	m.emit(vitalink.Event{Kind: vitalink.EventStateChanged, State: st})
}

func (m *MemorySource) emit(ev vitalink.Event) {
	if m.handler == nil || m.halted.Load() {
		return
	}
	ev.Time = time.Now()
	if ev.Session == uuid.Nil {
		ev.Session = m.SessionID()
	}
	if ev.State == 0 && ev.Kind != vitalink.EventStateChanged {
		ev.State = m.State()
	}
	m.handler(ev)
}
