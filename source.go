package vitalink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"gosuda.org/vitalink/internal/handshake"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/metrics"
	"gosuda.org/vitalink/internal/protocol"
	"gosuda.org/vitalink/internal/ring"
	"gosuda.org/vitalink/internal/shm"
)

// SourceType is the DataSourceInfo.Type of a shared-memory source.
const SourceType = "shared-memory"

// Source is a stream of bedside events delivered to a Handler. Start and Serve
// run it, Stop ends it for good.
type Source interface {
	Start(ctx context.Context) error
	Serve(ctx context.Context) error
	Stop()
	State() State
	Info() DataSourceInfo
	SessionID() uuid.UUID
	Stats() Stats
}

var _ Source = (*DataSource)(nil)

// DataSource consumes frames from a local producer over shared memory.
//
// A session runs on one goroutine: it handshakes, maps the ring, then polls for new
// frames and watches the producer's heartbeat. Every event is emitted from that
// goroutine, so the Handler is never called concurrently.
type DataSource struct {
	opts Options
	log  zerolog.Logger

	state   atomic.Uint32
	halted  atomic.Bool
	session atomic.Pointer[uuid.UUID]
	stats   counters

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

type counters struct {
	sessions   atomic.Uint64
	handshakes atomic.Uint64
	frames     atomic.Uint64
	vitals     atomic.Uint64
	waveforms  atomic.Uint64
	heartbeats atomic.Uint64
	dropped    atomic.Uint64
	corrupt    atomic.Uint64
	unknown    atomic.Uint64
	stalls     atomic.Uint64
	writeIndex atomic.Uint64
	cursor     atomic.Uint64
}

// NewDataSource returns an idle data source.
func NewDataSource(opts Options) *DataSource {
	opts = opts.withDefaults()
	log := logging.Component("source")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	s := &DataSource{
		opts: opts,
		log:  log.With().Str("source", opts.Name).Str("socket", opts.SocketPath).Logger(),
	}
	metrics.RecordState(int(StateIdle))
	return s
}

// Info describes the source.
func (s *DataSource) Info() DataSourceInfo {
	return DataSourceInfo{
		Name:              s.opts.Name,
		Type:              SourceType,
		Version:           strconv.Itoa(int(ring.Version)),
		Capabilities:      []string{CapHeartRate, CapSpO2, CapRespRate, CapECG, CapPleth},
		SupportsWaveforms: true,
	}
}

// State returns the current lifecycle state.
func (s *DataSource) State() State {
	return State(s.state.Load())
}

// SessionID returns the ID of the current or most recent session, or uuid.Nil.
func (s *DataSource) SessionID() uuid.UUID {
	if id := s.session.Load(); id != nil {
		return *id
	}
	return uuid.Nil
}

// Stats returns a snapshot of the cumulative counters.
func (s *DataSource) Stats() Stats {
	return Stats{
		State:      s.State().String(),
		Sessions:   s.stats.sessions.Load(),
		Handshakes: s.stats.handshakes.Load(),
		Frames:     s.stats.frames.Load(),
		Vitals:     s.stats.vitals.Load(),
		Waveforms:  s.stats.waveforms.Load(),
		Heartbeats: s.stats.heartbeats.Load(),
		Dropped:    s.stats.dropped.Load(),
		Corrupt:    s.stats.corrupt.Load(),
		Unknown:    s.stats.unknown.Load(),
		Stalls:     s.stats.stalls.Load(),
		WriteIndex: s.stats.writeIndex.Load(),
		Cursor:     s.stats.cursor.Load(),
	}
}

// Start runs the source in its own goroutine until ctx is done or Stop is called.
func (s *DataSource) Start(ctx context.Context) error {
	ctx, finish, err := s.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer finish()
		if err := s.run(ctx); err != nil {
			s.log.Error().Err(err).Msg("data source ended")
		}
	}()
	return nil
}

// Serve runs the source on the calling goroutine until ctx is done, Stop is called or
// the session fails for good. It returns nil on cancellation.
func (s *DataSource) Serve(ctx context.Context) error {
	ctx, finish, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer finish()
	return s.run(ctx)
}

func (s *DataSource) begin(parent context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, nil, ErrStopped
	}
	if s.done != nil {
		return nil, nil, ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.state.Store(uint32(StateHandshaking))
	metrics.RecordState(int(StateHandshaking))

	finish := func() {
		cancel()
		s.mu.Lock()
		s.cancel, s.done = nil, nil
		s.mu.Unlock()
		close(done)
	}
	return ctx, finish, nil
}

// Stop ends the session and waits for its goroutine to exit and its mapping to be
// released. No event is delivered after Stop returns. Stop is idempotent and a
// stopped source cannot be started again.
func (s *DataSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.halted.Store(true)
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.setState(StateStopped)
}

func (s *DataSource) run(ctx context.Context) error {
	for {
		s.setState(StateHandshaking)
		res, err := s.handshake(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateStopped)
				return nil
			}
			s.setState(StateFailed)
			return err
		}

		sess, err := s.attach(res)
		if err != nil {
			s.setState(StateFailed)
			s.emit(Event{Kind: EventError, Err: err})
			return err
		}

		err = s.poll(ctx, sess)
		sess.close()
		s.emit(Event{Kind: EventDisconnected, Session: sess.id, Err: err})

		if ctx.Err() != nil {
			s.setState(StateStopped)
			return nil
		}
		if !s.opts.Reconnect {
			s.setState(StateStopped)
			return err
		}
		sess.log.Info().Err(err).Msg("reconnecting")
	}
}

func (s *DataSource) handshake(ctx context.Context) (handshake.Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	b.MaxInterval = s.opts.RetryMax

	op := func() (handshake.Result, error) {
		start := time.Now()
		res, err := handshake.Connect(ctx, s.opts.SocketPath, s.opts.HandshakeTimeout)
		s.stats.handshakes.Add(1)
		metrics.RecordHandshake(handshakeResult(err), time.Since(start))
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, backoff.Permanent(ctx.Err())
		}
		serr := &SessionError{Kind: KindHandshake, Op: "connect", Err: err}
		s.emit(Event{Kind: EventError, Err: serr})
		return res, serr
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.RetryMaxTries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Debug().Err(err).Dur("retry_in", next).Msg("handshake failed")
		}),
	)
}

func handshakeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, handshake.ErrEndpointAbsent):
		return "absent"
	case errors.Is(err, handshake.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}

type session struct {
	id      uuid.UUID
	log     zerolog.Logger
	mapping *shm.Mapping
	ring    *ring.Ring
	cursor  uint64
	buf     []byte
}

func (sess *session) close() {
	if err := sess.mapping.Close(); err != nil {
		sess.log.Warn().Err(err).Msg("unmap failed")
	}
}

// mapRing maps the descriptor from res and validates the ring header. It consumes
// res.FD.
func mapRing(res handshake.Result) (*shm.Mapping, *ring.Ring, error) {
	if res.Size > math.MaxInt {
		unix.Close(res.FD)
		return nil, nil, &SessionError{Kind: KindMapping, Op: "map", Err: fmt.Errorf("%w: %d bytes", shm.ErrSizeMismatch, res.Size)}
	}
	m, err := shm.MapFD(res.FD, int(res.Size))
	if err != nil {
		return nil, nil, &SessionError{Kind: KindMapping, Op: "map", Err: err}
	}

	r, err := ring.Attach(m.Bytes())
	if err == nil && !r.ValidateHeader() {
		err = r.HeaderError()
	}
	if err != nil {
		m.Close()
		return nil, nil, &SessionError{Kind: KindHeader, Op: "validate header", Err: err}
	}
	return m, r, nil
}

func (s *DataSource) attach(res handshake.Result) (*session, error) {
	s.setState(StateMapping)
	m, r, err := mapRing(res)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	s.session.Store(&id)
	s.stats.sessions.Add(1)

	w := r.CurrentWriteIndex()
	cursor := r.Oldest(w)
	if s.opts.StartPolicy == StartLatest {
		cursor = w
	}

	sess := &session{
		id:      id,
		mapping: m,
		ring:    r,
		cursor:  cursor,
		buf:     make([]byte, r.FrameSize()),
		log:     s.log.With().Str("session_id", id.String()).Logger(),
	}
	sess.log.Info().
		Str("segment", res.Name).
		Int("frame_size", r.FrameSize()).
		Uint64("frame_count", r.FrameCount()).
		Uint64("write_index", w).
		Uint64("cursor", cursor).
		Msg("connected")
	s.emit(Event{Kind: EventConnected, Session: id, Index: cursor})
	return sess, nil
}

// poll runs the poll ticker, the watchdog ticker and the stall deadline until ctx is
// done or a stalled producer exceeds StallTimeout.
func (s *DataSource) poll(ctx context.Context, sess *session) error {
	pollTick := time.NewTicker(s.opts.PollInterval)
	defer pollTick.Stop()
	watchTick := time.NewTicker(s.opts.WatchdogInterval)
	defer watchTick.Stop()
	deadline := time.NewTimer(s.opts.StallThreshold)
	defer deadline.Stop()

	var (
		lastBeat = sess.ring.Heartbeat()
		stalled  bool
		timeout  *time.Timer
		timeoutC <-chan time.Time
	)
	defer func() {
		if timeout != nil {
			timeout.Stop()
		}
	}()

	s.setState(StatePolling)
	s.drain(sess)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-pollTick.C:
			if !stalled {
				s.drain(sess)
			}

		case <-watchTick.C:
			hb := sess.ring.Heartbeat()
			if hb == lastBeat {
				continue
			}
			lastBeat = hb
			deadline.Reset(s.opts.StallThreshold)
			if stalled {
				stalled = false
				if timeout != nil {
					timeout.Stop()
					timeout, timeoutC = nil, nil
				}
				sess.log.Info().Msg("producer resumed")
				s.setState(StatePolling)
				s.emit(Event{Kind: EventResumed, Session: sess.id})
				s.drain(sess)
			}

		case <-deadline.C:
			if hb := sess.ring.Heartbeat(); hb != lastBeat {
				lastBeat = hb
				deadline.Reset(s.opts.StallThreshold)
				continue
			}
			stalled = true
			s.stats.stalls.Add(1)
			metrics.RecordStall()
			sess.log.Warn().Dur("threshold", s.opts.StallThreshold).Msg("producer stalled")
			s.setState(StateStalled)
			s.emit(Event{
				Kind:    EventStalled,
				Session: sess.id,
				Err: &SessionError{
					Kind: KindLiveness,
					Op:   "watchdog",
					Err:  fmt.Errorf("heartbeat unchanged for %s", s.opts.StallThreshold),
				},
			})
			if s.opts.StallTimeout > 0 {
				timeout = time.NewTimer(s.opts.StallTimeout)
				timeoutC = timeout.C
			}

		case <-timeoutC:
			sess.log.Warn().Dur("timeout", s.opts.StallTimeout).Msg("stall timeout, ending session")
			return &SessionError{Kind: KindLiveness, Op: "watchdog", Err: ErrStallTimeout}
		}
	}
}

// drain reads up to MaxFramesPerPoll published frames in order.
func (s *DataSource) drain(sess *session) {
	r := sess.ring
	n := r.FrameCount()
	var w uint64

	for read := 0; read < s.opts.MaxFramesPerPoll; {
		w = r.CurrentWriteIndex()
		if w-sess.cursor > n {
			s.skip(sess, r.Oldest(w))
		}
		if sess.cursor >= w {
			break
		}

		err := r.Read(sess.cursor, sess.buf)
		switch {
		case err == nil:
			s.dispatch(sess)
		case errors.Is(err, ring.ErrLapped):
			// The slot was reused while we copied it; resync past it.
			s.skip(sess, max(r.Oldest(r.CurrentWriteIndex()), sess.cursor+1))
			continue
		default:
			s.corrupt(sess, err)
		}
		sess.cursor++
		read++
	}

	s.stats.writeIndex.Store(w)
	s.stats.cursor.Store(sess.cursor)
	if w > sess.cursor {
		metrics.RecordLag(w - sess.cursor)
	} else {
		metrics.RecordLag(0)
	}
}

func (s *DataSource) skip(sess *session, to uint64) {
	dropped := to - sess.cursor
	sess.cursor = to
	s.stats.dropped.Add(dropped)
	metrics.RecordDropped(dropped)
	sess.log.Warn().Uint64("dropped", dropped).Uint64("cursor", to).Msg("overrun")
	s.emit(Event{
		Kind:    EventDropped,
		Session: sess.id,
		Count:   dropped,
		Index:   to,
		Err:     &SessionError{Kind: KindOverrun, Op: "poll", Err: ring.ErrLapped},
	})
}

func (s *DataSource) corrupt(sess *session, err error) {
	s.stats.corrupt.Add(1)
	if errors.Is(err, protocol.ErrChecksum) {
		metrics.RecordChecksumFailure()
	}
	sess.log.Debug().Err(err).Uint64("index", sess.cursor).Msg("corrupt frame")
	s.emit(Event{
		Kind:    EventCorruptFrame,
		Session: sess.id,
		Index:   sess.cursor,
		Err:     &SessionError{Kind: KindFraming, Op: "read", Err: err},
	})
}

// dispatch decodes the frame in sess.buf and emits it.
func (s *DataSource) dispatch(sess *session) {
	f, err := protocol.DecodeFrame(sess.buf)
	if errors.Is(err, protocol.ErrUnknownFrameType) {
		s.stats.unknown.Add(1)
		metrics.RecordUnknownFrame()
		s.emit(Event{
			Kind:      EventUnknownFrame,
			Session:   sess.id,
			Index:     sess.cursor,
			FrameType: uint8(f.Type),
			Err:       &SessionError{Kind: KindFraming, Op: "decode", Err: err},
		})
		return
	}
	if err != nil {
		s.corrupt(sess, err)
		return
	}

	ts := time.Unix(0, f.Timestamp)
	ev := Event{Session: sess.id, Index: sess.cursor}

	switch f.Type {
	case protocol.FrameVitals:
		v, err := protocol.UnmarshalVitals(f.Payload)
		if err != nil {
			metrics.RecordPayloadError(f.Type.String())
			s.corrupt(sess, err)
			return
		}
		s.stats.vitals.Add(1)
		ev.Kind = EventVitals
		ev.Vitals = NewVitalsRecord(ts, f.Sequence, v)

	case protocol.FrameWaveform:
		wf, err := protocol.UnmarshalWaveform(f.Payload)
		if err != nil {
			metrics.RecordPayloadError(f.Type.String())
			s.corrupt(sess, err)
			return
		}
		s.stats.waveforms.Add(1)
		ev.Kind = EventWaveform
		ev.Waveform = NewWaveformRecord(ts, f.Sequence, wf)

	case protocol.FrameHeartbeat:
		s.stats.heartbeats.Add(1)
		ev.Kind = EventHeartbeat
		ev.Heartbeat = &HeartbeatRecord{Timestamp: ts, Sequence: f.Sequence}
	}

	s.stats.frames.Add(1)
	metrics.RecordFrame(f.Type.String(), ts)
	s.emit(ev)
}

// NewVitalsRecord builds the record for a vitals payload.
func NewVitalsRecord(ts time.Time, seq uint32, v protocol.Vitals) *VitalsRecord {
	return &VitalsRecord{
		Timestamp:     ts,
		Sequence:      seq,
		HeartRate:     v.HeartRate,
		SpO2:          v.SpO2,
		RespRate:      v.RespRate,
		SignalQuality: v.SignalQuality,
	}
}

// NewWaveformRecord builds the record for a waveform payload, spreading sample
// timestamps at the channel's rate from its start time, or from ts without one.
func NewWaveformRecord(ts time.Time, seq uint32, wf protocol.Waveform) *WaveformRecord {
	start := ts
	if wf.StartTimestamp != 0 {
		start = time.Unix(0, wf.StartTimestamp)
	}
	var period time.Duration
	if wf.SampleRate > 0 {
		period = time.Second / time.Duration(wf.SampleRate)
	}

	samples := make([]WaveformSample, len(wf.Values))
	for i, v := range wf.Values {
		samples[i] = WaveformSample{
			Timestamp: start.Add(time.Duration(i) * period),
			Value:     v,
		}
	}
	return &WaveformRecord{
		Timestamp:  ts,
		Sequence:   seq,
		Channel:    wf.Channel,
		SampleRate: wf.SampleRate,
		Samples:    samples,
	}
}

func (s *DataSource) setState(st State) {
	old := State(s.state.Swap(uint32(st)))
	if old == st {
		return
	}
	metrics.RecordState(int(st))
	s.log.Debug().Stringer("from", old).Stringer("to", st).Msg("state changed")
	s.emit(Event{Kind: EventStateChanged, State: st})
}

func (s *DataSource) emit(ev Event) {
	if s.opts.Handler == nil || s.halted.Load() {
		return
	}
	ev.Time = time.Now()
	if ev.Session == uuid.Nil {
		ev.Session = s.SessionID()
	}
	if ev.State == 0 && ev.Kind != EventStateChanged {
		ev.State = s.State()
	}
	s.opts.Handler(ev)
}
