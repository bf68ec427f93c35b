// Package simulator generates synthetic bedside data and feeds it to a ring producer.
//
// Generators run on their own goroutines and stage frames through a lock-free queue;
// one drain goroutine is the only caller of the sink, which keeps the ring
// single-writer.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/metrics"
	"gosuda.org/vitalink/internal/protocol"
	"gosuda.org/vitalink/internal/stage"
)

// Sink receives frames in order. vitalink.Producer implements it.
type Sink interface {
	AppendAt(typ protocol.FrameType, ts time.Time, payload []byte) (uint64, error)
}

// Config controls the generators.
type Config struct {
	VitalsInterval  time.Duration
	SampleRate      int
	SamplesPerFrame int
	// HeartbeatInterval emits explicit heartbeat frames; 0 disables them.
	HeartbeatInterval time.Duration
	Pleth             bool

	// Seed makes the run reproducible; 0 seeds randomly.
	Seed uint64
	// Fixed, when set, replaces the random walk.
	Fixed *protocol.Vitals
	// Scenario steers the walk; ScenarioPhase is the length of one demo phase.
	Scenario      Scenario
	ScenarioPhase time.Duration

	QueueSize     int
	DrainInterval time.Duration
}

// DefaultConfig returns 60 Hz vitals and a 250 Hz ECG in frames of 10 samples.
func DefaultConfig() Config {
	return Config{
		VitalsInterval:  time.Second / 60,
		SampleRate:      250,
		SamplesPerFrame: 10,
		QueueSize:       1024,
		DrainInterval:   time.Millisecond,
	}
}

// Stats counts frames by outcome.
type Stats struct {
	Staged  uint64
	Written uint64
	Dropped uint64
	Failed  uint64
}

type staged struct {
	typ     protocol.FrameType
	ts      time.Time
	payload []byte
}

// Simulator drives the generators.
type Simulator struct {
	cfg   Config
	sink  Sink
	queue *stage.Queue[staged]
	log   zerolog.Logger

	walk    *VitalsWalk
	ecg     *ECG
	pleth   *Pleth
	hr      atomic.Int64
	started time.Time
	current Scenario

	staged, written, dropped, failed atomic.Uint64
}

// New returns a simulator writing to sink. Zero fields of cfg take DefaultConfig
// values.
func New(sink Sink, cfg Config) *Simulator {
	d := DefaultConfig()
	if cfg.VitalsInterval <= 0 {
		cfg.VitalsInterval = d.VitalsInterval
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = d.SampleRate
	}
	if cfg.SamplesPerFrame <= 0 {
		cfg.SamplesPerFrame = d.SamplesPerFrame
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = d.DrainInterval
	}
	if cfg.ScenarioPhase <= 0 {
		cfg.ScenarioPhase = DefaultScenarioPhase
	}

	s := &Simulator{
		cfg:   cfg,
		sink:  sink,
		queue: stage.New[staged](cfg.QueueSize),
		log:   logging.Component("simulator"),
		walk:  NewVitalsWalk(cfg.Seed),
		ecg:   NewECG(cfg.Seed, cfg.SampleRate),
	}
	if cfg.Pleth {
		s.pleth = NewPleth(cfg.SampleRate)
	}
	s.hr.Store(72)
	if cfg.Fixed != nil {
		s.hr.Store(int64(cfg.Fixed.HeartRate))
	}
	return s
}

// WaveformInterval is the time covered by one waveform frame.
func (s *Simulator) WaveformInterval() time.Duration {
	return time.Duration(s.cfg.SamplesPerFrame) * time.Second / time.Duration(s.cfg.SampleRate)
}

// Stats returns a snapshot of the frame counters.
func (s *Simulator) Stats() Stats {
	return Stats{
		Staged:  s.staged.Load(),
		Written: s.written.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
	}
}

// Serve runs the generators and the drain until ctx is done.
func (s *Simulator) Serve(ctx context.Context) error {
	s.log.Info().
		Dur("vitals_interval", s.cfg.VitalsInterval).
		Int("sample_rate", s.cfg.SampleRate).
		Int("samples_per_frame", s.cfg.SamplesPerFrame).
		Bool("fixed", s.cfg.Fixed != nil).
		Str("scenario", string(s.cfg.Scenario)).
		Msg("simulator started")

	s.started = time.Now()
	s.current = ScenarioNone

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.every(ctx, s.cfg.VitalsInterval, s.vitals) })
	g.Go(func() error { return s.every(ctx, s.WaveformInterval(), s.waveforms) })
	if s.cfg.HeartbeatInterval > 0 {
		g.Go(func() error {
			return s.every(ctx, s.cfg.HeartbeatInterval, func(now time.Time) {
				s.stage(protocol.FrameHeartbeat, now, nil)
			})
		})
	}
	g.Go(func() error { return s.drain(ctx) })

	err := g.Wait()
	st := s.Stats()
	s.log.Info().
		Uint64("written", st.Written).
		Uint64("dropped", st.Dropped).
		Uint64("failed", st.Failed).
		Msg("simulator stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Simulator) every(ctx context.Context, d time.Duration, fn func(time.Time)) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			fn(now)
		}
	}
}

func (s *Simulator) vitals(now time.Time) {
	var v protocol.Vitals
	if s.cfg.Fixed != nil {
		v = *s.cfg.Fixed
	} else {
		s.steer(now)
		v = s.walk.Next()
	}
	s.hr.Store(int64(v.HeartRate))

	b, err := protocol.MarshalVitals(v)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal vitals")
		return
	}
	s.stage(protocol.FrameVitals, now, b)
}

func (s *Simulator) steer(now time.Time) {
	sc := s.cfg.Scenario.At(now.Sub(s.started), s.cfg.ScenarioPhase)
	if sc == s.current {
		return
	}
	s.current = sc
	if target, ok := sc.Target(); ok {
		s.walk.Steer(target)
	} else {
		s.walk.Release()
	}
	s.log.Info().Str("scenario", string(sc)).Msg("scenario changed")
}

func (s *Simulator) waveforms(now time.Time) {
	hr := int(s.hr.Load())
	start := now.Add(-s.WaveformInterval())

	s.waveform(now, protocol.Waveform{
		Channel:        "ecg",
		SampleRate:     s.cfg.SampleRate,
		StartTimestamp: start.UnixNano(),
		Values:         s.ecg.Next(s.cfg.SamplesPerFrame, hr),
	})
	if s.pleth != nil {
		s.waveform(now, protocol.Waveform{
			Channel:        "pleth",
			SampleRate:     s.cfg.SampleRate,
			StartTimestamp: start.UnixNano(),
			Values:         s.pleth.Next(s.cfg.SamplesPerFrame, hr),
		})
	}
}

func (s *Simulator) waveform(now time.Time, w protocol.Waveform) {
	b, err := protocol.MarshalWaveform(w)
	if err != nil {
		s.log.Error().Err(err).Str("channel", w.Channel).Msg("marshal waveform")
		return
	}
	s.stage(protocol.FrameWaveform, now, b)
}

// stage never blocks; a full queue drops the frame at the source.
func (s *Simulator) stage(typ protocol.FrameType, ts time.Time, payload []byte) {
	if !s.queue.TryEnqueue(staged{typ: typ, ts: ts, payload: payload}) {
		s.dropped.Add(1)
		metrics.RecordStageDrop(typ.String())
		return
	}
	s.staged.Add(1)
}

func (s *Simulator) drain(ctx context.Context) error {
	for {
		item, ok := s.queue.Dequeue(ctx, s.cfg.DrainInterval)
		if !ok {
			return ctx.Err()
		}
		if _, err := s.sink.AppendAt(item.typ, item.ts, item.payload); err != nil {
			if errors.Is(err, vitalink.ErrClosed) {
				return fmt.Errorf("simulator: %w", err)
			}
			s.failed.Add(1)
			s.log.Warn().Err(err).Stringer("type", item.typ).Msg("append failed")
			continue
		}
		s.written.Add(1)
	}
}
