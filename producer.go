package vitalink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gosuda.org/vitalink/internal/handshake"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/metrics"
	"gosuda.org/vitalink/internal/protocol"
	"gosuda.org/vitalink/internal/ring"
	"gosuda.org/vitalink/internal/shm"
)

// Producer owns a ring segment: it writes the header once, offers the segment to
// consumers over the rendezvous socket, appends frames and beats the heartbeat.
//
// Append and its variants must be called from a single goroutine.
type Producer struct {
	opts ProducerOptions
	id   uuid.UUID
	log  zerolog.Logger

	seg *shm.Segment
	w   *ring.Writer
	ln  *handshake.Listener

	// mu keeps the mapping alive under Beat and Append while Close unmaps it.
	mu       sync.RWMutex
	closed   bool
	closeErr error
}

// NewProducer creates and initializes the segment and binds the rendezvous socket.
// The heartbeat does not advance until Serve runs.
func NewProducer(opts ProducerOptions) (*Producer, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	log := logging.Component("producer")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	log = log.With().Str("producer_id", id.String()).Logger()

	backend, err := shm.NewBackend(shm.Kind(opts.Backend))
	if err != nil {
		return nil, err
	}
	name := opts.SegmentName
	if name == "" {
		name = "vitalink-" + id.String()[:8]
	}

	seg, err := backend.Create(name, ring.Size(opts.FrameSize, opts.FrameCount))
	if err != nil {
		return nil, err
	}
	mem, err := seg.Map()
	if err != nil {
		seg.Close()
		return nil, err
	}
	r, err := ring.Init(mem, opts.FrameSize, opts.FrameCount)
	if err != nil {
		seg.Close()
		return nil, err
	}
	w := ring.NewWriter(r)
	w.Beat(monotonicNanos())

	ln, err := handshake.Listen(opts.SocketPath)
	if err != nil {
		seg.Close()
		return nil, err
	}

	log.Info().
		Str("segment", seg.Name()).
		Str("backend", string(backend.Kind())).
		Str("socket", ln.Path()).
		Int("frame_size", opts.FrameSize).
		Int("frame_count", opts.FrameCount).
		Msg("producer ready")

	return &Producer{
		opts: opts,
		id:   id,
		log:  log,
		seg:  seg,
		w:    w,
		ln:   ln,
	}, nil
}

// ID identifies this producer instance.
func (p *Producer) ID() uuid.UUID { return p.id }

// SocketPath returns the rendezvous socket path.
func (p *Producer) SocketPath() string { return p.ln.Path() }

// SegmentName returns the segment name.
func (p *Producer) SegmentName() string { return p.seg.Name() }

// WriteIndex returns the number of frames published so far, or 0 once closed.
func (p *Producer) WriteIndex() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0
	}
	return p.w.Ring().CurrentWriteIndex()
}

// Served returns the number of handshakes answered.
func (p *Producer) Served() uint64 { return p.ln.Served() }

// Serve beats the heartbeat and answers handshakes until ctx is done. The listener is
// closed when Serve returns, so a producer is served once.
func (p *Producer) Serve(ctx context.Context) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.ln.Serve(ctx, handshake.Offer{
			FD:   p.seg.FD(),
			Size: uint64(p.seg.Size()),
			Name: p.seg.Name(),
		})
	})

	g.Go(func() error {
		t := time.NewTicker(p.opts.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				p.Beat()
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Beat advances the heartbeat once.
func (p *Producer) Beat() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.closed {
		p.w.Beat(monotonicNanos())
	}
}

// Append publishes one frame stamped with the current time and returns its index.
func (p *Producer) Append(typ protocol.FrameType, payload []byte) (uint64, error) {
	return p.AppendAt(typ, time.Now(), payload)
}

// AppendAt publishes one frame stamped with ts.
func (p *Producer) AppendAt(typ protocol.FrameType, ts time.Time, payload []byte) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, ErrClosed
	}
	idx, err := p.w.AppendFrame(typ, ts.UnixNano(), payload)
	if err != nil {
		return 0, fmt.Errorf("vitalink: append %s frame: %w", typ, err)
	}
	metrics.RecordWrite(typ.String())
	return idx, nil
}

// AppendVitals publishes a vitals frame.
func (p *Producer) AppendVitals(v protocol.Vitals) (uint64, error) {
	b, err := protocol.MarshalVitals(v)
	if err != nil {
		return 0, err
	}
	return p.Append(protocol.FrameVitals, b)
}

// AppendWaveform publishes a waveform frame. A zero StartTimestamp is set to now.
func (p *Producer) AppendWaveform(w protocol.Waveform) (uint64, error) {
	now := time.Now()
	if w.StartTimestamp == 0 {
		w.StartTimestamp = now.UnixNano()
	}
	b, err := protocol.MarshalWaveform(w)
	if err != nil {
		return 0, err
	}
	return p.AppendAt(protocol.FrameWaveform, now, b)
}

// AppendHeartbeat publishes an explicit heartbeat frame with an empty payload.
func (p *Producer) AppendHeartbeat() (uint64, error) {
	return p.Append(protocol.FrameHeartbeat, nil)
}

// Close removes the socket and releases the segment. Consumers that already mapped
// it keep their mapping.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.closeErr
	}
	written := p.w.Ring().CurrentWriteIndex()
	p.closed = true
	p.closeErr = errors.Join(p.ln.Close(), p.seg.Close())
	p.log.Info().Uint64("write_index", written).Msg("producer closed")
	return p.closeErr
}
