package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/simulator"
)

// Func adapts a function to a named suture service.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

func (f Func) Serve(ctx context.Context) error { return f.Run(ctx) }

func (f Func) String() string { return f.Name }

// SourceService supervises a vitalink.Source. Failures the source may recover from
// are returned as is so the supervisor restarts it; the rest stop it for good.
type SourceService struct {
	src vitalink.Source
}

// NewSourceService wraps src.
func NewSourceService(src vitalink.Source) *SourceService {
	return &SourceService{src: src}
}

func (s *SourceService) Serve(ctx context.Context) error {
	err := s.src.Serve(ctx)
	if err == nil && ctx.Err() == nil {
		// Stop was called.
		return suture.ErrDoNotRestart
	}
	return classifySourceError(err)
}

func (s *SourceService) String() string { return "source:" + s.src.Info().Name }

// classifySourceError decides whether the supervisor may restart a data source.
func classifySourceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, vitalink.ErrStopped) || errors.Is(err, vitalink.ErrAlreadyStarted) {
		return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
	}
	var se *vitalink.SessionError
	if errors.As(err, &se) && !se.Retryable() {
		return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
	}
	return err
}

// ProducerService supervises a Producer. A producer cannot be served twice, so any
// failure brings the whole tree down.
type ProducerService struct {
	p *vitalink.Producer
}

// NewProducerService wraps p.
func NewProducerService(p *vitalink.Producer) *ProducerService {
	return &ProducerService{p: p}
}

func (s *ProducerService) Serve(ctx context.Context) error {
	if err := s.p.Serve(ctx); err != nil {
		return fmt.Errorf("%w: producer: %w", suture.ErrTerminateSupervisorTree, err)
	}
	return nil
}

func (s *ProducerService) String() string { return "producer:" + s.p.SegmentName() }

// SimulatorService supervises the data generators. A closed sink ends the
// simulator without a restart.
type SimulatorService struct {
	sim *simulator.Simulator
}

// NewSimulatorService wraps sim.
func NewSimulatorService(sim *simulator.Simulator) *SimulatorService {
	return &SimulatorService{sim: sim}
}

func (s *SimulatorService) Serve(ctx context.Context) error {
	err := s.sim.Serve(ctx)
	if errors.Is(err, vitalink.ErrClosed) {
		return fmt.Errorf("%w: %w", suture.ErrDoNotRestart, err)
	}
	return err
}

func (s *SimulatorService) String() string { return "simulator" }

// HTTPServer is the part of *http.Server the HTTP service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server until its context is done, then shuts it down
// gracefully within shutdownTimeout.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPService wraps server. A non-positive shutdownTimeout means 10s.
func NewHTTPService(name string, server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	if name == "" {
		name = "http-server"
	}
	return &HTTPService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            name,
	}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", h.name, err)
		}
		return nil

	case <-ctx.Done():
		// ctx is already canceled, so shutdown gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: shutdown: %w", h.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return h.name }
