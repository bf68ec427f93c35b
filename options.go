package vitalink

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gosuda.org/vitalink/internal/handshake"
	"gosuda.org/vitalink/internal/protocol"
	"gosuda.org/vitalink/internal/shm"
)

// StartPolicy selects where a fresh session begins reading.
type StartPolicy uint8

const (
	// StartOldest begins at the oldest slot still intact.
	StartOldest StartPolicy = iota
	// StartLatest skips everything already published.
	StartLatest
)

// ParseStartPolicy accepts "oldest" and "latest".
func ParseStartPolicy(s string) (StartPolicy, error) {
	switch s {
	case "", "oldest":
		return StartOldest, nil
	case "latest":
		return StartLatest, nil
	}
	return 0, fmt.Errorf("%w: start policy %q", ErrInvalidOptions, s)
}

// Options configures a DataSource. Zero fields take the DefaultOptions value.
type Options struct {
	Name       string
	SocketPath string

	HandshakeTimeout time.Duration
	RetryInitial     time.Duration
	RetryMax         time.Duration
	// RetryMaxTries bounds handshake attempts per session; 0 retries until Stop.
	RetryMaxTries uint

	PollInterval     time.Duration
	MaxFramesPerPoll int

	WatchdogInterval time.Duration
	StallThreshold   time.Duration
	// StallTimeout ends a stalled session; 0 keeps it stalled until the heartbeat
	// resumes or Stop is called.
	StallTimeout time.Duration
	Reconnect    bool

	StartPolicy StartPolicy
	Handler     Handler
	Logger      *zerolog.Logger
}

// DefaultOptions returns the consumer defaults.
func DefaultOptions() Options {
	return Options{
		Name:             "vitalink-shm",
		SocketPath:       handshake.DefaultSocketPath,
		HandshakeTimeout: handshake.DefaultTimeout,
		RetryInitial:     100 * time.Millisecond,
		RetryMax:         5 * time.Second,
		PollInterval:     time.Millisecond,
		MaxFramesPerPoll: 256,
		WatchdogInterval: 100 * time.Millisecond,
		StallThreshold:   250 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Name == "" {
		o.Name = d.Name
	}
	if o.SocketPath == "" {
		o.SocketPath = d.SocketPath
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = d.RetryInitial
	}
	if o.RetryMax < o.RetryInitial {
		o.RetryMax = max(d.RetryMax, o.RetryInitial)
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.MaxFramesPerPoll <= 0 {
		o.MaxFramesPerPoll = d.MaxFramesPerPoll
	}
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = d.WatchdogInterval
	}
	if o.StallThreshold <= 0 {
		o.StallThreshold = d.StallThreshold
	}
	return o
}

// ProducerOptions configures a Producer. Zero fields take the
// DefaultProducerOptions value.
type ProducerOptions struct {
	SocketPath  string
	SegmentName string
	// Backend is "auto", "memfd" or "named".
	Backend string

	FrameSize         int
	FrameCount        int
	HeartbeatInterval time.Duration

	Logger *zerolog.Logger
}

// DefaultProducerOptions returns the producer defaults.
func DefaultProducerOptions() ProducerOptions {
	return ProducerOptions{
		SocketPath:        handshake.DefaultSocketPath,
		Backend:           string(shm.KindAuto),
		FrameSize:         4096,
		FrameCount:        2048,
		HeartbeatInterval: 10 * time.Millisecond,
	}
}

func (o ProducerOptions) withDefaults() ProducerOptions {
	d := DefaultProducerOptions()
	if o.SocketPath == "" {
		o.SocketPath = d.SocketPath
	}
	if o.Backend == "" {
		o.Backend = d.Backend
	}
	if o.FrameSize == 0 {
		o.FrameSize = d.FrameSize
	}
	if o.FrameCount == 0 {
		o.FrameCount = d.FrameCount
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	return o
}

func (o ProducerOptions) validate() error {
	if o.FrameSize < protocol.MinFrameSize || o.FrameSize%8 != 0 {
		return fmt.Errorf("%w: frame size %d", ErrInvalidOptions, o.FrameSize)
	}
	if o.FrameCount <= 0 {
		return fmt.Errorf("%w: frame count %d", ErrInvalidOptions, o.FrameCount)
	}
	return nil
}
