package config

import (
	"os"
	"time"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/feed"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/protocol"
	"gosuda.org/vitalink/internal/simulator"
)

// ToSourceOptions converts the socket and consumer sections.
func (c *Config) ToSourceOptions(h vitalink.Handler) vitalink.Options {
	policy, _ := vitalink.ParseStartPolicy(c.Consumer.StartPolicy)
	return vitalink.Options{
		Name:             c.Consumer.Name,
		SocketPath:       c.Socket.Path,
		HandshakeTimeout: c.Socket.HandshakeTimeout,
		RetryInitial:     c.Consumer.RetryInitial,
		RetryMax:         c.Consumer.RetryMax,
		RetryMaxTries:    c.Consumer.RetryMaxTries,
		PollInterval:     c.Consumer.PollInterval,
		MaxFramesPerPoll: c.Consumer.MaxFramesPerPoll,
		WatchdogInterval: c.Consumer.WatchdogInterval,
		StallThreshold:   c.Consumer.StallThreshold,
		StallTimeout:     c.Consumer.StallTimeout,
		Reconnect:        c.Consumer.Reconnect,
		StartPolicy:      policy,
		Handler:          h,
	}
}

// ToProducerOptions converts the socket, ring and producer sections.
func (c *Config) ToProducerOptions() vitalink.ProducerOptions {
	return vitalink.ProducerOptions{
		SocketPath:        c.Socket.Path,
		SegmentName:       c.Producer.SegmentName,
		Backend:           c.Ring.Backend,
		FrameSize:         c.Ring.FrameSize,
		FrameCount:        c.Ring.FrameCount,
		HeartbeatInterval: c.Producer.HeartbeatInterval,
	}
}

// ToSimulatorConfig converts the simulator section.
func (c *Config) ToSimulatorConfig() simulator.Config {
	sc := simulator.Config{
		VitalsInterval:    time.Second / time.Duration(c.Simulator.VitalsRate),
		SampleRate:        c.Simulator.SampleRate,
		SamplesPerFrame:   c.Simulator.SamplesPerFrame,
		HeartbeatInterval: c.Simulator.HeartbeatInterval,
		Pleth:             c.Simulator.Pleth,
		Seed:              c.Simulator.Seed,
		QueueSize:         c.Simulator.QueueSize,
		Scenario:          simulator.Scenario(c.Simulator.Scenario),
		ScenarioPhase:     c.Simulator.ScenarioPhase,
	}
	if f := c.Simulator.Fixed; f.Enabled {
		sc.Fixed = &protocol.Vitals{HeartRate: f.HeartRate, SpO2: f.SpO2, RespRate: f.RespRate}
	}
	return sc
}

// ToMemoryOptions converts the simulator section for an in-process source.
func (c *Config) ToMemoryOptions(h vitalink.Handler) simulator.MemoryOptions {
	return simulator.MemoryOptions{
		Config:  c.ToSimulatorConfig(),
		Handler: h,
	}
}

// NewSource builds the source named by consumer.source.
func (c *Config) NewSource(h vitalink.Handler) vitalink.Source {
	if c.Consumer.Source == SourceMemory {
		return simulator.NewMemorySource(c.ToMemoryOptions(h))
	}
	return vitalink.NewDataSource(c.ToSourceOptions(h))
}

// ToLoggingConfig converts the logging section.
func (c *Config) ToLoggingConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Caller:    c.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	}
}

// ToFeedOptions converts the server section.
func (c *Config) ToFeedOptions() feed.Options {
	return feed.Options{
		Addr:              c.Server.Addr,
		ReadHeaderTimeout: c.Server.ReadHeaderTimeout,
		AllowedOrigins:    c.Server.AllowedOrigins,
	}
}
