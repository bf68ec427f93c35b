// Package config loads vitalink configuration from defaults, an optional YAML file
// and VITALINK_ environment variables, in that order of precedence.
package config

import (
	"time"
)

// Values of consumer.source.
const (
	SourceSharedMemory = "shared-memory"
	SourceMemory       = "memory"
)

// Config is the full configuration of a vitalink process.
type Config struct {
	Socket    SocketConfig    `koanf:"socket"`
	Ring      RingConfig      `koanf:"ring"`
	Consumer  ConsumerConfig  `koanf:"consumer"`
	Producer  ProducerConfig  `koanf:"producer"`
	Simulator SimulatorConfig `koanf:"simulator"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SocketConfig is the rendezvous endpoint shared by both sides.
type SocketConfig struct {
	// Path must fit in sun_path.
	Path             string        `koanf:"path" validate:"required,max=107"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`
}

// RingConfig is the geometry of a producer's ring.
type RingConfig struct {
	FrameSize  int    `koanf:"frame_size" validate:"min=64,max=1048576"`
	FrameCount int    `koanf:"frame_count" validate:"min=1,max=1048576"`
	Backend    string `koanf:"backend" validate:"oneof=auto memfd named"`
}

// ConsumerConfig drives a DataSource, or a MemorySource when Source is "memory".
type ConsumerConfig struct {
	Source           string        `koanf:"source" validate:"oneof=shared-memory memory"`
	Name             string        `koanf:"name" validate:"required"`
	PollInterval     time.Duration `koanf:"poll_interval" validate:"gt=0"`
	MaxFramesPerPoll int           `koanf:"max_frames_per_poll" validate:"min=1"`
	WatchdogInterval time.Duration `koanf:"watchdog_interval" validate:"gt=0"`
	StallThreshold   time.Duration `koanf:"stall_threshold" validate:"gt=0"`
	StallTimeout     time.Duration `koanf:"stall_timeout" validate:"gte=0"`
	Reconnect        bool          `koanf:"reconnect"`
	RetryInitial     time.Duration `koanf:"retry_initial" validate:"gt=0"`
	RetryMax         time.Duration `koanf:"retry_max" validate:"gt=0"`
	RetryMaxTries    uint          `koanf:"retry_max_tries"`
	StartPolicy      string        `koanf:"start_policy" validate:"oneof=oldest latest"`
	EventBuffer      int           `koanf:"event_buffer" validate:"min=1"`
}

// ProducerConfig drives a Producer.
type ProducerConfig struct {
	SegmentName       string        `koanf:"segment_name"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"gt=0"`
}

// SimulatorConfig drives the synthetic data generators.
type SimulatorConfig struct {
	VitalsRate        int           `koanf:"vitals_rate" validate:"min=1,max=1000"`
	SampleRate        int           `koanf:"sample_rate" validate:"min=1,max=10000"`
	SamplesPerFrame   int           `koanf:"samples_per_frame" validate:"min=1,max=1000"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"gte=0"`
	Pleth             bool          `koanf:"pleth"`
	Seed              uint64        `koanf:"seed"`
	QueueSize         int           `koanf:"queue_size" validate:"min=2"`
	Fixed             FixedVitals   `koanf:"fixed"`
	Scenario          string        `koanf:"scenario" validate:"omitempty,oneof=normal warning critical demo"`
	ScenarioPhase     time.Duration `koanf:"scenario_phase" validate:"gt=0"`
}

// FixedVitals replaces the random walk when Enabled.
type FixedVitals struct {
	Enabled   bool `koanf:"enabled"`
	HeartRate int  `koanf:"hr" validate:"min=0,max=300"`
	SpO2      int  `koanf:"spo2" validate:"min=0,max=100"`
	RespRate  int  `koanf:"rr" validate:"min=0,max=100"`
}

// ServerConfig is the monitor's HTTP surface.
type ServerConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Addr              string        `koanf:"addr" validate:"required_if=Enabled true"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	ClientBuffer      int           `koanf:"client_buffer" validate:"min=1"`
	AllowedOrigins    []string      `koanf:"allowed_origins"`
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			Path:             "/tmp/vitalink-sensor.sock",
			HandshakeTimeout: time.Second,
		},
		Ring: RingConfig{
			FrameSize:  4096,
			FrameCount: 2048,
			Backend:    "auto",
		},
		Consumer: ConsumerConfig{
			Source:           SourceSharedMemory,
			Name:             "vitalink-shm",
			PollInterval:     time.Millisecond,
			MaxFramesPerPoll: 256,
			WatchdogInterval: 100 * time.Millisecond,
			StallThreshold:   250 * time.Millisecond,
			StallTimeout:     0, // stay stalled until the heartbeat returns
			Reconnect:        true,
			RetryInitial:     100 * time.Millisecond,
			RetryMax:         5 * time.Second,
			StartPolicy:      "oldest",
			EventBuffer:      1024,
		},
		Producer: ProducerConfig{
			HeartbeatInterval: 10 * time.Millisecond,
		},
		Simulator: SimulatorConfig{
			VitalsRate:      60,
			SampleRate:      250,
			SamplesPerFrame: 10,
			QueueSize:       1024,
			Scenario:        "normal",
			ScenarioPhase:   10 * time.Second,
			Fixed: FixedVitals{
				HeartRate: 72,
				SpO2:      98,
				RespRate:  16,
			},
		},
		Server: ServerConfig{
			Enabled:           true,
			Addr:              "127.0.0.1:9477",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			ClientBuffer:      256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
