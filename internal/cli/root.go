// Package cli implements the vitalink command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gosuda.org/vitalink/internal/config"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/supervisor"
)

// RootOptions holds global flags and the configuration they produce.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	// Config is loaded by the root command before any subcommand runs.
	Config *config.Config
}

// ValidLogFormats are the accepted --log-format values.
var ValidLogFormats = []string{"json", "console"}

// NewRootCommand creates the vitalink command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "vitalink",
		Short: "Shared-memory vital signs transport",
		Long: `vitalink moves vital signs and waveforms from a local producer to consumers
through a shared-memory ring, with a Unix socket handshake and a heartbeat watchdog.

Configuration comes from defaults, then a YAML file (--config, $VITALINK_CONFIG or
./vitalink.yaml), then VITALINK_ environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error|disabled)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (json|console)")

	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewMonitorCommand(opts))
	cmd.AddCommand(NewProbeCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	if o.LogFormat != "" && !isValidLogFormat(o.LogFormat) {
		return NewExitError(ExitUsage, fmt.Sprintf("invalid log format %q: must be one of %v", o.LogFormat, ValidLogFormats))
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitUsage, "load configuration", err)
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	logging.Init(cfg.ToLoggingConfig())
	o.Config = cfg
	return nil
}

func isValidLogFormat(format string) bool {
	for _, f := range ValidLogFormats {
		if f == format {
			return true
		}
	}
	return false
}

// signalContext returns a context canceled by SIGINT, SIGTERM or the parent.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newTree builds the supervisor tree used by long-running commands.
func newTree() *supervisor.Tree {
	return supervisor.NewTree(logging.NewSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
}
