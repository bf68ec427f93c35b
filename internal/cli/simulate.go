package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/simulator"
	"gosuda.org/vitalink/internal/supervisor"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Socket   string
	Seed     uint64
	Pleth    bool
	Fixed    bool
	Scenario string
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a producer fed by synthetic vitals and ECG",
		Long: `Create a ring segment, offer it on the handshake socket and fill it with a
random-walk vitals stream and a synthetic ECG until interrupted.

Example:
  vitalink simulate --socket /tmp/vitalink.sock --seed 7
  vitalink simulate --fixed --pleth
  vitalink simulate --scenario demo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Socket, "socket", "", "handshake socket path (overrides socket.path)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "random seed, 0 for a random one (overrides simulator.seed)")
	cmd.Flags().BoolVar(&opts.Pleth, "pleth", false, "also generate a plethysmograph channel")
	cmd.Flags().BoolVar(&opts.Fixed, "fixed", false, "emit the fixed vitals from simulator.fixed instead of a random walk")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "steer the vitals walk: "+strings.Join(simulator.Scenarios(), ", ")+" (overrides simulator.scenario)")

	return cmd
}

func runSimulate(cmd *cobra.Command, opts *SimulateOptions) error {
	cfg := opts.Config
	if opts.Socket != "" {
		cfg.Socket.Path = opts.Socket
	}
	if cmd.Flags().Changed("seed") {
		cfg.Simulator.Seed = opts.Seed
	}
	if opts.Pleth {
		cfg.Simulator.Pleth = true
	}
	if opts.Fixed {
		cfg.Simulator.Fixed.Enabled = true
	}
	if opts.Scenario != "" {
		cfg.Simulator.Scenario = opts.Scenario
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitUsage, "simulate", err)
	}
	log := logging.Component("simulate")

	p, err := vitalink.NewProducer(cfg.ToProducerOptions())
	if err != nil {
		return WrapExitError(ExitFailure, "create producer", err)
	}
	defer p.Close()

	sim := simulator.New(p, cfg.ToSimulatorConfig())

	tree := newTree()
	tree.AddTransport(supervisor.NewProducerService(p))
	tree.AddTransport(supervisor.NewSimulatorService(sim))

	ctx, stop := signalContext(cmd)
	defer stop()

	log.Info().
		Str("socket", p.SocketPath()).
		Str("segment", p.SegmentName()).
		Int("vitals_rate", cfg.Simulator.VitalsRate).
		Int("sample_rate", cfg.Simulator.SampleRate).
		Str("scenario", cfg.Simulator.Scenario).
		Msg("simulating")

	err = tree.Serve(ctx)

	st := sim.Stats()
	log.Info().
		Uint64("written", st.Written).
		Uint64("dropped", st.Dropped).
		Uint64("failed", st.Failed).
		Uint64("write_index", p.WriteIndex()).
		Msg("simulation stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "simulate", err)
	}
	return nil
}
