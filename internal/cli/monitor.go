package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"gosuda.org/vitalink"
	"gosuda.org/vitalink/internal/config"
	"gosuda.org/vitalink/internal/feed"
	"gosuda.org/vitalink/internal/logging"
	"gosuda.org/vitalink/internal/simulator"
	"gosuda.org/vitalink/internal/supervisor"
)

// MonitorOptions holds flags for the monitor command.
type MonitorOptions struct {
	*RootOptions
	Socket   string
	Addr     string
	NoServer bool
	Print    bool
	Types    []string
	Latest   bool
	Source   string
	Scenario string
}

// NewMonitorCommand creates the monitor command.
func NewMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MonitorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Consume a producer and serve its events",
		Long: `Connect to a producer, follow its ring and watch its heartbeat. Events are
streamed on /ws and the source condition is reported on /healthz, /info and
/metrics. With --print, events are also written to stdout as JSON lines.

With --source memory no producer is needed: vitals and waveforms are generated in
process from the simulator section, steered by --scenario.

Example:
  vitalink monitor --print --types vitals,stalled,resumed
  vitalink monitor --addr 0.0.0.0:9477 --latest
  vitalink monitor --source memory --scenario demo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Socket, "socket", "", "handshake socket path (overrides socket.path)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&opts.NoServer, "no-server", false, "do not start the HTTP server")
	cmd.Flags().BoolVar(&opts.Print, "print", false, "print events to stdout as JSON lines")
	cmd.Flags().StringSliceVar(&opts.Types, "types", nil, "event types to print (default all)")
	cmd.Flags().BoolVar(&opts.Latest, "latest", false, "skip the backlog and start at the newest frame")
	cmd.Flags().StringVar(&opts.Source, "source", "", "event source: shared-memory or memory (overrides consumer.source)")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "vitals scenario for the memory source: "+strings.Join(simulator.Scenarios(), ", "))

	return cmd
}

func runMonitor(cmd *cobra.Command, opts *MonitorOptions) error {
	cfg := opts.Config
	if opts.Socket != "" {
		cfg.Socket.Path = opts.Socket
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.NoServer {
		cfg.Server.Enabled = false
	}
	if opts.Latest {
		cfg.Consumer.StartPolicy = "latest"
	}
	if opts.Source != "" {
		cfg.Consumer.Source = opts.Source
	}
	if opts.Scenario != "" {
		cfg.Simulator.Scenario = opts.Scenario
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitUsage, "monitor", err)
	}
	log := logging.Component("monitor")

	tree := newTree()
	hub := feed.NewHub(cfg.Server.ClientBuffer)

	var handlers []vitalink.Handler
	if cfg.Server.Enabled {
		handlers = append(handlers, hub.Handler())
	}
	if opts.Print {
		events := make(chan vitalink.Event, cfg.Consumer.EventBuffer)
		handlers = append(handlers, vitalink.ChannelHandler(events))
		p := &printer{out: cmd.OutOrStdout(), types: opts.Types}
		tree.AddTransport(supervisor.Func{Name: "printer", Run: func(ctx context.Context) error {
			return p.run(ctx, events)
		}})
	}

	src := cfg.NewSource(fanOut(handlers))
	tree.AddTransport(supervisor.NewSourceService(src))

	if cfg.Server.Enabled {
		server := feed.NewServer(src, hub, cfg.ToFeedOptions())
		tree.AddAPI(hub)
		tree.AddAPI(supervisor.NewHTTPService("feed-server", server.HTTPServer(), cfg.Server.ShutdownTimeout))
		log.Info().Str("addr", cfg.Server.Addr).Msg("serving feed")
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if cfg.Consumer.Source == config.SourceMemory {
		log.Info().Str("scenario", cfg.Simulator.Scenario).Msg("monitoring in-process data")
	} else {
		log.Info().Str("socket", cfg.Socket.Path).Str("start", cfg.Consumer.StartPolicy).Msg("monitoring")
	}
	err := tree.Serve(ctx)
	src.Stop()

	st := src.Stats()
	log.Info().
		Uint64("sessions", st.Sessions).
		Uint64("frames", st.Frames).
		Uint64("dropped", st.Dropped).
		Uint64("corrupt", st.Corrupt).
		Uint64("stalls", st.Stalls).
		Msg("monitor stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "monitor", err)
	}
	return nil
}

// fanOut calls every handler in order.
func fanOut(hs []vitalink.Handler) vitalink.Handler {
	switch len(hs) {
	case 0:
		return nil
	case 1:
		return hs[0]
	}
	return func(ev vitalink.Event) {
		for _, h := range hs {
			h(ev)
		}
	}
}

// printer writes events as JSON lines.
type printer struct {
	out   io.Writer
	types []string
}

func (p *printer) run(ctx context.Context, events <-chan vitalink.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if err := p.print(ev); err != nil {
				return err
			}
		}
	}
}

func (p *printer) print(ev vitalink.Event) error {
	m := feed.FromEvent(ev)
	if len(p.types) > 0 && !slices.Contains(p.types, m.Type) {
		return nil
	}
	b, err := m.Encode()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.out, "%s\n", b)
	return err
}
