package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"gosuda.org/vitalink"
)

// ProbeOptions holds flags for the probe command.
type ProbeOptions struct {
	*RootOptions
	Socket   string
	JSON     bool
	Liveness time.Duration
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProbeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Handshake once and describe the producer's ring",
		Long: `Perform one handshake, validate the ring header and print its geometry, write
index and heartbeat. The heartbeat is watched for --liveness to tell a running
producer from a stalled one; a stalled producer exits with status 1.

Example:
  vitalink probe --socket /tmp/vitalink.sock
  vitalink probe --json --liveness 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Socket, "socket", "", "handshake socket path (overrides socket.path)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the result as JSON")
	cmd.Flags().DurationVar(&opts.Liveness, "liveness", -1, "heartbeat watch window, 0 to skip (default consumer.stall_threshold)")

	return cmd
}

func runProbe(cmd *cobra.Command, opts *ProbeOptions) error {
	cfg := opts.Config
	path := cfg.Socket.Path
	if opts.Socket != "" {
		path = opts.Socket
	}
	liveness := opts.Liveness
	if liveness < 0 {
		liveness = cfg.Consumer.StallThreshold
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := vitalink.Probe(ctx, path, cfg.Socket.HandshakeTimeout, liveness)
	if err != nil {
		return WrapExitError(ExitFailure, "probe "+path, err)
	}

	if opts.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if err := printProbe(cmd.OutOrStdout(), res, liveness > 0); err != nil {
		return err
	}

	if liveness > 0 && !res.Alive {
		return NewExitError(ExitFailure, fmt.Sprintf("heartbeat unchanged for %s", liveness))
	}
	return nil
}

func printProbe(w io.Writer, res vitalink.ProbeResult, checked bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "socket\t%s\n", res.Socket)
	fmt.Fprintf(tw, "segment\t%s\n", res.Segment)
	fmt.Fprintf(tw, "size\t%d\n", res.Size)
	fmt.Fprintf(tw, "frame size\t%d\n", res.FrameSize)
	fmt.Fprintf(tw, "frame count\t%d\n", res.FrameCount)
	fmt.Fprintf(tw, "write index\t%d\n", res.WriteIndex)
	fmt.Fprintf(tw, "oldest\t%d\n", res.Oldest)
	fmt.Fprintf(tw, "heartbeat\t%d\n", res.Heartbeat)
	fmt.Fprintf(tw, "handshake\t%s\n", res.HandshakeLatency.Round(time.Microsecond))
	if checked {
		fmt.Fprintf(tw, "alive\t%t\n", res.Alive)
	}
	return tw.Flush()
}
