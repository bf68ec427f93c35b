package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"gosuda.org/vitalink/internal/ring"
)

// Version is set at build time with -ldflags "-X gosuda.org/vitalink/internal/cli.Version=...".
var Version = ""

// NewVersionCommand creates the version command.
func NewVersionCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build and ring format versions",
		Args:  cobra.NoArgs,
		// The version is printed without loading configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "vitalink %s (ring format %d, %s)\n",
				buildVersion(), ring.Version, runtime.Version())
			return err
		},
	}
}

func buildVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}
