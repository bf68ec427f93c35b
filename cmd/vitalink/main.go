// Command vitalink runs a shared-memory vital signs producer, consumer or probe.
package main

import (
	"fmt"
	"os"

	"gosuda.org/vitalink/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vitalink:", err)
		os.Exit(cli.ExitCode(err))
	}
}
