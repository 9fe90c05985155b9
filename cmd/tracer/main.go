// Command tracer ingests host sensor telemetry, catalogs atomic tests into
// adversary-technique signatures, and scores live monitor sessions against
// that catalog.
package main

import (
	"fmt"
	"os"

	"github.com/navshield/tracer/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
