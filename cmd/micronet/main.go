// Command micronet runs predictions, inspects the model registry and submits
// tasks to the worker.
package main

import (
	"os"

	"github.com/turtacn/MicroNet-Diagnostics/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
