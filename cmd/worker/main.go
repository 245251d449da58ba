// Command worker is the container entry point of the prediction worker. It is
// equivalent to "micronet worker" and accepts the same flags.
package main

import (
	"os"

	"github.com/turtacn/MicroNet-Diagnostics/internal/interfaces/cli"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate

	root := cli.NewRootCommand()
	root.SetArgs(append([]string{"worker"}, os.Args[1:]...))
	if err := root.Execute(); err != nil {
		cli.PrintError(root, err)
		os.Exit(1)
	}
}
