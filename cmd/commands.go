// Package cmd wires vastd's command line surface: a root command plus a
// `run` subcommand that constructs the filesystem facade, engine, eraser
// and disk monitor from a config file and blocks until interrupted.
package cmd

import (
	"github.com/spf13/cobra"
)

// Command returns the root command with every vastd subcommand attached.
// rootCommand lets a caller supply its own pre-configured command (tests
// do); nil gets a fresh one.
func Command(rootCommand *cobra.Command) *cobra.Command {
	if rootCommand == nil {
		rootCommand = &cobra.Command{
			Use:   "vastd",
			Short: "VAST telemetry storage engine",
			Long:  "vastd ingests, indexes and retains time-windowed telemetry partitions.",
		}
	}

	initRun(rootCommand)
	initVersion(rootCommand)
	return rootCommand
}
