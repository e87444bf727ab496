// Package commands holds the cobra command tree of the mdao binary.
package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Flags shared by every subcommand.
var (
	storeFlag  string
	verbose    bool
	jsonOutput bool
)

// buildVersion is reported as the service version in telemetry.
var buildVersion = "dev"

const rootLong = `mdao runs parameter studies over models of connected components.

A study file names a model, the parameters a driver varies on it, the cases
to evaluate and where to record them. Models and studies are written in YAML
or CUE; cases are listed inline, read from CSV or produced by a Starlark
script; Rego policies gate a study before it runs.`

// Execute builds the command tree and runs it with ctx.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	root := &cobra.Command{
		Use:           "mdao",
		Short:         "Run parameter studies over component models",
		Long:          rootLong,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&storeFlag, "store", "", "run database path, overriding the study's store")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flags.BoolVar(&jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newValidateCommand(),
		newRunCommand(),
		newDepsCommand(),
		newWatchCommand(),
		newRunsCommand(),
	)
	return root
}
