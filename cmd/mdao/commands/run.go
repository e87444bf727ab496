package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mdao/pkg/cases"
	"github.com/openfroyo/mdao/pkg/config"
	"github.com/openfroyo/mdao/pkg/driver"
	"github.com/openfroyo/mdao/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		dryRun      bool
		maxCases    int
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "run <study>",
		Short: "Run the cases of a study",
		Long: `Run every case of a study and record the results.

For each case the driver sets its parameters, runs the model and evaluates
the study outputs. Failed cases are recorded with their error and the run
continues. When policies are enabled for the study they are evaluated
before the first case runs.`,
		Example: `  # Run a study
  mdao run study.yaml

  # Record the run in a database
  mdao run --store runs.db study.yaml

  # Check the study and count its cases without running them
  mdao run --dry-run study.yaml

  # Run up to 4 independent components at a time
  mdao run --parallelism 4 study.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			study, err := config.NewLoader(log.Logger).LoadFile(ctx, args[0])
			if err != nil {
				return err
			}

			tel, err := telemetry.NewTelemetry(ctx, telemetryConfig(study))
			if err != nil {
				return fmt.Errorf("failed to set up telemetry: %w", err)
			}
			defer func() {
				if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()
			ctx = tel.WithContext(ctx)
			if study.Telemetry != nil && study.Telemetry.MetricsAddress != "" {
				if err := tel.StartMetricsServer(); err != nil {
					return err
				}
			}
			logger := tel.Logger

			var opts []driver.Option
			if path := storePath(study); path != "" {
				store, err := openStore(ctx, path)
				if err != nil {
					return err
				}
				defer store.Close()
				tel.Events.Subscribe(telemetry.StoreSink(store, 5*time.Second), nil)
				opts = append(opts, driver.WithStore(store))
			}

			env, err := buildStudy(ctx, study, logger, opts...)
			if err != nil {
				return err
			}
			if parallelism > 0 {
				env.driver.Assembly().SetMaxParallel(parallelism)
			}

			if study.Policy != nil && study.Policy.Enabled {
				eng, err := newPolicyEngine(ctx, study, logger, maxCases)
				if err != nil {
					return err
				}
				result, err := env.driver.CheckPolicy(ctx, eng, len(env.cases), "run", onViolation(study))
				if err != nil {
					return err
				}
				if !jsonOutput && len(result.Violations) > 0 {
					printViolations(cmd.ErrOrStderr(), result)
				}
			}

			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "Study %s would run %d cases with %d parameters\n",
					study.Name, len(env.cases), env.driver.Parameters().GetParameters().Len())
				return nil
			}

			summary, err := env.driver.Run(ctx, cases.NewListIterator(env.cases))
			if summary != nil {
				if jsonOutput {
					if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
						return perr
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Run %s %s: %d cases, %d succeeded, %d failed in %s\n",
						summary.RunID, summary.Status, summary.Total, summary.Succeeded, summary.Failed,
						summary.Duration.Round(time.Millisecond))
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "check the study without running cases")
	cmd.Flags().IntVar(&maxCases, "max-cases", 0, "case limit enforced by the case-limits policy (0 keeps the default)")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "max components run in parallel (0 keeps the model setting)")

	return cmd
}
