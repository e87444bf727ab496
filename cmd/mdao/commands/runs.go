package commands

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/mdao/pkg/cases"
	"github.com/openfroyo/mdao/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
		Long: `Inspect the runs recorded in a run database.

Runs are recorded when a study has a store section or --store is given.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())

	return cmd
}

func openRunStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if storeFlag == "" {
		return nil, fmt.Errorf("--store is required")
	}
	return openStore(ctx, storeFlag)
}

func newRunsListCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List runs, newest first",
		Example: `  mdao runs list --store runs.db --limit 10`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openRunStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), runs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTUDY\tDRIVER\tSTATUS\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Study, r.Driver, r.Status, r.StartedAt.Local().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "show <run-id>",
		Short:   "Show a run with its parameters and cases",
		Example: `  mdao runs show --store runs.db 6f1c...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openRunStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("no run %s recorded; list runs with 'mdao runs list'", args[0])
			}
			if err != nil {
				return err
			}
			params, err := store.ListParameters(ctx, run.ID)
			if err != nil {
				return err
			}
			recorded, err := cases.LoadRun(ctx, store, run.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]interface{}{
					"run":        run,
					"parameters": params,
					"cases":      recorded,
				})
			}

			fmt.Fprintf(out, "Run:     %s\n", run.ID)
			fmt.Fprintf(out, "Study:   %s\n", run.Study)
			fmt.Fprintf(out, "Driver:  %s\n", run.Driver)
			fmt.Fprintf(out, "Status:  %s\n", run.Status)
			if run.Error != nil {
				fmt.Fprintf(out, "Error:   %s\n", *run.Error)
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PARAMETER\tTARGETS\tLOW\tHIGH\tFD_STEP")
			for _, p := range params {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					p.Key, p.Targets, formatBound(p.Low), formatBound(p.High), formatBound(p.FDStep))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out)

			dump := cases.NewDumpRecorder(out)
			for _, c := range recorded {
				if err := dump.Record(ctx, c); err != nil {
					return err
				}
			}
			return nil
		},
	}

	return cmd
}

func newRunsDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openRunStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			err = store.DeleteRun(ctx, args[0])
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("no run %s recorded; list runs with 'mdao runs list'", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}

	return cmd
}
