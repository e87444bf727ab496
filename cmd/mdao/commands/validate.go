package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mdao/pkg/policy"
)

// validationReport is the outcome of validating a study.
type validationReport struct {
	Study      string                  `json:"study"`
	Model      string                  `json:"model"`
	Driver     string                  `json:"driver"`
	Parameters []policy.ParameterInput `json:"parameters"`
	Outputs    []string                `json:"outputs"`
	Cases      int                     `json:"cases"`
	Policy     *policy.Result          `json:"policy"`
}

func newValidateCommand() *cobra.Command {
	var maxCases int

	cmd := &cobra.Command{
		Use:   "validate <study>",
		Short: "Validate a study and list its parameters",
		Long: `Validate a study file without running it.

This command checks:
  - Study and model file syntax and schema conformance
  - That every parameter target exists and is bounded
  - That the case file or script produces cases
  - Policy compliance (OPA/rego), built-in and custom`,
		Example: `  # Validate a study
  mdao validate study.yaml

  # Validate with a lower case limit
  mdao validate --max-cases 100 study.cue

  # Print the report as JSON
  mdao validate --json study.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().Str("study", args[0]).Msg("Validating study")

			report, err := validateStudy(ctx, args[0], maxCases)
			if report != nil {
				if jsonOutput {
					if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
						return perr
					}
				} else {
					printReport(cmd.OutOrStdout(), report)
				}
			}
			return err
		},
	}

	cmd.Flags().IntVar(&maxCases, "max-cases", 0, "case limit enforced by the case-limits policy (0 keeps the default)")

	return cmd
}

// validateStudy loads the study at path and evaluates the policies against
// it. The report is returned with the policy error when a blocking
// violation is found.
func validateStudy(ctx context.Context, path string, maxCases int) (*validationReport, error) {
	env, err := loadStudy(ctx, path, log.Logger)
	if err != nil {
		return nil, err
	}

	eng, err := newPolicyEngine(ctx, env.study, log.Logger, maxCases)
	if err != nil {
		return nil, err
	}
	return checkStudy(ctx, env, eng)
}

func checkStudy(ctx context.Context, env *studyEnv, eng *policy.Engine) (*validationReport, error) {
	in := env.driver.PolicyInput(len(env.cases), "validate")
	report := &validationReport{
		Study:      env.study.Name,
		Model:      env.driver.Assembly().Name(),
		Driver:     env.driver.Name(),
		Parameters: in.Study.Parameters,
		Outputs:    env.driver.Outputs(),
		Cases:      len(env.cases),
	}

	result, err := env.driver.CheckPolicy(ctx, eng, len(env.cases), "validate", onViolation(env.study))
	report.Policy = result
	if result == nil {
		return nil, err
	}
	return report, err
}

func printReport(w io.Writer, r *validationReport) {
	fmt.Fprintf(w, "Study:   %s\n", r.Study)
	fmt.Fprintf(w, "Model:   %s\n", r.Model)
	fmt.Fprintf(w, "Driver:  %s\n", r.Driver)
	fmt.Fprintf(w, "Cases:   %d\n", r.Cases)
	if len(r.Outputs) > 0 {
		fmt.Fprintf(w, "Outputs: %s\n", strings.Join(r.Outputs, ", "))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMETER\tTARGETS\tLOW\tHIGH\tFD_STEP")
	for _, p := range r.Parameters {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.Key,
			strings.Join(p.Targets, ", "),
			formatBound(p.Low),
			formatBound(p.High),
			formatBound(p.FDStep),
		)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)

	printViolations(w, r.Policy)
}
