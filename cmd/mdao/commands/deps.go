package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/mdao/pkg/model"
)

func newDepsCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "deps <study>",
		Short: "Show the component dependency graph of a study",
		Long: `Show the dependencies between the components of a study's model.

Edges come from connections between component variables and from the
driver's parameters: a driver varying comp.x depends on comp.`,
		Example: `  # List dependency edges
  mdao deps study.yaml

  # Render the graph with Graphviz
  mdao deps --dot study.yaml | dot -Tsvg > deps.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadStudy(cmd.Context(), args[0], log.Logger)
			if err != nil {
				return err
			}

			graph, builder, err := env.driver.Graph()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case dot:
				fmt.Fprint(out, builder.ToDOT())
			case jsonOutput:
				return printJSON(out, graph)
			default:
				for level, ids := range builder.GetLevels() {
					fmt.Fprintf(out, "Level %d: %v\n", level, ids)
				}
				fmt.Fprintln(out)
				for _, e := range graph.Edges {
					fmt.Fprintf(out, "%s -> %s (%s)\n", e.From, e.To, e.Type)
				}
				printModel(out, env.driver.Assembly())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the graph in Graphviz DOT format")

	return cmd
}

// printModel lists the variable connections and the equations of every
// exec component behind the graph edges.
func printModel(w io.Writer, asm *model.Assembly) {
	if conns := asm.Connections(); len(conns) > 0 {
		fmt.Fprintln(w, "\nConnections:")
		for _, c := range conns {
			fmt.Fprintf(w, "  %s -> %s\n", c.From, c.To)
		}
	}
	for _, name := range asm.ComponentNames() {
		comp, err := asm.Component(name)
		if err != nil {
			continue
		}
		ec, ok := comp.(*model.ExecComp)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "\nEquations of %s:\n", name)
		for _, eq := range ec.Equations() {
			fmt.Fprintf(w, "  %s\n", eq)
		}
	}
}
