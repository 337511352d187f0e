package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"promptloom/internal/graph"
)

func newGraphCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "graph <workflow>",
		Short: "Print the execution order of a workflow and its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			index, err := ctx.project.Index()
			if err != nil {
				return err
			}
			order, err := graph.ResolveOrder(index, args[0])
			if err != nil {
				return err
			}

			type step struct {
				Workflow   string   `json:"workflow"`
				DependsOn  []string `json:"depends_on"`
				Dependents []string `json:"dependents"`
			}
			steps := make([]step, 0, len(order))
			for _, name := range order {
				deps, _ := index.Dependencies(name)
				steps = append(steps, step{
					Workflow:   name,
					DependsOn:  nonNil(graph.ExtractDependencies(deps)),
					Dependents: nonNil(graph.Dependents(index, order, name)),
				})
			}
			if jsonOut {
				return writeJSON(cmd, steps)
			}

			out := cmd.OutOrStdout()
			for i, s := range steps {
				line := fmt.Sprintf("%2d. %s", i+1, s.Workflow)
				if len(s.DependsOn) > 0 {
					line += "  <- " + strings.Join(s.DependsOn, ", ")
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the graph as JSON")
	return cmd
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
