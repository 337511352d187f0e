package main

import (
	"github.com/spf13/cobra"

	"promptloom/internal/pipeline"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status [workflow]",
		Short: "Show which workflows are fresh and which would run",
		Long: `Status checks staleness without running anything. With a workflow argument
it reports that workflow and its dependencies in execution order; without one
it reports every workflow in the project.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			executor := pipeline.New(ctx.project, cfg, pipeline.RunnerFunc(nil), pipeline.WithLogger(logger))
			dry := pipeline.Options{DryRun: true}

			var nodes []pipeline.NodeReport
			if len(args) == 1 {
				report, err := executor.Run(cmd.Context(), args[0], dry)
				if err != nil {
					return err
				}
				nodes = report.Nodes
			} else {
				names, err := ctx.project.List()
				if err != nil {
					return err
				}
				for _, name := range names {
					report, err := executor.Run(cmd.Context(), name, dry)
					if err != nil {
						nodes = append(nodes, pipeline.NodeReport{Workflow: name, Outcome: pipeline.OutcomeFailed, Err: err})
						continue
					}
					if node, ok := report.Node(name); ok {
						nodes = append(nodes, node)
					}
				}
			}

			if jsonOut {
				out := make([]nodeJSON, 0, len(nodes))
				for _, node := range nodes {
					out = append(out, toNodeJSON(node))
				}
				return writeJSON(cmd, out)
			}
			printReport(cmd.OutOrStdout(), pipeline.Report{Nodes: nodes}, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print status as JSON")
	return cmd
}
