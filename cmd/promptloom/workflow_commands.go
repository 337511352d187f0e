package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"promptloom/internal/execlog"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Create and list workflows",
	}

	workflowCmd.AddCommand(newWorkflowNewCommand(ctx))
	workflowCmd.AddCommand(newWorkflowListCommand(ctx))

	return workflowCmd
}

func newWorkflowNewCommand(ctx *commandContext) *cobra.Command {
	var dependsOn []string

	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Scaffold run/<name>/ with a config and task file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			wf, err := ctx.project.NewWorkflow(strings.TrimSpace(args[0]), dependsOn)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created workflow %s\n", wf.Name)
			fmt.Fprintf(out, "  config: %s\n", ctx.project.Rel(wf.ConfigPath))
			fmt.Fprintf(out, "  task:   %s\n", ctx.project.Rel(wf.TaskPath))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&dependsOn, "depends-on", "d", nil, "Workflows this one depends on (comma separated)")
	return cmd
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows with their dependencies and last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			index, err := ctx.project.Index()
			if err != nil {
				return err
			}
			log := execlog.New(ctx.project)

			type entry struct {
				Name      string     `json:"name"`
				DependsOn []string   `json:"depends_on"`
				Task      string     `json:"task,omitempty"`
				LastRun   *time.Time `json:"last_run,omitempty"`
				Output    string     `json:"output,omitempty"`
				ConfigErr string     `json:"config_error,omitempty"`
			}
			entries := make([]entry, 0)
			for _, name := range index.Names() {
				e := entry{Name: name, DependsOn: []string{}}
				wf, err := index.Workflow(name)
				if err != nil {
					e.ConfigErr = err.Error()
					entries = append(entries, e)
					continue
				}
				e.DependsOn = nonNil(wf.DependsOn())
				if wf.TaskPath != "" {
					e.Task = ctx.project.Rel(wf.TaskPath)
				}
				if rec, ok, err := log.Read(name); err == nil && ok {
					executed := rec.ExecutedAt
					e.LastRun = &executed
					e.Output = rec.Output.Path
				}
				entries = append(entries, e)
			}
			if jsonOut {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No workflows under %s\n", ctx.project.RunDir())
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				lastRun := "never"
				if e.LastRun != nil {
					lastRun = humanize.Time(*e.LastRun)
				}
				if e.ConfigErr != "" {
					lastRun = "invalid config"
				}
				rows = append(rows, []string{e.Name, strings.Join(e.DependsOn, ", "), e.Task, lastRun})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Workflow", "Depends On", "Task", "Last Run"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print workflows as JSON")
	return cmd
}
