package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool
	var prune int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			store, err := ctx.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if prune > 0 {
				removed, err := store.Prune(cmd.Context(), prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d runs\n", removed)
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				executed := make([]string, 0, len(run.Nodes))
				failed := make([]string, 0)
				for _, node := range run.Nodes {
					switch node.Outcome {
					case "executed":
						executed = append(executed, node.Workflow)
					case "failed":
						label := node.Workflow
						if node.FailureCategory != "" {
							label += " (" + node.FailureCategory + ")"
						}
						failed = append(failed, label)
					}
				}
				duration := ""
				if run.FinishedAt != nil {
					duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
				}
				mode := ""
				if run.Forced {
					mode = "force"
				}
				rows = append(rows, []string{
					shortID(run.ID),
					humanize.Time(run.StartedAt),
					run.Root,
					string(run.Status),
					mode,
					strings.Join(executed, ", "),
					strings.Join(failed, ", "),
					duration,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Started", "Root", "Status", "Mode", "Executed", "Failed", "Duration"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print runs as JSON")
	cmd.Flags().IntVar(&prune, "prune", 0, "Keep only the newest N runs and delete the rest")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
