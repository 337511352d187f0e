package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"promptloom/internal/config"
	"promptloom/internal/logging"
	"promptloom/internal/notifications"
	"promptloom/internal/pipeline"
	"promptloom/internal/runner"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var dryRun bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow after its stale dependencies",
		Long: `Run resolves the dependency graph of the workflow, skips every workflow whose
inputs are unchanged since its last successful run, and runs the rest in
dependency order. Failed workflows skip their dependents; independent
workflows still run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			opts := []pipeline.Option{pipeline.WithLogger(logger)}
			if !dryRun {
				store, err := ctx.openHistory()
				if err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, pipeline.WithRecorder(store))
			}

			llmRunner := runner.New(cfg, runner.NewClient(cfg), ctx.conversionCache(logger), runner.WithLogger(logger))
			executor := pipeline.New(ctx.project, cfg, llmRunner, opts...)
			started := time.Now()
			report, runErr := executor.Run(cmd.Context(), strings.TrimSpace(args[0]), pipeline.Options{Force: force, DryRun: dryRun})
			if !dryRun {
				notifyRun(cmd.Context(), cfg, logger, report, runErr, time.Since(started))
			}

			if jsonOut {
				if err := writeJSON(cmd, toReportJSON(report)); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report, shouldColorize(cmd.OutOrStdout()))
			}
			return runErr
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Run the workflow even if it is fresh (dependencies still use staleness)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would run without running it")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the run report as JSON")
	return cmd
}

// notifyRun publishes the run outcome. Canceled runs are not announced.
func notifyRun(ctx context.Context, cfg *config.Config, logger *slog.Logger, report pipeline.Report, runErr error, elapsed time.Duration) {
	svc := notifications.NewService(cfg)
	if !notifications.Enabled(svc) || errors.Is(runErr, context.Canceled) {
		return
	}
	var failures *pipeline.RunError
	var err error
	switch {
	case runErr == nil || errors.As(runErr, &failures):
		summary := notifications.Summary{
			Root:     report.Root,
			Executed: report.Count(pipeline.OutcomeExecuted),
			Fresh:    report.Count(pipeline.OutcomeFresh),
			Skipped:  report.Count(pipeline.OutcomeSkipped),
			Duration: elapsed,
		}
		if failures != nil {
			summary.Failed = failures.Failed()
		}
		err = svc.NotifyPipelineCompleted(ctx, summary)
	default:
		err = svc.NotifyError(ctx, runErr, report.Root)
	}
	if err != nil {
		logging.WarnWithContext(ctx, logger, "notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "run outcome was not announced"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
