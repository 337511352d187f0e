package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"promptloom/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the project, conversion tools, and model API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			results := preflight.RunAll(cmd.Context(), cfg, ctx.project, !offline)
			for _, line := range renderSectionHeader("promptloom doctor", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, r := range results {
				kind := statusOK
				switch {
				case !r.Passed && r.Optional:
					kind = statusWarn
				case !r.Passed:
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if preflight.Failed(results) {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the model API health check")
	return cmd
}
