package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var projectFlag string
	var configFlag string
	var verbose bool

	ctx := newCommandContext(&projectFlag, &configFlag, &verbose)

	rootCmd := &cobra.Command{
		Use:           "promptloom",
		Short:         "Run dependent LLM workflows and re-run only what changed",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "C", ".", "Project directory")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default <project>/promptloom.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newGraphCommand(ctx))
	rootCmd.AddCommand(newWorkflowCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newTestNotifyCommand(ctx))

	return rootCmd
}
