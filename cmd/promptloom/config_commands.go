package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"promptloom/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand(ctx))

	return configCmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample promptloom.toml in the project directory",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				proj, err := ctx.ensureProject()
				if err != nil {
					return err
				}
				target = filepath.Join(proj.Root, config.ProjectFileName)
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set llm.api_key (or export PROMPTLOOM_API_KEY) before running workflows.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the project configuration and every workflow config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if _, err := os.Stat(ctx.configPath); err != nil {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}

			index, err := ctx.project.Index()
			if err != nil {
				return err
			}
			scope := config.NewScope(cfg.Execution)
			var problems []string
			for _, name := range index.Names() {
				wf, err := index.Workflow(name)
				if err != nil {
					problems = append(problems, err.Error())
					continue
				}
				if _, err := scope.Apply(name, wf.Overrides); err != nil {
					problems = append(problems, err.Error())
					continue
				}
				scope.Reset()
			}
			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintf(out, "  %s\n", p)
				}
				return fmt.Errorf("%d workflow configs are invalid", len(problems))
			}
			fmt.Fprintf(out, "API key configured: %s\n", yesNo(cfg.LLM.APIKey != ""))
			fmt.Fprintf(out, "Configuration valid (%d workflows)\n", len(index.Names()))
			return nil
		},
	}
}
