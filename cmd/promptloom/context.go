package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"promptloom/internal/config"
	"promptloom/internal/convcache"
	"promptloom/internal/history"
	"promptloom/internal/logging"
	"promptloom/internal/project"
)

type commandContext struct {
	projectFlag *string
	configFlag  *string
	verbose     *bool

	configOnce sync.Once
	project    *project.Project
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(projectFlag, configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		projectFlag: projectFlag,
		configFlag:  configFlag,
		verbose:     verbose,
	}
}

func (c *commandContext) ensureProject() (*project.Project, error) {
	dir := "."
	if c.projectFlag != nil && strings.TrimSpace(*c.projectFlag) != "" {
		dir = strings.TrimSpace(*c.projectFlag)
	}
	return project.Open(dir)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		proj, err := c.ensureProject()
		if err != nil {
			c.configErr = err
			return
		}
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(proj.Root, path)
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if c.verbose != nil && *c.verbose {
			cfg.Logging.Level = "debug"
		}
		c.project = proj
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg, "")
}

func (c *commandContext) conversionCache(logger *slog.Logger) *convcache.Cache {
	return convcache.New(c.project.ConversionsDir(), c.config.HashThresholdBytes(), logger)
}

func (c *commandContext) openHistory() (*history.Store, error) {
	store, err := history.Open(c.project.HistoryPath())
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return store, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
