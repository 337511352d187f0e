package config

import (
	"errors"
	"fmt"
	"strings"
)

var supportedOutputFormats = map[string]struct{}{
	"md":   {},
	"txt":  {},
	"json": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.Execution.Validate(); err != nil {
		return fmt.Errorf("execution: %w", err)
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic %q must be an http(s) URL", topic)
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.BaseURL == "" {
		return errors.New("llm.base_url must be set")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	return nil
}

// Validate reports settings outside their accepted ranges.
func (e Execution) Validate() error {
	if e.Model == "" {
		return errors.New("model must be set")
	}
	if e.Temperature < 0 || e.Temperature > 2 {
		return fmt.Errorf("temperature %v must be between 0 and 2", e.Temperature)
	}
	if e.TopP <= 0 || e.TopP > 1 {
		return fmt.Errorf("top_p %v must be in (0, 1]", e.TopP)
	}
	if e.MaxTokens < 0 {
		return fmt.Errorf("max_tokens %d must not be negative", e.MaxTokens)
	}
	if _, ok := supportedOutputFormats[e.OutputFormat]; !ok {
		return fmt.Errorf("output_format %q is not supported (use md, txt, or json)", e.OutputFormat)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.HashThresholdMiB <= 0 {
		return errors.New("cache.hash_threshold_mib must be positive")
	}
	if c.Cache.ImageMaxDimension < 64 {
		return errors.New("cache.image_max_dimension must be at least 64")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}
