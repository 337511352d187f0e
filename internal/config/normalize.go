package config

import (
	"os"
	"strings"
)

// apiKeyEnvVars are consulted in order when llm.api_key is not set.
var apiKeyEnvVars = []string{"PROMPTLOOM_API_KEY", "OPENROUTER_API_KEY"}

func (c *Config) normalize() {
	c.normalizeLLM()
	c.Execution.normalize()
	c.normalizeCache()
	c.normalizeTools()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeout
	}
	c.normalizeLogging()
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		for _, name := range apiKeyEnvVars {
			if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
				c.LLM.APIKey = strings.TrimSpace(value)
				break
			}
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (e *Execution) normalize() {
	e.Model = strings.TrimSpace(e.Model)
	if e.Model == "" {
		e.Model = defaultLLMModel
	}
	e.OutputFormat = strings.ToLower(strings.TrimSpace(e.OutputFormat))
	e.OutputFormat = strings.TrimPrefix(e.OutputFormat, ".")
	if e.OutputFormat == "" {
		e.OutputFormat = defaultOutputFormat
	}
	e.SystemPrompt = strings.TrimSpace(e.SystemPrompt)
}

func (c *Config) normalizeCache() {
	if c.Cache.HashThresholdMiB <= 0 {
		c.Cache.HashThresholdMiB = defaultHashThresholdMiB
	}
	if c.Cache.ImageMaxDimension <= 0 {
		c.Cache.ImageMaxDimension = defaultImageMaxDimension
	}
}

func (c *Config) normalizeTools() {
	c.Tools.Soffice = strings.TrimSpace(c.Tools.Soffice)
	if c.Tools.Soffice == "" {
		c.Tools.Soffice = defaultSofficeBinary
	}
	c.Tools.Magick = strings.TrimSpace(c.Tools.Magick)
	if c.Tools.Magick == "" {
		c.Tools.Magick = defaultMagickBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
