package config

const (
	defaultLLMBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel          = "anthropic/claude-sonnet-4"
	defaultLLMReferer        = "https://github.com/promptloom/promptloom"
	defaultLLMTitle          = "promptloom"
	defaultLLMTimeoutSeconds = 300
	defaultTemperature       = 0.2
	defaultTopP              = 1.0
	defaultMaxTokens         = 8192
	defaultOutputFormat      = "md"
	defaultHashThresholdMiB  = 10
	defaultImageMaxDimension = 1568
	defaultSofficeBinary     = "soffice"
	defaultMagickBinary      = "magick"
	defaultNtfyTimeout       = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Execution: Execution{
			Model:        defaultLLMModel,
			Temperature:  defaultTemperature,
			TopP:         defaultTopP,
			MaxTokens:    defaultMaxTokens,
			OutputFormat: defaultOutputFormat,
		},
		Cache: Cache{
			HashThresholdMiB:  defaultHashThresholdMiB,
			ImageMaxDimension: defaultImageMaxDimension,
		},
		Tools: Tools{
			Soffice: defaultSofficeBinary,
			Magick:  defaultMagickBinary,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
