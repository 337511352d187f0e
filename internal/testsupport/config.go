package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"promptloom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a default config with a test API key. Options may
// adjust it further.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfgVal := config.Default()
	cfgVal.LLM.APIKey = "test"

	builder := &configBuilder{
		t:       t,
		baseDir: t.TempDir(),
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAPIKey sets the model API key on the test config.
func WithAPIKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.APIKey = key
	}
}

// WithBaseURL points the model client at a test server.
func WithBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = url
	}
}

// WithHashThresholdMiB overrides the conversion cache hash threshold.
func WithHashThresholdMiB(mib int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.HashThresholdMiB = mib
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, soffice and magick are stubbed.
// Each stub runs script (or exits 0 when script is empty).
func WithStubbedBinaries(script string, names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"soffice", "magick"}
		}
		if script == "" {
			script = "#!/bin/sh\nexit 0\n"
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}
