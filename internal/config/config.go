package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// ProjectFileName is the name of the project-level configuration file.
const ProjectFileName = "promptloom.toml"

// LLM contains connection settings for the hosted model API.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Cache contains the conversion cache policy.
type Cache struct {
	// HashThresholdMiB is the source size above which no content hash is
	// recorded. Such entries are invalidated by any mtime change.
	HashThresholdMiB int `toml:"hash_threshold_mib"`
	// AlwaysHash records a content hash regardless of source size.
	AlwaysHash bool `toml:"always_hash"`
	// ImageMaxDimension bounds the longest edge of resized images.
	ImageMaxDimension int `toml:"image_max_dimension"`
}

// Tools names the external conversion binaries.
type Tools struct {
	Soffice string `toml:"soffice"`
	Magick  string `toml:"magick"`
}

// Notifications configures pipeline completion alerts.
type Notifications struct {
	// NtfyTopic is the full ntfy topic URL; empty disables notifications.
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates the project-level configuration.
//
// Configuration sections:
//   - LLM: model API connection
//   - Execution: baseline execution settings every workflow inherits
//   - Cache: conversion cache size threshold and image sizing
//   - Tools: conversion binaries
//   - Notifications: ntfy alerts when a pipeline finishes
//   - Logging: log format and level
type Config struct {
	LLM           LLM           `toml:"llm"`
	Execution     Execution     `toml:"execution"`
	Cache         Cache         `toml:"cache"`
	Tools         Tools         `toml:"tools"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// Load locates, parses, and validates the project configuration. When path is
// empty the file is looked up as promptloom.toml inside projectDir. A missing
// file is not an error; defaults are used and exists is false.
func Load(projectDir, path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(projectDir, path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(projectDir, path string) (string, bool, error) {
	target := strings.TrimSpace(path)
	if target == "" {
		target = filepath.Join(projectDir, ProjectFileName)
	}
	expanded, err := expandPath(target)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// HashThresholdBytes returns the conversion cache hashing threshold in bytes.
// A negative value means every source is hashed.
func (c *Config) HashThresholdBytes() int64 {
	if c.Cache.AlwaysHash {
		return -1
	}
	return int64(c.Cache.HashThresholdMiB) * 1024 * 1024
}
