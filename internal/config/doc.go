// Package config loads, normalizes, and validates promptloom configuration data.
//
// Two layers exist. The project file (promptloom.toml) supplies the baseline:
// LLM connection settings, execution defaults, cache policy, tool binaries,
// and logging. Each workflow directory carries its own TOML overrides file
// (run/<name>/config) that declares dependencies, tracked files, and any
// execution settings that differ from the baseline.
//
// Scope applies one workflow's overrides on top of the baseline and resets
// back to it before the next workflow, so overrides never leak between
// workflows executed in the same pipeline invocation.
package config
