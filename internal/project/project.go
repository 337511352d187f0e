package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"promptloom/internal/config"
)

const (
	runDirName    = "run"
	outputDirName = "output"
	cacheDirName  = "cache"

	// ConfigFileName is the per-workflow override file.
	ConfigFileName = "config"
	// RecordFileName is the per-workflow execution record.
	RecordFileName = "execution.json"
	// LockFileName guards a project against concurrent pipeline runs.
	LockFileName = ".promptloom.lock"
)

// ErrWorkflowNotFound is returned when no run/<name>/ directory exists.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Project is a resolved project root.
type Project struct {
	Root string
}

// Open resolves root to an absolute directory.
func Open(root string) (*Project, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	expanded, err := config.ExpandPath(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}
	return &Project{Root: abs}, nil
}

// RunDir is the parent of every workflow directory.
func (p *Project) RunDir() string { return filepath.Join(p.Root, runDirName) }

// WorkflowDir is run/<name>.
func (p *Project) WorkflowDir(name string) string { return filepath.Join(p.RunDir(), name) }

// OutputDir holds the latest artifact of every workflow.
func (p *Project) OutputDir() string { return filepath.Join(p.Root, outputDirName) }

// OutputPath is output/<name>.<ext>.
func (p *Project) OutputPath(name, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return filepath.Join(p.OutputDir(), name)
	}
	return filepath.Join(p.OutputDir(), name+"."+ext)
}

// CacheDir holds conversions and run history.
func (p *Project) CacheDir() string { return filepath.Join(p.Root, cacheDirName) }

// ConversionsDir is the conversion cache root.
func (p *Project) ConversionsDir() string { return filepath.Join(p.CacheDir(), "conversions") }

// HistoryPath is the SQLite run history database.
func (p *Project) HistoryPath() string { return filepath.Join(p.CacheDir(), "history.db") }

// LockPath is the pipeline lock file.
func (p *Project) LockPath() string { return filepath.Join(p.Root, LockFileName) }

// RecordPath is run/<name>/execution.json.
func (p *Project) RecordPath(name string) string {
	return filepath.Join(p.WorkflowDir(name), RecordFileName)
}

// Rel renders path relative to the project root using forward slashes.
// Paths outside the root stay absolute.
func (p *Project) Rel(path string) string {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Abs resolves a project-relative (or absolute, or ~-prefixed) path.
func (p *Project) Abs(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(path, "~") || filepath.IsAbs(path) {
		return config.ExpandPath(path)
	}
	return filepath.Join(p.Root, filepath.FromSlash(path)), nil
}

// List returns the names of all workflows, sorted.
func (p *Project) List() ([]string, error) {
	entries, err := os.ReadDir(p.RunDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// ValidateName rejects workflow names that cannot be used as a directory.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return errors.New("workflow name is empty")
	case trimmed != name:
		return fmt.Errorf("workflow name %q has surrounding whitespace", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("workflow name %q must not start with a dot", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("workflow name %q must not contain path separators", name)
	}
	return nil
}
