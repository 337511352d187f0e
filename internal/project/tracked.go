package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrTrackedFileMissing is returned when a literal context or input path does
// not exist. Glob patterns that match nothing are not an error.
var ErrTrackedFileMissing = errors.New("tracked file missing")

// TrackedFile is one context or input file.
type TrackedFile struct {
	// Path is project-relative with forward slashes; it is what the
	// execution record stores and what the hash sorts on.
	Path string
	Abs  string
}

// Tracked groups the expanded context and input files of a workflow.
type Tracked struct {
	Context []TrackedFile
	Input   []TrackedFile
}

// All returns context followed by input files.
func (t Tracked) All() []TrackedFile {
	out := make([]TrackedFile, 0, len(t.Context)+len(t.Input))
	out = append(out, t.Context...)
	return append(out, t.Input...)
}

// TrackedFiles expands the workflow's context and input declarations.
func (p *Project) TrackedFiles(wf *Workflow) (Tracked, error) {
	ctxFiles, err := p.Expand(wf.Overrides.Context)
	if err != nil {
		return Tracked{}, fmt.Errorf("workflow %s context: %w", wf.Name, err)
	}
	inputFiles, err := p.Expand(wf.Overrides.Input)
	if err != nil {
		return Tracked{}, fmt.Errorf("workflow %s input: %w", wf.Name, err)
	}
	return Tracked{Context: ctxFiles, Input: inputFiles}, nil
}

// Expand resolves patterns into regular files. Each entry may be a file, a
// directory (walked recursively, dot entries skipped) or a glob. The result
// is sorted by relative path and deduplicated.
func (p *Project) Expand(patterns []string) ([]TrackedFile, error) {
	seen := make(map[string]struct{})
	var out []TrackedFile
	add := func(abs string) {
		rel := p.Rel(abs)
		if _, dup := seen[rel]; dup {
			return
		}
		seen[rel] = struct{}{}
		out = append(out, TrackedFile{Path: rel, Abs: abs})
	}

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		abs, err := p.Abs(pattern)
		if err != nil {
			return nil, err
		}
		candidates := []string{abs}
		if hasMeta(pattern) {
			candidates, err = filepath.Glob(abs)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", pattern, err)
			}
		}
		for _, candidate := range candidates {
			info, err := os.Stat(candidate)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil, fmt.Errorf("%w: %s", ErrTrackedFileMissing, pattern)
				}
				return nil, err
			}
			if !info.IsDir() {
				add(candidate)
				continue
			}
			if err := walkDir(candidate, add); err != nil {
				return nil, err
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func walkDir(root string, add func(string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			add(path)
		}
		return nil
	})
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[`)
}
