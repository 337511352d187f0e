package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"promptloom/internal/config"
	"promptloom/internal/graph"
)

// Workflow is one named unit of work. It is read from disk on every pipeline
// invocation and never modified by the pipeline.
type Workflow struct {
	Name       string
	Dir        string
	ConfigPath string
	// TaskPath is empty when the workflow has no task.* file.
	TaskPath  string
	Overrides config.Overrides
}

// DependsOn returns the normalized dependency list.
func (w *Workflow) DependsOn() []string {
	return graph.ExtractDependencies(w.Overrides.DependsOn)
}

// LoadWorkflow reads run/<name>/.
func (p *Project) LoadWorkflow(name string) (*Workflow, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	dir := p.WorkflowDir(name)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
		}
		return nil, fmt.Errorf("stat workflow %s: %w", name, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrWorkflowNotFound, dir)
	}

	wf := &Workflow{
		Name:       name,
		Dir:        dir,
		ConfigPath: filepath.Join(dir, ConfigFileName),
	}
	wf.TaskPath, err = findTask(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", name, err)
	}
	wf.Overrides, err = config.LoadOverrides(wf.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", name, err)
	}
	return wf, nil
}

// findTask picks the task.* file. Multiple candidates are ambiguous.
func findTask(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "task.*"))
	if err != nil {
		return "", err
	}
	var files []string
	for _, match := range matches {
		if strings.Contains(filepath.Base(match), ".tmp.") {
			continue
		}
		if info, err := os.Stat(match); err == nil && info.Mode().IsRegular() {
			files = append(files, match)
		}
	}
	switch len(files) {
	case 0:
		return "", nil
	case 1:
		return files[0], nil
	default:
		sort.Strings(files)
		return "", fmt.Errorf("multiple task files: %s", strings.Join(files, ", "))
	}
}

// Index holds every workflow of a project. Load failures are kept per
// workflow so one broken config does not block unrelated workflows.
type Index struct {
	project   *Project
	workflows map[string]*Workflow
	errs      map[string]error
}

// Index loads every workflow under run/.
func (p *Project) Index() (*Index, error) {
	names, err := p.List()
	if err != nil {
		return nil, err
	}
	idx := &Index{
		project:   p,
		workflows: make(map[string]*Workflow, len(names)),
		errs:      make(map[string]error),
	}
	for _, name := range names {
		wf, err := p.LoadWorkflow(name)
		if err != nil {
			idx.errs[name] = err
			continue
		}
		idx.workflows[name] = wf
	}
	return idx, nil
}

// Dependencies implements graph.Source. A workflow whose config failed to
// load reports no dependencies; Workflow surfaces the load error.
func (i *Index) Dependencies(name string) ([]string, bool) {
	if wf, ok := i.workflows[name]; ok {
		return wf.Overrides.DependsOn, true
	}
	if _, ok := i.errs[name]; ok {
		return nil, true
	}
	return nil, false
}

// Workflow returns the named workflow or its load error.
func (i *Index) Workflow(name string) (*Workflow, error) {
	if wf, ok := i.workflows[name]; ok {
		return wf, nil
	}
	if err, ok := i.errs[name]; ok {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
}

// Names lists the loaded and failed workflows, sorted.
func (i *Index) Names() []string {
	names := make([]string, 0, len(i.workflows)+len(i.errs))
	for name := range i.workflows {
		names = append(names, name)
	}
	for name := range i.errs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Project returns the owning project.
func (i *Index) Project() *Project { return i.project }

// scaffoldConfig is written by NewWorkflow.
type scaffoldConfig struct {
	DependsOn []string `toml:"depends_on"`
	Context   []string `toml:"context"`
	Input     []string `toml:"input"`
}

// NewWorkflow creates run/<name>/ with a config declaring dependsOn and an
// empty task.md. An existing workflow is an error.
func (p *Project) NewWorkflow(name string, dependsOn []string) (*Workflow, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	dir := p.WorkflowDir(name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("workflow %s already exists", name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat workflow %s: %w", name, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workflow dir: %w", err)
	}

	data, err := toml.Marshal(scaffoldConfig{
		DependsOn: graph.ExtractDependencies(dependsOn),
		Context:   []string{},
		Input:     []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("encode workflow config: %w", err)
	}
	header := "# Per-workflow overrides. Any [execution] key from promptloom.toml may be set here.\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), append([]byte(header), data...), 0o644); err != nil {
		return nil, fmt.Errorf("write workflow config: %w", err)
	}
	task := fmt.Sprintf("# %s\n\nDescribe the task for this workflow.\n", name)
	if err := os.WriteFile(filepath.Join(dir, "task.md"), []byte(task), 0o644); err != nil {
		return nil, fmt.Errorf("write task file: %w", err)
	}
	return p.LoadWorkflow(name)
}
