package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Execution holds the settings that shape a workflow run. Every field takes
// part in the execution hash.
type Execution struct {
	Model        string  `toml:"model" json:"model"`
	Temperature  float64 `toml:"temperature" json:"temperature"`
	TopP         float64 `toml:"top_p" json:"top_p"`
	MaxTokens    int     `toml:"max_tokens" json:"max_tokens"`
	OutputFormat string  `toml:"output_format" json:"output_format"`
	SystemPrompt string  `toml:"system_prompt" json:"system_prompt"`
}

// Snapshot returns the hash-participating settings as canonical strings.
func (e Execution) Snapshot() map[string]string {
	return map[string]string{
		"model":         e.Model,
		"temperature":   strconv.FormatFloat(e.Temperature, 'g', -1, 64),
		"top_p":         strconv.FormatFloat(e.TopP, 'g', -1, 64),
		"max_tokens":    strconv.Itoa(e.MaxTokens),
		"output_format": e.OutputFormat,
		"system_prompt": e.SystemPrompt,
	}
}

// Overrides is the parsed contents of a workflow's own config file. Pointer
// fields distinguish "not declared" from an explicit zero value.
type Overrides struct {
	DependsOn    []string `toml:"depends_on"`
	Context      []string `toml:"context"`
	Input        []string `toml:"input"`
	Model        *string  `toml:"model"`
	Temperature  *float64 `toml:"temperature"`
	TopP         *float64 `toml:"top_p"`
	MaxTokens    *int     `toml:"max_tokens"`
	OutputFormat *string  `toml:"output_format"`
	SystemPrompt *string  `toml:"system_prompt"`
}

// LoadOverrides parses a workflow config file. A missing file yields empty
// overrides; unknown keys are rejected so typos do not silently fall back to
// the baseline.
func LoadOverrides(path string) (Overrides, error) {
	var overrides Overrides
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return overrides, nil
		}
		return overrides, fmt.Errorf("open workflow config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&overrides); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Overrides{}, fmt.Errorf("workflow config %s: %s", path, strings.TrimSpace(strict.String()))
		}
		return Overrides{}, fmt.Errorf("parse workflow config %s: %w", path, err)
	}
	return overrides, nil
}

// Apply returns the baseline with every declared override laid on top.
func (o Overrides) Apply(baseline Execution) Execution {
	out := baseline
	if o.Model != nil {
		out.Model = *o.Model
	}
	if o.Temperature != nil {
		out.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		out.TopP = *o.TopP
	}
	if o.MaxTokens != nil {
		out.MaxTokens = *o.MaxTokens
	}
	if o.OutputFormat != nil {
		out.OutputFormat = *o.OutputFormat
	}
	if o.SystemPrompt != nil {
		out.SystemPrompt = *o.SystemPrompt
	}
	out.normalize()
	return out
}

// ErrScopeActive is returned when overrides are applied while another
// workflow's overrides are still in effect.
var ErrScopeActive = errors.New("config scope already has active overrides")

// Scope tracks the Baseline / NodeActive cycle for one pipeline invocation.
// It never mutates the baseline; Apply derives a fresh value and Reset drops
// it.
type Scope struct {
	baseline Execution
	current  Execution
	active   string
}

// NewScope starts a scope in the Baseline state.
func NewScope(baseline Execution) *Scope {
	return &Scope{baseline: baseline, current: baseline}
}

// Apply moves from Baseline to NodeActive for the named workflow.
func (s *Scope) Apply(workflow string, overrides Overrides) (Execution, error) {
	if s.active != "" {
		return Execution{}, fmt.Errorf("%w: %s", ErrScopeActive, s.active)
	}
	settings := overrides.Apply(s.baseline)
	if err := settings.Validate(); err != nil {
		return Execution{}, fmt.Errorf("workflow %s: %w", workflow, err)
	}
	s.active = workflow
	s.current = settings
	return settings, nil
}

// Reset returns the scope to Baseline.
func (s *Scope) Reset() {
	s.active = ""
	s.current = s.baseline
}

// Current returns the settings in effect.
func (s *Scope) Current() Execution { return s.current }

// Active reports which workflow's overrides are applied, if any.
func (s *Scope) Active() (string, bool) { return s.active, s.active != "" }
