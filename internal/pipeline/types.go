package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"promptloom/internal/config"
	"promptloom/internal/project"
	"promptloom/internal/staleness"
)

// ErrLocked is returned when another pipeline holds the project lock.
var ErrLocked = errors.New("another promptloom pipeline is running in this project")

// DependencyOutput is the current output of one dependency.
type DependencyOutput struct {
	Workflow string
	// Path is absolute.
	Path string
	Hash string
}

// Job is everything a Runner needs to execute one workflow.
type Job struct {
	RunID        string
	Workflow     *project.Workflow
	Settings     config.Execution
	Tracked      project.Tracked
	Dependencies []DependencyOutput
	// OutputPath is where the artifact must be written (absolute).
	OutputPath string
}

// Result is a Runner's successful outcome.
type Result struct {
	// OutputPath defaults to Job.OutputPath when empty.
	OutputPath string
	Usage      Usage
}

// Usage carries optional model accounting for reporting.
type Usage struct {
	Model        string
	PromptTokens int
	OutputTokens int
}

// Runner executes one workflow.
type Runner interface {
	Run(ctx context.Context, job Job) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) (Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job Job) (Result, error) { return f(ctx, job) }

// Options tune one invocation.
type Options struct {
	// Force re-runs the root workflow even when it is fresh.
	Force bool
	// DryRun reports what would run without running anything.
	DryRun bool
}

// Outcome is what happened to one workflow.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeFresh    Outcome = "fresh"
	OutcomePlanned  Outcome = "planned"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeCanceled Outcome = "canceled"
)

// NodeReport describes one workflow of a run.
type NodeReport struct {
	Workflow string
	Outcome  Outcome
	Reasons  []staleness.Reason
	Hash     string
	FastPath bool
	Output   string
	Duration time.Duration
	Usage    Usage
	// BlockedBy names the failed dependency for skipped workflows.
	BlockedBy string
	Err       error
}

// Report is the result of Executor.Run.
type Report struct {
	RunID string
	Root  string
	Order []string
	Nodes []NodeReport
}

// Node returns the report for name.
func (r Report) Node(name string) (NodeReport, bool) {
	for _, n := range r.Nodes {
		if n.Workflow == name {
			return n, true
		}
	}
	return NodeReport{}, false
}

// Count returns how many workflows ended with outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, node := range r.Nodes {
		if node.Outcome == outcome {
			n++
		}
	}
	return n
}

// RunError reports the workflows whose runs failed.
type RunError struct {
	Failures map[string]error
}

// Failed lists the failed workflows, sorted.
func (e *RunError) Failed() []string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *RunError) Error() string {
	names := e.Failed()
	if len(names) == 1 {
		return fmt.Sprintf("workflow %s failed: %v", names[0], e.Failures[names[0]])
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return fmt.Sprintf("%d workflows failed: %s", len(names), strings.Join(parts, "; "))
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, name := range e.Failed() {
		errs = append(errs, e.Failures[name])
	}
	return errs
}
