package staleness

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"promptloom/internal/config"
	"promptloom/internal/execlog"
	"promptloom/internal/fileutil"
	"promptloom/internal/project"
)

// Reason names a category of change that makes a workflow stale.
type Reason string

const (
	ReasonMissingRecord Reason = "missing_record"
	ReasonMissingOutput Reason = "missing_output"
	ReasonConfig        Reason = "config"
	ReasonTask          Reason = "task"
	ReasonFiles         Reason = "files"
	ReasonDependency    Reason = "dependency"
	ReasonForced        Reason = "forced"
)

// racyWindow is how far before the record timestamp a file must have been
// modified for its mtime to be trusted. File timestamps come from a coarser
// clock than time.Now, so an edit made just after the snapshot can carry an
// earlier mtime.
const racyWindow = 2 * time.Second

// Request describes one workflow check.
type Request struct {
	Workflow *project.Workflow
	// Settings are the effective execution settings (baseline plus the
	// workflow's overrides).
	Settings config.Execution
	// Dependencies carries each dependency's current output hash in declared
	// order.
	Dependencies []execlog.DependencyHash
}

// State is the full set of hashed inputs at one point in time. It becomes
// the next execution record once the run succeeds.
type State struct {
	Hash       string
	SnapshotAt time.Time
	Task       execlog.FileHash
	Context    []execlog.FileHash
	Input      []execlog.FileHash
	DependsOn  []execlog.DependencyHash
	Config     map[string]string
	Tracked    project.Tracked
}

// Decision is the outcome of Check.
type Decision struct {
	Stale    bool
	Reasons  []Reason
	FastPath bool
	// Hash is the current execution hash. On the fast path it is the
	// recorded hash.
	Hash string
	// Previous is the existing record, if any.
	Previous    execlog.Record
	HasPrevious bool
	// State is populated whenever the hash was recomputed.
	State *State
}

// Detector checks workflows of one project.
type Detector struct {
	Project *project.Project
	Log     *execlog.Log
}

// New builds a Detector backed by log.
func New(proj *project.Project, log *execlog.Log) *Detector {
	return &Detector{Project: proj, Log: log}
}

// Check decides whether req.Workflow must run again.
func (d *Detector) Check(ctx context.Context, req Request) (Decision, error) {
	rec, ok, err := d.Log.Read(req.Workflow.Name)
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Previous: rec, HasPrevious: ok}

	switch {
	case !ok:
		decision.Stale = true
		decision.Reasons = []Reason{ReasonMissingRecord}
	case !d.Log.OutputExists(rec):
		decision.Stale = true
		decision.Reasons = []Reason{ReasonMissingOutput}
	}

	tracked, err := d.Project.TrackedFiles(req.Workflow)
	if err != nil {
		return Decision{}, err
	}

	if !decision.Stale && d.fastPathFresh(rec, req, tracked) {
		decision.FastPath = true
		decision.Hash = rec.ExecutionHash
		return decision, nil
	}

	state, err := d.snapshot(ctx, req, tracked)
	if err != nil {
		return Decision{}, err
	}
	decision.State = &state
	decision.Hash = state.Hash
	if decision.Stale {
		return decision, nil
	}
	if state.Hash != rec.ExecutionHash {
		decision.Stale = true
		decision.Reasons = diffReasons(rec, state)
	}
	return decision, nil
}

// Snapshot hashes every input of req regardless of any existing record.
func (d *Detector) Snapshot(ctx context.Context, req Request) (State, error) {
	tracked, err := d.Project.TrackedFiles(req.Workflow)
	if err != nil {
		return State{}, err
	}
	return d.snapshot(ctx, req, tracked)
}

func (d *Detector) snapshot(ctx context.Context, req Request, tracked project.Tracked) (State, error) {
	state := State{
		SnapshotAt: time.Now().UTC(),
		Config:     req.Settings.Snapshot(),
		DependsOn:  slices.Clone(req.Dependencies),
		Tracked:    tracked,
	}
	if state.DependsOn == nil {
		state.DependsOn = []execlog.DependencyHash{}
	}

	if path := req.Workflow.TaskPath; path != "" {
		sum, err := fileutil.HashFile(path)
		if err != nil {
			return State{}, fmt.Errorf("hash task file: %w", err)
		}
		state.Task = execlog.FileHash{Path: d.Project.Rel(path), Hash: sum}
	}

	var err error
	if state.Context, err = hashFiles(ctx, tracked.Context); err != nil {
		return State{}, err
	}
	if state.Input, err = hashFiles(ctx, tracked.Input); err != nil {
		return State{}, err
	}

	state.Hash = ComputeExecutionHash(HashInputs{
		Config:       state.Config,
		TaskHash:     state.Task.Hash,
		Files:        append(slices.Clone(state.Context), state.Input...),
		Dependencies: state.DependsOn,
	})
	return state, nil
}

func hashFiles(ctx context.Context, files []project.TrackedFile) ([]execlog.FileHash, error) {
	out := make([]execlog.FileHash, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, err := fileutil.HashFile(f.Abs)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", f.Path, err)
		}
		out = append(out, execlog.FileHash{Path: f.Path, Hash: sum})
	}
	return out, nil
}

// fastPathFresh confirms freshness from metadata alone. It requires the same
// tracked path set, settings and dependency hashes as the record, and every
// tracked file (task included) last modified more than racyWindow before the
// record's timestamp.
func (d *Detector) fastPathFresh(rec execlog.Record, req Request, tracked project.Tracked) bool {
	if rec.ExecutedAt.IsZero() {
		return false
	}
	cutoff := rec.ExecutedAt.Add(-racyWindow)
	if !maps.Equal(rec.Config, req.Settings.Snapshot()) {
		return false
	}
	if !slices.Equal(normalizeDeps(rec.DependsOn), normalizeDeps(req.Dependencies)) {
		return false
	}
	taskRel := ""
	if req.Workflow.TaskPath != "" {
		taskRel = d.Project.Rel(req.Workflow.TaskPath)
	}
	if rec.Task.Path != taskRel {
		return false
	}
	if !samePaths(rec.Context, tracked.Context) || !samePaths(rec.Input, tracked.Input) {
		return false
	}

	paths := make([]string, 0, len(tracked.Context)+len(tracked.Input)+1)
	if req.Workflow.TaskPath != "" {
		paths = append(paths, req.Workflow.TaskPath)
	}
	for _, f := range tracked.All() {
		paths = append(paths, f.Abs)
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if !info.ModTime().Before(cutoff) {
			return false
		}
	}
	return true
}

func samePaths(recorded []execlog.FileHash, current []project.TrackedFile) bool {
	if len(recorded) != len(current) {
		return false
	}
	for i := range recorded {
		if recorded[i].Path != current[i].Path {
			return false
		}
	}
	return true
}

func normalizeDeps(deps []execlog.DependencyHash) []execlog.DependencyHash {
	if len(deps) == 0 {
		return nil
	}
	return deps
}

// diffReasons names every category that differs between rec and state.
func diffReasons(rec execlog.Record, state State) []Reason {
	var reasons []Reason
	if !maps.Equal(rec.Config, state.Config) {
		reasons = append(reasons, ReasonConfig)
	}
	if rec.Task != state.Task {
		reasons = append(reasons, ReasonTask)
	}
	if !slices.Equal(rec.Context, state.Context) || !slices.Equal(rec.Input, state.Input) {
		reasons = append(reasons, ReasonFiles)
	}
	if !slices.Equal(normalizeDeps(rec.DependsOn), normalizeDeps(state.DependsOn)) {
		reasons = append(reasons, ReasonDependency)
	}
	if len(reasons) == 0 {
		// Identical inputs under a different digest mean the record was
		// produced by another hash layout.
		reasons = append(reasons, ReasonConfig)
	}
	return reasons
}

// Record turns a state into the execution record for a successful run that
// produced output.
func (s State) Record(workflow string, output execlog.FileHash, runID string) execlog.Record {
	return execlog.Record{
		Workflow:      workflow,
		ExecutedAt:    s.SnapshotAt,
		ExecutionHash: s.Hash,
		RunID:         runID,
		Context:       s.Context,
		Input:         s.Input,
		DependsOn:     s.DependsOn,
		Output:        output,
		Task:          s.Task,
		Config:        s.Config,
	}
}
