package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"promptloom/internal/config"
	"promptloom/internal/execlog"
	"promptloom/internal/graph"
	"promptloom/internal/pipeline"
	"promptloom/internal/project"
	"promptloom/internal/staleness"
	"promptloom/internal/testsupport"
)

// fakeRunner concatenates the task file and dependency outputs into the
// output artifact.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	settings map[string]config.Execution
	fail     map[string]error
	hook     func(job pipeline.Job)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{settings: map[string]config.Execution{}, fail: map[string]error{}}
}

func (f *fakeRunner) Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, job.Workflow.Name)
	f.settings[job.Workflow.Name] = job.Settings
	failErr := f.fail[job.Workflow.Name]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(job)
	}
	if failErr != nil {
		return pipeline.Result{}, failErr
	}
	task, err := os.ReadFile(job.Workflow.TaskPath)
	if err != nil {
		return pipeline.Result{}, err
	}
	var b strings.Builder
	b.Write(task)
	for _, dep := range job.Dependencies {
		data, err := os.ReadFile(dep.Path)
		if err != nil {
			return pipeline.Result{}, fmt.Errorf("read dependency %s: %w", dep.Workflow, err)
		}
		b.WriteString("\n---\n")
		b.Write(data)
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return pipeline.Result{}, err
	}
	if err := os.WriteFile(job.OutputPath, []byte(b.String()), 0o644); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{}, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func newExecutor(t *testing.T, proj *project.Project, runner pipeline.Runner, opts ...pipeline.Option) *pipeline.Executor {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return pipeline.New(proj, cfg, runner, opts...)
}

func outcomes(report pipeline.Report) map[string]pipeline.Outcome {
	out := make(map[string]pipeline.Outcome, len(report.Nodes))
	for _, node := range report.Nodes {
		out[node.Workflow] = node.Outcome
	}
	return out
}

func TestDependencyChainEndToEnd(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "A", nil, "extract facts")
	testsupport.WriteWorkflow(t, proj, "B", []string{"A"}, "summarize facts")
	runner := newFakeRunner()
	exec := newExecutor(t, proj, runner)
	ctx := context.Background()

	report, err := exec.Run(ctx, "B", pipeline.Options{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !reflect.DeepEqual(runner.Calls(), []string{"A", "B"}) {
		t.Fatalf("first run calls = %v", runner.Calls())
	}
	if report.RunID == "" || !reflect.DeepEqual(report.Order, []string{"A", "B"}) {
		t.Fatalf("unexpected report %+v", report)
	}
	log := execlog.New(proj)
	for _, name := range []string{"A", "B"} {
		rec, ok, err := log.Read(name)
		if err != nil || !ok {
			t.Fatalf("record for %s missing: %v", name, err)
		}
		if rec.RunID != report.RunID || len(rec.ExecutionHash) != staleness.DigestLength {
			t.Fatalf("unexpected record %+v", rec)
		}
	}

	runner.Reset()
	report, err = exec.Run(ctx, "B", pipeline.Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(runner.Calls()) != 0 {
		t.Fatalf("unchanged inputs should run nothing, ran %v", runner.Calls())
	}
	if got := outcomes(report); got["A"] != pipeline.OutcomeFresh || got["B"] != pipeline.OutcomeFresh {
		t.Fatalf("expected both fresh, got %v", got)
	}

	testsupport.WriteText(t, proj, "run/A/task.md", "extract more facts")
	runner.Reset()
	report, err = exec.Run(ctx, "B", pipeline.Options{})
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if !reflect.DeepEqual(runner.Calls(), []string{"A", "B"}) {
		t.Fatalf("changed dependency should rerun both, ran %v", runner.Calls())
	}
	nodeA, _ := report.Node("A")
	nodeB, _ := report.Node("B")
	if !slices.Equal(nodeA.Reasons, []staleness.Reason{staleness.ReasonTask}) {
		t.Fatalf("A reasons = %v", nodeA.Reasons)
	}
	if !slices.Equal(nodeB.Reasons, []staleness.Reason{staleness.ReasonDependency}) {
		t.Fatalf("B reasons = %v", nodeB.Reasons)
	}
}

func TestFailureSkipsDependentsButNotSiblings(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "broken", nil, "will fail")
	testsupport.WriteWorkflow(t, proj, "sibling", nil, "independent")
	testsupport.WriteWorkflow(t, proj, "middle", []string{"broken"}, "needs broken")
	testsupport.WriteWorkflow(t, proj, "report", []string{"middle", "sibling"}, "final")
	runner := newFakeRunner()
	boom := errors.New("model refused")
	runner.fail["broken"] = boom

	report, err := newExecutor(t, proj, runner).Run(context.Background(), "report", pipeline.Options{})
	var runErr *pipeline.RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if !reflect.DeepEqual(runErr.Failed(), []string{"broken"}) || !errors.Is(err, boom) {
		t.Fatalf("unexpected failures %v", runErr.Failed())
	}
	got := outcomes(report)
	want := map[string]pipeline.Outcome{
		"broken":  pipeline.OutcomeFailed,
		"middle":  pipeline.OutcomeSkipped,
		"sibling": pipeline.OutcomeExecuted,
		"report":  pipeline.OutcomeSkipped,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	if node, _ := report.Node("report"); node.BlockedBy != "broken" {
		t.Fatalf("report should be blocked by broken, got %q", node.BlockedBy)
	}

	log := execlog.New(proj)
	for name, wantRecord := range map[string]bool{"broken": false, "middle": false, "sibling": true, "report": false} {
		if _, ok, _ := log.Read(name); ok != wantRecord {
			t.Fatalf("record for %s present=%v, want %v", name, ok, wantRecord)
		}
	}
}

func TestConfigIsolationBetweenWorkflows(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "creative", nil, "write a poem",
		`temperature = 0.9`,
		`model = "other/model"`,
	)
	testsupport.WriteWorkflow(t, proj, "plain", []string{"creative"}, "summarize the poem")
	runner := newFakeRunner()

	if _, err := newExecutor(t, proj, runner).Run(context.Background(), "plain", pipeline.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	baseline := config.Default().Execution
	creative := runner.settings["creative"]
	plain := runner.settings["plain"]
	if creative.Temperature != 0.9 || creative.Model != "other/model" {
		t.Fatalf("overrides not applied: %+v", creative)
	}
	if plain.Temperature != baseline.Temperature || plain.Model != baseline.Model {
		t.Fatalf("plain saw leaked overrides: %+v", plain)
	}
}

func TestInvalidOverrideFailsOnlyThatWorkflow(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "hot", nil, "x", `temperature = 5.0`)
	testsupport.WriteWorkflow(t, proj, "cool", nil, "y")
	testsupport.WriteWorkflow(t, proj, "root", []string{"hot", "cool"}, "z")
	runner := newFakeRunner()

	report, err := newExecutor(t, proj, runner).Run(context.Background(), "root", pipeline.Options{})
	var runErr *pipeline.RunError
	if !errors.As(err, &runErr) || !reflect.DeepEqual(runErr.Failed(), []string{"hot"}) {
		t.Fatalf("expected hot to fail, got %v", err)
	}
	if got := outcomes(report); got["cool"] != pipeline.OutcomeExecuted || got["root"] != pipeline.OutcomeSkipped {
		t.Fatalf("unexpected outcomes %v", got)
	}
}

func TestCancellationLeavesNoRecord(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "first", nil, "one")
	testsupport.WriteWorkflow(t, proj, "second", []string{"first"}, "two")
	testsupport.WriteWorkflow(t, proj, "third", []string{"second"}, "three")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := newFakeRunner()
	runner.hook = func(job pipeline.Job) {
		if job.Workflow.Name == "second" {
			cancel()
		}
	}

	report, err := newExecutor(t, proj, runner).Run(ctx, "third", pipeline.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	got := outcomes(report)
	want := map[string]pipeline.Outcome{
		"first":  pipeline.OutcomeExecuted,
		"second": pipeline.OutcomeCanceled,
		"third":  pipeline.OutcomeCanceled,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	log := execlog.New(proj)
	if _, ok, _ := log.Read("first"); !ok {
		t.Fatal("completed workflow should keep its record")
	}
	if _, ok, _ := log.Read("second"); ok {
		t.Fatal("in-flight workflow must not be recorded on cancellation")
	}
}

func TestForceAndDryRun(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "base", nil, "base")
	testsupport.WriteWorkflow(t, proj, "top", []string{"base"}, "top")
	runner := newFakeRunner()
	exec := newExecutor(t, proj, runner)
	ctx := context.Background()

	report, err := exec.Run(ctx, "top", pipeline.Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(runner.Calls()) != 0 {
		t.Fatalf("dry run executed %v", runner.Calls())
	}
	if got := outcomes(report); got["base"] != pipeline.OutcomePlanned || got["top"] != pipeline.OutcomePlanned {
		t.Fatalf("expected planned outcomes, got %v", got)
	}
	if _, ok, _ := execlog.New(proj).Read("base"); ok {
		t.Fatal("dry run must not write records")
	}

	if _, err := exec.Run(ctx, "top", pipeline.Options{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	runner.Reset()
	report, err = exec.Run(ctx, "top", pipeline.Options{Force: true})
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if !reflect.DeepEqual(runner.Calls(), []string{"top"}) {
		t.Fatalf("force should rerun only the root, ran %v", runner.Calls())
	}
	if node, _ := report.Node("top"); !slices.Equal(node.Reasons, []staleness.Reason{staleness.ReasonForced}) {
		t.Fatalf("forced reasons = %v", node.Reasons)
	}
}

func TestGraphErrorsAbortBeforeRunning(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "a", []string{"b"}, "a")
	testsupport.WriteWorkflow(t, proj, "b", []string{"a"}, "b")
	testsupport.WriteWorkflow(t, proj, "orphan", []string{"ghost"}, "o")
	runner := newFakeRunner()
	exec := newExecutor(t, proj, runner)

	if _, err := exec.Run(context.Background(), "a", pipeline.Options{}); !errors.Is(err, graph.ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if _, err := exec.Run(context.Background(), "orphan", pipeline.Options{}); !errors.Is(err, graph.ErrMissingDependency) {
		t.Fatalf("expected missing dependency error, got %v", err)
	}
	if len(runner.Calls()) != 0 {
		t.Fatalf("graph errors must not run anything, ran %v", runner.Calls())
	}
}

func TestProjectLockRejectsConcurrentRun(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "solo", nil, "solo")
	holder := flock.New(proj.LockPath())
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("acquire test lock: %v", err)
	}
	defer holder.Unlock()

	if _, err := newExecutor(t, proj, newFakeRunner()).Run(context.Background(), "solo", pipeline.Options{}); !errors.Is(err, pipeline.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestHistoryIsRecorded(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "a", nil, "a")
	testsupport.WriteWorkflow(t, proj, "b", []string{"a"}, "b")
	store := testsupport.MustOpenHistory(t, proj)
	runner := newFakeRunner()
	runner.fail["b"] = errors.New("boom")

	report, _ := newExecutor(t, proj, runner, pipeline.WithRecorder(store)).Run(context.Background(), "b", pipeline.Options{})
	runs, err := store.ListRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID || runs[0].Status != "failed" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if len(runs[0].Nodes) != 2 || runs[0].Nodes[1].Outcome != "failed" || runs[0].Nodes[1].ErrorMessage == "" || runs[0].Nodes[1].FailureCategory == "" {
		t.Fatalf("unexpected nodes %+v", runs[0].Nodes)
	}
}
