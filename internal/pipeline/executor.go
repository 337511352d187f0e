package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"promptloom/internal/config"
	"promptloom/internal/execlog"
	"promptloom/internal/fileutil"
	"promptloom/internal/graph"
	"promptloom/internal/history"
	"promptloom/internal/logging"
	"promptloom/internal/project"
	"promptloom/internal/services"
	"promptloom/internal/staleness"
)

// Recorder receives run history. history.Store implements it.
type Recorder interface {
	BeginRun(ctx context.Context, run history.Run) error
	RecordNode(ctx context.Context, runID string, node history.NodeRun) error
	FinishRun(ctx context.Context, runID string, status history.Status, errMessage string) error
}

// Executor runs workflows of one project.
type Executor struct {
	project  *project.Project
	baseline config.Execution
	runner   Runner
	log      *execlog.Log
	detector *staleness.Detector
	recorder Recorder
	logger   *slog.Logger
	newRunID func() string
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRecorder stores run history.
func WithRecorder(recorder Recorder) Option {
	return func(e *Executor) {
		e.recorder = recorder
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an Executor whose baseline settings come from cfg.
func New(proj *project.Project, cfg *config.Config, runner Runner, opts ...Option) *Executor {
	log := execlog.New(proj)
	e := &Executor{
		project:  proj,
		baseline: cfg.Execution,
		runner:   runner,
		log:      log,
		detector: staleness.New(proj, log),
		logger:   logging.NewNop(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "pipeline")
	return e
}

// invocation is the mutable state of one Run call.
type invocation struct {
	runID   string
	root    string
	opts    Options
	index   *project.Index
	scope   *config.Scope
	outputs map[string]DependencyOutput
	// blocked maps a workflow to the failed workflow that prevents it.
	blocked  map[string]string
	pending  map[string]bool
	failures map[string]error
	report   Report
}

// Run executes root after its dependencies. Graph errors abort before any
// workflow runs; run failures are collected into a *RunError.
func (e *Executor) Run(ctx context.Context, root string, opts Options) (Report, error) {
	if !opts.DryRun {
		lock := flock.New(e.project.LockPath())
		locked, err := lock.TryLock()
		if err != nil {
			return Report{}, fmt.Errorf("acquire project lock: %w", err)
		}
		if !locked {
			return Report{}, ErrLocked
		}
		defer func() { _ = lock.Unlock() }()
	}

	inv := &invocation{
		runID:    e.newRunID(),
		root:     root,
		opts:     opts,
		scope:    config.NewScope(e.baseline),
		outputs:  make(map[string]DependencyOutput),
		blocked:  make(map[string]string),
		pending:  make(map[string]bool),
		failures: make(map[string]error),
	}
	inv.report = Report{RunID: inv.runID, Root: root}
	ctx = services.WithRunID(ctx, inv.runID)
	logger := logging.WithContext(ctx, e.logger)

	index, err := e.project.Index()
	if err != nil {
		return inv.report, err
	}
	inv.index = index
	order, err := graph.ResolveOrder(index, root)
	if err != nil {
		return inv.report, err
	}
	inv.report.Order = order
	for _, name := range order {
		if _, err := index.Workflow(name); err != nil {
			return inv.report, services.Wrap(services.ErrConfiguration, name, "load workflow", "", err)
		}
	}

	logger.InfoContext(ctx, "pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.String("root", root),
		logging.Strings("order", order),
		logging.Bool("force", opts.Force),
		logging.Bool("dry_run", opts.DryRun),
	)
	e.beginHistory(ctx, inv)

	for i, name := range order {
		if ctx.Err() != nil {
			for _, rest := range order[i:] {
				inv.report.Nodes = append(inv.report.Nodes, NodeReport{Workflow: rest, Outcome: OutcomeCanceled})
			}
			break
		}
		node := e.visit(ctx, inv, name)
		inv.report.Nodes = append(inv.report.Nodes, node)
		e.recordHistory(ctx, inv, i, node)
	}

	runErr := e.finish(ctx, inv)
	e.finishHistory(ctx, inv, runErr)
	logger.InfoContext(ctx, "pipeline finished",
		logging.String(logging.FieldEventType, "pipeline_finish"),
		logging.Int("executed", inv.report.Count(OutcomeExecuted)),
		logging.Int("fresh", inv.report.Count(OutcomeFresh)),
		logging.Int("failed", inv.report.Count(OutcomeFailed)),
		logging.Int("skipped", inv.report.Count(OutcomeSkipped)),
	)
	return inv.report, runErr
}

func (e *Executor) finish(ctx context.Context, inv *invocation) error {
	if err := ctx.Err(); err != nil {
		for _, node := range inv.report.Nodes {
			if node.Outcome == OutcomeCanceled {
				return fmt.Errorf("pipeline canceled at %s: %w", node.Workflow, err)
			}
		}
		// The last workflow completed before cancellation was noticed.
		if len(inv.failures) == 0 {
			return nil
		}
	}
	if len(inv.failures) > 0 {
		return &RunError{Failures: inv.failures}
	}
	return nil
}

// visit handles one workflow: Baseline -> NodeActive -> Baseline.
func (e *Executor) visit(ctx context.Context, inv *invocation, name string) NodeReport {
	ctx = services.WithWorkflow(ctx, name)
	logger := logging.WithContext(ctx, e.logger)
	wf, _ := inv.index.Workflow(name)
	depNames := wf.DependsOn()

	for _, dep := range depNames {
		if cause, ok := inv.blocked[dep]; ok {
			inv.blocked[name] = cause
			logging.WarnWithContext(ctx, logger, "workflow skipped", "workflow_skipped",
				logging.String("blocked_by", cause),
				logging.String(logging.FieldImpact, "workflow output not refreshed"),
				logging.String(logging.FieldErrorHint, "fix the failed dependency and rerun"),
			)
			return NodeReport{Workflow: name, Outcome: OutcomeSkipped, BlockedBy: cause}
		}
	}

	settings, err := inv.scope.Apply(name, wf.Overrides)
	if err != nil {
		return e.fail(ctx, inv, NodeReport{Workflow: name},
			services.Wrap(services.ErrConfiguration, name, "apply overrides", "", err))
	}
	defer inv.scope.Reset()

	deps := make([]execlog.DependencyHash, 0, len(depNames))
	depOutputs := make([]DependencyOutput, 0, len(depNames))
	upstreamPending := false
	for _, dep := range depNames {
		out := inv.outputs[dep]
		deps = append(deps, execlog.DependencyHash{Workflow: dep, OutputHash: out.Hash})
		depOutputs = append(depOutputs, out)
		upstreamPending = upstreamPending || inv.pending[dep]
	}

	req := staleness.Request{Workflow: wf, Settings: settings, Dependencies: deps}
	decision, err := e.detector.Check(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return NodeReport{Workflow: name, Outcome: OutcomeCanceled, Err: err}
		}
		return e.fail(ctx, inv, NodeReport{Workflow: name}, err)
	}
	report := NodeReport{
		Workflow: name,
		Reasons:  decision.Reasons,
		Hash:     decision.Hash,
		FastPath: decision.FastPath,
	}

	stale := decision.Stale
	if inv.opts.Force && name == inv.root && !stale {
		stale = true
		report.Reasons = []staleness.Reason{staleness.ReasonForced}
	}
	if upstreamPending && !slices.Contains(report.Reasons, staleness.ReasonDependency) {
		stale = true
		report.Reasons = append(report.Reasons, staleness.ReasonDependency)
	}

	if !stale {
		out := DependencyOutput{
			Workflow: name,
			Path:     e.log.OutputAbs(decision.Previous),
			Hash:     decision.Previous.Output.Hash,
		}
		inv.outputs[name] = out
		report.Outcome = OutcomeFresh
		report.Output = out.Path
		logger.DebugContext(ctx, "workflow fresh",
			logging.String(logging.FieldEventType, "workflow_fresh"),
			logging.Bool("fast_path", decision.FastPath),
		)
		return report
	}

	if inv.opts.DryRun {
		inv.pending[name] = true
		if decision.HasPrevious {
			inv.outputs[name] = DependencyOutput{
				Workflow: name,
				Path:     e.log.OutputAbs(decision.Previous),
				Hash:     decision.Previous.Output.Hash,
			}
		}
		report.Outcome = OutcomePlanned
		return report
	}

	state := decision.State
	if state == nil {
		snap, err := e.detector.Snapshot(ctx, req)
		if err != nil {
			return e.fail(ctx, inv, report, err)
		}
		state = &snap
		report.Hash = snap.Hash
	}

	job := Job{
		RunID:        inv.runID,
		Workflow:     wf,
		Settings:     settings,
		Tracked:      state.Tracked,
		Dependencies: depOutputs,
		OutputPath:   e.project.OutputPath(name, settings.OutputFormat),
	}
	logger.InfoContext(ctx, "workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Strings("reasons", reasonStrings(report.Reasons)),
		logging.String("model", settings.Model),
	)
	started := time.Now()
	result, err := e.runner.Run(ctx, job)
	report.Duration = time.Since(started)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			report.Outcome = OutcomeCanceled
			report.Err = err
			logging.WarnWithContext(ctx, logger, "workflow canceled", "workflow_canceled",
				logging.String(logging.FieldImpact, "no execution record written"),
				logging.String(logging.FieldErrorHint, "rerun the pipeline"),
			)
			return report
		}
		return e.fail(ctx, inv, report, err)
	}
	report.Usage = result.Usage

	outputPath := result.OutputPath
	if outputPath == "" {
		outputPath = job.OutputPath
	}
	outputHash, err := fileutil.HashFile(outputPath)
	if err != nil {
		return e.fail(ctx, inv, report, fmt.Errorf("%w: %v", execlog.ErrOutputMissing, err))
	}
	output := execlog.FileHash{Path: e.project.Rel(outputPath), Hash: outputHash}
	if err := e.log.Write(state.Record(name, output, inv.runID)); err != nil {
		return e.fail(ctx, inv, report, err)
	}

	inv.outputs[name] = DependencyOutput{Workflow: name, Path: outputPath, Hash: outputHash}
	report.Outcome = OutcomeExecuted
	report.Output = outputPath
	logger.InfoContext(ctx, "workflow executed",
		logging.String(logging.FieldEventType, "workflow_complete"),
		logging.Duration("duration", report.Duration),
		logging.String("output", output.Path),
		logging.String("execution_hash", report.Hash),
	)
	return report
}

func (e *Executor) fail(ctx context.Context, inv *invocation, report NodeReport, err error) NodeReport {
	report.Outcome = OutcomeFailed
	report.Err = err
	inv.failures[report.Workflow] = err
	inv.blocked[report.Workflow] = report.Workflow
	logging.ErrorWithContext(ctx, logging.WithContext(ctx, e.logger), "workflow failed", "workflow_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "dependents are skipped; fix the error and rerun"),
	)
	return report
}

func reasonStrings(reasons []staleness.Reason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	return out
}

func (e *Executor) beginHistory(ctx context.Context, inv *invocation) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.BeginRun(ctx, history.Run{
		ID:     inv.runID,
		Root:   inv.root,
		Forced: inv.opts.Force,
		DryRun: inv.opts.DryRun,
	})
	if err != nil {
		e.historyWarning(ctx, err)
	}
}

func (e *Executor) recordHistory(ctx context.Context, inv *invocation, position int, node NodeReport) {
	if e.recorder == nil {
		return
	}
	entry := history.NodeRun{
		Position:      position,
		Workflow:      node.Workflow,
		Outcome:       string(node.Outcome),
		Reasons:       reasonStrings(node.Reasons),
		ExecutionHash: node.Hash,
		Duration:      node.Duration,
	}
	if node.Err != nil {
		entry.ErrorMessage = node.Err.Error()
		entry.FailureCategory = services.FailureCategory(node.Err)
	}
	if err := e.recorder.RecordNode(context.WithoutCancel(ctx), inv.runID, entry); err != nil {
		e.historyWarning(ctx, err)
	}
}

func (e *Executor) finishHistory(ctx context.Context, inv *invocation, runErr error) {
	if e.recorder == nil {
		return
	}
	status := history.StatusSucceeded
	message := ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		status = history.StatusCanceled
		message = runErr.Error()
	default:
		status = history.StatusFailed
		message = runErr.Error()
	}
	if err := e.recorder.FinishRun(context.WithoutCancel(ctx), inv.runID, status, message); err != nil {
		e.historyWarning(ctx, err)
	}
}

func (e *Executor) historyWarning(ctx context.Context, err error) {
	logging.WarnWithContext(ctx, logging.WithContext(ctx, e.logger), "run history update failed", "history_write_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "run is missing from promptloom history"),
		logging.String(logging.FieldErrorHint, "check permissions on cache/history.db"),
	)
}
