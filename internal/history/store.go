package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Status is the overall state of a pipeline invocation.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Run is one pipeline invocation.
type Run struct {
	ID           string     `json:"id"`
	Root         string     `json:"root"`
	Status       Status     `json:"status"`
	Forced       bool       `json:"forced"`
	DryRun       bool       `json:"dry_run"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Nodes        []NodeRun  `json:"nodes,omitempty"`
}

// NodeRun is the outcome of one workflow within a run.
type NodeRun struct {
	Position      int           `json:"position"`
	Workflow      string        `json:"workflow"`
	Outcome       string        `json:"outcome"`
	Reasons       []string      `json:"reasons,omitempty"`
	ExecutionHash string        `json:"execution_hash,omitempty"`
	Duration      time.Duration `json:"duration"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	// FailureCategory classifies a failed node, e.g. "external_tool".
	FailureCategory string `json:"failure_category,omitempty"`
}

// BeginRun inserts a run in the running state.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if _, err := s.write(ctx,
		`INSERT INTO runs (id, root, status, forced, dry_run, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Root, string(StatusRunning), boolToInt(run.Forced), boolToInt(run.DryRun),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordNode stores the outcome of one workflow.
func (s *Store) RecordNode(ctx context.Context, runID string, node NodeRun) error {
	if _, err := s.write(ctx,
		`INSERT OR REPLACE INTO node_runs
			(run_id, position, workflow, outcome, reasons, execution_hash, duration_ms, error_message, failure_category)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, node.Position, node.Workflow, node.Outcome, strings.Join(node.Reasons, ","),
		nullString(node.ExecutionHash), node.Duration.Milliseconds(), nullString(node.ErrorMessage),
		nullString(node.FailureCategory),
	); err != nil {
		return fmt.Errorf("record node: %w", err)
	}
	return nil
}

// FinishRun stamps the final status of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, status Status, errMessage string) error {
	if _, err := s.write(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		string(status), nullString(errMessage), time.Now().UTC().Format(time.RFC3339Nano), runID,
	); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, with their nodes.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, root, status, forced, dry_run, error_message, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run            Run
			status         string
			forced, dryRun int
			errMessage     sql.NullString
			startedAt      string
			finishedAt     sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Root, &status, &forced, &dryRun, &errMessage, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = Status(status)
		run.Forced = forced != 0
		run.DryRun = dryRun != 0
		run.ErrorMessage = errMessage.String
		run.StartedAt = parseTime(startedAt)
		if finishedAt.Valid {
			ts := parseTime(finishedAt.String)
			run.FinishedAt = &ts
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for i := range runs {
		nodes, err := s.NodeRuns(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Nodes = nodes
	}
	return runs, nil
}

// NodeRuns returns the workflows of one run in execution order.
func (s *Store) NodeRuns(ctx context.Context, runID string) ([]NodeRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, workflow, outcome, reasons, execution_hash, duration_ms, error_message, failure_category
		 FROM node_runs WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query node runs: %w", err)
	}
	defer rows.Close()

	var nodes []NodeRun
	for rows.Next() {
		var (
			node       NodeRun
			reasons    sql.NullString
			hash       sql.NullString
			durationMS int64
			errMessage sql.NullString
			category   sql.NullString
		)
		if err := rows.Scan(&node.Position, &node.Workflow, &node.Outcome, &reasons, &hash, &durationMS, &errMessage, &category); err != nil {
			return nil, fmt.Errorf("scan node run: %w", err)
		}
		if reasons.String != "" {
			node.Reasons = strings.Split(reasons.String, ",")
		}
		node.ExecutionHash = hash.String
		node.Duration = time.Duration(durationMS) * time.Millisecond
		node.ErrorMessage = errMessage.String
		node.FailureCategory = category.String
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.write(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return removed, nil
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
