package services

import "context"

type contextKey string

const (
	runIDKey    contextKey = "run_id"
	workflowKey contextKey = "workflow"
)

// WithRunID annotates context with the pipeline invocation identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the pipeline invocation identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWorkflow annotates context with the workflow being processed.
func WithWorkflow(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, workflowKey, name)
}

// WorkflowFromContext returns the workflow name if present.
func WorkflowFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(workflowKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
