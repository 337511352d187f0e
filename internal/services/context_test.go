package services_test

import (
	"context"
	"testing"

	"promptloom/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-123")
	ctx = services.WithWorkflow(ctx, "summary")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-123" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if name, ok := services.WorkflowFromContext(ctx); !ok || name != "summary" {
		t.Fatalf("unexpected workflow: %v %v", name, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := services.WithWorkflow(context.Background(), "")
	if _, ok := services.WorkflowFromContext(ctx); ok {
		t.Fatal("expected no workflow value")
	}
	ctx = services.WithRunID(ctx, "")
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("expected no run id value")
	}
}
