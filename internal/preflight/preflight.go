package preflight

import (
	"context"

	"promptloom/internal/config"
	"promptloom/internal/project"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Optional checks never fail the overall run.
	Optional bool
	Detail   string
}

// RunAll executes every preflight check. The model API is only contacted
// when online is true.
func RunAll(ctx context.Context, cfg *config.Config, proj *project.Project, online bool) []Result {
	if cfg == nil || proj == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Project directory", proj.Root),
		CheckWorkflows(proj),
	}
	for _, status := range CheckConversionTools(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional, Detail: status.Command}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	if online {
		results = append(results, CheckLLM(ctx, "Model API", cfg))
	}
	return results
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}
