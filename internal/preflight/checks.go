package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"promptloom/internal/config"
	"promptloom/internal/deps"
	"promptloom/internal/graph"
	"promptloom/internal/project"
	"promptloom/internal/services/llm"
)

// CheckLLM verifies that the model API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg *config.Config) Result {
	if cfg.LLM.APIKey == "" {
		return Result{Name: name, Detail: "API key missing (set llm.api_key or PROMPTLOOM_API_KEY)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	}, llm.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx, cfg.Execution.Model); err != nil {
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("API reachable (%s)", cfg.Execution.Model)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckWorkflows loads every workflow and resolves its dependency graph.
// The first problem found is reported.
func CheckWorkflows(proj *project.Project) Result {
	const name = "Workflows"

	index, err := proj.Index()
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	names := index.Names()
	if len(names) == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("no workflows under %s", proj.RunDir())}
	}
	for _, wf := range names {
		loaded, err := index.Workflow(wf)
		if err != nil {
			return Result{Name: name, Detail: err.Error()}
		}
		if loaded.TaskPath == "" {
			return Result{Name: name, Detail: fmt.Sprintf("workflow %s has no task file", wf)}
		}
		if _, err := graph.ResolveOrder(index, wf); err != nil {
			return Result{Name: name, Detail: err.Error()}
		}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d workflows, dependency graph ok", len(names))}
}

// CheckConversionTools evaluates the conversion binaries named in cfg.
func CheckConversionTools(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.ConversionRequirements(cfg))
}

// summarizeLLMError produces a human-readable summary for LLM health check failures.
func summarizeLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (model API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (model API unreachable)"
	}
	return err.Error()
}
