package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"promptloom/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckWorkflows(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		proj := testsupport.NewProject(t)
		if result := CheckWorkflows(proj); result.Passed {
			t.Fatal("expected failure without workflows")
		}
	})
	t.Run("healthy", func(t *testing.T) {
		proj := testsupport.NewProject(t)
		testsupport.WriteWorkflow(t, proj, "a", nil, "a")
		testsupport.WriteWorkflow(t, proj, "b", []string{"a"}, "b")
		result := CheckWorkflows(proj)
		if !result.Passed || !strings.HasPrefix(result.Detail, "2 workflows") {
			t.Fatalf("unexpected result %+v", result)
		}
	})
	t.Run("cycle", func(t *testing.T) {
		proj := testsupport.NewProject(t)
		testsupport.WriteWorkflow(t, proj, "a", []string{"b"}, "a")
		testsupport.WriteWorkflow(t, proj, "b", []string{"a"}, "b")
		result := CheckWorkflows(proj)
		if result.Passed || !strings.Contains(result.Detail, "cycle") {
			t.Fatalf("expected cycle failure, got %+v", result)
		}
	})
	t.Run("bad config", func(t *testing.T) {
		proj := testsupport.NewProject(t)
		testsupport.WriteWorkflow(t, proj, "a", nil, "a", `tempurature = 1`)
		if result := CheckWorkflows(proj); result.Passed {
			t.Fatal("expected failure for unknown config key")
		}
	})
}

func TestCheckLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": `{"ok":true}`}}},
		})
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithBaseURL(srv.URL))
	if result := CheckLLM(context.Background(), "Model API", cfg); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	missing := testsupport.NewConfig(t, testsupport.WithAPIKey(""))
	if result := CheckLLM(context.Background(), "Model API", missing); result.Passed {
		t.Fatal("expected failure for missing key")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil, false); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_OfflineWithMissingTools(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "only", nil, "task")
	cfg := testsupport.NewConfig(t)
	cfg.Tools.Soffice = "promptloom-missing-soffice"
	cfg.Tools.Magick = "promptloom-missing-magick"

	results := RunAll(context.Background(), cfg, proj, false)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if r.Name == "Model API" {
			t.Fatal("offline run must not contact the model API")
		}
	}
	if results[2].Passed || !results[2].Optional {
		t.Fatalf("missing tool should be an optional failure: %+v", results[2])
	}
	if Failed(results) {
		t.Fatalf("optional failures must not fail the run: %+v", results)
	}
}

func TestRunAll_StubbedTools(t *testing.T) {
	proj := testsupport.NewProject(t)
	testsupport.WriteWorkflow(t, proj, "only", nil, "task")
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(""))

	for _, r := range RunAll(context.Background(), cfg, proj, false) {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}
