package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"promptloom/internal/project"
)

// NewProject creates an empty project in a temp directory.
func NewProject(t testing.TB) *project.Project {
	t.Helper()

	proj, err := project.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open project: %v", err)
	}
	return proj
}

// WriteWorkflow creates run/<name>/ with the given config body and task
// text. Extra config lines are appended verbatim after depends_on.
func WriteWorkflow(t testing.TB, proj *project.Project, name string, dependsOn []string, task string, extraConfig ...string) {
	t.Helper()

	dir := proj.WorkflowDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir workflow %s: %v", name, err)
	}
	var b strings.Builder
	b.WriteString("depends_on = [")
	for i, dep := range dependsOn {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(`"` + dep + `"`)
	}
	b.WriteString("]\n")
	for _, line := range extraConfig {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, project.ConfigFileName), []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "task.md"), []byte(task), 0o644); err != nil {
		t.Fatalf("write task %s: %v", name, err)
	}
}

// WriteText writes content to a project-relative path, creating parents.
func WriteText(t testing.TB, proj *project.Project, rel, content string) string {
	t.Helper()

	path := filepath.Join(proj.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
