package execlog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"promptloom/internal/project"
)

func newTestLog(t *testing.T) (*Log, *project.Project) {
	t.Helper()
	proj, err := project.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open project: %v", err)
	}
	if err := os.MkdirAll(proj.WorkflowDir("summary"), 0o755); err != nil {
		t.Fatal(err)
	}
	return New(proj), proj
}

func writeOutput(t *testing.T, proj *project.Project, name string) string {
	t.Helper()
	path := proj.OutputPath(name, "md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("result"), 0o644); err != nil {
		t.Fatal(err)
	}
	return proj.Rel(path)
}

func TestReadMissingIsAbsent(t *testing.T) {
	log, _ := newTestLog(t)
	rec, ok, err := log.Read("summary")
	if err != nil || ok {
		t.Fatalf("expected absent record, got %+v ok=%v err=%v", rec, ok, err)
	}
}

func TestUnreadableRecordIsAbsent(t *testing.T) {
	log, proj := newTestLog(t)
	if err := os.MkdirAll(proj.RecordPath("summary"), 0o755); err != nil {
		t.Fatal(err)
	}
	rec, ok, err := log.Read("summary")
	if err != nil || ok {
		t.Fatalf("directory in place of the record should read as absent, got %+v ok=%v err=%v", rec, ok, err)
	}
}

func TestWriteThenRead(t *testing.T) {
	log, proj := newTestLog(t)
	out := writeOutput(t, proj, "summary")
	executedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	err := log.Write(Record{
		Workflow:      "summary",
		ExecutedAt:    executedAt,
		ExecutionHash: "0123456789abcdef0123456789abcdef",
		Context:       []FileHash{{Path: "notes/a.txt", Hash: "aa"}},
		DependsOn:     []DependencyHash{{Workflow: "extract", OutputHash: "bb"}},
		Output:        FileHash{Path: out, Hash: "cc"},
		Task:          FileHash{Path: "run/summary/task.md", Hash: "dd"},
		Config:        map[string]string{"model": "m"},
	})
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	rec, ok, err := log.Read("summary")
	if err != nil || !ok {
		t.Fatalf("Read failed: ok=%v err=%v", ok, err)
	}
	if rec.Version != Version || rec.ExecutionHash != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.ExecutedAt.Equal(executedAt) || rec.ExecutedAt.Location() != time.UTC {
		t.Fatalf("executed_at not normalized to UTC: %v", rec.ExecutedAt)
	}
	if rec.Input == nil || len(rec.Input) != 0 {
		t.Fatalf("expected empty input list, got %#v", rec.Input)
	}
	if !log.OutputExists(rec) {
		t.Fatal("expected output to exist")
	}
}

func TestWriteRefusesMissingOutput(t *testing.T) {
	log, proj := newTestLog(t)
	err := log.Write(Record{
		Workflow:      "summary",
		ExecutionHash: "x",
		Output:        FileHash{Path: proj.Rel(proj.OutputPath("summary", "md"))},
	})
	if !errors.Is(err, ErrOutputMissing) {
		t.Fatalf("expected ErrOutputMissing, got %v", err)
	}
	if _, err := os.Stat(proj.RecordPath("summary")); !os.IsNotExist(err) {
		t.Fatalf("record should not exist, stat err=%v", err)
	}
}

func TestCorruptOrForeignRecordsAreAbsent(t *testing.T) {
	log, proj := newTestLog(t)
	cases := map[string]string{
		"garbage":       "{not json",
		"wrong version": `{"version": 99, "workflow": "summary", "execution_hash": "abc"}`,
		"wrong name":    `{"version": 1, "workflow": "other", "execution_hash": "abc"}`,
		"no hash":       `{"version": 1, "workflow": "summary"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(proj.RecordPath("summary"), []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, ok, err := log.Read("summary")
			if err != nil {
				t.Fatalf("corrupt record must not be fatal: %v", err)
			}
			if ok {
				t.Fatal("corrupt record reported as present")
			}
		})
	}
}

func TestOutputExistsAfterDelete(t *testing.T) {
	log, proj := newTestLog(t)
	out := writeOutput(t, proj, "summary")
	rec := Record{Workflow: "summary", ExecutionHash: "h", Output: FileHash{Path: out}}
	if err := log.Write(rec); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := os.Remove(log.OutputAbs(rec)); err != nil {
		t.Fatal(err)
	}
	if log.OutputExists(rec) {
		t.Fatal("expected output to be reported missing")
	}
}
