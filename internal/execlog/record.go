package execlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"promptloom/internal/fileutil"
	"promptloom/internal/project"
)

// Version is the record schema version. Records with any other version are
// treated as absent.
const Version = 1

// ErrOutputMissing is returned by Write when the output artifact does not
// exist.
var ErrOutputMissing = errors.New("output artifact missing")

// FileHash is one tracked file.
type FileHash struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// DependencyHash is the output hash a dependency had when this run happened.
type DependencyHash struct {
	Workflow   string `json:"workflow"`
	OutputHash string `json:"output_hash"`
}

// Record is the persisted proof of a successful run.
type Record struct {
	Version       int               `json:"version"`
	Workflow      string            `json:"workflow"`
	ExecutedAt    time.Time         `json:"executed_at"`
	ExecutionHash string            `json:"execution_hash"`
	RunID         string            `json:"run_id,omitempty"`
	Context       []FileHash        `json:"context"`
	Input         []FileHash        `json:"input"`
	DependsOn     []DependencyHash  `json:"depends_on"`
	Output        FileHash          `json:"output"`
	Task          FileHash          `json:"task"`
	Config        map[string]string `json:"config"`
}

// Log reads and writes records for one project.
type Log struct {
	// PathFor maps a workflow name to its record path.
	PathFor func(workflow string) string
	// Resolve maps a recorded (project-relative) output path to disk.
	Resolve func(path string) string
}

// New returns a Log rooted at proj.
func New(proj *project.Project) *Log {
	return &Log{
		PathFor: proj.RecordPath,
		Resolve: func(path string) string {
			abs, err := proj.Abs(path)
			if err != nil {
				return path
			}
			return abs
		},
	}
}

// Read loads the record for workflow. ok is false when the record is
// missing, unreadable, unparsable, or of another schema version. Only a
// permission failure returns an error.
func (l *Log) Read(workflow string) (Record, bool, error) {
	data, err := os.ReadFile(l.PathFor(workflow))
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return Record{}, false, fmt.Errorf("read execution record %s: %w", workflow, err)
		}
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, nil
	}
	if rec.Version != Version || rec.Workflow != workflow || strings.TrimSpace(rec.ExecutionHash) == "" {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Write replaces the record for rec.Workflow. The output artifact must
// already exist.
func (l *Log) Write(rec Record) error {
	if strings.TrimSpace(rec.Workflow) == "" {
		return errors.New("execution record: workflow required")
	}
	if strings.TrimSpace(rec.Output.Path) == "" {
		return fmt.Errorf("execution record %s: %w", rec.Workflow, ErrOutputMissing)
	}
	info, err := os.Stat(l.resolve(rec.Output.Path))
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("execution record %s: %w: %s", rec.Workflow, ErrOutputMissing, rec.Output.Path)
	}

	rec.Version = Version
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now()
	}
	rec.ExecutedAt = rec.ExecutedAt.UTC()
	if rec.Context == nil {
		rec.Context = []FileHash{}
	}
	if rec.Input == nil {
		rec.Input = []FileHash{}
	}
	if rec.DependsOn == nil {
		rec.DependsOn = []DependencyHash{}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode execution record: %w", err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(l.PathFor(rec.Workflow), data, 0o644); err != nil {
		return fmt.Errorf("write execution record %s: %w", rec.Workflow, err)
	}
	return nil
}

// OutputExists reports whether the record's output artifact is on disk.
func (l *Log) OutputExists(rec Record) bool {
	if strings.TrimSpace(rec.Output.Path) == "" {
		return false
	}
	info, err := os.Stat(l.resolve(rec.Output.Path))
	return err == nil && info.Mode().IsRegular()
}

// OutputAbs resolves the record's output path.
func (l *Log) OutputAbs(rec Record) string {
	return l.resolve(rec.Output.Path)
}

func (l *Log) resolve(path string) string {
	if l.Resolve == nil {
		return path
	}
	return l.Resolve(path)
}
