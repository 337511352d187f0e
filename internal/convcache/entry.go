package convcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"promptloom/internal/fileutil"
)

// SkippedHash is recorded instead of a content hash for sources above the
// hash threshold.
const SkippedHash = "skipped"

const metaSuffix = ".meta"

// Entry describes one cached conversion. The JSON fields form the sidecar.
type Entry struct {
	SourcePath     string    `json:"source_path"`
	SourceMtime    time.Time `json:"source_mtime"`
	SourceSize     int64     `json:"source_size"`
	SourceHash     string    `json:"source_hash"`
	ConversionType string    `json:"conversion_type"`

	ArtifactPath string `json:"-"`
}

// MetaPath is the sidecar location.
func (e Entry) MetaPath() string { return e.ArtifactPath + metaSuffix }

// HashRecorded reports whether the entry carries a real content hash.
func (e Entry) HashRecorded() bool {
	return e.SourceHash != "" && e.SourceHash != SkippedHash
}

// IDFor returns the cache identity of source: a digest of its cleaned
// absolute path with symlinks resolved when possible.
func IDFor(source string) (string, error) {
	canonical, err := canonicalPath(source)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:32], nil
}

func canonicalPath(source string) (string, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// newEntry captures the source's current state. threshold < 0 hashes every
// source.
func newEntry(source, kind, artifact string, threshold int64) (Entry, error) {
	info, err := os.Stat(source)
	if err != nil {
		return Entry{}, fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Entry{}, fmt.Errorf("source %s is not a regular file", source)
	}
	entry := Entry{
		SourcePath:     source,
		SourceMtime:    info.ModTime().UTC(),
		SourceSize:     info.Size(),
		SourceHash:     SkippedHash,
		ConversionType: kind,
		ArtifactPath:   artifact,
	}
	if threshold < 0 || info.Size() <= threshold {
		sum, err := fileutil.HashFile(source)
		if err != nil {
			return Entry{}, err
		}
		entry.SourceHash = sum
	}
	return entry, nil
}

// ReadMetadata loads the sidecar of artifact. ok is false when the sidecar
// is missing or unreadable.
func ReadMetadata(artifact string) (Entry, bool) {
	data, err := os.ReadFile(artifact + metaSuffix)
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false
	}
	entry.ArtifactPath = artifact
	return entry, true
}

// WriteMetadata atomically replaces the sidecar of entry.
func WriteMetadata(entry Entry) error {
	tmp, err := writeMetadataTemp(entry)
	if err != nil {
		return err
	}
	if err := fileutil.Commit(tmp, entry.MetaPath()); err != nil {
		return fmt.Errorf("commit cache metadata: %w", err)
	}
	return nil
}

func writeMetadataTemp(entry Entry) (string, error) {
	if entry.ArtifactPath == "" {
		return "", errors.New("cache metadata: artifact path required")
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode cache metadata: %w", err)
	}
	tmp, err := fileutil.WriteTemp(entry.MetaPath(), append(data, '\n'), 0o644)
	if err != nil {
		return "", fmt.Errorf("write cache metadata: %w", err)
	}
	return tmp, nil
}

// Validate reports whether entry may be reused. The source and both cache
// files must exist and the size must be unchanged. Entries with a recorded
// content hash are valid only while that hash still matches, regardless of
// mtime. Sentinel entries fail on any mtime change.
func Validate(entry Entry) bool {
	ok, _ := validate(entry)
	return ok
}

// validate also reports whether the source mtime moved while content stayed
// the same, in which case the sidecar should be refreshed.
func validate(entry Entry) (valid, touched bool) {
	info, err := os.Stat(entry.SourcePath)
	if err != nil || !info.Mode().IsRegular() {
		return false, false
	}
	if !fileExists(entry.ArtifactPath) || !fileExists(entry.MetaPath()) {
		return false, false
	}
	if info.Size() != entry.SourceSize {
		return false, false
	}
	sameMtime := info.ModTime().Equal(entry.SourceMtime)
	if !entry.HashRecorded() {
		return sameMtime, false
	}
	sum, err := fileutil.HashFile(entry.SourcePath)
	if err != nil || sum != entry.SourceHash {
		return false, false
	}
	return true, !sameMtime
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
