package convcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"promptloom/internal/fileutil"
	"promptloom/internal/logging"
)

// ErrToolUnavailable is returned when a converter's external binary cannot
// be found. Callers skip the artifact rather than fail.
var ErrToolUnavailable = errors.New("conversion tool unavailable")

const (
	lockSuffix     = ".lock"
	lockRetryDelay = 25 * time.Millisecond
)

// Converter produces one artifact kind from a source file.
type Converter interface {
	// Kind names the cache subdirectory and the sidecar conversion_type.
	Kind() string
	// Ext is the artifact extension for source, without a dot.
	Ext(source string) string
	// Convert writes the artifact for source to dest.
	Convert(ctx context.Context, source, dest string) error
}

// Result is a usable cached artifact.
type Result struct {
	Path  string
	Hit   bool
	Entry Entry
}

// Cache is a conversion cache rooted at one directory.
type Cache struct {
	root      string
	threshold int64
	logger    *slog.Logger
}

// New returns a cache rooted at root. Sources larger than threshold bytes
// record no content hash; a negative threshold hashes every source.
func New(root string, threshold int64, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		root:      root,
		threshold: threshold,
		logger:    logging.NewComponentLogger(logger, "convcache"),
	}
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

// ArtifactPath returns the slot location for source under conv.
func (c *Cache) ArtifactPath(conv Converter, source string) (string, error) {
	id, err := IDFor(source)
	if err != nil {
		return "", err
	}
	name := id
	if ext := strings.TrimPrefix(conv.Ext(source), "."); ext != "" {
		name += "." + ext
	}
	return filepath.Join(c.root, conv.Kind(), name), nil
}

// Convert returns a valid artifact for source, converting only when the
// slot is missing or invalid. The slot stays exclusively locked for the
// whole check-convert-commit sequence.
func (c *Cache) Convert(ctx context.Context, conv Converter, source string) (Result, error) {
	canonical, err := canonicalPath(source)
	if err != nil {
		return Result{}, err
	}
	artifact, err := c.ArtifactPath(conv, canonical)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		return Result{}, fmt.Errorf("create cache dir: %w", err)
	}

	lock := flock.New(artifact + lockSuffix)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return Result{}, fmt.Errorf("lock cache slot: %w", err)
	}
	if !locked {
		return Result{}, fmt.Errorf("lock cache slot: %s busy", artifact)
	}
	defer func() { _ = lock.Unlock() }()

	if entry, ok := ReadMetadata(artifact); ok && entry.SourcePath == canonical && entry.ConversionType == conv.Kind() {
		valid, touched := validate(entry)
		if valid {
			if touched {
				c.refresh(ctx, entry)
			}
			c.logger.DebugContext(ctx, "conversion cache hit",
				logging.String("kind", conv.Kind()),
				logging.String("source", canonical),
			)
			return Result{Path: artifact, Hit: true, Entry: entry}, nil
		}
	}

	entry, err := newEntry(canonical, conv.Kind(), artifact, c.threshold)
	if err != nil {
		return Result{}, err
	}
	tmpArtifact, err := c.runConverter(ctx, conv, canonical, artifact)
	if err != nil {
		return Result{}, err
	}
	tmpMeta, err := writeMetadataTemp(entry)
	if err != nil {
		_ = os.Remove(tmpArtifact)
		return Result{}, err
	}
	if err := fileutil.Commit(tmpArtifact, artifact); err != nil {
		_ = os.Remove(tmpMeta)
		return Result{}, fmt.Errorf("commit cache artifact: %w", err)
	}
	if err := fileutil.Commit(tmpMeta, entry.MetaPath()); err != nil {
		return Result{}, fmt.Errorf("commit cache metadata: %w", err)
	}

	c.logger.InfoContext(ctx, "conversion cached",
		logging.String("kind", conv.Kind()),
		logging.String("source", canonical),
		logging.Int64("source_size", entry.SourceSize),
		logging.Bool("content_hashed", entry.HashRecorded()),
	)
	return Result{Path: artifact, Entry: entry}, nil
}

func (c *Cache) runConverter(ctx context.Context, conv Converter, source, artifact string) (string, error) {
	dir := filepath.Dir(artifact)
	ext := filepath.Ext(artifact)
	tmp, err := os.CreateTemp(dir, strings.TrimSuffix(filepath.Base(artifact), ext)+".tmp.*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	_ = tmp.Close()

	if err := conv.Convert(ctx, source, tmpName); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	info, err := os.Stat(tmpName)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%s conversion of %s produced no output", conv.Kind(), source)
	}
	f, err := os.Open(tmpName)
	if err == nil {
		err = f.Sync()
		_ = f.Close()
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("sync temp artifact: %w", err)
	}
	return tmpName, nil
}

// refresh records the source's new mtime after a successful hash
// revalidation so the next check takes the cheap path.
func (c *Cache) refresh(ctx context.Context, entry Entry) {
	info, err := os.Stat(entry.SourcePath)
	if err != nil {
		return
	}
	entry.SourceMtime = info.ModTime().UTC()
	if err := WriteMetadata(entry); err != nil {
		logging.WarnWithContext(ctx, c.logger, "conversion cache metadata refresh failed", "cache_refresh_failed",
			logging.String("source", entry.SourcePath),
			logging.Error(err),
		)
	}
}

// Lookup returns the cached artifact for source if it is currently valid. It
// never converts and holds only a shared lock.
func (c *Cache) Lookup(ctx context.Context, conv Converter, source string) (Result, bool, error) {
	canonical, err := canonicalPath(source)
	if err != nil {
		return Result{}, false, err
	}
	artifact, err := c.ArtifactPath(conv, canonical)
	if err != nil {
		return Result{}, false, err
	}
	if _, err := os.Stat(filepath.Dir(artifact)); err != nil {
		return Result{}, false, nil
	}

	lock := flock.New(artifact + lockSuffix)
	locked, err := lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return Result{}, false, fmt.Errorf("lock cache slot: %w", err)
	}
	if !locked {
		return Result{}, false, nil
	}
	defer func() { _ = lock.Unlock() }()

	entry, ok := ReadMetadata(artifact)
	if !ok || entry.SourcePath != canonical || entry.ConversionType != conv.Kind() || !Validate(entry) {
		return Result{}, false, nil
	}
	return Result{Path: artifact, Hit: true, Entry: entry}, true, nil
}

// KindStats summarizes one conversion kind.
type KindStats struct {
	Kind    string `json:"kind"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// Stats summarizes the whole cache.
type Stats struct {
	Root    string      `json:"root"`
	Entries int         `json:"entries"`
	Bytes   int64       `json:"bytes"`
	Kinds   []KindStats `json:"kinds"`
}

// Stats walks the cache and counts committed entries per kind.
func (c *Cache) Stats() (Stats, error) {
	stats := Stats{Root: c.root, Kinds: []KindStats{}}
	kinds, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("read cache dir: %w", err)
	}
	for _, kindDir := range kinds {
		if !kindDir.IsDir() {
			continue
		}
		ks := KindStats{Kind: kindDir.Name()}
		files, err := os.ReadDir(filepath.Join(c.root, kindDir.Name()))
		if err != nil {
			return stats, fmt.Errorf("read cache dir: %w", err)
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || strings.HasSuffix(name, lockSuffix) || strings.Contains(name, ".tmp.") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			ks.Bytes += info.Size()
			if strings.HasSuffix(name, metaSuffix) {
				ks.Entries++
			}
		}
		stats.Kinds = append(stats.Kinds, ks)
		stats.Entries += ks.Entries
		stats.Bytes += ks.Bytes
	}
	sort.Slice(stats.Kinds, func(i, j int) bool { return stats.Kinds[i].Kind < stats.Kinds[j].Kind })
	return stats, nil
}

// Clear removes every entry of kind, or the whole cache when kind is empty.
// It returns the number of entries removed.
func (c *Cache) Clear(kind string) (int, error) {
	stats, err := c.Stats()
	if err != nil {
		return 0, err
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		if err := os.RemoveAll(c.root); err != nil {
			return 0, fmt.Errorf("clear cache: %w", err)
		}
		return stats.Entries, nil
	}
	if strings.ContainsAny(kind, `/\`) || kind == "." || kind == ".." {
		return 0, fmt.Errorf("invalid cache kind %q", kind)
	}
	removed := 0
	for _, ks := range stats.Kinds {
		if ks.Kind == kind {
			removed = ks.Entries
		}
	}
	if err := os.RemoveAll(filepath.Join(c.root, kind)); err != nil {
		return 0, fmt.Errorf("clear cache kind %s: %w", kind, err)
	}
	return removed, nil
}
