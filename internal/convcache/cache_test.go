package convcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"promptloom/internal/testsupport"
)

type fakeConverter struct {
	kind  string
	calls atomic.Int32
}

func (f *fakeConverter) Kind() string      { return f.kind }
func (f *fakeConverter) Ext(string) string { return "out" }
func (f *fakeConverter) Convert(_ context.Context, source, dest string) error {
	f.calls.Add(1)
	return os.WriteFile(dest, []byte("converted "+filepath.Base(source)), 0o644)
}

func newTestCache(t *testing.T, thresholdMiB int64) (*Cache, string) {
	t.Helper()
	base := t.TempDir()
	return New(filepath.Join(base, "cache"), thresholdMiB<<20, nil), base
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustConvert(t *testing.T, c *Cache, conv Converter, source string) Result {
	t.Helper()
	res, err := c.Convert(context.Background(), conv, source)
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	return res
}

func TestIDForIsPathBased(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "a.txt", "same")
	b := writeSource(t, dir, "b.txt", "same")
	idA, err := IDFor(a)
	if err != nil {
		t.Fatal(err)
	}
	idB, _ := IDFor(b)
	if idA == idB {
		t.Fatal("different paths must not share an id")
	}
	again, _ := IDFor(filepath.Join(dir, ".", "a.txt"))
	if again != idA || len(idA) != 32 {
		t.Fatalf("unstable id: %s vs %s", again, idA)
	}

	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(a, link); err == nil {
		if viaLink, _ := IDFor(link); viaLink != idA {
			t.Fatal("symlink should resolve to the target's id")
		}
	}
}

func TestConvertReusesValidEntry(t *testing.T) {
	c, dir := newTestCache(t, 10)
	conv := &fakeConverter{kind: "pdf"}
	source := writeSource(t, dir, "report.docx", "quarterly numbers")

	first := mustConvert(t, c, conv, source)
	if first.Hit {
		t.Fatal("first conversion cannot be a hit")
	}
	if _, err := os.Stat(first.Entry.MetaPath()); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	second := mustConvert(t, c, conv, source)
	if !second.Hit || second.Path != first.Path {
		t.Fatalf("expected cache hit on same path, got %+v", second)
	}
	if conv.calls.Load() != 1 {
		t.Fatalf("converter ran %d times, want 1", conv.calls.Load())
	}

	entries, err := os.ReadDir(filepath.Dir(first.Path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Fatalf("unexpected leftover %s", e.Name())
		}
	}
}

func TestValidateInvalidation(t *testing.T) {
	c, dir := newTestCache(t, 10)
	conv := &fakeConverter{kind: "pdf"}

	t.Run("untouched", func(t *testing.T) {
		source := writeSource(t, dir, "a.docx", "alpha")
		res := mustConvert(t, c, conv, source)
		if !Validate(res.Entry) {
			t.Fatal("untouched entry should validate")
		}
	})

	t.Run("source deleted", func(t *testing.T) {
		source := writeSource(t, dir, "b.docx", "beta")
		res := mustConvert(t, c, conv, source)
		if err := os.Remove(source); err != nil {
			t.Fatal(err)
		}
		if Validate(res.Entry) {
			t.Fatal("entry for deleted source must not validate")
		}
	})

	t.Run("sidecar deleted", func(t *testing.T) {
		source := writeSource(t, dir, "c.docx", "gamma")
		res := mustConvert(t, c, conv, source)
		if err := os.Remove(res.Entry.MetaPath()); err != nil {
			t.Fatal(err)
		}
		if Validate(res.Entry) {
			t.Fatal("entry without sidecar must not validate")
		}
	})

	t.Run("content changed with mtime forced unchanged", func(t *testing.T) {
		source := writeSource(t, dir, "d.docx", "delta")
		res := mustConvert(t, c, conv, source)
		mtime := res.Entry.SourceMtime

		if err := os.WriteFile(source, []byte("deltas"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(source, mtime, mtime); err != nil {
			t.Fatal(err)
		}
		if Validate(res.Entry) {
			t.Fatal("resized content must not validate")
		}

		if err := os.WriteFile(source, []byte("DELTA"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(source, mtime, mtime); err != nil {
			t.Fatal(err)
		}
		if Validate(res.Entry) {
			t.Fatal("same-size edit with unchanged mtime must not validate")
		}

		calls := conv.calls.Load()
		again := mustConvert(t, c, conv, source)
		if again.Hit || conv.calls.Load() != calls+1 {
			t.Fatalf("expected reconversion of edited source, hit=%v calls=%d", again.Hit, conv.calls.Load())
		}
	})
}

func TestSmallAndLargeSources(t *testing.T) {
	c, dir := newTestCache(t, 10)
	conv := &fakeConverter{kind: "pdf"}

	small := filepath.Join(dir, "small.docx")
	testsupport.WriteFile(t, small, 200*1024)
	large := filepath.Join(dir, "large.docx")
	f, err := os.Create(large)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(50 << 20); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	old := time.Now().Add(-time.Hour)
	for _, p := range []string{small, large} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}

	smallRes := mustConvert(t, c, conv, small)
	if !smallRes.Entry.HashRecorded() || len(smallRes.Entry.SourceHash) != 64 {
		t.Fatalf("small source should record a content hash, got %q", smallRes.Entry.SourceHash)
	}
	largeRes := mustConvert(t, c, conv, large)
	if largeRes.Entry.SourceHash != SkippedHash {
		t.Fatalf("large source should record the sentinel, got %q", largeRes.Entry.SourceHash)
	}

	touched := time.Now()
	for _, p := range []string{small, large} {
		if err := os.Chtimes(p, touched, touched); err != nil {
			t.Fatal(err)
		}
	}

	if !Validate(smallRes.Entry) {
		t.Fatal("touched small source should validate through the content hash")
	}
	if Validate(largeRes.Entry) {
		t.Fatal("touched large source must be invalidated")
	}

	again := mustConvert(t, c, conv, small)
	if !again.Hit {
		t.Fatal("touched small source should be a cache hit")
	}
	info, err := os.Stat(small)
	if err != nil {
		t.Fatal(err)
	}
	refreshed, ok := ReadMetadata(again.Path)
	if !ok || !refreshed.SourceMtime.Equal(info.ModTime()) {
		t.Fatalf("sidecar mtime not refreshed: %v", refreshed.SourceMtime)
	}

	before := conv.calls.Load()
	if res := mustConvert(t, c, conv, large); res.Hit {
		t.Fatal("touched large source must be reconverted")
	}
	if conv.calls.Load() != before+1 {
		t.Fatal("converter should run for the invalidated large source")
	}
}

func TestAlwaysHashThreshold(t *testing.T) {
	base := t.TempDir()
	c := New(filepath.Join(base, "cache"), -1, nil)
	large := filepath.Join(base, "big.docx")
	testsupport.WriteFile(t, large, 3<<20)
	res := mustConvert(t, c, &fakeConverter{kind: "pdf"}, large)
	if !res.Entry.HashRecorded() {
		t.Fatal("negative threshold should always hash")
	}
}

func TestConcurrentConvertRunsOnce(t *testing.T) {
	c, dir := newTestCache(t, 10)
	conv := &fakeConverter{kind: "pdf"}
	source := writeSource(t, dir, "shared.docx", "shared input")

	var wg sync.WaitGroup
	paths := make([]string, 8)
	errs := make([]error, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Convert(context.Background(), conv, source)
			paths[i], errs[i] = res.Path, err
		}(i)
	}
	wg.Wait()
	for i := range paths {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Fatalf("goroutine %d got %s, want %s", i, paths[i], paths[0])
		}
	}
	if conv.calls.Load() != 1 {
		t.Fatalf("converter ran %d times, want 1", conv.calls.Load())
	}
}

func TestLookup(t *testing.T) {
	c, dir := newTestCache(t, 10)
	conv := &fakeConverter{kind: "pdf"}
	source := writeSource(t, dir, "doc.docx", "lookup")

	if _, ok, err := c.Lookup(context.Background(), conv, source); err != nil || ok {
		t.Fatalf("expected miss before conversion, ok=%v err=%v", ok, err)
	}
	converted := mustConvert(t, c, conv, source)
	res, ok, err := c.Lookup(context.Background(), conv, source)
	if err != nil || !ok || res.Path != converted.Path {
		t.Fatalf("expected hit, got %+v ok=%v err=%v", res, ok, err)
	}
}

func TestStatsAndClear(t *testing.T) {
	c, dir := newTestCache(t, 10)
	pdf := &fakeConverter{kind: "pdf"}
	img := &fakeConverter{kind: "image-1568"}
	mustConvert(t, c, pdf, writeSource(t, dir, "a.docx", "a"))
	mustConvert(t, c, pdf, writeSource(t, dir, "b.docx", "b"))
	mustConvert(t, c, img, writeSource(t, dir, "c.png", "c"))

	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 3 || len(stats.Kinds) != 2 || stats.Bytes <= 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Kinds[0].Kind != "image-1568" || stats.Kinds[1].Entries != 2 {
		t.Fatalf("unexpected kind stats %+v", stats.Kinds)
	}

	removed, err := c.Clear("pdf")
	if err != nil || removed != 2 {
		t.Fatalf("Clear(pdf) = %d, %v", removed, err)
	}
	if _, err := c.Clear("../escape"); err == nil {
		t.Fatal("expected invalid kind error")
	}
	removed, err = c.Clear("")
	if err != nil || removed != 1 {
		t.Fatalf("Clear() = %d, %v", removed, err)
	}
	stats, err = c.Stats()
	if err != nil || stats.Entries != 0 {
		t.Fatalf("cache not empty after clear: %+v %v", stats, err)
	}
}

func TestConverterFailureLeavesSlotEmpty(t *testing.T) {
	c, dir := newTestCache(t, 10)
	source := writeSource(t, dir, "a.docx", "a")
	_, err := c.Convert(context.Background(), DocumentPDF{Binary: "clearly-not-present-binary"}, source)
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 {
		t.Fatalf("failed conversion left entries: %+v", stats)
	}
}
