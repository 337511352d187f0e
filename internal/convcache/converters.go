package convcache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"promptloom/internal/deps"
)

var commandContext = exec.CommandContext

// documentExtensions are converted to PDF before upload.
var documentExtensions = map[string]struct{}{
	".doc": {}, ".docx": {}, ".odt": {}, ".rtf": {},
	".ppt": {}, ".pptx": {}, ".odp": {},
	".xls": {}, ".xlsx": {}, ".ods": {},
}

// imageExtensions are downscaled before upload.
var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
}

// IsDocument reports whether path needs document conversion.
func IsDocument(path string) bool {
	_, ok := documentExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsImage reports whether path is a resizable image.
func IsImage(path string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// DocumentPDF converts office documents to PDF with LibreOffice.
type DocumentPDF struct {
	Binary string
}

// Kind implements Converter.
func (DocumentPDF) Kind() string { return "pdf" }

// Ext implements Converter.
func (DocumentPDF) Ext(string) string { return "pdf" }

// Convert implements Converter. soffice names its output after the source,
// so it writes into a scratch directory and the result is moved to dest.
func (d DocumentPDF) Convert(ctx context.Context, source, dest string) error {
	binary, err := deps.Lookup("soffice", d.Binary)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	scratch, err := os.MkdirTemp(filepath.Dir(dest), ".soffice-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	args := []string{"--headless", "--convert-to", "pdf", "--outdir", scratch, source}
	if err := run(ctx, binary, args); err != nil {
		return fmt.Errorf("soffice convert %s: %w", filepath.Base(source), err)
	}
	produced := filepath.Join(scratch, strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))+".pdf")
	if err := os.Rename(produced, dest); err != nil {
		return fmt.Errorf("soffice convert %s: %w", filepath.Base(source), err)
	}
	return nil
}

// ImageResize bounds an image's longest edge with ImageMagick. Smaller images
// are re-encoded unchanged in size.
type ImageResize struct {
	Binary       string
	MaxDimension int
}

// Kind implements Converter. The bound is part of the kind so changing it
// never reuses artifacts of another size.
func (r ImageResize) Kind() string { return "image-" + strconv.Itoa(r.MaxDimension) }

// Ext implements Converter.
func (ImageResize) Ext(source string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(source), "."))
}

// Convert implements Converter.
func (r ImageResize) Convert(ctx context.Context, source, dest string) error {
	binary, err := deps.Lookup("magick", r.Binary)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}
	geometry := fmt.Sprintf("%dx%d>", r.MaxDimension, r.MaxDimension)
	args := []string{source, "-auto-orient", "-resize", geometry, dest}
	if err := run(ctx, binary, args); err != nil {
		return fmt.Errorf("magick resize %s: %w", filepath.Base(source), err)
	}
	return nil
}

func run(ctx context.Context, binary string, args []string) error {
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("%w: %s", err, detail)
		}
		return err
	}
	return nil
}
