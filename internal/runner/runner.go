package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"promptloom/internal/config"
	"promptloom/internal/convcache"
	"promptloom/internal/fileutil"
	"promptloom/internal/logging"
	"promptloom/internal/pipeline"
	"promptloom/internal/project"
	"promptloom/internal/services"
	"promptloom/internal/services/llm"
)

// Completer is the subset of the model client a Runner needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Completion, error)
}

// Runner implements pipeline.Runner on top of a chat completion endpoint.
type Runner struct {
	client    Completer
	cache     *convcache.Cache
	documents convcache.Converter
	images    convcache.Converter
	logger    *slog.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConverters replaces the document and image converters.
func WithConverters(documents, images convcache.Converter) Option {
	return func(r *Runner) {
		r.documents = documents
		r.images = images
	}
}

// New builds a Runner. Conversions are cached under cache.
func New(cfg *config.Config, client Completer, cache *convcache.Cache, opts ...Option) *Runner {
	r := &Runner{
		client:    client,
		cache:     cache,
		documents: convcache.DocumentPDF{Binary: cfg.Tools.Soffice},
		images:    convcache.ImageResize{Binary: cfg.Tools.Magick, MaxDimension: cfg.Cache.ImageMaxDimension},
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "runner")
	return r
}

// NewClient builds the model client from the project configuration.
func NewClient(cfg *config.Config, opts ...llm.Option) *llm.Client {
	return llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	}, opts...)
}

// Run implements pipeline.Runner.
func (r *Runner) Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	name := job.Workflow.Name
	parts, err := r.buildParts(ctx, job)
	if err != nil {
		return pipeline.Result{}, err
	}

	completion, err := r.client.Complete(ctx, llm.Request{
		Model:       job.Settings.Model,
		Temperature: job.Settings.Temperature,
		TopP:        job.Settings.TopP,
		MaxTokens:   job.Settings.MaxTokens,
		System:      job.Settings.SystemPrompt,
		Parts:       parts,
		JSON:        job.Settings.OutputFormat == "json",
	})
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrExternalTool, name, "model completion", "", err)
	}

	data, err := renderOutput(completion.Content, job.Settings.OutputFormat)
	if err != nil {
		return pipeline.Result{}, services.Wrap(services.ErrValidation, name, "decode model reply", "", err)
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return pipeline.Result{}, fmt.Errorf("create output directory: %w", err)
	}
	if err := fileutil.WriteFileAtomic(job.OutputPath, data, 0o644); err != nil {
		return pipeline.Result{}, fmt.Errorf("write output: %w", err)
	}

	return pipeline.Result{
		OutputPath: job.OutputPath,
		Usage: pipeline.Usage{
			Model:        completion.Model,
			PromptTokens: completion.PromptTokens,
			OutputTokens: completion.OutputTokens,
		},
	}, nil
}

func renderOutput(content, format string) ([]byte, error) {
	if format == "json" {
		return llm.NormalizeJSON(content)
	}
	content = strings.TrimSpace(content)
	return []byte(content + "\n"), nil
}

func (r *Runner) buildParts(ctx context.Context, job pipeline.Job) ([]llm.Part, error) {
	if job.Workflow.TaskPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, job.Workflow.Name, "read task", "workflow has no task file", nil)
	}
	task, err := os.ReadFile(job.Workflow.TaskPath)
	if err != nil {
		return nil, fmt.Errorf("read task: %w", err)
	}
	parts := []llm.Part{llm.TextPart("# Task\n\n" + strings.TrimSpace(string(task)))}

	for _, file := range job.Tracked.Context {
		attached, err := r.attach(ctx, "Context", file)
		if err != nil {
			return nil, err
		}
		parts = append(parts, attached...)
	}
	for _, file := range job.Tracked.Input {
		attached, err := r.attach(ctx, "Input", file)
		if err != nil {
			return nil, err
		}
		parts = append(parts, attached...)
	}
	for _, dep := range job.Dependencies {
		data, err := os.ReadFile(dep.Path)
		if err != nil {
			return nil, fmt.Errorf("read output of %s: %w", dep.Workflow, err)
		}
		parts = append(parts, llm.TextPart(fmt.Sprintf("## Output of %s\n\n%s", dep.Workflow, strings.TrimSpace(string(data)))))
	}
	return parts, nil
}

// attach renders one tracked file as message parts. Binary files that need a
// missing conversion tool are skipped.
func (r *Runner) attach(ctx context.Context, role string, file project.TrackedFile) ([]llm.Part, error) {
	header := llm.TextPart(fmt.Sprintf("## %s: %s", role, file.Path))
	ext := strings.ToLower(filepath.Ext(file.Abs))

	switch {
	case ext == ".pdf":
		data, err := os.ReadFile(file.Abs)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file.Path, err)
		}
		return []llm.Part{header, llm.PDFPart(filepath.Base(file.Abs), data)}, nil

	case convcache.IsDocument(file.Abs):
		data, ok, err := r.convert(ctx, r.documents, file)
		if !ok || err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(filepath.Base(file.Abs), filepath.Ext(file.Abs)) + ".pdf"
		return []llm.Part{header, llm.PDFPart(name, data)}, nil

	case convcache.IsImage(file.Abs):
		data, ok, err := r.convert(ctx, r.images, file)
		if !ok || err != nil {
			return nil, err
		}
		return []llm.Part{header, llm.ImagePart(imageMediaType(ext), data)}, nil
	}

	data, err := os.ReadFile(file.Abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.Path, err)
	}
	if !utf8.Valid(data) {
		logging.WarnWithContext(ctx, logging.WithContext(ctx, r.logger), "binary file not attached", "attachment_skipped",
			logging.String("path", file.Path),
			logging.String(logging.FieldImpact, "model does not see this file"),
			logging.String(logging.FieldErrorHint, "convert the file to text, PDF, or a supported image format"),
		)
		return nil, nil
	}
	return []llm.Part{llm.TextPart(fmt.Sprintf("## %s: %s\n\n%s", role, file.Path, string(data)))}, nil
}

func (r *Runner) convert(ctx context.Context, conv convcache.Converter, file project.TrackedFile) ([]byte, bool, error) {
	result, err := r.cache.Convert(ctx, conv, file.Abs)
	if err != nil {
		if errors.Is(err, convcache.ErrToolUnavailable) {
			logging.WarnWithContext(ctx, logging.WithContext(ctx, r.logger), "conversion tool unavailable", "attachment_skipped",
				logging.String("path", file.Path),
				logging.String("conversion", conv.Kind()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "model does not see this file"),
				logging.String(logging.FieldErrorHint, "install the tool or set its path under [tools]; run promptloom doctor"),
			)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("convert %s: %w", file.Path, err)
	}
	r.logger.DebugContext(ctx, "conversion ready",
		logging.String(logging.FieldEventType, "conversion_ready"),
		logging.String("path", file.Path),
		logging.String("conversion", conv.Kind()),
		logging.Bool("cache_hit", result.Hit),
	)
	data, err := os.ReadFile(result.Path)
	if err != nil {
		return nil, false, fmt.Errorf("read converted %s: %w", file.Path, err)
	}
	return data, true, nil
}

func imageMediaType(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

var _ pipeline.Runner = (*Runner)(nil)
