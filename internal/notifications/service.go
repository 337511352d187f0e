package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"promptloom/internal/config"
)

const userAgent = "promptloom/0.1"

// Summary is the outcome of one pipeline invocation.
type Summary struct {
	Root     string
	Executed int
	Fresh    int
	Failed   []string
	Skipped  int
	Duration time.Duration
}

// Service defines the notification surface exposed to the CLI.
type Service interface {
	NotifyPipelineCompleted(ctx context.Context, summary Summary) error
	NotifyError(ctx context.Context, err error, root string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc actually delivers notifications.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return !noop
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyPipelineCompleted(ctx context.Context, summary Summary) error {
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	data := payload{
		title: "promptloom - " + summary.Root + " complete",
		message: fmt.Sprintf("%s: %d executed, %d fresh in %s",
			summary.Root, summary.Executed, summary.Fresh, duration),
		tags: []string{"promptloom", "pipeline", "completed"},
	}
	if len(summary.Failed) > 0 {
		data.title = "promptloom - " + summary.Root + " failed"
		data.message = fmt.Sprintf("%s: %d executed, %d failed (%s), %d skipped in %s",
			summary.Root, summary.Executed, len(summary.Failed), strings.Join(summary.Failed, ", "),
			summary.Skipped, duration)
		data.tags = []string{"promptloom", "pipeline", "failed"}
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, root string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if root = strings.TrimSpace(root); root != "" {
		builder.WriteString(" running ")
		builder.WriteString(root)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	return n.send(ctx, payload{
		title:    "promptloom - Error",
		message:  builder.String(),
		tags:     []string{"promptloom", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "promptloom - Test",
		message:  "Notification system test",
		tags:     []string{"promptloom", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyPipelineCompleted(context.Context, Summary) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error       { return nil }
func (noopService) TestNotification(context.Context) error                 { return nil }
