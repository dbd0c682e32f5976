package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conduit/internal/config"
)

const userAgent = "Conduit-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyUploadComplete(ctx context.Context, filename string, totalBytes int64) error
	NotifyTranscodeComplete(ctx context.Context, filename string, variants, failed int) error
	NotifyDistributionComplete(ctx context.Context, filename string, delivered, failed int) error
	NotifyPipelineComplete(ctx context.Context, filename string, duration time.Duration) error
	NotifyPipelineFailed(ctx context.Context, filename string, err error) error
	NotifySessionsExpired(ctx context.Context, count int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		events:   cfg.Notifications,
	}
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
	events   config.Notifications
}

func (n *ntfyService) NotifyUploadComplete(ctx context.Context, filename string, totalBytes int64) error {
	if !n.events.UploadComplete {
		return nil
	}
	filename = strings.TrimSpace(filename)
	data := payload{
		title:   "Conduit - Upload Complete",
		message: fmt.Sprintf("Upload complete: %s (%d bytes)", filename, totalBytes),
		tags:    []string{"conduit", "upload", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTranscodeComplete(ctx context.Context, filename string, variants, failed int) error {
	if !n.events.TranscodeComplete {
		return nil
	}
	filename = strings.TrimSpace(filename)
	var message string
	if failed == 0 {
		message = fmt.Sprintf("Transcoding complete: %s (%d variants)", filename, variants)
	} else {
		message = fmt.Sprintf("Transcoding complete: %s (%d variants, %d failed)", filename, variants, failed)
	}
	data := payload{
		title:   "Conduit - Transcoded",
		message: message,
		tags:    []string{"conduit", "transcode", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDistributionComplete(ctx context.Context, filename string, delivered, failed int) error {
	if !n.events.Distribution {
		return nil
	}
	filename = strings.TrimSpace(filename)
	var title string
	var message string
	if failed == 0 {
		title = "Conduit - Distributed"
		message = fmt.Sprintf("Distributed to %d platforms: %s", delivered, filename)
	} else {
		title = "Conduit - Distributed (with errors)"
		message = fmt.Sprintf("Distribution finished: %d delivered, %d failed: %s", delivered, failed, filename)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"conduit", "distribution", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPipelineComplete(ctx context.Context, filename string, duration time.Duration) error {
	filename = strings.TrimSpace(filename)
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	data := payload{
		title:    "Conduit - Complete",
		message:  fmt.Sprintf("Pipeline complete: %s in %s", filename, duration),
		tags:     []string{"conduit", "pipeline", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyPipelineFailed(ctx context.Context, filename string, err error) error {
	if !n.events.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Pipeline failed")
	if filename = strings.TrimSpace(filename); filename != "" {
		builder.WriteString(": ")
		builder.WriteString(filename)
	}
	builder.WriteString("\n")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown error")
	}

	data := payload{
		title:    "Conduit - Error",
		message:  builder.String(),
		tags:     []string{"conduit", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySessionsExpired(ctx context.Context, count int) error {
	if !n.events.Errors || count == 0 {
		return nil
	}
	data := payload{
		title:   "Conduit - Sessions Expired",
		message: fmt.Sprintf("Expired %d stale upload sessions", count),
		tags:    []string{"conduit", "upload", "expired"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Conduit - Test",
		message:  "Notification system test",
		tags:     []string{"conduit", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
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

func (noopService) NotifyUploadComplete(context.Context, string, int64) error        { return nil }
func (noopService) NotifyTranscodeComplete(context.Context, string, int, int) error  { return nil }
func (noopService) NotifyDistributionComplete(context.Context, string, int, int) error {
	return nil
}
func (noopService) NotifyPipelineComplete(context.Context, string, time.Duration) error { return nil }
func (noopService) NotifyPipelineFailed(context.Context, string, error) error           { return nil }
func (noopService) NotifySessionsExpired(context.Context, int) error                    { return nil }
func (noopService) TestNotification(context.Context) error                              { return nil }
