package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conduit/internal/notifications"
	"conduit/internal/testsupport"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(cfg)
	if err := svc.NotifyUploadComplete(context.Background(), "video.mp4", 1024); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		notify         func(svc notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "upload complete",
			notify: func(svc notifications.Service) error {
				return svc.NotifyUploadComplete(context.Background(), "video.mp4", 12582912)
			},
			expectTitle:   "Conduit - Upload Complete",
			expectMessage: "Upload complete: video.mp4 (12582912 bytes)",
			expectTags:    "conduit,upload,completed",
		},
		{
			name: "transcode complete with failures",
			notify: func(svc notifications.Service) error {
				return svc.NotifyTranscodeComplete(context.Background(), "video.mp4", 2, 1)
			},
			expectTitle:   "Conduit - Transcoded",
			expectMessage: "Transcoding complete: video.mp4 (2 variants, 1 failed)",
			expectTags:    "conduit,transcode,completed",
		},
		{
			name: "distribution clean",
			notify: func(svc notifications.Service) error {
				return svc.NotifyDistributionComplete(context.Background(), "video.mp4", 3, 0)
			},
			expectTitle:   "Conduit - Distributed",
			expectMessage: "Distributed to 3 platforms: video.mp4",
			expectTags:    "conduit,distribution,completed",
		},
		{
			name: "pipeline complete",
			notify: func(svc notifications.Service) error {
				return svc.NotifyPipelineComplete(context.Background(), "video.mp4", 90*time.Second)
			},
			expectTitle:    "Conduit - Complete",
			expectMessage:  "Pipeline complete: video.mp4 in 1m30s",
			expectTags:     "conduit,pipeline,completed",
			expectPriority: "high",
		},
		{
			name: "pipeline failed",
			notify: func(svc notifications.Service) error {
				return svc.NotifyPipelineFailed(context.Background(), "video.mp4", errors.New("all transcode jobs failed"))
			},
			expectTitle:    "Conduit - Error",
			expectMessage:  "Pipeline failed: video.mp4\nall transcode jobs failed",
			expectTags:     "conduit,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := testsupport.NewConfig(t)
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.UploadComplete = true
			cfg.Notifications.TranscodeComplete = true
			cfg.Notifications.Distribution = true
			cfg.Notifications.Errors = true

			svc := notifications.NewService(cfg)
			if err := tc.notify(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsEventToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.UploadComplete = false
	cfg.Notifications.TranscodeComplete = false
	cfg.Notifications.Distribution = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(cfg)
	ctx := context.Background()
	if err := svc.NotifyUploadComplete(ctx, "video.mp4", 1); err != nil {
		t.Fatalf("disabled upload event should be silent: %v", err)
	}
	if err := svc.NotifyTranscodeComplete(ctx, "video.mp4", 1, 0); err != nil {
		t.Fatalf("disabled transcode event should be silent: %v", err)
	}
	if err := svc.NotifyDistributionComplete(ctx, "video.mp4", 1, 0); err != nil {
		t.Fatalf("disabled distribution event should be silent: %v", err)
	}
	if err := svc.NotifyPipelineFailed(ctx, "video.mp4", errors.New("boom")); err != nil {
		t.Fatalf("disabled error event should be silent: %v", err)
	}
	if err := svc.NotifySessionsExpired(ctx, 2); err != nil {
		t.Fatalf("disabled sweep event should be silent: %v", err)
	}
}
