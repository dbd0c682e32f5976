package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"conduit/internal/config"
	"conduit/internal/logging"
)

// Event is one write-only audit record. The pipeline only produces these;
// review and legal-hold workflows consume them elsewhere.
type Event struct {
	Action    string            `json:"action"`
	ActorID   string            `json:"actor_id,omitempty"`
	AssetID   string            `json:"asset_id,omitempty"`
	UploadID  string            `json:"upload_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sink accepts audit events. Implementations are fire-and-forget: Record
// never returns an error because audit delivery must not perturb the
// pipeline.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// NewSink builds an audit sink against the configured endpoint. Without an
// endpoint, events land in the structured log instead.
func NewSink(cfg *config.Config, logger *slog.Logger) Sink {
	logger = logging.NewComponentLogger(logger, "audit")

	endpoint := strings.TrimSpace(cfg.Audit.Endpoint)
	if endpoint == "" {
		return &logSink{logger: logger}
	}

	timeout := time.Duration(cfg.Audit.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type httpSink struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func (s *httpSink) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("audit event could not be encoded", logging.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn("audit request could not be built", logging.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("audit event delivery failed", logging.String("action", event.Action), logging.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.logger.Warn("audit sink rejected event",
			logging.String("action", event.Action),
			logging.String("response", fmt.Sprintf("%d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))),
		)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

type logSink struct {
	logger *slog.Logger
}

func (s *logSink) Record(ctx context.Context, event Event) {
	attrs := []logging.Attr{
		logging.String("action", event.Action),
	}
	if event.ActorID != "" {
		attrs = append(attrs, logging.String("actor_id", event.ActorID))
	}
	if event.AssetID != "" {
		attrs = append(attrs, logging.String(logging.FieldAssetID, event.AssetID))
	}
	if event.UploadID != "" {
		attrs = append(attrs, logging.String(logging.FieldUploadID, event.UploadID))
	}
	for key, value := range event.Detail {
		attrs = append(attrs, logging.String("detail_"+key, value))
	}
	s.logger.Info("audit event", logging.Args(attrs...)...)
}
