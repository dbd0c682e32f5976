package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/services"
	"conduit/internal/store"
)

// Publisher delivers one asset's variant set to a single platform.
type Publisher interface {
	Publish(ctx context.Context, platform Platform, asset *store.MediaAsset, variants []store.QualityVariant) error
}

// Result summarizes one fan-out run.
type Result struct {
	Delivered int
	Failed    int
	Targets   []*store.DistributionTarget
}

// Distributor fans a finished asset out to its validated platforms.
type Distributor struct {
	registry  *Registry
	store     *store.Store
	publisher Publisher
	logger    *slog.Logger
}

// NewDistributor wires the fan-out to its collaborators.
func NewDistributor(registry *Registry, st *store.Store, publisher Publisher, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Distributor{
		registry:  registry,
		store:     st,
		publisher: publisher,
		logger:    logger.With(logging.String(logging.FieldComponent, "distribution")),
	}
}

// Registry exposes the platform registry backing this distributor.
func (d *Distributor) Registry() *Registry {
	return d.registry
}

// DistributeToPlatforms attempts delivery to each platform independently and
// in parallel. One platform's failure never blocks or rolls back the others;
// the per-platform outcome lands on its DistributionTarget record. The call
// itself only errors when the asset cannot be loaded or targets cannot be
// persisted.
func (d *Distributor) DistributeToPlatforms(ctx context.Context, assetID, pipelineID string, platforms []Platform) (*Result, error) {
	asset, err := d.store.GetMediaAsset(ctx, assetID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "distribution", "fan-out", "load asset", err)
	}
	if asset == nil {
		return nil, services.Wrap(services.ErrNotFound, "distribution", "fan-out", assetID, nil)
	}
	variants, err := d.store.VariantsForAsset(ctx, assetID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "distribution", "fan-out", "load variants", err)
	}

	platformIDs := make([]string, 0, len(platforms))
	for _, platform := range platforms {
		platformIDs = append(platformIDs, platform.ID)
	}
	targets, err := d.store.NewDistributionTargets(ctx, assetID, pipelineID, platformIDs)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "distribution", "fan-out", "persist targets", err)
	}

	result := &Result{Targets: targets}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, platform := range platforms {
		target := targets[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.publisher.Publish(ctx, platform, asset, variants)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				target.Status = store.TargetFailed
				target.ErrorMessage = err.Error()
				result.Failed++
				d.logger.Warn("platform delivery failed",
					logging.String(logging.FieldAssetID, assetID),
					logging.String(logging.FieldPlatform, platform.ID),
					logging.Error(err),
				)
			} else {
				now := time.Now().UTC()
				target.Status = store.TargetDelivered
				target.DeliveredAt = &now
				result.Delivered++
			}
			if err := d.store.UpdateDistributionTarget(ctx, target); err != nil {
				d.logger.Warn("failed to persist delivery outcome",
					logging.String(logging.FieldPlatform, platform.ID),
					logging.Error(err),
				)
			}
		}()
	}
	wg.Wait()

	d.logger.Info("fan-out settled",
		logging.String(logging.FieldAssetID, assetID),
		logging.Int("delivered", result.Delivered),
		logging.Int("failed", result.Failed),
	)
	return result, nil
}

// HTTPPublisher posts variant metadata to each platform's ingest endpoint.
type HTTPPublisher struct {
	client *http.Client
}

// NewHTTPPublisher builds a publisher with the configured delivery timeout.
func NewHTTPPublisher(cfg *config.Config) *HTTPPublisher {
	timeout := time.Duration(cfg.Distribution.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPPublisher{client: &http.Client{Timeout: timeout}}
}

type ingestVariant struct {
	Preset    string `json:"preset"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
}

type ingestRequest struct {
	AssetID     string          `json:"asset_id"`
	CreatorID   string          `json:"creator_id"`
	Filename    string          `json:"filename"`
	ContentHash string          `json:"content_hash,omitempty"`
	Manifest    string          `json:"manifest,omitempty"`
	Variants    []ingestVariant `json:"variants"`
}

// Publish delivers the asset's variant set to one platform.
func (p *HTTPPublisher) Publish(ctx context.Context, platform Platform, asset *store.MediaAsset, variants []store.QualityVariant) error {
	payload := ingestRequest{
		AssetID:     asset.ID,
		CreatorID:   asset.CreatorID,
		Filename:    asset.Filename,
		ContentHash: asset.ContentHash,
		Manifest:    asset.ManifestLocation,
	}
	for _, variant := range variants {
		payload.Variants = append(payload.Variants, ingestVariant{
			Preset:    variant.Preset,
			URL:       variant.Location,
			SizeBytes: variant.SizeBytes,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ingest payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, platform.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", platform.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("platform %s returned %d: %s", platform.ID, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var _ Publisher = (*HTTPPublisher)(nil)
