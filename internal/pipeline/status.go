package pipeline

import (
	"context"
	"time"

	"conduit/internal/services"
	"conduit/internal/store"
	"conduit/internal/transcode"
	"conduit/internal/upload"
)

// Status aggregates a pipeline's stage with its per-subsystem progress.
type Status struct {
	PipelineID    string
	Stage         store.Stage
	CreatorID     string
	CreatorTier   string
	AutoTranscode bool
	ErrorMessage  string
	Upload        *upload.Progress
	Transcode     *transcode.JobStatusReport
	Targets       []*store.DistributionTarget
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GetPipelineStatus reports a pipeline's stage and progress. A missing
// pipeline is a not-found error, which is a different outcome from a pipeline
// that exists in the failed stage.
func (c *Coordinator) GetPipelineStatus(ctx context.Context, pipelineID string) (*Status, error) {
	pipeline, err := c.load(ctx, pipelineID, "status")
	if err != nil {
		return nil, err
	}

	status := &Status{
		PipelineID:    pipeline.ID,
		Stage:         pipeline.Stage,
		CreatorID:     pipeline.CreatorID,
		CreatorTier:   pipeline.CreatorTier,
		AutoTranscode: pipeline.AutoTranscode,
		ErrorMessage:  pipeline.ErrorMessage,
		CreatedAt:     pipeline.CreatedAt,
		UpdatedAt:     pipeline.UpdatedAt,
	}

	if pipeline.UploadSessionID != "" {
		progress, err := c.uploads.GetProgress(ctx, pipeline.UploadSessionID)
		if err == nil {
			status.Upload = progress
		}
	}
	if pipeline.AssetID != "" {
		report, err := c.transcoder.GetJobStatus(ctx, pipeline.AssetID)
		if err == nil {
			status.Transcode = report
		}
		targets, err := c.store.TargetsForAsset(ctx, pipeline.AssetID)
		if err != nil {
			return nil, services.Wrap(services.ErrUnavailable, "pipeline", "status", "load targets", err)
		}
		status.Targets = targets
	}
	return status, nil
}

// ListPipelines returns pipelines filtered by stage, oldest first.
func (c *Coordinator) ListPipelines(ctx context.Context, stages ...store.Stage) ([]*store.Pipeline, error) {
	pipelines, err := c.store.ListPipelines(ctx, stages...)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "pipeline", "list", "query pipelines", err)
	}
	return pipelines, nil
}
