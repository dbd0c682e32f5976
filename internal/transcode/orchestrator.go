package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/objectstore"
	"conduit/internal/services"
	"conduit/internal/services/ffmpeg"
	"conduit/internal/services/forensic"
	"conduit/internal/store"
)

// BatchOutcome summarizes one processed batch.
type BatchOutcome struct {
	BatchID          string
	Succeeded        int
	Failed           int
	SkippedPresets   []string
	ManifestLocation string
}

// Orchestrator produces quality variants for completed uploads. Encode
// concurrency is bounded by a slot pool shared across batches, so concurrent
// pipelines compete for the same fixed number of encoder processes.
type Orchestrator struct {
	cfg     *config.Config
	store   *store.Store
	encoder ffmpeg.Client
	signer  forensic.Signer
	blob    objectstore.BlobStore
	logger  *slog.Logger

	slots chan struct{}
}

// NewOrchestrator wires the transcoding orchestrator to its collaborators.
func NewOrchestrator(cfg *config.Config, st *store.Store, encoder ffmpeg.Client, signer forensic.Signer, blob objectstore.BlobStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	parallelism := cfg.Transcode.JobParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		encoder: encoder,
		signer:  signer,
		blob:    blob,
		logger:  logger.With(logging.String(logging.FieldComponent, "transcode")),
		slots:   make(chan struct{}, parallelism),
	}
}

// QueueTranscoding creates a batch of jobs for the requested presets. Unknown
// presets are skipped with a warning; the rest of the batch proceeds. An empty
// request falls back to the configured default presets.
func (o *Orchestrator) QueueTranscoding(ctx context.Context, assetID string, requested []string) (*store.TranscodeBatch, []*store.TranscodeJob, []string, error) {
	asset, err := o.store.GetMediaAsset(ctx, assetID)
	if err != nil {
		return nil, nil, nil, services.Wrap(services.ErrUnavailable, "transcode", "queue", "load asset", err)
	}
	if asset == nil {
		return nil, nil, nil, services.Wrap(services.ErrNotFound, "transcode", "queue", assetID, nil)
	}

	if len(requested) == 0 {
		requested = o.cfg.Transcode.Presets
	}

	valid := make([]string, 0, len(requested))
	var skipped []string
	seen := map[string]struct{}{}
	for _, name := range requested {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		if _, ok := LookupPreset(normalized); !ok {
			skipped = append(skipped, name)
			o.logger.Warn("skipping unknown preset",
				logging.String(logging.FieldAssetID, assetID),
				logging.String("preset", name),
			)
			continue
		}
		valid = append(valid, normalized)
	}
	if len(valid) == 0 {
		return nil, nil, skipped, services.Wrap(services.ErrValidation, "transcode", "queue", "no known presets requested", nil)
	}

	batch, jobs, err := o.store.NewTranscodeBatch(ctx, assetID, valid)
	if err != nil {
		return nil, nil, skipped, services.Wrap(services.ErrUnavailable, "transcode", "queue", "persist batch", err)
	}

	asset.ProcessingStatus = store.ProcessingInProgress
	if err := o.store.UpdateMediaAsset(ctx, asset); err != nil {
		return nil, nil, skipped, services.Wrap(services.ErrUnavailable, "transcode", "queue", "mark asset processing", err)
	}

	o.logger.Info("transcode batch queued",
		logging.String(logging.FieldAssetID, assetID),
		logging.Int("jobs", len(jobs)),
		logging.Int("skipped", len(skipped)),
	)
	return batch, jobs, skipped, nil
}

// ProcessBatch runs the batch's jobs, records variants for the successes, and
// settles the asset: completed when at least one variant exists, failed when
// none do. Batches for different assets run concurrently; the shared slot
// pool bounds how many encodes are in flight at once.
func (o *Orchestrator) ProcessBatch(ctx context.Context, batchID string, jobs []*store.TranscodeJob) (*BatchOutcome, error) {
	if len(jobs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "transcode", "process", "batch has no jobs", nil)
	}
	assetID := jobs[0].AssetID
	asset, err := o.store.GetMediaAsset(ctx, assetID)
	if err != nil || asset == nil {
		return nil, services.Wrap(services.ErrUnavailable, "transcode", "process", "load asset", err)
	}

	outcome := &BatchOutcome{BatchID: batchID}
	var outcomeMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		group.Go(func() error {
			var err error
			select {
			case o.slots <- struct{}{}:
				err = o.runJob(groupCtx, asset, job)
				<-o.slots
			case <-groupCtx.Done():
				err = o.failJob(groupCtx, job, "cancelled before encoding started")
			}
			outcomeMu.Lock()
			defer outcomeMu.Unlock()
			if err != nil {
				outcome.Failed++
			} else {
				outcome.Succeeded++
			}
			// Job failures settle on the job record, never the batch.
			return nil
		})
	}
	_ = group.Wait()

	// Settle writes must land even when the batch was cancelled mid-flight.
	settleCtx := context.WithoutCancel(ctx)

	batchStatus := store.JobCompleted
	if outcome.Succeeded == 0 {
		batchStatus = store.JobFailed
	}
	if err := o.store.UpdateBatchStatus(settleCtx, batchID, batchStatus); err != nil {
		o.logger.Warn("failed to persist batch status", logging.Error(err))
	}

	if outcome.Succeeded == 0 {
		asset.ProcessingStatus = store.ProcessingFailed
		asset.ErrorMessage = "all transcode jobs failed"
		if err := o.store.UpdateMediaAsset(settleCtx, asset); err != nil {
			return outcome, services.Wrap(services.ErrUnavailable, "transcode", "process", "mark asset failed", err)
		}
		return outcome, nil
	}

	if o.cfg.Transcode.AdaptiveManifest {
		manifest, err := o.publishManifest(settleCtx, asset)
		if err != nil {
			o.logger.Warn("manifest generation failed",
				logging.String(logging.FieldAssetID, asset.ID),
				logging.Error(err),
			)
		} else {
			outcome.ManifestLocation = manifest
			asset.ManifestLocation = manifest
		}
	}

	asset.ProcessingStatus = store.ProcessingCompleted
	asset.ErrorMessage = ""
	if err := o.store.UpdateMediaAsset(settleCtx, asset); err != nil {
		return outcome, services.Wrap(services.ErrUnavailable, "transcode", "process", "mark asset completed", err)
	}

	o.logger.Info("transcode batch settled",
		logging.String(logging.FieldAssetID, asset.ID),
		logging.Int("succeeded", outcome.Succeeded),
		logging.Int("failed", outcome.Failed),
	)
	return outcome, nil
}

func (o *Orchestrator) runJob(ctx context.Context, asset *store.MediaAsset, job *store.TranscodeJob) error {
	preset, ok := LookupPreset(job.Preset)
	if !ok {
		return o.failJob(ctx, job, fmt.Sprintf("unknown preset %q", job.Preset))
	}

	job.Status = store.JobProcessing
	if err := o.store.UpdateTranscodeJob(ctx, job); err != nil {
		return o.failJob(ctx, job, "could not mark job processing")
	}

	workDir := filepath.Join(o.cfg.Paths.StagingDir, "transcode", asset.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return o.failJob(ctx, job, "could not create work directory")
	}
	outputPath := filepath.Join(workDir, preset.Name+".mp4")

	opts := preset.EncodeOptions()
	opts.Progress = func(update ffmpeg.ProgressUpdate) {
		if err := o.store.SetJobProgress(ctx, job.ID, update.Percent); err != nil {
			o.logger.Warn("failed to persist job progress",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
		}
	}
	if err := o.encoder.Transcode(ctx, asset.SourceLocation, outputPath, opts); err != nil {
		return o.failJob(ctx, job, fmt.Sprintf("encode failed: %v", err))
	}

	signatureID := ""
	if o.signer != nil {
		id, err := o.signer.GenerateSignature(ctx, asset.ID+"/"+preset.Name, asset.ContentHash)
		if err != nil {
			return o.failJob(ctx, job, fmt.Sprintf("signature generation failed: %v", err))
		}
		if err := o.signer.InjectSignature(ctx, outputPath, id); err != nil {
			return o.failJob(ctx, job, fmt.Sprintf("signature injection failed: %v", err))
		}
		signatureID = id
	}

	key := path.Join("assets", asset.ID, preset.Name, preset.Name+".mp4")
	location, err := o.blob.Upload(ctx, outputPath, key)
	if err != nil {
		return o.failJob(ctx, job, fmt.Sprintf("publish failed: %v", err))
	}

	var sizeBytes int64
	if info, err := os.Stat(outputPath); err == nil {
		sizeBytes = info.Size()
	}
	if _, err := o.store.NewQualityVariant(ctx, &store.QualityVariant{
		AssetID:     asset.ID,
		Preset:      preset.Name,
		Location:    location,
		SignatureID: signatureID,
		SizeBytes:   sizeBytes,
	}); err != nil {
		return o.failJob(ctx, job, "could not record variant")
	}

	job.Status = store.JobCompleted
	job.ProgressPercent = 100
	job.OutputLocation = location
	job.SignatureID = signatureID
	job.ErrorMessage = ""
	if err := o.store.UpdateTranscodeJob(ctx, job); err != nil {
		o.logger.Warn("failed to persist completed job",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
	}
	return nil
}

func (o *Orchestrator) failJob(ctx context.Context, job *store.TranscodeJob, message string) error {
	job.Status = store.JobFailed
	job.ErrorMessage = message
	// The failure record must land even when the job's context is cancelled.
	if err := o.store.UpdateTranscodeJob(context.WithoutCancel(ctx), job); err != nil {
		o.logger.Warn("failed to persist failed job",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
	}
	o.logger.Error("transcode job failed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("preset", job.Preset),
		logging.String(logging.FieldErrorHint, message),
	)
	return services.Wrap(services.ErrExternalTool, "transcode", "job", message, nil)
}

// JobStatusReport aggregates job progress for one asset.
type JobStatusReport struct {
	AssetID         string
	Jobs            []*store.TranscodeJob
	OverallProgress float64
}

// GetJobStatus reports per-job state and the overall batch progress. Queued
// jobs count as zero so the aggregate cannot overstate completion.
func (o *Orchestrator) GetJobStatus(ctx context.Context, assetID string) (*JobStatusReport, error) {
	jobs, err := o.store.JobsForAsset(ctx, assetID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "transcode", "status", "load jobs", err)
	}
	report := &JobStatusReport{AssetID: assetID, Jobs: jobs}
	if len(jobs) == 0 {
		return report, nil
	}
	total := 0.0
	for _, job := range jobs {
		total += job.ProgressPercent
	}
	report.OverallProgress = total / float64(len(jobs))
	return report, nil
}
