package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conduit/internal/audit"
	"conduit/internal/config"
	"conduit/internal/distribution"
	"conduit/internal/logging"
	"conduit/internal/notifications"
	"conduit/internal/services"
	"conduit/internal/store"
	"conduit/internal/transcode"
	"conduit/internal/upload"
)

// Sentinel errors surfaced by coordinator operations.
var (
	ErrPipelineNotFound  = errors.New("pipeline not found")
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// stageTransitions enumerates the legal forward edges of the lifecycle.
// Failed absorbs from every non-terminal stage.
var stageTransitions = map[store.Stage][]store.Stage{
	store.StageUploading:    {store.StageTranscoding, store.StageFailed},
	store.StageTranscoding:  {store.StageDistributing, store.StageFailed},
	store.StageDistributing: {store.StageCompleted, store.StageFailed},
}

func canTransition(from, to store.Stage) bool {
	for _, allowed := range stageTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StartRequest describes a new end-to-end pipeline run.
type StartRequest struct {
	CreatorID   string
	CreatorTier string
	Filename    string
	TotalSize   int64
	Platforms   []string
	Presets     []string
	// DisableAutoTranscode leaves the pipeline parked after upload until
	// BeginTranscode is called. Transcoding is automatic unless a creator
	// opts out explicitly.
	DisableAutoTranscode bool
	MetadataJSON         string
}

// StartResult reports the created pipeline and the platform resolution that
// applied to the creator's tier.
type StartResult struct {
	Pipeline  *store.Pipeline
	Session   *store.UploadSession
	Platforms []distribution.Platform
	Available []distribution.Platform
	// MaxPlatforms is the creator tier's cap; zero means unlimited.
	MaxPlatforms int
}

// Coordinator drives content through upload, transcoding, and distribution.
// Stage processing runs on background workers, one per pipeline; the mutex
// guards only stage admission and the worker registry, never a running encode.
type Coordinator struct {
	cfg         *config.Config
	store       *store.Store
	uploads     *upload.Manager
	transcoder  *transcode.Orchestrator
	distributor *distribution.Distributor
	notifier    notifications.Service
	audit       audit.Sink
	bus         *Bus
	logger      *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu sync.Mutex
	// workers maps a running pipeline to its cancel function. While an entry
	// exists, the worker goroutine is the sole writer of that pipeline's row.
	workers map[string]context.CancelFunc
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(
	cfg *config.Config,
	st *store.Store,
	uploads *upload.Manager,
	transcoder *transcode.Orchestrator,
	distributor *distribution.Distributor,
	notifier notifications.Service,
	auditSink audit.Sink,
	logger *slog.Logger,
) *Coordinator {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if auditSink == nil {
		auditSink = audit.NewSink(cfg, logger)
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:         cfg,
		store:       st,
		uploads:     uploads,
		transcoder:  transcoder,
		distributor: distributor,
		notifier:    notifier,
		audit:       auditSink,
		bus:         NewBus(),
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		workers:     make(map[string]context.CancelFunc),
	}
}

// Events exposes the coordinator's event bus.
func (c *Coordinator) Events() *Bus {
	return c.bus
}

// Close stops all pipeline workers and waits for them to exit.
func (c *Coordinator) Close() {
	c.baseCancel()
	c.wg.Wait()
	c.bus.Close()
}

// StartPipeline validates the creator's platform selection against their tier,
// creates the pipeline record, and opens its upload session.
func (c *Coordinator) StartPipeline(ctx context.Context, req StartRequest) (*StartResult, error) {
	tier, ok := distribution.ParseTier(req.CreatorTier)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "start",
			fmt.Sprintf("unknown creator tier %q", req.CreatorTier), nil)
	}

	registry := c.distributor.Registry()
	allowed := registry.ValidatePlatformSelection(req.Platforms, tier)
	available := registry.GetAvailablePlatforms(tier)

	allowedIDs := make([]string, 0, len(allowed))
	for _, platform := range allowed {
		allowedIDs = append(allowedIDs, platform.ID)
	}

	pipeline, err := c.store.NewPipeline(ctx, req.CreatorID, string(tier), !req.DisableAutoTranscode, req.Presets, allowedIDs)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "pipeline", "start", "persist pipeline", err)
	}

	session, err := c.uploads.InitializeUpload(ctx, upload.InitRequest{
		CreatorID:    req.CreatorID,
		Filename:     req.Filename,
		TotalSize:    req.TotalSize,
		PipelineID:   pipeline.ID,
		MetadataJSON: req.MetadataJSON,
	})
	if err != nil {
		pipeline.Stage = store.StageFailed
		pipeline.ErrorMessage = "upload session could not be opened"
		_ = c.store.UpdatePipeline(ctx, pipeline)
		return nil, err
	}

	pipeline.UploadSessionID = session.ID
	if err := c.store.UpdatePipeline(ctx, pipeline); err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "pipeline", "start", "link upload session", err)
	}

	c.bus.Publish(Event{PipelineID: pipeline.ID, Type: EventPipelineStarted, Stage: pipeline.Stage})
	c.audit.Record(ctx, audit.Event{
		Action:   "pipeline_started",
		ActorID:  req.CreatorID,
		UploadID: session.ID,
		Detail: map[string]string{
			"tier":      string(tier),
			"platforms": fmt.Sprintf("%d", len(allowedIDs)),
		},
	})
	c.logger.Info("pipeline started",
		logging.String("pipeline_id", pipeline.ID),
		logging.String(logging.FieldUploadID, session.ID),
		logging.String("tier", string(tier)),
		logging.Int("platforms", len(allowedIDs)),
	)

	return &StartResult{
		Pipeline:     pipeline,
		Session:      session,
		Platforms:    allowed,
		Available:    available,
		MaxPlatforms: tier.MaxPlatforms(),
	}, nil
}

// CompleteUpload finalizes the pipeline's upload and, unless the creator opted
// out, hands the pipeline to a background worker. The call returns as soon as
// the asset is finalized and the stage is transcoding. Retriable upload
// problems leave the pipeline in the uploading stage.
func (c *Coordinator) CompleteUpload(ctx context.Context, pipelineID string) (*store.Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pipeline, err := c.load(ctx, pipelineID, "complete-upload")
	if err != nil {
		return nil, err
	}
	if pipeline.Stage != store.StageUploading {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "complete-upload",
			fmt.Sprintf("pipeline is %s", pipeline.Stage), ErrInvalidTransition)
	}

	asset, err := c.uploads.CompleteUpload(ctx, pipeline.UploadSessionID)
	if err != nil {
		// Incomplete or transient upload failures stay retriable; only
		// non-retriable session states fail the pipeline.
		if errors.Is(err, upload.ErrSessionClosed) {
			c.fail(ctx, pipeline, "uploading", "upload session closed before completion")
		}
		return nil, err
	}

	pipeline.AssetID = asset.ID
	if err := c.store.UpdatePipeline(ctx, pipeline); err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "pipeline", "complete-upload", "link asset", err)
	}

	c.bus.Publish(Event{PipelineID: pipeline.ID, Type: EventUploadCompleted, Stage: pipeline.Stage})
	if err := c.notifier.NotifyUploadComplete(ctx, asset.Filename, sessionBytes(ctx, c.store, pipeline.UploadSessionID)); err != nil {
		c.logger.Warn("upload notification failed", logging.Error(err))
	}
	c.audit.Record(ctx, audit.Event{
		Action:   "upload_completed",
		ActorID:  pipeline.CreatorID,
		AssetID:  asset.ID,
		UploadID: pipeline.UploadSessionID,
	})

	if !pipeline.AutoTranscode {
		c.logger.Info("auto-transcode disabled, pipeline awaiting explicit transcode",
			logging.String("pipeline_id", pipeline.ID),
			logging.String(logging.FieldAssetID, asset.ID),
		)
		return pipeline, nil
	}

	return c.startRun(ctx, pipeline, asset)
}

// BeginTranscode advances a pipeline whose creator opted out of automatic
// transcoding. The upload must already be complete; processing continues on a
// background worker after the call returns.
func (c *Coordinator) BeginTranscode(ctx context.Context, pipelineID string) (*store.Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pipeline, err := c.load(ctx, pipelineID, "begin-transcode")
	if err != nil {
		return nil, err
	}
	if pipeline.Stage != store.StageUploading {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "begin-transcode",
			fmt.Sprintf("pipeline is %s", pipeline.Stage), ErrInvalidTransition)
	}
	if pipeline.AssetID == "" {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "begin-transcode", "upload not yet complete", nil)
	}

	asset, err := c.store.GetMediaAsset(ctx, pipeline.AssetID)
	if err != nil || asset == nil {
		return nil, services.Wrap(services.ErrUnavailable, "pipeline", "begin-transcode", "load asset", err)
	}
	return c.startRun(ctx, pipeline, asset)
}

// startRun moves the pipeline into transcoding and launches its worker.
// Caller holds c.mu. The returned pipeline is a snapshot; the worker owns the
// row from here until it settles.
func (c *Coordinator) startRun(ctx context.Context, pipeline *store.Pipeline, asset *store.MediaAsset) (*store.Pipeline, error) {
	if err := c.setStage(ctx, pipeline, store.StageTranscoding); err != nil {
		return nil, err
	}

	workerCtx, cancel := context.WithCancel(c.baseCtx)
	c.workers[pipeline.ID] = cancel
	c.wg.Add(1)

	owned := *pipeline
	go func() {
		defer c.wg.Done()
		defer func() {
			cancel()
			c.mu.Lock()
			delete(c.workers, owned.ID)
			c.mu.Unlock()
		}()
		c.process(workerCtx, &owned, asset)
	}()

	snapshot := *pipeline
	return &snapshot, nil
}

// process drives transcoding and distribution on the worker goroutine.
func (c *Coordinator) process(ctx context.Context, pipeline *store.Pipeline, asset *store.MediaAsset) {
	started := time.Now()

	outcome, err := c.runTranscode(ctx, pipeline, asset)
	if err != nil {
		c.settleInterrupted(ctx, pipeline, "transcoding", err)
		return
	}

	if err := c.setStage(ctx, pipeline, store.StageDistributing); err != nil {
		c.settleInterrupted(ctx, pipeline, "transcoding", err)
		return
	}
	c.runDistribution(ctx, pipeline, asset)
	if ctx.Err() != nil {
		c.settleInterrupted(ctx, pipeline, "distributing", ctx.Err())
		return
	}

	if err := c.setStage(ctx, pipeline, store.StageCompleted); err != nil {
		c.settleInterrupted(ctx, pipeline, "distributing", err)
		return
	}
	c.bus.Publish(Event{PipelineID: pipeline.ID, Type: EventPipelineCompleted, Stage: store.StageCompleted})
	if err := c.notifier.NotifyPipelineComplete(ctx, asset.Filename, time.Since(started)); err != nil {
		c.logger.Warn("completion notification failed", logging.Error(err))
	}
	c.audit.Record(ctx, audit.Event{
		Action:  "pipeline_completed",
		ActorID: pipeline.CreatorID,
		AssetID: asset.ID,
		Detail:  map[string]string{"variants": fmt.Sprintf("%d", outcome.Succeeded)},
	})
	c.logger.Info("pipeline complete",
		logging.String("pipeline_id", pipeline.ID),
		logging.String(logging.FieldAssetID, asset.ID),
		logging.Duration("elapsed", time.Since(started)),
	)
}

// settleInterrupted resolves a worker that did not reach completion. Daemon
// shutdown leaves the row for boot recovery; a cancelled worker records the
// creator's cancellation; anything else records the stage error.
func (c *Coordinator) settleInterrupted(ctx context.Context, pipeline *store.Pipeline, stage string, err error) {
	if c.baseCtx.Err() != nil {
		c.logger.Info("pipeline worker stopped by shutdown",
			logging.String("pipeline_id", pipeline.ID),
			logging.String(logging.FieldStage, stage),
		)
		return
	}
	if ctx.Err() != nil {
		c.fail(ctx, pipeline, stage, "cancelled by creator")
		return
	}
	c.fail(ctx, pipeline, stage, err.Error())
}

func (c *Coordinator) runTranscode(ctx context.Context, pipeline *store.Pipeline, asset *store.MediaAsset) (*transcode.BatchOutcome, error) {
	batch, jobs, skipped, err := c.transcoder.QueueTranscoding(ctx, asset.ID, pipeline.RequestedPresets)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		c.logger.Warn("unknown presets skipped",
			logging.String("pipeline_id", pipeline.ID),
			logging.Int("skipped", len(skipped)),
		)
	}

	outcome, err := c.transcoder.ProcessBatch(ctx, batch.ID, jobs)
	if err != nil {
		return nil, err
	}
	if outcome.Succeeded == 0 {
		return nil, errors.New("all transcode jobs failed")
	}
	if err := c.notifier.NotifyTranscodeComplete(ctx, asset.Filename, outcome.Succeeded, outcome.Failed); err != nil {
		c.logger.Warn("transcode notification failed", logging.Error(err))
	}
	return outcome, nil
}

func (c *Coordinator) runDistribution(ctx context.Context, pipeline *store.Pipeline, asset *store.MediaAsset) {
	registry := c.distributor.Registry()
	platforms := make([]distribution.Platform, 0, len(pipeline.RequestedPlatforms))
	for _, id := range pipeline.RequestedPlatforms {
		if platform, ok := registry.Lookup(id); ok {
			platforms = append(platforms, platform)
		}
	}
	if len(platforms) == 0 {
		c.logger.Info("no platforms selected, skipping distribution",
			logging.String("pipeline_id", pipeline.ID),
		)
		return
	}

	result, err := c.distributor.DistributeToPlatforms(ctx, asset.ID, pipeline.ID, platforms)
	if err != nil {
		// Fan-out infrastructure failures are logged but never fail the
		// pipeline; every per-platform outcome is on its target record.
		c.logger.Error("distribution fan-out error",
			logging.String("pipeline_id", pipeline.ID),
			logging.Error(err),
		)
		return
	}
	if err := c.notifier.NotifyDistributionComplete(ctx, asset.Filename, result.Delivered, result.Failed); err != nil {
		c.logger.Warn("distribution notification failed", logging.Error(err))
	}
	c.audit.Record(ctx, audit.Event{
		Action:  "distribution_settled",
		ActorID: pipeline.CreatorID,
		AssetID: asset.ID,
		Detail: map[string]string{
			"delivered": fmt.Sprintf("%d", result.Delivered),
			"failed":    fmt.Sprintf("%d", result.Failed),
		},
	})
}

// PauseUpload pauses the pipeline's upload session.
func (c *Coordinator) PauseUpload(ctx context.Context, pipelineID string) error {
	pipeline, err := c.load(ctx, pipelineID, "pause")
	if err != nil {
		return err
	}
	return c.uploads.Pause(ctx, pipeline.UploadSessionID)
}

// ResumeUpload resumes the pipeline's paused upload session.
func (c *Coordinator) ResumeUpload(ctx context.Context, pipelineID string) error {
	pipeline, err := c.load(ctx, pipelineID, "resume")
	if err != nil {
		return err
	}
	return c.uploads.Resume(ctx, pipeline.UploadSessionID)
}

// CancelPipeline aborts the pipeline. A pipeline still uploading is failed in
// place; one with a live worker has its worker cancelled, and the worker
// settles the row.
func (c *Coordinator) CancelPipeline(ctx context.Context, pipelineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pipeline, err := c.load(ctx, pipelineID, "cancel")
	if err != nil {
		return err
	}
	if pipeline.Stage.IsTerminal() {
		return services.Wrap(services.ErrValidation, "pipeline", "cancel",
			fmt.Sprintf("pipeline is %s", pipeline.Stage), ErrInvalidTransition)
	}

	if cancelWorker, owned := c.workers[pipeline.ID]; owned {
		cancelWorker()
		c.audit.Record(ctx, audit.Event{
			Action:   "pipeline_cancelled",
			ActorID:  pipeline.CreatorID,
			UploadID: pipeline.UploadSessionID,
		})
		c.logger.Info("cancelling running pipeline",
			logging.String("pipeline_id", pipeline.ID),
			logging.String(logging.FieldStage, string(pipeline.Stage)),
		)
		return nil
	}

	if pipeline.UploadSessionID != "" {
		if err := c.uploads.Cancel(ctx, pipeline.UploadSessionID); err != nil && !errors.Is(err, upload.ErrSessionClosed) {
			return err
		}
	}
	c.fail(ctx, pipeline, string(pipeline.Stage), "cancelled by creator")
	c.audit.Record(ctx, audit.Event{
		Action:   "pipeline_cancelled",
		ActorID:  pipeline.CreatorID,
		UploadID: pipeline.UploadSessionID,
	})
	return nil
}

// RecoverInterrupted fails pipelines left mid-flight by an earlier process.
// Rows owned by a live worker are skipped; a processing-stage row with no
// worker can only be an orphan from before the daemon started.
func (c *Coordinator) RecoverInterrupted(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pipelines, err := c.store.ListPipelines(ctx, store.StageTranscoding, store.StageDistributing)
	if err != nil {
		return 0, services.Wrap(services.ErrUnavailable, "pipeline", "recover", "query interrupted pipelines", err)
	}
	recovered := 0
	for _, p := range pipelines {
		if _, owned := c.workers[p.ID]; owned {
			continue
		}
		c.fail(ctx, p, string(p.Stage), "interrupted before completion")
		recovered++
	}
	return recovered, nil
}

func (c *Coordinator) load(ctx context.Context, pipelineID, operation string) (*store.Pipeline, error) {
	pipeline, err := c.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "pipeline", operation, "load pipeline", err)
	}
	if pipeline == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", operation, pipelineID, ErrPipelineNotFound)
	}
	return pipeline, nil
}

func (c *Coordinator) setStage(ctx context.Context, pipeline *store.Pipeline, next store.Stage) error {
	if !canTransition(pipeline.Stage, next) {
		return services.Wrap(services.ErrValidation, "pipeline", "transition",
			fmt.Sprintf("%s cannot advance to %s", pipeline.Stage, next), ErrInvalidTransition)
	}
	pipeline.Stage = next
	if err := c.store.UpdatePipeline(ctx, pipeline); err != nil {
		return services.Wrap(services.ErrUnavailable, "pipeline", "transition", "persist stage", err)
	}
	c.bus.Publish(Event{PipelineID: pipeline.ID, Type: EventStageChanged, Stage: next})
	c.logger.Info("stage advanced",
		logging.String("pipeline_id", pipeline.ID),
		logging.String(logging.FieldStage, string(next)),
	)
	return nil
}

// fail moves the pipeline to the absorbing failed stage, recording the stage
// that broke and why. The failure must land even when the triggering context
// is already cancelled.
func (c *Coordinator) fail(ctx context.Context, pipeline *store.Pipeline, stage, message string) {
	ctx = context.WithoutCancel(ctx)
	pipeline.Stage = store.StageFailed
	pipeline.ErrorMessage = fmt.Sprintf("%s: %s", stage, message)
	if err := c.store.UpdatePipeline(ctx, pipeline); err != nil {
		c.logger.Error("failed to persist pipeline failure",
			logging.String("pipeline_id", pipeline.ID),
			logging.Error(err),
		)
	}
	c.bus.Publish(Event{PipelineID: pipeline.ID, Type: EventPipelineFailed, Stage: store.StageFailed, Message: pipeline.ErrorMessage})
	if err := c.notifier.NotifyPipelineFailed(ctx, pipelineFilename(ctx, c.store, pipeline), errors.New(pipeline.ErrorMessage)); err != nil {
		c.logger.Warn("failure notification failed", logging.Error(err))
	}
	c.logger.Error("pipeline failed",
		logging.String("pipeline_id", pipeline.ID),
		logging.String(logging.FieldErrorHint, pipeline.ErrorMessage),
	)
}

func sessionBytes(ctx context.Context, st *store.Store, sessionID string) int64 {
	session, err := st.GetUploadSession(ctx, sessionID)
	if err != nil || session == nil {
		return 0
	}
	return session.TotalSizeBytes
}

func pipelineFilename(ctx context.Context, st *store.Store, pipeline *store.Pipeline) string {
	if pipeline.UploadSessionID == "" {
		return ""
	}
	session, err := st.GetUploadSession(ctx, pipeline.UploadSessionID)
	if err != nil || session == nil {
		return ""
	}
	return session.Filename
}
