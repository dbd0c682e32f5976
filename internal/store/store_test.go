package store_test

import (
	"context"
	"testing"
	"time"

	"conduit/internal/store"
	"conduit/internal/testsupport"
)

func TestPipelineLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	pipeline, err := st.NewPipeline(ctx, "creator-1", "gold", true, []string{"1080p", "720p"}, []string{"tube"})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if pipeline.Stage != store.StageUploading {
		t.Fatalf("new pipeline stage = %q, want uploading", pipeline.Stage)
	}
	if !pipeline.AutoTranscode {
		t.Fatal("auto transcode flag lost")
	}
	if len(pipeline.RequestedPresets) != 2 || pipeline.RequestedPresets[0] != "1080p" {
		t.Fatalf("presets not persisted: %v", pipeline.RequestedPresets)
	}

	pipeline.Stage = store.StageTranscoding
	pipeline.AssetID = "asset-1"
	if err := st.UpdatePipeline(ctx, pipeline); err != nil {
		t.Fatalf("UpdatePipeline failed: %v", err)
	}

	reloaded, err := st.GetPipeline(ctx, pipeline.ID)
	if err != nil {
		t.Fatalf("GetPipeline failed: %v", err)
	}
	if reloaded.Stage != store.StageTranscoding || reloaded.AssetID != "asset-1" {
		t.Fatalf("update not persisted: %+v", reloaded)
	}

	missing, err := st.GetPipeline(ctx, "no-such-id")
	if err != nil {
		t.Fatalf("GetPipeline for missing id failed: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown pipeline")
	}
}

func TestUploadSessionChunkAccounting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	session := testsupport.NewSession(t, st, "creator-1", "video.mp4", 12*1024*1024, 5*1024*1024, 3)
	if session.Status != store.SessionActive {
		t.Fatalf("new session status = %q, want active", session.Status)
	}

	for i, size := range []int64{5 * 1024 * 1024, 5 * 1024 * 1024, 2 * 1024 * 1024} {
		if err := st.RecordChunk(ctx, store.UploadChunk{
			SessionID: session.ID,
			Index:     i,
			SizeBytes: size,
			ETag:      "etag",
		}); err != nil {
			t.Fatalf("RecordChunk %d failed: %v", i, err)
		}
	}

	count, err := st.ChunkCount(ctx, session.ID)
	if err != nil {
		t.Fatalf("ChunkCount failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("chunk count = %d, want 3", count)
	}

	// Re-recording the same index must not inflate the count.
	if err := st.RecordChunk(ctx, store.UploadChunk{SessionID: session.ID, Index: 1, SizeBytes: 5 * 1024 * 1024, ETag: "etag2"}); err != nil {
		t.Fatalf("repeat RecordChunk failed: %v", err)
	}
	count, err = st.ChunkCount(ctx, session.ID)
	if err != nil {
		t.Fatalf("ChunkCount after repeat failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("chunk count after repeat = %d, want 3", count)
	}

	bytes, err := st.ReceivedBytes(ctx, session.ID)
	if err != nil {
		t.Fatalf("ReceivedBytes failed: %v", err)
	}
	if bytes != 12*1024*1024 {
		t.Fatalf("received bytes = %d, want %d", bytes, 12*1024*1024)
	}

	chunk, err := st.GetChunk(ctx, session.ID, 1)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if chunk == nil || chunk.ETag != "etag2" {
		t.Fatalf("chunk not replaced: %+v", chunk)
	}
}

func TestStaleUploadSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	session := testsupport.NewSession(t, st, "creator-1", "old.mp4", 1024, 1024, 1)
	fresh := testsupport.NewSession(t, st, "creator-1", "new.mp4", 1024, 1024, 1)

	// Sessions created just now are not stale against a past cutoff.
	stale, err := st.StaleUploadSessions(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("StaleUploadSessions failed: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale sessions, got %d", len(stale))
	}

	// Against a future cutoff both are stale; completed sessions are excluded.
	fresh.Status = store.SessionCompleted
	if err := st.UpdateUploadSession(ctx, fresh); err != nil {
		t.Fatalf("UpdateUploadSession failed: %v", err)
	}
	stale, err = st.StaleUploadSessions(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("StaleUploadSessions failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != session.ID {
		t.Fatalf("unexpected stale set: %+v", stale)
	}
}

func TestTranscodeBatchAndJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	asset, err := st.NewMediaAsset(ctx, &store.MediaAsset{
		CreatorID:      "creator-1",
		Filename:       "video.mp4",
		SourceLocation: "/tmp/video.mp4",
	})
	if err != nil {
		t.Fatalf("NewMediaAsset failed: %v", err)
	}
	if asset.ProcessingStatus != store.ProcessingPending {
		t.Fatalf("asset status = %q, want pending", asset.ProcessingStatus)
	}

	batch, jobs, err := st.NewTranscodeBatch(ctx, asset.ID, []string{"1080p", "720p", "480p"})
	if err != nil {
		t.Fatalf("NewTranscodeBatch failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("job count = %d, want 3", len(jobs))
	}

	jobs[0].Status = store.JobCompleted
	jobs[0].ProgressPercent = 100
	jobs[0].OutputLocation = "/storage/1080p.mp4"
	if err := st.UpdateTranscodeJob(ctx, jobs[0]); err != nil {
		t.Fatalf("UpdateTranscodeJob failed: %v", err)
	}
	if err := st.SetJobProgress(ctx, jobs[1].ID, 150); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}

	loaded, err := st.JobsForAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("JobsForAsset failed: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded job count = %d, want 3", len(loaded))
	}
	byID := map[string]*store.TranscodeJob{}
	for _, job := range loaded {
		byID[job.ID] = job
	}
	if byID[jobs[0].ID].Status != store.JobCompleted {
		t.Fatalf("job status not persisted: %+v", byID[jobs[0].ID])
	}
	if byID[jobs[1].ID].ProgressPercent != 100 {
		t.Fatalf("progress not clamped to 100: %f", byID[jobs[1].ID].ProgressPercent)
	}

	if err := st.UpdateBatchStatus(ctx, batch.ID, store.JobCompleted); err != nil {
		t.Fatalf("UpdateBatchStatus failed: %v", err)
	}
}

func TestSetJobProgressNeverRegresses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	asset, err := st.NewMediaAsset(ctx, &store.MediaAsset{
		CreatorID:      "creator-1",
		Filename:       "video.mp4",
		SourceLocation: "/tmp/video.mp4",
	})
	if err != nil {
		t.Fatalf("NewMediaAsset failed: %v", err)
	}
	_, jobs, err := st.NewTranscodeBatch(ctx, asset.ID, []string{"720p"})
	if err != nil {
		t.Fatalf("NewTranscodeBatch failed: %v", err)
	}
	jobID := jobs[0].ID

	progress := func() float64 {
		t.Helper()
		job, err := st.GetTranscodeJob(ctx, jobID)
		if err != nil || job == nil {
			t.Fatalf("GetTranscodeJob failed: %v", err)
		}
		return job.ProgressPercent
	}

	if err := st.SetJobProgress(ctx, jobID, 60); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}
	if got := progress(); got != 60 {
		t.Fatalf("progress = %f, want 60", got)
	}

	// A late-arriving lower report must not wind progress backwards.
	if err := st.SetJobProgress(ctx, jobID, 35); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}
	if got := progress(); got != 60 {
		t.Fatalf("progress regressed to %f, want 60", got)
	}

	if err := st.SetJobProgress(ctx, jobID, 80); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}
	if got := progress(); got != 80 {
		t.Fatalf("progress = %f, want 80", got)
	}
}

func TestQualityVariantsAndTargets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	asset, err := st.NewMediaAsset(ctx, &store.MediaAsset{
		CreatorID:      "creator-1",
		Filename:       "video.mp4",
		SourceLocation: "/tmp/video.mp4",
	})
	if err != nil {
		t.Fatalf("NewMediaAsset failed: %v", err)
	}

	for _, preset := range []string{"720p", "1080p"} {
		if _, err := st.NewQualityVariant(ctx, &store.QualityVariant{
			AssetID:  asset.ID,
			Preset:   preset,
			Location: "/storage/" + preset + ".mp4",
		}); err != nil {
			t.Fatalf("NewQualityVariant failed: %v", err)
		}
	}
	variants, err := st.VariantsForAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("VariantsForAsset failed: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("variant count = %d, want 2", len(variants))
	}

	targets, err := st.NewDistributionTargets(ctx, asset.ID, "", []string{"tube", "social"})
	if err != nil {
		t.Fatalf("NewDistributionTargets failed: %v", err)
	}
	now := time.Now().UTC()
	targets[0].Status = store.TargetDelivered
	targets[0].DeliveredAt = &now
	if err := st.UpdateDistributionTarget(ctx, targets[0]); err != nil {
		t.Fatalf("UpdateDistributionTarget failed: %v", err)
	}
	targets[1].Status = store.TargetFailed
	targets[1].ErrorMessage = "ingest rejected payload"
	if err := st.UpdateDistributionTarget(ctx, targets[1]); err != nil {
		t.Fatalf("UpdateDistributionTarget failed: %v", err)
	}

	loaded, err := st.TargetsForAsset(ctx, asset.ID)
	if err != nil {
		t.Fatalf("TargetsForAsset failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("target count = %d, want 2", len(loaded))
	}
	if loaded[0].Status != store.TargetDelivered || loaded[0].DeliveredAt == nil {
		t.Fatalf("delivered target not persisted: %+v", loaded[0])
	}
	if loaded[1].Status != store.TargetFailed || loaded[1].ErrorMessage == "" {
		t.Fatalf("failed target not persisted: %+v", loaded[1])
	}
}

func TestHealthAggregation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewPipeline(t, st, "creator-1", "gold")
	testsupport.NewPipeline(t, st, "creator-2", "silver")

	first.Stage = store.StageCompleted
	if err := st.UpdatePipeline(ctx, first); err != nil {
		t.Fatalf("UpdatePipeline failed: %v", err)
	}

	health, err := st.Health(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Completed != 1 || health.Uploading != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}
}

func TestParseStage(t *testing.T) {
	if stage, ok := store.ParseStage(" Transcoding "); !ok || stage != store.StageTranscoding {
		t.Fatalf("ParseStage normalization failed: %q %v", stage, ok)
	}
	if _, ok := store.ParseStage("archived"); ok {
		t.Fatal("unknown stage should not parse")
	}
	if !store.StageFailed.IsTerminal() || store.StageUploading.IsTerminal() {
		t.Fatal("terminal stage classification wrong")
	}
}
