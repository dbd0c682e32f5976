package transcode_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conduit/internal/config"
	"conduit/internal/objectstore"
	"conduit/internal/services"
	"conduit/internal/services/ffmpeg"
	"conduit/internal/services/forensic"
	"conduit/internal/store"
	"conduit/internal/testsupport"
	"conduit/internal/transcode"
)

// fakeEncoder fabricates renditions without running ffmpeg. Presets listed in
// fail return an error instead.
type fakeEncoder struct {
	fail map[string]bool
}

func (f *fakeEncoder) Probe(ctx context.Context, inputPath string) (time.Duration, error) {
	return 10 * time.Second, nil
}

func (f *fakeEncoder) Transcode(ctx context.Context, inputPath, outputPath string, opts ffmpeg.EncodeOptions) error {
	preset := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	if f.fail[preset] {
		return errors.New("encoder exited with status 1")
	}
	if opts.Progress != nil {
		opts.Progress(ffmpeg.ProgressUpdate{Percent: 50})
		opts.Progress(ffmpeg.ProgressUpdate{Percent: 100, Finished: true})
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("encoded-"+preset), 0o644)
}

type fixture struct {
	orchestrator *transcode.Orchestrator
	store        *store.Store
	asset        *store.MediaAsset
}

func newFixture(t *testing.T, encoder ffmpeg.Client) *fixture {
	return newFixtureWith(t, encoder, nil)
}

func newFixtureWith(t *testing.T, encoder ffmpeg.Client, tweak func(*config.Config)) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if tweak != nil {
		tweak(cfg)
	}
	st := testsupport.MustOpenStore(t, cfg)
	blob, err := objectstore.NewDisk(cfg.Paths.StagingDir, cfg.Paths.StorageDir)
	if err != nil {
		t.Fatalf("NewDisk failed: %v", err)
	}

	source := filepath.Join(t.TempDir(), "source.mp4")
	testsupport.WriteFile(t, source, 1024)
	asset, err := st.NewMediaAsset(context.Background(), &store.MediaAsset{
		CreatorID:      "creator-1",
		Filename:       "source.mp4",
		SourceLocation: source,
		ContentHash:    "hash-a",
	})
	if err != nil {
		t.Fatalf("NewMediaAsset failed: %v", err)
	}

	return &fixture{
		orchestrator: transcode.NewOrchestrator(cfg, st, encoder, forensic.SidecarSigner{}, blob, nil),
		store:        st,
		asset:        asset,
	}
}

func TestQueueTranscodingSkipsUnknownPresets(t *testing.T) {
	fx := newFixture(t, &fakeEncoder{})
	ctx := context.Background()

	batch, jobs, skipped, err := fx.orchestrator.QueueTranscoding(ctx, fx.asset.ID, []string{"1080p", "8K-hdr", "720p"})
	if err != nil {
		t.Fatalf("QueueTranscoding failed: %v", err)
	}
	if batch == nil || len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if len(skipped) != 1 || skipped[0] != "8K-hdr" {
		t.Fatalf("unexpected skipped set: %v", skipped)
	}

	asset, err := fx.store.GetMediaAsset(ctx, fx.asset.ID)
	if err != nil {
		t.Fatalf("GetMediaAsset failed: %v", err)
	}
	if asset.ProcessingStatus != store.ProcessingInProgress {
		t.Fatalf("asset status = %q, want processing", asset.ProcessingStatus)
	}
}

func TestQueueTranscodingAllUnknownFails(t *testing.T) {
	fx := newFixture(t, &fakeEncoder{})
	_, _, skipped, err := fx.orchestrator.QueueTranscoding(context.Background(), fx.asset.ID, []string{"8K", "16K"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(skipped) != 2 {
		t.Fatalf("expected both presets skipped, got %v", skipped)
	}
}

func TestProcessBatchPartialSuccess(t *testing.T) {
	fx := newFixture(t, &fakeEncoder{fail: map[string]bool{"480p": true}})
	ctx := context.Background()

	batch, jobs, _, err := fx.orchestrator.QueueTranscoding(ctx, fx.asset.ID, []string{"1080p", "720p", "480p"})
	if err != nil {
		t.Fatalf("QueueTranscoding failed: %v", err)
	}
	outcome, err := fx.orchestrator.ProcessBatch(ctx, batch.ID, jobs)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if outcome.Succeeded != 2 || outcome.Failed != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	asset, err := fx.store.GetMediaAsset(ctx, fx.asset.ID)
	if err != nil {
		t.Fatalf("GetMediaAsset failed: %v", err)
	}
	if asset.ProcessingStatus != store.ProcessingCompleted {
		t.Fatalf("one successful variant should complete the asset, got %q", asset.ProcessingStatus)
	}
	if asset.ManifestLocation == "" {
		t.Fatal("asset missing manifest location")
	}

	manifest, err := os.ReadFile(asset.ManifestLocation)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	text := string(manifest)
	if !strings.Contains(text, "1080p") || !strings.Contains(text, "720p") {
		t.Fatalf("manifest missing successful variants:\n%s", text)
	}
	if strings.Contains(text, "480p") {
		t.Fatalf("manifest references failed variant:\n%s", text)
	}

	variants, err := fx.store.VariantsForAsset(ctx, fx.asset.ID)
	if err != nil {
		t.Fatalf("VariantsForAsset failed: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("variant count = %d, want 2", len(variants))
	}
	for _, variant := range variants {
		if variant.SignatureID == "" {
			t.Fatalf("variant %s missing signature", variant.Preset)
		}
		// Every published rendition carries its own sidecar signature.
		if _, err := os.Stat(variant.Location); err != nil {
			t.Fatalf("variant %s not published: %v", variant.Preset, err)
		}
	}

	loadedJobs, err := fx.store.JobsForAsset(ctx, fx.asset.ID)
	if err != nil {
		t.Fatalf("JobsForAsset failed: %v", err)
	}
	for _, job := range loadedJobs {
		switch job.Preset {
		case "480p":
			if job.Status != store.JobFailed || job.ErrorMessage == "" {
				t.Fatalf("480p job should fail with message: %+v", job)
			}
		default:
			if job.Status != store.JobCompleted || job.ProgressPercent != 100 {
				t.Fatalf("job %s should be completed: %+v", job.Preset, job)
			}
		}
	}
}

func TestProcessBatchSkipsManifestWhenAdaptiveDisabled(t *testing.T) {
	fx := newFixtureWith(t, &fakeEncoder{}, func(cfg *config.Config) {
		cfg.Transcode.AdaptiveManifest = false
	})
	ctx := context.Background()

	batch, jobs, _, err := fx.orchestrator.QueueTranscoding(ctx, fx.asset.ID, []string{"1080p", "720p"})
	if err != nil {
		t.Fatalf("QueueTranscoding failed: %v", err)
	}
	outcome, err := fx.orchestrator.ProcessBatch(ctx, batch.ID, jobs)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if outcome.Succeeded != 2 || outcome.ManifestLocation != "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	asset, err := fx.store.GetMediaAsset(ctx, fx.asset.ID)
	if err != nil {
		t.Fatalf("GetMediaAsset failed: %v", err)
	}
	if asset.ProcessingStatus != store.ProcessingCompleted {
		t.Fatalf("asset status = %q, want completed", asset.ProcessingStatus)
	}
	if asset.ManifestLocation != "" {
		t.Fatalf("asset should carry no manifest when adaptive output is off: %q", asset.ManifestLocation)
	}
}

func TestProcessBatchAllFailuresFailsAsset(t *testing.T) {
	fx := newFixture(t, &fakeEncoder{fail: map[string]bool{"1080p": true, "720p": true}})
	ctx := context.Background()

	batch, jobs, _, err := fx.orchestrator.QueueTranscoding(ctx, fx.asset.ID, []string{"1080p", "720p"})
	if err != nil {
		t.Fatalf("QueueTranscoding failed: %v", err)
	}
	outcome, err := fx.orchestrator.ProcessBatch(ctx, batch.ID, jobs)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if outcome.Succeeded != 0 || outcome.Failed != 2 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	asset, err := fx.store.GetMediaAsset(ctx, fx.asset.ID)
	if err != nil {
		t.Fatalf("GetMediaAsset failed: %v", err)
	}
	if asset.ProcessingStatus != store.ProcessingFailed {
		t.Fatalf("asset should fail with zero variants, got %q", asset.ProcessingStatus)
	}
	if asset.ManifestLocation != "" {
		t.Fatal("failed asset should not carry a manifest")
	}
}

func TestGetJobStatusMeanIncludesQueuedJobs(t *testing.T) {
	fx := newFixture(t, &fakeEncoder{})
	ctx := context.Background()

	_, jobs, _, err := fx.orchestrator.QueueTranscoding(ctx, fx.asset.ID, []string{"1080p", "720p", "480p", "360p"})
	if err != nil {
		t.Fatalf("QueueTranscoding failed: %v", err)
	}
	if err := fx.store.SetJobProgress(ctx, jobs[0].ID, 100); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}
	if err := fx.store.SetJobProgress(ctx, jobs[1].ID, 60); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}

	report, err := fx.orchestrator.GetJobStatus(ctx, fx.asset.ID)
	if err != nil {
		t.Fatalf("GetJobStatus failed: %v", err)
	}
	if len(report.Jobs) != 4 {
		t.Fatalf("expected 4 jobs in report, got %d", len(report.Jobs))
	}
	if report.OverallProgress != 40 {
		t.Fatalf("overall progress = %f, want 40 (queued jobs count as zero)", report.OverallProgress)
	}
}

func TestBuildMasterManifestOrdersByQuality(t *testing.T) {
	manifest := transcode.BuildMasterManifest([]store.QualityVariant{
		{Preset: "360p", Location: "x"},
		{Preset: "1080p", Location: "y"},
	})
	first := strings.Index(manifest, "1080p")
	second := strings.Index(manifest, "360p")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("manifest order wrong:\n%s", manifest)
	}
	if !strings.HasPrefix(manifest, "#EXTM3U") {
		t.Fatalf("manifest missing header:\n%s", manifest)
	}
	for _, line := range strings.Split(manifest, "\n") {
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") && !strings.Contains(line, "BANDWIDTH=") {
			t.Fatalf("stream line missing bandwidth: %s", line)
		}
	}
}

func TestPresetBandwidth(t *testing.T) {
	preset, ok := transcode.LookupPreset("720p")
	if !ok {
		t.Fatal("720p should exist")
	}
	if preset.Bandwidth() != (2800+128)*1000 {
		t.Fatalf("unexpected bandwidth: %d", preset.Bandwidth())
	}
	if _, ok := transcode.LookupPreset("999p"); ok {
		t.Fatal("unknown preset should not resolve")
	}
}

func TestLookupPresetNormalizesName(t *testing.T) {
	for _, name := range []string{"1080P", " 1080p "} {
		if _, ok := transcode.LookupPreset(name); !ok {
			t.Fatalf("preset %q should normalize and resolve", name)
		}
	}
}
