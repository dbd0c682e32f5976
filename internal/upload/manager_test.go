package upload_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"conduit/internal/config"
	"conduit/internal/objectstore"
	"conduit/internal/services"
	"conduit/internal/services/forensic"
	"conduit/internal/store"
	"conduit/internal/testsupport"
	"conduit/internal/upload"
)

const mib = 1024 * 1024

func newManager(t *testing.T) (*upload.Manager, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	blob, err := objectstore.NewDisk(cfg.Paths.StagingDir, cfg.Paths.StorageDir)
	if err != nil {
		t.Fatalf("NewDisk failed: %v", err)
	}
	return upload.NewManager(cfg, st, blob, forensic.SidecarSigner{}, nil), cfg
}

func chunkData(size int64, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, int(size))
}

func TestInitializeUploadComputesChunkCount(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	session, err := manager.InitializeUpload(ctx, upload.InitRequest{
		CreatorID: "creator-1",
		Filename:  "video.mp4",
		TotalSize: 12 * mib,
	})
	if err != nil {
		t.Fatalf("InitializeUpload failed: %v", err)
	}
	if session.TotalChunks != 3 {
		t.Fatalf("12 MiB at 5 MiB chunks should need 3 chunks, got %d", session.TotalChunks)
	}
	if session.Status != store.SessionActive {
		t.Fatalf("session status = %q, want active", session.Status)
	}
	if session.TransactionID == "" {
		t.Fatal("session should carry a storage transaction")
	}
}

func TestInitializeUploadValidation(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	if _, err := manager.InitializeUpload(ctx, upload.InitRequest{CreatorID: "c", Filename: "f", TotalSize: 0}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("zero size should fail validation, got %v", err)
	}
	if _, err := manager.InitializeUpload(ctx, upload.InitRequest{CreatorID: "c", TotalSize: 1}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("missing filename should fail validation, got %v", err)
	}
}

func TestUploadReverseOrderThenComplete(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	session, err := manager.InitializeUpload(ctx, upload.InitRequest{
		CreatorID: "creator-1",
		Filename:  "video.mp4",
		TotalSize: 12 * mib,
	})
	if err != nil {
		t.Fatalf("InitializeUpload failed: %v", err)
	}

	// Chunks arrive out of order: 2, 0, 1. Final chunk is the 2 MiB remainder.
	sizes := []int64{5 * mib, 5 * mib, 2 * mib}
	for _, index := range []int{2, 0, 1} {
		receipt, err := manager.UploadChunk(ctx, session.ID, index, chunkData(sizes[index], byte('a'+index)))
		if err != nil {
			t.Fatalf("UploadChunk %d failed: %v", index, err)
		}
		if receipt.AlreadyReceived {
			t.Fatalf("chunk %d reported as duplicate on first write", index)
		}
	}

	asset, err := manager.CompleteUpload(ctx, session.ID)
	if err != nil {
		t.Fatalf("CompleteUpload failed: %v", err)
	}
	if asset.SourceLocation == "" || asset.ContentHash == "" {
		t.Fatalf("asset missing location or hash: %+v", asset)
	}
	if asset.SignatureID == "" {
		t.Fatal("asset missing forensic signature")
	}

	info, err := os.Stat(asset.SourceLocation)
	if err != nil {
		t.Fatalf("stat assembled file: %v", err)
	}
	if info.Size() != 12*mib {
		t.Fatalf("assembled size = %d, want %d", info.Size(), 12*mib)
	}

	// Chunk order must be restored regardless of arrival order.
	f, err := os.Open(asset.SourceLocation)
	if err != nil {
		t.Fatalf("open assembled file: %v", err)
	}
	defer f.Close()
	head := make([]byte, 1)
	if _, err := f.Read(head); err != nil || head[0] != 'a' {
		t.Fatalf("assembled file does not start with chunk 0: %q %v", head, err)
	}
}

func TestUploadChunkIdempotent(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	session, err := manager.InitializeUpload(ctx, upload.InitRequest{
		CreatorID: "creator-1",
		Filename:  "video.mp4",
		TotalSize: 5 * mib,
	})
	if err != nil {
		t.Fatalf("InitializeUpload failed: %v", err)
	}

	data := chunkData(5*mib, 'x')
	first, err := manager.UploadChunk(ctx, session.ID, 0, data)
	if err != nil {
		t.Fatalf("UploadChunk failed: %v", err)
	}
	second, err := manager.UploadChunk(ctx, session.ID, 0, data)
	if err != nil {
		t.Fatalf("repeat UploadChunk failed: %v", err)
	}
	if !second.AlreadyReceived {
		t.Fatal("repeat chunk should report AlreadyReceived")
	}
	if first.ETag != second.ETag {
		t.Fatalf("etag changed on retry: %q vs %q", first.ETag, second.ETag)
	}
}

func TestUploadChunkErrors(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	if _, err := manager.UploadChunk(ctx, "absent", 0, []byte("x")); !errors.Is(err, upload.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	session, err := manager.InitializeUpload(ctx, upload.InitRequest{
		CreatorID: "creator-1",
		Filename:  "video.mp4",
		TotalSize: 7 * mib,
	})
	if err != nil {
		t.Fatalf("InitializeUpload failed: %v", err)
	}

	if _, err := manager.UploadChunk(ctx, session.ID, 5, chunkData(5*mib, 'x')); !errors.Is(err, upload.ErrInvalidChunkIndex) {
		t.Fatalf("expected ErrInvalidChunkIndex, got %v", err)
	}
	if _, err := manager.UploadChunk(ctx, session.ID, 0, []byte("short")); !errors.Is(err, upload.ErrChunkSizeMismatch) {
		t.Fatalf("expected ErrChunkSizeMismatch, got %v", err)
	}
	// Final chunk carries the 2 MiB remainder, not a full chunk.
	if _, err := manager.UploadChunk(ctx, session.ID, 1, chunkData(5*mib, 'x')); !errors.Is(err, upload.ErrChunkSizeMismatch) {
		t.Fatalf("expected remainder mismatch, got %v", err)
	}
	if _, err := manager.UploadChunk(ctx, session.ID, 1, chunkData(2*mib, 'x')); err != nil {
		t.Fatalf("remainder chunk failed: %v", err)
	}

	if err := manager.Pause(ctx, session.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if _, err := manager.UploadChunk(ctx, session.ID, 0, chunkData(5*mib, 'x')); !errors.Is(err, upload.ErrSessionPaused) {
		t.Fatalf("expected ErrSessionPaused, got %v", err)
	}
}

func TestCompleteUploadRequiresAllChunks(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	session, err := manager.InitializeUpload(ctx, upload.InitRequest{
		CreatorID: "creator-1",
		Filename:  "video.mp4",
		TotalSize: 10 * mib,
	})
	if err != nil {
		t.Fatalf("InitializeUpload failed: %v", err)
	}
	if _, err := manager.UploadChunk(ctx, session.ID, 0, chunkData(5*mib, 'a')); err != nil {
		t.Fatalf("UploadChunk failed: %v", err)
	}

	if _, err := manager.CompleteUpload(ctx, session.ID); !errors.Is(err, upload.ErrUploadIncomplete) {
		t.Fatalf("expected ErrUploadIncomplete, got %v", err)
	}
}

func TestPauseResumeCancel(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	session, err := manager.InitializeUpload(ctx, upload.InitRequest{
		CreatorID: "creator-1",
		Filename:  "video.mp4",
		TotalSize: 5 * mib,
	})
	if err != nil {
		t.Fatalf("InitializeUpload failed: %v", err)
	}

	if err := manager.Pause(ctx, session.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	// Pausing again is a no-op.
	if err := manager.Pause(ctx, session.ID); err != nil {
		t.Fatalf("repeat Pause failed: %v", err)
	}
	if err := manager.Resume(ctx, session.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if _, err := manager.UploadChunk(ctx, session.ID, 0, chunkData(5*mib, 'x')); err != nil {
		t.Fatalf("chunk after resume failed: %v", err)
	}

	if err := manager.Cancel(ctx, session.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := manager.Cancel(ctx, session.ID); err != nil {
		t.Fatalf("repeat Cancel failed: %v", err)
	}
	if _, err := manager.UploadChunk(ctx, session.ID, 0, chunkData(5*mib, 'x')); !errors.Is(err, upload.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after cancel, got %v", err)
	}
}

func TestUploadChunksBatchIsolatesFailures(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	session, err := manager.InitializeUpload(ctx, upload.InitRequest{
		CreatorID: "creator-1",
		Filename:  "video.mp4",
		TotalSize: 12 * mib,
	})
	if err != nil {
		t.Fatalf("InitializeUpload failed: %v", err)
	}

	result, err := manager.UploadChunksBatch(ctx, session.ID, []upload.ChunkPayload{
		{Index: 0, Data: chunkData(5*mib, 'a')},
		{Index: 1, Data: []byte("wrong size")},
		{Index: 2, Data: chunkData(2*mib, 'c')},
	})
	if err != nil {
		t.Fatalf("UploadChunksBatch failed: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("unexpected batch result: %+v", result)
	}
	if !errors.Is(result.Errors[1], upload.ErrChunkSizeMismatch) {
		t.Fatalf("expected size mismatch for chunk 1, got %v", result.Errors[1])
	}
}

func TestGetProgress(t *testing.T) {
	manager, _ := newManager(t)
	ctx := context.Background()

	session, err := manager.InitializeUpload(ctx, upload.InitRequest{
		CreatorID: "creator-1",
		Filename:  "video.mp4",
		TotalSize: 10 * mib,
	})
	if err != nil {
		t.Fatalf("InitializeUpload failed: %v", err)
	}
	if _, err := manager.UploadChunk(ctx, session.ID, 0, chunkData(5*mib, 'a')); err != nil {
		t.Fatalf("UploadChunk failed: %v", err)
	}

	progress, err := manager.GetProgress(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	if progress.ReceivedChunks != 1 || progress.TotalChunks != 2 {
		t.Fatalf("unexpected chunk counts: %+v", progress)
	}
	if progress.Percent != 50 {
		t.Fatalf("percent = %f, want 50", progress.Percent)
	}
	if progress.Throughput <= 0 {
		t.Fatalf("throughput should be positive, got %f", progress.Throughput)
	}
}

func TestSweepStaleExpiresIdleSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	blob, err := objectstore.NewDisk(cfg.Paths.StagingDir, cfg.Paths.StorageDir)
	if err != nil {
		t.Fatalf("NewDisk failed: %v", err)
	}
	// Zero hours makes every idle session immediately stale.
	cfg.Upload.StaleAfterHours = 0
	manager := upload.NewManager(cfg, st, blob, forensic.SidecarSigner{}, nil)
	ctx := context.Background()

	session, err := manager.InitializeUpload(ctx, upload.InitRequest{
		CreatorID: "creator-1",
		Filename:  "video.mp4",
		TotalSize: 5 * mib,
	})
	if err != nil {
		t.Fatalf("InitializeUpload failed: %v", err)
	}

	expired, err := manager.SweepStale(ctx)
	if err != nil {
		t.Fatalf("SweepStale failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	reloaded, err := st.GetUploadSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetUploadSession failed: %v", err)
	}
	if reloaded.Status != store.SessionFailed || reloaded.ErrorMessage != upload.StaleSessionMessage {
		t.Fatalf("session not expired: %+v", reloaded)
	}

	// Staging directory must not keep the aborted transaction.
	entries, err := os.ReadDir(filepath.Join(cfg.Paths.StagingDir))
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() == "txn-"+session.TransactionID {
			t.Fatal("stale transaction directory survived the sweep")
		}
	}
}
