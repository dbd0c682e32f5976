package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/notifications"
	"conduit/internal/objectstore"
	"conduit/internal/services"
	"conduit/internal/services/forensic"
	"conduit/internal/store"
)

// Sentinel errors surfaced by upload operations. Callers classify them with
// errors.Is; each is also tagged with the matching services marker.
var (
	ErrSessionNotFound   = errors.New("upload session not found")
	ErrSessionPaused     = errors.New("upload session is paused")
	ErrSessionClosed     = errors.New("upload session is closed")
	ErrInvalidChunkIndex = errors.New("chunk index out of range")
	ErrChunkSizeMismatch = errors.New("chunk size mismatch")
	ErrUploadIncomplete  = errors.New("upload incomplete")
)

// InitRequest describes a new chunked upload.
type InitRequest struct {
	CreatorID    string
	Filename     string
	TotalSize    int64
	PipelineID   string
	MetadataJSON string
}

// ChunkReceipt reports the outcome of one chunk write.
type ChunkReceipt struct {
	SessionID       string
	Index           int
	ETag            string
	AlreadyReceived bool
}

// Manager drives chunked, resumable uploads backed by the blob store.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	blob     objectstore.BlobStore
	signer   forensic.Signer
	notifier notifications.Service
	logger   *slog.Logger

	mu sync.Mutex
}

// NewManager wires the upload manager to its collaborators.
func NewManager(cfg *config.Config, st *store.Store, blob objectstore.BlobStore, signer forensic.Signer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		store:  st,
		blob:   blob,
		signer: signer,
		logger: logger.With(logging.String(logging.FieldComponent, "upload")),
	}
}

// SetNotifier attaches a notification service for sweep announcements.
func (m *Manager) SetNotifier(notifier notifications.Service) {
	m.notifier = notifier
}

// InitializeUpload creates a session and opens its storage transaction.
func (m *Manager) InitializeUpload(ctx context.Context, req InitRequest) (*store.UploadSession, error) {
	req.Filename = strings.TrimSpace(req.Filename)
	if req.CreatorID == "" {
		return nil, services.Wrap(services.ErrValidation, "upload", "initialize", "creator id required", nil)
	}
	if req.Filename == "" {
		return nil, services.Wrap(services.ErrValidation, "upload", "initialize", "filename required", nil)
	}
	if req.TotalSize <= 0 {
		return nil, services.Wrap(services.ErrValidation, "upload", "initialize", fmt.Sprintf("total size must be positive, got %d", req.TotalSize), nil)
	}

	chunkSize := m.cfg.ChunkSizeBytes()
	totalChunks := int((req.TotalSize + chunkSize - 1) / chunkSize)

	session, err := m.store.NewUploadSession(ctx, &store.UploadSession{
		PipelineID:     req.PipelineID,
		CreatorID:      req.CreatorID,
		Filename:       req.Filename,
		TotalSizeBytes: req.TotalSize,
		ChunkSizeBytes: chunkSize,
		TotalChunks:    totalChunks,
		MetadataJSON:   req.MetadataJSON,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "initialize", "persist session", err)
	}
	key := path.Join("uploads", session.ID, req.Filename)
	txnID, err := m.blob.OpenMultipartTransaction(ctx, key, map[string]string{
		"creator_id": req.CreatorID,
		"session_id": session.ID,
	})
	if err != nil {
		session.Status = store.SessionFailed
		session.ErrorMessage = "storage transaction could not be opened"
		_ = m.store.UpdateUploadSession(ctx, session)
		return nil, services.Wrap(services.ErrUnavailable, "upload", "initialize", "open storage transaction", err)
	}

	session.TransactionID = txnID
	if err := m.store.UpdateUploadSession(ctx, session); err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "initialize", "persist transaction id", err)
	}

	m.logger.Info("upload session initialized",
		logging.String(logging.FieldUploadID, session.ID),
		logging.String("filename", session.Filename),
		logging.Int64("total_bytes", session.TotalSizeBytes),
		logging.Int("total_chunks", session.TotalChunks),
	)
	return session, nil
}

// UploadChunk stores one chunk. Re-sending a chunk that already landed is a
// no-op returning the original receipt, so client retries stay safe.
func (m *Manager) UploadChunk(ctx context.Context, sessionID string, index int, data []byte) (*ChunkReceipt, error) {
	session, err := m.activeSession(ctx, sessionID, "chunk")
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= session.TotalChunks {
		return nil, services.Wrap(services.ErrValidation, "upload", "chunk",
			fmt.Sprintf("index %d outside [0, %d)", index, session.TotalChunks), ErrInvalidChunkIndex)
	}
	if expected := expectedChunkSize(session, index); int64(len(data)) != expected {
		return nil, services.Wrap(services.ErrValidation, "upload", "chunk",
			fmt.Sprintf("chunk %d is %d bytes, expected %d", index, len(data), expected), ErrChunkSizeMismatch)
	}

	sum := sha256.Sum256(data)
	etag := hex.EncodeToString(sum[:])
	if existing, err := m.store.GetChunk(ctx, session.ID, index); err == nil && existing != nil && existing.ETag == etag {
		_ = m.store.TouchUploadSession(ctx, session.ID)
		return &ChunkReceipt{SessionID: session.ID, Index: index, ETag: existing.ETag, AlreadyReceived: true}, nil
	}

	storedETag, err := m.blob.PutPart(ctx, session.TransactionID, index, data)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "chunk", "write part to storage", err)
	}
	if err := m.store.RecordChunk(ctx, store.UploadChunk{
		SessionID: session.ID,
		Index:     index,
		SizeBytes: int64(len(data)),
		ETag:      storedETag,
	}); err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "chunk", "record chunk", err)
	}
	if err := m.store.TouchUploadSession(ctx, session.ID); err != nil {
		m.logger.Warn("failed to refresh session activity", logging.String(logging.FieldUploadID, session.ID), logging.Error(err))
	}

	return &ChunkReceipt{SessionID: session.ID, Index: index, ETag: storedETag}, nil
}

// CompleteUpload finalizes the storage transaction, signs the assembled file,
// and registers the media asset. Completing an already-completed session
// returns the existing asset.
func (m *Manager) CompleteUpload(ctx context.Context, sessionID string) (*store.MediaAsset, error) {
	session, err := m.session(ctx, sessionID, "complete")
	if err != nil {
		return nil, err
	}

	if session.Status == store.SessionCompleted {
		return m.assetForSession(ctx, session)
	}
	if session.Status.IsTerminal() {
		return nil, services.Wrap(services.ErrValidation, "upload", "complete",
			fmt.Sprintf("session is %s", session.Status), ErrSessionClosed)
	}

	received, err := m.store.ChunkCount(ctx, session.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "complete", "count chunks", err)
	}
	if received != session.TotalChunks {
		return nil, services.Wrap(services.ErrValidation, "upload", "complete",
			fmt.Sprintf("%d of %d chunks received", received, session.TotalChunks), ErrUploadIncomplete)
	}

	chunks, err := m.store.ChunksForSession(ctx, session.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "complete", "load chunks", err)
	}
	parts := make([]objectstore.Part, 0, len(chunks))
	for _, chunk := range chunks {
		parts = append(parts, objectstore.Part{Number: chunk.Index, ETag: chunk.ETag})
	}

	location, err := m.blob.CompleteMultipartTransaction(ctx, session.TransactionID, parts)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "complete", "finalize storage transaction", err)
	}

	contentHash, err := hashFile(location)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "complete", "hash assembled file", err)
	}

	asset := &store.MediaAsset{
		PipelineID:     session.PipelineID,
		SessionID:      session.ID,
		CreatorID:      session.CreatorID,
		Filename:       session.Filename,
		SourceLocation: location,
		ContentHash:    contentHash,
	}
	asset, err = m.store.NewMediaAsset(ctx, asset)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "complete", "register asset", err)
	}

	if m.signer != nil {
		signatureID, err := m.signer.GenerateSignature(ctx, asset.ID, contentHash)
		if err != nil {
			m.logger.Warn("signature generation failed, continuing without source signature",
				logging.String(logging.FieldAssetID, asset.ID), logging.Error(err))
		} else if err := m.signer.InjectSignature(ctx, location, signatureID); err != nil {
			m.logger.Warn("signature injection failed, continuing without source signature",
				logging.String(logging.FieldAssetID, asset.ID), logging.Error(err))
		} else {
			asset.SignatureID = signatureID
			if err := m.store.UpdateMediaAsset(ctx, asset); err != nil {
				return nil, services.Wrap(services.ErrUnavailable, "upload", "complete", "persist asset signature", err)
			}
		}
	}

	session.Status = store.SessionCompleted
	session.ContentHash = contentHash
	session.StorageLocation = location
	if err := m.store.UpdateUploadSession(ctx, session); err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "complete", "persist completed session", err)
	}

	m.logger.Info("upload complete",
		logging.String(logging.FieldUploadID, session.ID),
		logging.String(logging.FieldAssetID, asset.ID),
		logging.String("location", location),
	)
	return asset, nil
}

// Pause stops an active session from accepting chunks. Pausing a paused
// session is a no-op.
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.session(ctx, sessionID, "pause")
	if err != nil {
		return err
	}
	switch session.Status {
	case store.SessionPaused:
		return nil
	case store.SessionActive:
		session.Status = store.SessionPaused
		if err := m.store.UpdateUploadSession(ctx, session); err != nil {
			return services.Wrap(services.ErrUnavailable, "upload", "pause", "persist session", err)
		}
		return nil
	default:
		return services.Wrap(services.ErrValidation, "upload", "pause",
			fmt.Sprintf("session is %s", session.Status), ErrSessionClosed)
	}
}

// Resume re-opens a paused session. Resuming an active session is a no-op.
func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.session(ctx, sessionID, "resume")
	if err != nil {
		return err
	}
	switch session.Status {
	case store.SessionActive:
		return nil
	case store.SessionPaused:
		session.Status = store.SessionActive
		if err := m.store.UpdateUploadSession(ctx, session); err != nil {
			return services.Wrap(services.ErrUnavailable, "upload", "resume", "persist session", err)
		}
		return nil
	default:
		return services.Wrap(services.ErrValidation, "upload", "resume",
			fmt.Sprintf("session is %s", session.Status), ErrSessionClosed)
	}
}

// Cancel aborts the session and discards its staged chunks. Cancelling twice
// is a no-op.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, err := m.session(ctx, sessionID, "cancel")
	if err != nil {
		return err
	}
	switch session.Status {
	case store.SessionCancelled:
		return nil
	case store.SessionCompleted:
		return services.Wrap(services.ErrValidation, "upload", "cancel", "session already completed", ErrSessionClosed)
	}

	if session.TransactionID != "" {
		if err := m.blob.AbortMultipartTransaction(ctx, session.TransactionID); err != nil {
			return services.Wrap(services.ErrUnavailable, "upload", "cancel", "abort storage transaction", err)
		}
	}
	session.Status = store.SessionCancelled
	if err := m.store.UpdateUploadSession(ctx, session); err != nil {
		return services.Wrap(services.ErrUnavailable, "upload", "cancel", "persist session", err)
	}
	m.logger.Info("upload cancelled", logging.String(logging.FieldUploadID, session.ID))
	return nil
}

func (m *Manager) session(ctx context.Context, sessionID, operation string) (*store.UploadSession, error) {
	session, err := m.store.GetUploadSession(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", operation, "load session", err)
	}
	if session == nil {
		return nil, services.Wrap(services.ErrNotFound, "upload", operation, sessionID, ErrSessionNotFound)
	}
	return session, nil
}

func (m *Manager) activeSession(ctx context.Context, sessionID, operation string) (*store.UploadSession, error) {
	session, err := m.session(ctx, sessionID, operation)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case store.SessionActive:
		return session, nil
	case store.SessionPaused:
		return nil, services.Wrap(services.ErrUnavailable, "upload", operation, sessionID, ErrSessionPaused)
	default:
		return nil, services.Wrap(services.ErrValidation, "upload", operation,
			fmt.Sprintf("session is %s", session.Status), ErrSessionClosed)
	}
}

func (m *Manager) assetForSession(ctx context.Context, session *store.UploadSession) (*store.MediaAsset, error) {
	if session.PipelineID != "" {
		pipeline, err := m.store.GetPipeline(ctx, session.PipelineID)
		if err == nil && pipeline != nil && pipeline.AssetID != "" {
			return m.store.GetMediaAsset(ctx, pipeline.AssetID)
		}
	}
	// Fall back to the storage location recorded at completion.
	return &store.MediaAsset{
		SessionID:      session.ID,
		CreatorID:      session.CreatorID,
		Filename:       session.Filename,
		SourceLocation: session.StorageLocation,
		ContentHash:    session.ContentHash,
	}, nil
}

func expectedChunkSize(session *store.UploadSession, index int) int64 {
	if index < session.TotalChunks-1 {
		return session.ChunkSizeBytes
	}
	remainder := session.TotalSizeBytes - session.ChunkSizeBytes*int64(session.TotalChunks-1)
	if remainder <= 0 {
		return session.ChunkSizeBytes
	}
	return remainder
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
