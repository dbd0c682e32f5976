package upload

import (
	"context"
	"time"

	"conduit/internal/services"
	"conduit/internal/store"
)

// Progress summarizes how far along a session is.
type Progress struct {
	SessionID      string
	Status         store.SessionStatus
	ReceivedChunks int
	TotalChunks    int
	ReceivedBytes  int64
	TotalBytes     int64
	Percent        float64
	Throughput     float64 // bytes per second since the session began
	ETA            time.Duration
}

// GetProgress reports chunk and byte counts plus a throughput-based ETA.
func (m *Manager) GetProgress(ctx context.Context, sessionID string) (*Progress, error) {
	session, err := m.session(ctx, sessionID, "progress")
	if err != nil {
		return nil, err
	}

	received, err := m.store.ChunkCount(ctx, session.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "progress", "count chunks", err)
	}
	receivedBytes, err := m.store.ReceivedBytes(ctx, session.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "upload", "progress", "sum chunk bytes", err)
	}

	progress := &Progress{
		SessionID:      session.ID,
		Status:         session.Status,
		ReceivedChunks: received,
		TotalChunks:    session.TotalChunks,
		ReceivedBytes:  receivedBytes,
		TotalBytes:     session.TotalSizeBytes,
	}
	if session.TotalSizeBytes > 0 {
		progress.Percent = float64(receivedBytes) / float64(session.TotalSizeBytes) * 100
		if progress.Percent > 100 {
			progress.Percent = 100
		}
	}

	elapsed := time.Since(session.CreatedAt)
	if elapsed > 0 && receivedBytes > 0 {
		progress.Throughput = float64(receivedBytes) / elapsed.Seconds()
		remaining := session.TotalSizeBytes - receivedBytes
		if remaining > 0 && progress.Throughput > 0 {
			progress.ETA = time.Duration(float64(remaining) / progress.Throughput * float64(time.Second))
		}
	}
	return progress, nil
}
