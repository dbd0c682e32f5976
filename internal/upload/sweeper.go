package upload

import (
	"context"
	"time"

	"conduit/internal/logging"
	"conduit/internal/services"
	"conduit/internal/store"
)

// StaleSessionMessage is the error recorded on sessions expired by the sweep.
const StaleSessionMessage = "upload session expired after inactivity"

// SweepStale fails sessions idle past the configured threshold and discards
// their staged chunks. It returns how many sessions were expired.
func (m *Manager) SweepStale(ctx context.Context) (int, error) {
	staleAfter := time.Duration(m.cfg.Upload.StaleAfterHours) * time.Hour
	cutoff := time.Now().UTC().Add(-staleAfter)

	sessions, err := m.store.StaleUploadSessions(ctx, cutoff)
	if err != nil {
		return 0, services.Wrap(services.ErrUnavailable, "upload", "sweep", "query stale sessions", err)
	}

	expired := 0
	for _, session := range sessions {
		if session.TransactionID != "" {
			if err := m.blob.AbortMultipartTransaction(ctx, session.TransactionID); err != nil {
				m.logger.Warn("failed to abort stale transaction",
					logging.String(logging.FieldUploadID, session.ID),
					logging.Error(err),
				)
				continue
			}
		}
		session.Status = store.SessionFailed
		session.ErrorMessage = StaleSessionMessage
		if err := m.store.UpdateUploadSession(ctx, session); err != nil {
			m.logger.Warn("failed to persist expired session",
				logging.String(logging.FieldUploadID, session.ID),
				logging.Error(err),
			)
			continue
		}
		expired++
		m.logger.Info("expired stale upload session",
			logging.String(logging.FieldUploadID, session.ID),
			logging.String("last_activity", session.LastActivityAt.Format(time.RFC3339)),
		)
	}

	if expired > 0 && m.notifier != nil {
		if err := m.notifier.NotifySessionsExpired(ctx, expired); err != nil {
			m.logger.Warn("failed to announce expired sessions", logging.Error(err))
		}
	}
	return expired, nil
}

// RunSweeper runs the staleness sweep on its configured interval until the
// context is cancelled.
func (m *Manager) RunSweeper(ctx context.Context) {
	interval := time.Duration(m.cfg.Upload.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepStale(ctx); err != nil {
				m.logger.Error("staleness sweep failed", logging.Error(err))
			}
		}
	}
}
