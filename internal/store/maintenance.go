package store

import (
	"context"
	"fmt"
	"time"
)

// Stats returns a count of pipelines grouped by stage.
func (s *Store) Stats(ctx context.Context) (map[Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM pipelines GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("pipeline stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[stage] = count
	}
	return stats, rows.Err()
}

// Health aggregates pipeline state for diagnostic output.
func (s *Store) Health(ctx context.Context, staleCutoff time.Time) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for stage, count := range stats {
		health.Total += count
		switch stage {
		case StageUploading:
			health.Uploading += count
		case StageTranscoding:
			health.Transcoding += count
		case StageDistributing:
			health.Distributing += count
		case StageCompleted:
			health.Completed += count
		case StageFailed:
			health.Failed += count
		}
	}

	stale, err := s.StaleUploadSessions(ctx, staleCutoff)
	if err != nil {
		return HealthSummary{}, err
	}
	health.StaleSessions = len(stale)
	return health, nil
}

// ClearCompleted removes only completed pipelines.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM pipelines WHERE stage = ?`, StageCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed pipelines.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM pipelines WHERE stage = ?`, StageFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}
