package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = "id, batch_id, asset_id, preset, status, progress_percent, output_location, signature_id, error_message, created_at, updated_at"

// NewTranscodeBatch inserts a batch and its queued jobs, one per preset.
func (s *Store) NewTranscodeBatch(ctx context.Context, assetID string, presets []string) (*TranscodeBatch, []*TranscodeJob, error) {
	if assetID == "" {
		return nil, nil, errors.New("asset id required")
	}
	if len(presets) == 0 {
		return nil, nil, errors.New("at least one preset required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	batch := &TranscodeBatch{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO transcode_batches (id, asset_id, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		batch.ID, batch.AssetID, batch.Status, timestamp, timestamp,
	); err != nil {
		return nil, nil, fmt.Errorf("insert transcode batch: %w", err)
	}

	jobs := make([]*TranscodeJob, 0, len(presets))
	for _, preset := range presets {
		job := &TranscodeJob{
			ID:        uuid.NewString(),
			BatchID:   batch.ID,
			AssetID:   assetID,
			Preset:    preset,
			Status:    JobQueued,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := s.execWithRetry(
			ctx,
			`INSERT INTO transcode_jobs (id, batch_id, asset_id, preset, status, progress_percent, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.BatchID, job.AssetID, job.Preset, job.Status, 0.0, timestamp, timestamp,
		); err != nil {
			return nil, nil, fmt.Errorf("insert transcode job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return batch, jobs, nil
}

// GetTranscodeJob fetches a job by identifier. Missing jobs return nil.
func (s *Store) GetTranscodeJob(ctx context.Context, id string) (*TranscodeJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM transcode_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transcode job: %w", err)
	}
	return job, nil
}

// UpdateTranscodeJob persists changes to an existing job.
func (s *Store) UpdateTranscodeJob(ctx context.Context, job *TranscodeJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE transcode_jobs
         SET status = ?, progress_percent = ?, output_location = ?, signature_id = ?,
             error_message = ?, updated_at = ?
         WHERE id = ?`,
		job.Status,
		job.ProgressPercent,
		nullableString(job.OutputLocation),
		nullableString(job.SignatureID),
		nullableString(job.ErrorMessage),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	); err != nil {
		return fmt.Errorf("update transcode job: %w", err)
	}
	return nil
}

// SetJobProgress updates only the progress column, keeping the hot path cheap.
// Progress never regresses: a late-arriving report lower than the stored value
// is ignored.
func (s *Store) SetJobProgress(ctx context.Context, jobID string, percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE transcode_jobs SET progress_percent = MAX(progress_percent, ?), updated_at = ? WHERE id = ?`,
		percent,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	); err != nil {
		return fmt.Errorf("set job progress: %w", err)
	}
	return nil
}

// JobsForAsset returns all jobs for an asset ordered by creation time.
func (s *Store) JobsForAsset(ctx context.Context, assetID string) ([]*TranscodeJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM transcode_jobs WHERE asset_id = ? ORDER BY created_at, preset`,
		assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*TranscodeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateBatchStatus records the aggregate outcome of a batch.
func (s *Store) UpdateBatchStatus(ctx context.Context, batchID string, status JobStatus) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE transcode_batches SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC().Format(time.RFC3339Nano),
		batchID,
	); err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	return nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*TranscodeJob, error) {
	var (
		id             string
		batchID        string
		assetID        string
		preset         string
		statusStr      string
		progress       sql.NullFloat64
		outputLocation sql.NullString
		signatureID    sql.NullString
		errorMessage   sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&batchID,
		&assetID,
		&preset,
		&statusStr,
		&progress,
		&outputLocation,
		&signatureID,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &TranscodeJob{
		ID:              id,
		BatchID:         batchID,
		AssetID:         assetID,
		Preset:          preset,
		Status:          JobStatus(statusStr),
		ProgressPercent: progress.Float64,
		OutputLocation:  outputLocation.String,
		SignatureID:     signatureID.String,
		ErrorMessage:    errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
