package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const pipelineColumns = "id, creator_id, creator_tier, stage, auto_transcode, requested_presets, requested_platforms, upload_session_id, asset_id, error_message, created_at, updated_at"

// NewPipeline inserts a pipeline in the uploading stage.
func (s *Store) NewPipeline(ctx context.Context, creatorID, creatorTier string, autoTranscode bool, presets, platforms []string) (*Pipeline, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO pipelines (
            id, creator_id, creator_tier, stage, auto_transcode,
            requested_presets, requested_platforms, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		creatorID,
		creatorTier,
		StageUploading,
		boolToInt(autoTranscode),
		encodeStrings(presets),
		encodeStrings(platforms),
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert pipeline: %w", err)
	}

	return s.GetPipeline(ctx, id)
}

// GetPipeline fetches a pipeline by identifier. Missing pipelines return nil.
func (s *Store) GetPipeline(ctx context.Context, id string) (*Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	pipeline, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	return pipeline, nil
}

// UpdatePipeline persists changes to an existing pipeline.
func (s *Store) UpdatePipeline(ctx context.Context, pipeline *Pipeline) error {
	if pipeline == nil {
		return errors.New("pipeline is nil")
	}
	pipeline.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE pipelines
         SET creator_id = ?, creator_tier = ?, stage = ?, auto_transcode = ?,
             requested_presets = ?, requested_platforms = ?, upload_session_id = ?,
             asset_id = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		pipeline.CreatorID,
		pipeline.CreatorTier,
		pipeline.Stage,
		boolToInt(pipeline.AutoTranscode),
		encodeStrings(pipeline.RequestedPresets),
		encodeStrings(pipeline.RequestedPlatforms),
		nullableString(pipeline.UploadSessionID),
		nullableString(pipeline.AssetID),
		nullableString(pipeline.ErrorMessage),
		pipeline.UpdatedAt.Format(time.RFC3339Nano),
		pipeline.ID,
	); err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	return nil
}

// ListPipelines returns pipelines filtered by stage set (or all when no stage is provided).
func (s *Store) ListPipelines(ctx context.Context, stages ...Stage) ([]*Pipeline, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + pipelineColumns + ` FROM pipelines`
	orderClause := ` ORDER BY created_at`

	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = stage
		}
		query := baseQuery + ` WHERE stage IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []*Pipeline
	for rows.Next() {
		pipeline, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, pipeline)
	}
	return pipelines, rows.Err()
}

func scanPipeline(scanner interface{ Scan(dest ...any) error }) (*Pipeline, error) {
	var (
		id            string
		creatorID     string
		creatorTier   string
		stageStr      string
		autoTranscode sql.NullInt64
		presets       sql.NullString
		platforms     sql.NullString
		sessionID     sql.NullString
		assetID       sql.NullString
		errorMessage  sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&creatorID,
		&creatorTier,
		&stageStr,
		&autoTranscode,
		&presets,
		&platforms,
		&sessionID,
		&assetID,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	pipeline := &Pipeline{
		ID:                 id,
		CreatorID:          creatorID,
		CreatorTier:        creatorTier,
		Stage:              Stage(stageStr),
		AutoTranscode:      autoTranscode.Valid && autoTranscode.Int64 != 0,
		RequestedPresets:   decodeStrings(presets),
		RequestedPlatforms: decodeStrings(platforms),
		UploadSessionID:    sessionID.String,
		AssetID:            assetID.String,
		ErrorMessage:       errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		pipeline.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		pipeline.UpdatedAt = updated
	}
	return pipeline, nil
}
