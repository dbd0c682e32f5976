package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const assetColumns = "id, pipeline_id, session_id, creator_id, filename, source_location, content_hash, signature_id, processing_status, manifest_location, error_message, created_at, updated_at"

// NewMediaAsset inserts an asset in the pending state.
func (s *Store) NewMediaAsset(ctx context.Context, asset *MediaAsset) (*MediaAsset, error) {
	if asset == nil {
		return nil, errors.New("asset is nil")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	if asset.ProcessingStatus == "" {
		asset.ProcessingStatus = ProcessingPending
	}

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO media_assets (
            id, pipeline_id, session_id, creator_id, filename, source_location,
            content_hash, signature_id, processing_status, manifest_location,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ID,
		nullableString(asset.PipelineID),
		nullableString(asset.SessionID),
		asset.CreatorID,
		asset.Filename,
		asset.SourceLocation,
		nullableString(asset.ContentHash),
		nullableString(asset.SignatureID),
		asset.ProcessingStatus,
		nullableString(asset.ManifestLocation),
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert media asset: %w", err)
	}

	return s.GetMediaAsset(ctx, asset.ID)
}

// GetMediaAsset fetches an asset by identifier. Missing assets return nil.
func (s *Store) GetMediaAsset(ctx context.Context, id string) (*MediaAsset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE id = ?`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get media asset: %w", err)
	}
	return asset, nil
}

// UpdateMediaAsset persists changes to an existing asset.
func (s *Store) UpdateMediaAsset(ctx context.Context, asset *MediaAsset) error {
	if asset == nil {
		return errors.New("asset is nil")
	}
	asset.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE media_assets
         SET pipeline_id = ?, session_id = ?, content_hash = ?, signature_id = ?,
             processing_status = ?, manifest_location = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(asset.PipelineID),
		nullableString(asset.SessionID),
		nullableString(asset.ContentHash),
		nullableString(asset.SignatureID),
		asset.ProcessingStatus,
		nullableString(asset.ManifestLocation),
		nullableString(asset.ErrorMessage),
		asset.UpdatedAt.Format(time.RFC3339Nano),
		asset.ID,
	); err != nil {
		return fmt.Errorf("update media asset: %w", err)
	}
	return nil
}

// NewQualityVariant records one successfully produced rendition.
func (s *Store) NewQualityVariant(ctx context.Context, variant *QualityVariant) (*QualityVariant, error) {
	if variant == nil {
		return nil, errors.New("variant is nil")
	}
	now := time.Now().UTC()
	if variant.ID == "" {
		variant.ID = uuid.NewString()
	}
	variant.CreatedAt = now

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO quality_variants (id, asset_id, preset, location, signature_id, size_bytes, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		variant.ID,
		variant.AssetID,
		variant.Preset,
		variant.Location,
		nullableString(variant.SignatureID),
		variant.SizeBytes,
		now.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("insert quality variant: %w", err)
	}
	return variant, nil
}

// VariantsForAsset returns the asset's renditions ordered by preset.
func (s *Store) VariantsForAsset(ctx context.Context, assetID string) ([]QualityVariant, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, asset_id, preset, location, signature_id, size_bytes, created_at
         FROM quality_variants WHERE asset_id = ? ORDER BY preset`,
		assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	var variants []QualityVariant
	for rows.Next() {
		var (
			variant     QualityVariant
			signatureID sql.NullString
			createdRaw  sql.NullString
		)
		if err := rows.Scan(&variant.ID, &variant.AssetID, &variant.Preset, &variant.Location, &signatureID, &variant.SizeBytes, &createdRaw); err != nil {
			return nil, err
		}
		variant.SignatureID = signatureID.String
		if created, err := parseTimeString(createdRaw.String); err == nil {
			variant.CreatedAt = created
		}
		variants = append(variants, variant)
	}
	return variants, rows.Err()
}

func scanAsset(scanner interface{ Scan(dest ...any) error }) (*MediaAsset, error) {
	var (
		id               string
		pipelineID       sql.NullString
		sessionID        sql.NullString
		creatorID        string
		filename         string
		sourceLocation   string
		contentHash      sql.NullString
		signatureID      sql.NullString
		statusStr        string
		manifestLocation sql.NullString
		errorMessage     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&pipelineID,
		&sessionID,
		&creatorID,
		&filename,
		&sourceLocation,
		&contentHash,
		&signatureID,
		&statusStr,
		&manifestLocation,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	asset := &MediaAsset{
		ID:               id,
		PipelineID:       pipelineID.String,
		SessionID:        sessionID.String,
		CreatorID:        creatorID,
		Filename:         filename,
		SourceLocation:   sourceLocation,
		ContentHash:      contentHash.String,
		SignatureID:      signatureID.String,
		ProcessingStatus: ProcessingStatus(statusStr),
		ManifestLocation: manifestLocation.String,
		ErrorMessage:     errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		asset.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		asset.UpdatedAt = updated
	}
	return asset, nil
}
