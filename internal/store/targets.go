package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const targetColumns = "id, asset_id, pipeline_id, platform_id, status, error_message, delivered_at, created_at, updated_at"

// NewDistributionTargets inserts pending targets for the given platforms in
// the order provided.
func (s *Store) NewDistributionTargets(ctx context.Context, assetID, pipelineID string, platformIDs []string) ([]*DistributionTarget, error) {
	if assetID == "" {
		return nil, errors.New("asset id required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	targets := make([]*DistributionTarget, 0, len(platformIDs))
	for _, platformID := range platformIDs {
		target := &DistributionTarget{
			ID:         uuid.NewString(),
			AssetID:    assetID,
			PipelineID: pipelineID,
			PlatformID: platformID,
			Status:     TargetPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := s.execWithRetry(
			ctx,
			`INSERT INTO distribution_targets (id, asset_id, pipeline_id, platform_id, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			target.ID, target.AssetID, nullableString(target.PipelineID), target.PlatformID, target.Status, timestamp, timestamp,
		); err != nil {
			return nil, fmt.Errorf("insert distribution target: %w", err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// UpdateDistributionTarget persists the delivery outcome for one target.
func (s *Store) UpdateDistributionTarget(ctx context.Context, target *DistributionTarget) error {
	if target == nil {
		return errors.New("target is nil")
	}
	target.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE distribution_targets
         SET status = ?, error_message = ?, delivered_at = ?, updated_at = ?
         WHERE id = ?`,
		target.Status,
		nullableString(target.ErrorMessage),
		nullableTime(target.DeliveredAt),
		target.UpdatedAt.Format(time.RFC3339Nano),
		target.ID,
	); err != nil {
		return fmt.Errorf("update distribution target: %w", err)
	}
	return nil
}

// TargetsForAsset returns all delivery records for an asset in insertion order.
func (s *Store) TargetsForAsset(ctx context.Context, assetID string) ([]*DistributionTarget, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+targetColumns+` FROM distribution_targets WHERE asset_id = ? ORDER BY created_at, id`,
		assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("query distribution targets: %w", err)
	}
	defer rows.Close()

	var targets []*DistributionTarget
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func scanTarget(scanner interface{ Scan(dest ...any) error }) (*DistributionTarget, error) {
	var (
		id           string
		assetID      string
		pipelineID   sql.NullString
		platformID   string
		statusStr    string
		errorMessage sql.NullString
		deliveredRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&assetID,
		&pipelineID,
		&platformID,
		&statusStr,
		&errorMessage,
		&deliveredRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	target := &DistributionTarget{
		ID:           id,
		AssetID:      assetID,
		PipelineID:   pipelineID.String,
		PlatformID:   platformID,
		Status:       TargetStatus(statusStr),
		ErrorMessage: errorMessage.String,
	}
	if deliveredRaw.Valid {
		if delivered, err := parseTimeString(deliveredRaw.String); err == nil {
			target.DeliveredAt = &delivered
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		target.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		target.UpdatedAt = updated
	}
	return target, nil
}
