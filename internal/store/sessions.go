package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = "id, pipeline_id, creator_id, filename, total_size_bytes, chunk_size_bytes, total_chunks, status, transaction_id, content_hash, storage_location, metadata_json, error_message, created_at, updated_at, last_activity_at"

// NewUploadSession inserts an active session for a chunked upload.
func (s *Store) NewUploadSession(ctx context.Context, session *UploadSession) (*UploadSession, error) {
	if session == nil {
		return nil, errors.New("session is nil")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = SessionActive
	}

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO upload_sessions (
            id, pipeline_id, creator_id, filename, total_size_bytes, chunk_size_bytes,
            total_chunks, status, transaction_id, content_hash, storage_location,
            metadata_json, created_at, updated_at, last_activity_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		nullableString(session.PipelineID),
		session.CreatorID,
		session.Filename,
		session.TotalSizeBytes,
		session.ChunkSizeBytes,
		session.TotalChunks,
		session.Status,
		nullableString(session.TransactionID),
		nullableString(session.ContentHash),
		nullableString(session.StorageLocation),
		nullableString(session.MetadataJSON),
		timestamp,
		timestamp,
		timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert upload session: %w", err)
	}

	return s.GetUploadSession(ctx, session.ID)
}

// GetUploadSession fetches a session by identifier. Missing sessions return nil.
func (s *Store) GetUploadSession(ctx context.Context, id string) (*UploadSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get upload session: %w", err)
	}
	return session, nil
}

// UpdateUploadSession persists changes to an existing session and refreshes
// its activity timestamp.
func (s *Store) UpdateUploadSession(ctx context.Context, session *UploadSession) error {
	if session == nil {
		return errors.New("session is nil")
	}
	now := time.Now().UTC()
	session.UpdatedAt = now
	session.LastActivityAt = now
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE upload_sessions
         SET pipeline_id = ?, status = ?, transaction_id = ?, content_hash = ?,
             storage_location = ?, metadata_json = ?, error_message = ?,
             updated_at = ?, last_activity_at = ?
         WHERE id = ?`,
		nullableString(session.PipelineID),
		session.Status,
		nullableString(session.TransactionID),
		nullableString(session.ContentHash),
		nullableString(session.StorageLocation),
		nullableString(session.MetadataJSON),
		nullableString(session.ErrorMessage),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		session.ID,
	); err != nil {
		return fmt.Errorf("update upload session: %w", err)
	}
	return nil
}

// TouchUploadSession refreshes the activity timestamp without other changes,
// so chunk traffic keeps a session out of the staleness sweep.
func (s *Store) TouchUploadSession(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE upload_sessions SET updated_at = ?, last_activity_at = ? WHERE id = ?`,
		now, now, id,
	); err != nil {
		return fmt.Errorf("touch upload session: %w", err)
	}
	return nil
}

// ListUploadSessions returns sessions filtered by status set.
func (s *Store) ListUploadSessions(ctx context.Context, statuses ...SessionStatus) ([]*UploadSession, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + sessionColumns + ` FROM upload_sessions`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list upload sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*UploadSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// StaleUploadSessions returns active or paused sessions with no activity since
// the cutoff.
func (s *Store) StaleUploadSessions(ctx context.Context, cutoff time.Time) ([]*UploadSession, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions
         WHERE status IN (?, ?) AND last_activity_at < ?
         ORDER BY last_activity_at`,
		SessionActive,
		SessionPaused,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*UploadSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// RecordChunk upserts one received chunk. Re-recording the same index replaces
// the previous row, keeping retries idempotent.
func (s *Store) RecordChunk(ctx context.Context, chunk UploadChunk) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO upload_chunks (session_id, chunk_index, size_bytes, etag, received_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(session_id, chunk_index)
         DO UPDATE SET size_bytes = excluded.size_bytes, etag = excluded.etag, received_at = excluded.received_at`,
		chunk.SessionID,
		chunk.Index,
		chunk.SizeBytes,
		chunk.ETag,
		timestamp,
	); err != nil {
		return fmt.Errorf("record chunk: %w", err)
	}
	return nil
}

// ChunksForSession returns all recorded chunks ordered by index.
func (s *Store) ChunksForSession(ctx context.Context, sessionID string) ([]UploadChunk, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT session_id, chunk_index, size_bytes, etag, received_at
         FROM upload_chunks WHERE session_id = ? ORDER BY chunk_index`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []UploadChunk
	for rows.Next() {
		var (
			chunk       UploadChunk
			receivedRaw sql.NullString
		)
		if err := rows.Scan(&chunk.SessionID, &chunk.Index, &chunk.SizeBytes, &chunk.ETag, &receivedRaw); err != nil {
			return nil, err
		}
		if received, err := parseTimeString(receivedRaw.String); err == nil {
			chunk.ReceivedAt = received
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// ChunkCount returns how many distinct chunks a session has recorded.
func (s *Store) ChunkCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM upload_chunks WHERE session_id = ?`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// ReceivedBytes sums the recorded chunk sizes for a session.
func (s *Store) ReceivedBytes(ctx context.Context, sessionID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT SUM(size_bytes) FROM upload_chunks WHERE session_id = ?`,
		sessionID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum chunk bytes: %w", err)
	}
	return total.Int64, nil
}

// GetChunk fetches one recorded chunk. Missing chunks return nil.
func (s *Store) GetChunk(ctx context.Context, sessionID string, index int) (*UploadChunk, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT session_id, chunk_index, size_bytes, etag, received_at
         FROM upload_chunks WHERE session_id = ? AND chunk_index = ?`,
		sessionID,
		index,
	)
	var (
		chunk       UploadChunk
		receivedRaw sql.NullString
	)
	err := row.Scan(&chunk.SessionID, &chunk.Index, &chunk.SizeBytes, &chunk.ETag, &receivedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	if received, err := parseTimeString(receivedRaw.String); err == nil {
		chunk.ReceivedAt = received
	}
	return &chunk, nil
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*UploadSession, error) {
	var (
		id              string
		pipelineID      sql.NullString
		creatorID       string
		filename        string
		totalSize       int64
		chunkSize       int64
		totalChunks     int
		statusStr       string
		transactionID   sql.NullString
		contentHash     sql.NullString
		storageLocation sql.NullString
		metadataJSON    sql.NullString
		errorMessage    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		activityRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&pipelineID,
		&creatorID,
		&filename,
		&totalSize,
		&chunkSize,
		&totalChunks,
		&statusStr,
		&transactionID,
		&contentHash,
		&storageLocation,
		&metadataJSON,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&activityRaw,
	); err != nil {
		return nil, err
	}

	session := &UploadSession{
		ID:              id,
		PipelineID:      pipelineID.String,
		CreatorID:       creatorID,
		Filename:        filename,
		TotalSizeBytes:  totalSize,
		ChunkSizeBytes:  chunkSize,
		TotalChunks:     totalChunks,
		Status:          SessionStatus(statusStr),
		TransactionID:   transactionID.String,
		ContentHash:     contentHash.String,
		StorageLocation: storageLocation.String,
		MetadataJSON:    metadataJSON.String,
		ErrorMessage:    errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		session.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		session.UpdatedAt = updated
	}
	if activity, err := parseTimeString(activityRaw.String); err == nil {
		session.LastActivityAt = activity
	}
	return session, nil
}
