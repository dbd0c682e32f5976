package testsupport

import (
	"context"
	"testing"

	"conduit/internal/config"
	"conduit/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewPipeline creates a pipeline for tests using the provided store.
func NewPipeline(t testing.TB, st *store.Store, creatorID, tier string) *store.Pipeline {
	t.Helper()

	pipeline, err := st.NewPipeline(context.Background(), creatorID, tier, true, nil, nil)
	if err != nil {
		t.Fatalf("store.NewPipeline: %v", err)
	}
	return pipeline
}

// NewSession creates an active upload session for tests.
func NewSession(t testing.TB, st *store.Store, creatorID, filename string, totalSize, chunkSize int64, totalChunks int) *store.UploadSession {
	t.Helper()

	session, err := st.NewUploadSession(context.Background(), &store.UploadSession{
		CreatorID:      creatorID,
		Filename:       filename,
		TotalSizeBytes: totalSize,
		ChunkSizeBytes: chunkSize,
		TotalChunks:    totalChunks,
	})
	if err != nil {
		t.Fatalf("store.NewUploadSession: %v", err)
	}
	return session
}
