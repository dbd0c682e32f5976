package upload

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"conduit/internal/logging"
)

// ChunkPayload is one chunk submitted as part of a batch.
type ChunkPayload struct {
	Index int
	Data  []byte
}

// BatchResult reports per-chunk outcomes of a batch upload. A failed chunk
// never aborts its siblings; the client retries only the failures.
type BatchResult struct {
	Succeeded int
	Failed    int
	Errors    map[int]error
}

// UploadChunksBatch stores a set of chunks with bounded parallelism.
func (m *Manager) UploadChunksBatch(ctx context.Context, sessionID string, chunks []ChunkPayload) (*BatchResult, error) {
	if _, err := m.activeSession(ctx, sessionID, "batch"); err != nil {
		return nil, err
	}

	parallelism := m.cfg.Upload.ChunkParallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	var (
		mu     sync.Mutex
		result = BatchResult{Errors: make(map[int]error)}
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(parallelism)
	for _, chunk := range chunks {
		group.Go(func() error {
			_, err := m.UploadChunk(groupCtx, sessionID, chunk.Index, chunk.Data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Errors[chunk.Index] = err
				m.logger.Warn("batch chunk failed",
					logging.String(logging.FieldUploadID, sessionID),
					logging.Int("chunk_index", chunk.Index),
					logging.Error(err),
				)
				return nil
			}
			result.Succeeded++
			return nil
		})
	}
	// Goroutines report failures through the result set, never through the
	// group, so one bad chunk cannot cancel the rest of the batch.
	_ = group.Wait()

	return &result, nil
}
