package objectstore

import "context"

// Part identifies one completed part of a multipart transaction.
type Part struct {
	Number int
	ETag   string
}

// BlobStore is the durable storage contract the upload and transcode
// components depend on. Multipart transactions accept parts in any order;
// completion assembles them into a single durable object.
type BlobStore interface {
	OpenMultipartTransaction(ctx context.Context, key string, metadata map[string]string) (string, error)
	PutPart(ctx context.Context, txnID string, partNumber int, data []byte) (string, error)
	CompleteMultipartTransaction(ctx context.Context, txnID string, parts []Part) (string, error)
	AbortMultipartTransaction(ctx context.Context, txnID string) error

	// Upload publishes a finished local file under a destination key and
	// returns its public location.
	Upload(ctx context.Context, localFile, destinationKey string) (string, error)
}
