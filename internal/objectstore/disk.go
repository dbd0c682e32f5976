package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"conduit/internal/services"
)

// ErrTransactionNotFound indicates an unknown or already-finalized multipart
// transaction. Late part writes against an aborted transaction land here.
var ErrTransactionNotFound = errors.New("multipart transaction not found")

const txnMetaFile = "txn.json"

type txnMeta struct {
	Key      string            `json:"key"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Disk is a filesystem-backed BlobStore. Parts land under the staging
// directory per transaction; completion assembles them into the storage
// directory. ETags are SHA-256 digests of the part payload.
type Disk struct {
	stagingDir string
	storageDir string

	mu sync.Mutex
}

// NewDisk constructs a disk-backed store rooted at the given directories.
func NewDisk(stagingDir, storageDir string) (*Disk, error) {
	if strings.TrimSpace(stagingDir) == "" || strings.TrimSpace(storageDir) == "" {
		return nil, errors.New("staging and storage directories required")
	}
	for _, dir := range []string{stagingDir, storageDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create object store directory %q: %w", dir, err)
		}
	}
	return &Disk{stagingDir: stagingDir, storageDir: storageDir}, nil
}

func (d *Disk) txnDir(txnID string) string {
	return filepath.Join(d.stagingDir, "txn-"+txnID)
}

// OpenMultipartTransaction allocates a transaction directory and records the
// destination key.
func (d *Disk) OpenMultipartTransaction(ctx context.Context, key string, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", services.Wrap(services.ErrValidation, "objectstore", "open transaction", "key required", nil)
	}

	txnID := uuid.NewString()
	dir := d.txnDir(txnID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "open transaction", "create staging dir", err)
	}

	meta := txnMeta{Key: key, Metadata: metadata}
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal transaction metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, txnMetaFile), payload, 0o644); err != nil {
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "open transaction", "write metadata", err)
	}
	return txnID, nil
}

// PutPart stores one part payload. Re-writing the same part number replaces
// the previous payload and yields the same etag for identical bytes.
func (d *Disk) PutPart(ctx context.Context, txnID string, partNumber int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if partNumber < 0 {
		return "", services.Wrap(services.ErrValidation, "objectstore", "put part", fmt.Sprintf("negative part number %d", partNumber), nil)
	}
	dir := d.txnDir(txnID)
	if _, err := os.Stat(filepath.Join(dir, txnMetaFile)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrTransactionNotFound, txnID)
	}

	sum := sha256.Sum256(data)
	etag := hex.EncodeToString(sum[:])

	tmp := filepath.Join(dir, fmt.Sprintf(".part-%06d.tmp", partNumber))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "put part", "write part", err)
	}
	final := filepath.Join(dir, fmt.Sprintf("part-%06d", partNumber))
	if err := os.Rename(tmp, final); err != nil {
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "put part", "commit part", err)
	}
	return etag, nil
}

// CompleteMultipartTransaction assembles parts in ascending part order into
// the durable object and removes the staging directory.
func (d *Disk) CompleteMultipartTransaction(ctx context.Context, txnID string, parts []Part) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.txnDir(txnID)
	metaPayload, err := os.ReadFile(filepath.Join(dir, txnMetaFile))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTransactionNotFound, txnID)
	}
	var meta txnMeta
	if err := json.Unmarshal(metaPayload, &meta); err != nil {
		return "", fmt.Errorf("read transaction metadata: %w", err)
	}

	ordered := append([]Part{}, parts...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	destination := filepath.Join(d.storageDir, filepath.FromSlash(meta.Key))
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "complete transaction", "create destination dir", err)
	}

	tmp := destination + ".assembling"
	out, err := os.Create(tmp)
	if err != nil {
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "complete transaction", "create object", err)
	}
	for _, part := range ordered {
		partPath := filepath.Join(dir, fmt.Sprintf("part-%06d", part.Number))
		in, err := os.Open(partPath)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return "", services.Wrap(services.ErrValidation, "objectstore", "complete transaction", fmt.Sprintf("missing part %d", part.Number), err)
		}
		if _, err := io.Copy(out, in); err != nil {
			in.Close()
			out.Close()
			os.Remove(tmp)
			return "", services.Wrap(services.ErrUnavailable, "objectstore", "complete transaction", "assemble object", err)
		}
		in.Close()
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "complete transaction", "flush object", err)
	}
	if err := os.Rename(tmp, destination); err != nil {
		os.Remove(tmp)
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "complete transaction", "commit object", err)
	}

	_ = os.RemoveAll(dir)
	return destination, nil
}

// AbortMultipartTransaction discards all staged parts. Aborting an unknown
// transaction is a no-op so cancellation is idempotent.
func (d *Disk) AbortMultipartTransaction(ctx context.Context, txnID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return os.RemoveAll(d.txnDir(txnID))
}

// Upload publishes a finished local file under the destination key.
func (d *Disk) Upload(ctx context.Context, localFile, destinationKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	destinationKey = strings.TrimSpace(destinationKey)
	if destinationKey == "" {
		return "", services.Wrap(services.ErrValidation, "objectstore", "upload", "destination key required", nil)
	}

	in, err := os.Open(localFile)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "objectstore", "upload", "open source file", err)
	}
	defer in.Close()

	destination := filepath.Join(d.storageDir, filepath.FromSlash(destinationKey))
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "upload", "create destination dir", err)
	}
	tmp := destination + ".uploading"
	out, err := os.Create(tmp)
	if err != nil {
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "upload", "create destination", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "upload", "copy payload", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "upload", "flush destination", err)
	}
	if err := os.Rename(tmp, destination); err != nil {
		os.Remove(tmp)
		return "", services.Wrap(services.ErrUnavailable, "objectstore", "upload", "commit destination", err)
	}
	return destination, nil
}

var _ BlobStore = (*Disk)(nil)
