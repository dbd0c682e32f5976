package forensic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"strings"

	"conduit/internal/services"
)

const sidecarSuffix = ".sig"

// SidecarSigner derives deterministic signatures and records them in a
// sidecar file next to the media. It keeps development and test environments
// working without a signature service.
type SidecarSigner struct{}

// GenerateSignature derives a stable signature from the asset identity.
func (SidecarSigner) GenerateSignature(ctx context.Context, assetID, contentHash string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(assetID) == "" {
		return "", services.Wrap(services.ErrValidation, "forensic", "generate signature", "asset id required", nil)
	}
	sum := sha256.Sum256([]byte(assetID + ":" + contentHash))
	return "sig-" + hex.EncodeToString(sum[:16]), nil
}

// InjectSignature writes the signature to a sidecar file next to the media.
func (SidecarSigner) InjectSignature(ctx context.Context, filePath, signatureID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filePath); err != nil {
		return services.Wrap(services.ErrNotFound, "forensic", "inject signature", "media file missing", err)
	}
	if err := os.WriteFile(filePath+sidecarSuffix, []byte(signatureID+"\n"), 0o644); err != nil {
		return services.Wrap(services.ErrUnavailable, "forensic", "inject signature", "write sidecar", err)
	}
	return nil
}

// ExtractSignature reads the sidecar written by InjectSignature. Files without
// a sidecar yield an empty signature, not an error.
func (SidecarSigner) ExtractSignature(ctx context.Context, filePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, err := os.ReadFile(filePath + sidecarSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", services.Wrap(services.ErrUnavailable, "forensic", "extract signature", "read sidecar", err)
	}
	return strings.TrimSpace(string(payload)), nil
}

var _ Signer = SidecarSigner{}
