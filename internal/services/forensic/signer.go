package forensic

import (
	"context"
	"strings"
	"time"

	"conduit/internal/config"
)

// Signer embeds forensic provenance signatures into media files so leaked
// copies can be traced back to the rendition that produced them.
type Signer interface {
	GenerateSignature(ctx context.Context, assetID, contentHash string) (string, error)
	InjectSignature(ctx context.Context, filePath, signatureID string) error
	ExtractSignature(ctx context.Context, filePath string) (string, error)
}

// NewSigner builds a signer backed by the configured signature service. When
// no service endpoint is configured, a local sidecar signer is returned.
func NewSigner(cfg *config.Config) Signer {
	base := strings.TrimSpace(cfg.Forensic.BaseURL)
	if base == "" {
		return &SidecarSigner{}
	}

	timeout := time.Duration(cfg.Forensic.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewHTTPSigner(base, timeout)
}
