package forensic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conduit/internal/services"
)

const userAgent = "Conduit/0.1.0"

// HTTPSigner calls a remote signature service over HTTP.
type HTTPSigner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSigner constructs a signer against the given service base URL.
func NewHTTPSigner(baseURL string, timeout time.Duration) *HTTPSigner {
	return &HTTPSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// GenerateSignature requests a new signature for an asset.
func (h *HTTPSigner) GenerateSignature(ctx context.Context, assetID, contentHash string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"asset_id":     assetID,
		"content_hash": contentHash,
	})
	if err != nil {
		return "", fmt.Errorf("marshal signature request: %w", err)
	}

	var result struct {
		SignatureID string `json:"signature_id"`
	}
	if err := h.post(ctx, "/signatures", body, &result); err != nil {
		return "", services.Wrap(services.ErrUnavailable, "forensic", "generate signature", "signature service request failed", err)
	}
	if result.SignatureID == "" {
		return "", services.Wrap(services.ErrExternalTool, "forensic", "generate signature", "signature service returned empty signature", nil)
	}
	return result.SignatureID, nil
}

// InjectSignature asks the service to embed a signature into a local file.
func (h *HTTPSigner) InjectSignature(ctx context.Context, filePath, signatureID string) error {
	body, err := json.Marshal(map[string]string{
		"file_path":    filePath,
		"signature_id": signatureID,
	})
	if err != nil {
		return fmt.Errorf("marshal inject request: %w", err)
	}
	if err := h.post(ctx, "/signatures/inject", body, nil); err != nil {
		return services.Wrap(services.ErrUnavailable, "forensic", "inject signature", "signature service request failed", err)
	}
	return nil
}

// ExtractSignature recovers the signature embedded in a file.
func (h *HTTPSigner) ExtractSignature(ctx context.Context, filePath string) (string, error) {
	body, err := json.Marshal(map[string]string{"file_path": filePath})
	if err != nil {
		return "", fmt.Errorf("marshal extract request: %w", err)
	}

	var result struct {
		SignatureID string `json:"signature_id"`
	}
	if err := h.post(ctx, "/signatures/extract", body, &result); err != nil {
		return "", services.Wrap(services.ErrUnavailable, "forensic", "extract signature", "signature service request failed", err)
	}
	return result.SignatureID, nil
}

func (h *HTTPSigner) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build signature request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("signature service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode signature response: %w", err)
	}
	return nil
}

var _ Signer = (*HTTPSigner)(nil)
