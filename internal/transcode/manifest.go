package transcode

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"conduit/internal/store"
)

// BuildMasterManifest renders an HLS master playlist covering the produced
// variants. Presets that failed simply never appear; playback degrades to
// whatever renditions exist.
func BuildMasterManifest(variants []store.QualityVariant) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	// Highest quality first.
	for _, name := range KnownPresets() {
		for _, variant := range variants {
			if variant.Preset != name {
				continue
			}
			preset, ok := LookupPreset(variant.Preset)
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
				preset.Bandwidth(), preset.Width, preset.Height)
			b.WriteString(path.Join(variant.Preset, variant.Preset+".mp4"))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (o *Orchestrator) publishManifest(ctx context.Context, asset *store.MediaAsset) (string, error) {
	variants, err := o.store.VariantsForAsset(ctx, asset.ID)
	if err != nil {
		return "", fmt.Errorf("load variants: %w", err)
	}
	if len(variants) == 0 {
		return "", fmt.Errorf("no variants to reference")
	}

	manifest := BuildMasterManifest(variants)
	workDir := filepath.Join(o.cfg.Paths.StagingDir, "transcode", asset.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	local := filepath.Join(workDir, "master.m3u8")
	if err := os.WriteFile(local, []byte(manifest), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	return o.blob.Upload(ctx, local, path.Join("assets", asset.ID, "master.m3u8"))
}
