package testsupport

import (
	"path/filepath"
	"testing"

	"conduit/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.StorageDir = filepath.Join(base, "storage")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithChunkSizeMiB overrides the upload chunk size on the test config.
func WithChunkSizeMiB(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.ChunkSizeMiB = size
	}
}

// WithPresets overrides the transcode preset list on the test config.
func WithPresets(presets ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcode.Presets = presets
	}
}

// WithPlatforms replaces the distribution platform registry on the test config.
func WithPlatforms(platforms ...config.Platform) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Distribution.Platforms = platforms
	}
}
