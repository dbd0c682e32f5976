package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conduit/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Upload.ChunkSizeMiB != 5 {
		t.Fatalf("unexpected default chunk size: %d", cfg.Upload.ChunkSizeMiB)
	}
	if cfg.Transcode.JobParallelism != 3 {
		t.Fatalf("unexpected default job parallelism: %d", cfg.Transcode.JobParallelism)
	}
	if len(cfg.Distribution.Platforms) == 0 {
		t.Fatal("expected default platform registry")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.Upload.ChunkParallelism != 4 {
		t.Fatalf("defaults not applied: %d", cfg.Upload.ChunkParallelism)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conduit.toml")
	content := `
[paths]
staging_dir = "` + filepath.Join(dir, "staging") + `"
storage_dir = "` + filepath.Join(dir, "storage") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[upload]
chunk_size_mib = 8

[transcode]
presets = ["1080P", " 720p "]

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Upload.ChunkSizeMiB != 8 {
		t.Fatalf("chunk size not loaded: %d", cfg.Upload.ChunkSizeMiB)
	}
	if cfg.ChunkSizeBytes() != 8*1024*1024 {
		t.Fatalf("ChunkSizeBytes mismatch: %d", cfg.ChunkSizeBytes())
	}
	if cfg.Transcode.Presets[0] != "1080p" || cfg.Transcode.Presets[1] != "720p" {
		t.Fatalf("presets not normalized: %v", cfg.Transcode.Presets)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging format not normalized: %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "oversized chunk",
			mutate: func(c *config.Config) { c.Upload.ChunkSizeMiB = 128 },
			want:   "chunk_size_mib",
		},
		{
			name:   "duplicate preset",
			mutate: func(c *config.Config) { c.Transcode.Presets = []string{"720p", "720p"} },
			want:   "duplicate",
		},
		{
			name: "unknown tier",
			mutate: func(c *config.Config) {
				c.Distribution.Platforms[0].RequiredTier = "bronze"
			},
			want: "not a known tier",
		},
		{
			name: "enabled platform without url",
			mutate: func(c *config.Config) {
				c.Distribution.Platforms[0].URL = ""
			},
			want: "url must be set",
		},
		{
			name:   "bad log format",
			mutate: func(c *config.Config) { c.Logging.Format = "yaml" },
			want:   "logging.format",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(dir, "staging")
	cfg.Paths.StorageDir = filepath.Join(dir, "storage")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{cfg.Paths.StagingDir, cfg.Paths.StorageDir, cfg.Paths.LogDir} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			t.Fatalf("directory %s not created: %v", d, err)
		}
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[upload]") {
		t.Fatal("sample config missing upload section")
	}
}
