package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	StorageDir string `toml:"storage_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Upload contains configuration for the chunked upload manager.
type Upload struct {
	ChunkSizeMiB         int `toml:"chunk_size_mib"`
	ChunkParallelism     int `toml:"chunk_parallelism"`
	StaleAfterHours      int `toml:"stale_after_hours"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// Transcode contains configuration for quality-variant generation.
type Transcode struct {
	FFmpegBinary     string   `toml:"ffmpeg_binary"`
	FFprobeBinary    string   `toml:"ffprobe_binary"`
	JobParallelism   int      `toml:"job_parallelism"`
	Presets          []string `toml:"presets"`
	AdaptiveManifest bool     `toml:"adaptive_manifest"`
}

// Forensic contains configuration for the provenance signature service.
// When BaseURL is empty a local sidecar signer is used.
type Forensic struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Platform describes one distribution destination.
type Platform struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	URL          string `toml:"url"`
	RequiredTier string `toml:"required_tier"`
	Enabled      bool   `toml:"enabled"`
}

// Distribution contains fan-out configuration and the platform registry.
type Distribution struct {
	RequestTimeout int        `toml:"request_timeout"`
	Platforms      []Platform `toml:"platforms"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic         string `toml:"ntfy_topic"`
	RequestTimeout    int    `toml:"request_timeout"`
	UploadComplete    bool   `toml:"upload_complete"`
	TranscodeComplete bool   `toml:"transcode_complete"`
	Distribution      bool   `toml:"distribution"`
	Errors            bool   `toml:"errors"`
}

// Audit contains configuration for the write-only audit sink.
type Audit struct {
	Endpoint       string `toml:"endpoint"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Conduit.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Upload: chunk sizing, batch parallelism, staleness sweep
//   - Transcode: encoder binaries, job parallelism, preset selection
//   - Forensic: provenance signature service endpoint
//   - Distribution: platform registry and delivery timeouts
//   - Notifications: ntfy push notification settings
//   - Audit: write-only audit event sink
//   - Workflow: daemon polling intervals
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Upload        Upload        `toml:"upload"`
	Transcode     Transcode     `toml:"transcode"`
	Forensic      Forensic      `toml:"forensic"`
	Distribution  Distribution  `toml:"distribution"`
	Notifications Notifications `toml:"notifications"`
	Audit         Audit         `toml:"audit"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conduit/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("conduit.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.StorageDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ChunkSizeBytes returns the configured chunk size in bytes.
func (c *Config) ChunkSizeBytes() int64 {
	return int64(c.Upload.ChunkSizeMiB) * 1024 * 1024
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
