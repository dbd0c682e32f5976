package config

import (
	"errors"
	"fmt"
	"strings"
)

const maxChunkSizeMiB = 64

var knownTiers = map[string]struct{}{
	"silver":   {},
	"gold":     {},
	"platinum": {},
	"diamond":  {},
	"elite":    {},
	"royalty":  {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateDistribution(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.ChunkSizeMiB > maxChunkSizeMiB {
		return fmt.Errorf("upload.chunk_size_mib must not exceed %d", maxChunkSizeMiB)
	}
	if c.Upload.ChunkParallelism > 64 {
		return errors.New("upload.chunk_parallelism must not exceed 64")
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if c.Transcode.JobParallelism > 16 {
		return errors.New("transcode.job_parallelism must not exceed 16")
	}
	seen := make(map[string]struct{}, len(c.Transcode.Presets))
	for _, preset := range c.Transcode.Presets {
		if preset == "" {
			return errors.New("transcode.presets must not contain empty names")
		}
		if _, dup := seen[preset]; dup {
			return fmt.Errorf("transcode.presets contains duplicate %q", preset)
		}
		seen[preset] = struct{}{}
	}
	return nil
}

func (c *Config) validateDistribution() error {
	seen := make(map[string]struct{}, len(c.Distribution.Platforms))
	for _, platform := range c.Distribution.Platforms {
		if platform.ID == "" {
			return errors.New("distribution.platforms entries require an id")
		}
		if _, dup := seen[platform.ID]; dup {
			return fmt.Errorf("distribution.platforms contains duplicate id %q", platform.ID)
		}
		seen[platform.ID] = struct{}{}
		if _, ok := knownTiers[platform.RequiredTier]; !ok {
			return fmt.Errorf("distribution.platforms[%s].required_tier %q is not a known tier", platform.ID, platform.RequiredTier)
		}
		if platform.Enabled && strings.TrimSpace(platform.URL) == "" {
			return fmt.Errorf("distribution.platforms[%s].url must be set when enabled", platform.ID)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval > 300 {
		return errors.New("workflow.queue_poll_interval must not exceed 300 seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
