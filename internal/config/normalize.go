package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeUpload()
	c.normalizeTranscode()
	c.normalizeForensic()
	c.normalizeDistribution()
	c.normalizeNotifications()
	c.normalizeAudit()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StorageDir) == "" {
		c.Paths.StorageDir = defaultStorageDir
	}
	if c.Paths.StorageDir, err = expandPath(c.Paths.StorageDir); err != nil {
		return fmt.Errorf("paths.storage_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeUpload() {
	if c.Upload.ChunkSizeMiB <= 0 {
		c.Upload.ChunkSizeMiB = defaultChunkSizeMiB
	}
	if c.Upload.ChunkParallelism <= 0 {
		c.Upload.ChunkParallelism = defaultChunkParallelism
	}
	if c.Upload.StaleAfterHours <= 0 {
		c.Upload.StaleAfterHours = defaultStaleAfterHours
	}
	if c.Upload.SweepIntervalMinutes <= 0 {
		c.Upload.SweepIntervalMinutes = defaultSweepIntervalMinutes
	}
}

func (c *Config) normalizeTranscode() {
	c.Transcode.FFmpegBinary = strings.TrimSpace(c.Transcode.FFmpegBinary)
	if c.Transcode.FFmpegBinary == "" {
		c.Transcode.FFmpegBinary = defaultFFmpegBinary
	}
	c.Transcode.FFprobeBinary = strings.TrimSpace(c.Transcode.FFprobeBinary)
	if c.Transcode.FFprobeBinary == "" {
		c.Transcode.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Transcode.JobParallelism <= 0 {
		c.Transcode.JobParallelism = defaultJobParallelism
	}
	if len(c.Transcode.Presets) == 0 {
		c.Transcode.Presets = defaultPresets()
	}
	for i, preset := range c.Transcode.Presets {
		c.Transcode.Presets[i] = strings.ToLower(strings.TrimSpace(preset))
	}
}

func (c *Config) normalizeForensic() {
	c.Forensic.BaseURL = strings.TrimSpace(strings.TrimSuffix(c.Forensic.BaseURL, "/"))
	if c.Forensic.RequestTimeout <= 0 {
		c.Forensic.RequestTimeout = defaultForensicTimeout
	}
}

func (c *Config) normalizeDistribution() {
	if c.Distribution.RequestTimeout <= 0 {
		c.Distribution.RequestTimeout = defaultDeliveryTimeout
	}
	for i := range c.Distribution.Platforms {
		p := &c.Distribution.Platforms[i]
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		p.Name = strings.TrimSpace(p.Name)
		p.URL = strings.TrimSpace(p.URL)
		p.RequiredTier = strings.ToLower(strings.TrimSpace(p.RequiredTier))
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeAudit() {
	c.Audit.Endpoint = strings.TrimSpace(c.Audit.Endpoint)
	if c.Audit.RequestTimeout <= 0 {
		c.Audit.RequestTimeout = defaultAuditTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
