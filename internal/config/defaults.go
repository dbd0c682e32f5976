package config

const (
	defaultStagingDir           = "~/.local/share/conduit/staging"
	defaultStorageDir           = "~/.local/share/conduit/storage"
	defaultLogDir               = "~/.local/share/conduit/logs"
	defaultAPIBind              = "127.0.0.1:7519"
	defaultChunkSizeMiB         = 5
	defaultChunkParallelism     = 4
	defaultStaleAfterHours      = 24
	defaultSweepIntervalMinutes = 60
	defaultFFmpegBinary         = "ffmpeg"
	defaultFFprobeBinary        = "ffprobe"
	defaultJobParallelism       = 3
	defaultForensicTimeout      = 30
	defaultDeliveryTimeout      = 60
	defaultNotifyTimeout        = 10
	defaultAuditTimeout         = 10
	defaultQueuePollInterval    = 5
	defaultErrorRetryInterval   = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

func defaultPresets() []string {
	return []string{"1080p", "720p", "480p", "360p"}
}

func defaultPlatforms() []Platform {
	return []Platform{
		{ID: "tube", Name: "EliteTube", URL: "http://localhost:8001/api/ingest", RequiredTier: "silver", Enabled: true},
		{ID: "social", Name: "Social", URL: "http://localhost:8006/api/ingest", RequiredTier: "silver", Enabled: true},
		{ID: "commerce", Name: "Commerce", URL: "http://localhost:8003/api/ingest", RequiredTier: "gold", Enabled: true},
		{ID: "meet", Name: "Meet", URL: "http://localhost:8002/api/ingest", RequiredTier: "platinum", Enabled: true},
		{ID: "vault", Name: "HubVault", URL: "http://localhost:8004/api/ingest", RequiredTier: "diamond", Enabled: true},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			StorageDir: defaultStorageDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Upload: Upload{
			ChunkSizeMiB:         defaultChunkSizeMiB,
			ChunkParallelism:     defaultChunkParallelism,
			StaleAfterHours:      defaultStaleAfterHours,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Transcode: Transcode{
			FFmpegBinary:     defaultFFmpegBinary,
			FFprobeBinary:    defaultFFprobeBinary,
			JobParallelism:   defaultJobParallelism,
			Presets:          defaultPresets(),
			AdaptiveManifest: true,
		},
		Forensic: Forensic{
			RequestTimeout: defaultForensicTimeout,
		},
		Distribution: Distribution{
			RequestTimeout: defaultDeliveryTimeout,
			Platforms:      defaultPlatforms(),
		},
		Notifications: Notifications{
			RequestTimeout:    defaultNotifyTimeout,
			UploadComplete:    true,
			TranscodeComplete: true,
			Distribution:      true,
			Errors:            true,
		},
		Audit: Audit{
			RequestTimeout: defaultAuditTimeout,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
