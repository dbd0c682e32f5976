package store

import (
	"strings"
	"time"
)

// Stage represents the lifecycle of a pipeline.
type Stage string

const (
	StageUploading    Stage = "uploading"
	StageTranscoding  Stage = "transcoding"
	StageDistributing Stage = "distributing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

var allStages = []Stage{
	StageUploading,
	StageTranscoding,
	StageDistributing,
	StageCompleted,
	StageFailed,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

// AllStages returns the ordered list of known pipeline stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a stage admits no further transitions.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// SessionStatus represents the lifecycle of an upload session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether a session can no longer accept chunks.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// ProcessingStatus represents the transcoding lifecycle of a media asset.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// JobStatus represents the lifecycle of a single transcode job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether a job has finished, successfully or not.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// TargetStatus represents the delivery state of one distribution target.
type TargetStatus string

const (
	TargetPending   TargetStatus = "pending"
	TargetDelivered TargetStatus = "delivered"
	TargetFailed    TargetStatus = "failed"
)

// Pipeline tracks one piece of content end to end.
type Pipeline struct {
	ID                 string
	CreatorID          string
	CreatorTier        string
	Stage              Stage
	AutoTranscode      bool
	RequestedPresets   []string
	RequestedPlatforms []string
	UploadSessionID    string
	AssetID            string
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UploadSession tracks one chunked upload.
type UploadSession struct {
	ID              string
	PipelineID      string
	CreatorID       string
	Filename        string
	TotalSizeBytes  int64
	ChunkSizeBytes  int64
	TotalChunks     int
	Status          SessionStatus
	TransactionID   string
	ContentHash     string
	StorageLocation string
	MetadataJSON    string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastActivityAt  time.Time
}

// UploadChunk records one received chunk of a session.
type UploadChunk struct {
	SessionID  string
	Index      int
	SizeBytes  int64
	ETag       string
	ReceivedAt time.Time
}

// MediaAsset is a completed upload awaiting or undergoing transcoding.
type MediaAsset struct {
	ID               string
	PipelineID       string
	SessionID        string
	CreatorID        string
	Filename         string
	SourceLocation   string
	ContentHash      string
	SignatureID      string
	ProcessingStatus ProcessingStatus
	ManifestLocation string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TranscodeBatch groups the jobs queued together for one asset.
type TranscodeBatch struct {
	ID        string
	AssetID   string
	Status    JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TranscodeJob is one preset rendition being produced for an asset.
type TranscodeJob struct {
	ID              string
	BatchID         string
	AssetID         string
	Preset          string
	Status          JobStatus
	ProgressPercent float64
	OutputLocation  string
	SignatureID     string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// QualityVariant is one successfully produced rendition.
type QualityVariant struct {
	ID          string
	AssetID     string
	Preset      string
	Location    string
	SignatureID string
	SizeBytes   int64
	CreatedAt   time.Time
}

// DistributionTarget records the delivery attempt for one platform.
type DistributionTarget struct {
	ID           string
	AssetID      string
	PipelineID   string
	PlatformID   string
	Status       TargetStatus
	ErrorMessage string
	DeliveredAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HealthSummary describes aggregated pipeline counts per key lifecycle states.
type HealthSummary struct {
	Total         int
	Uploading     int
	Transcoding   int
	Distributing  int
	Completed     int
	Failed        int
	StaleSessions int
}
