package simplemedia

import (
	"context"
	"time"
)

// Service is the main interface for the media pipeline
type Service interface {
	// Upload authorization
	IssueUploadAuthorization(ctx context.Context, req IssueRequest) (*UploadAuthorization, error)

	// Ingestion. ProcessUpload never returns an error; failures are reported
	// on the result.
	ProcessUpload(ctx context.Context, job Job) *RunResult

	// Synchronous upload: watermark and metadata inline, no record update
	UploadDirect(ctx context.Context, req DirectUploadRequest) (*DirectUploadResult, error)

	// Lifecycle
	GetMediaAsset(ctx context.Context, ref AssetRef) (*MediaAsset, error)
	ReplaceAsset(ctx context.Context, req ReplaceRequest) (*ReplaceResult, error)
	PurgeOwnerMedia(ctx context.Context, ownerID string) (*PurgeResult, error)
	PurgeSubmissionMedia(ctx context.Context, ownerID, submissionID string) (*PurgeResult, error)

	// Preview
	CropPreview(ctx context.Context, req CropRequest) ([]byte, error)

	// PublicURL derives the delivery URL of a key
	PublicURL(key string) string

	// KeyFromURL maps a delivery URL back to its key
	KeyFromURL(rawURL string) (string, error)
}

// IssueRequest asks for a direct-upload credential.
type IssueRequest struct {
	OwnerID       string
	Role          Role
	ContentType   string
	ContentLength int64
	SubmissionID  string
}

// Step names one ingestion step.
type Step string

const (
	StepGuard        Step = "guard"
	StepFetch        Step = "fetch"
	StepWatermark    Step = "decide_watermark"
	StepEncode       Step = "encode"
	StepEmbed        Step = "embed_metadata"
	StepUploadNew    Step = "upload_new"
	StepUpdateRecord Step = "update_record"
	StepRetireOld    Step = "retire_old"
)

// Step outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeSkipped  = "skipped"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// StepRecord is the trace of one step.
type StepRecord struct {
	Step     Step          `json:"step"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
}

// RunResult is the structured outcome of an ingestion run.
type RunResult struct {
	Success  bool         `json:"success"`
	Skipped  bool         `json:"skipped"` // already completed by an earlier run
	Asset    *MediaAsset  `json:"asset,omitempty"`
	Err      *StepError   `json:"-"`
	Warnings []*StepError `json:"-"`
	Steps    []StepRecord `json:"steps"`
}

// Retryable reports whether the trigger may run the job again.
func (r *RunResult) Retryable() bool {
	return !r.Success && r.Err != nil && r.Err.Kind.Retryable()
}

// DirectUploadRequest carries a file for the synchronous upload path.
type DirectUploadRequest struct {
	OwnerID      string
	Role         Role
	SubmissionID string
	FileName     string
	Data         []byte
}

// DirectUploadResult describes a stored synchronous upload.
type DirectUploadResult struct {
	Key         string `json:"key"`
	PublicURL   string `json:"publicUrl"`
	ContentType string `json:"contentType"`
	Watermarked bool   `json:"watermarked"`
	Protected   bool   `json:"protected"`
}

// ReplaceRequest points an asset at an already uploaded object.
type ReplaceRequest struct {
	Ref AssetRef
	Key string
}

// ReplaceResult describes a completed replacement.
type ReplaceResult struct {
	Asset      *MediaAsset
	RetiredKey string
	Warning    error // non-nil when the previous object could not be deleted
}

// PurgeResult summarizes a bulk deletion.
type PurgeResult struct {
	Deleted int      `json:"deleted"`
	Failed  []string `json:"failed,omitempty"`
}

// CropRequest asks for a focal-point preview of a stored object.
type CropRequest struct {
	OwnerID string
	Key     string
	Width  int
	Height int
	FocalX *float64
	FocalY *float64
}
