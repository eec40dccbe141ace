package simplemedia

import (
	"context"
	"io"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia/canonical"
	"github.com/tendant/simple-media/pkg/simplemedia/watermark"
)

// BlobStore defines the interface for storage backends
type BlobStore interface {
	// GetUploadURL returns a signed URL allowing one PUT to params.ObjectKey
	GetUploadURL(ctx context.Context, params PresignParams) (string, error)

	// UploadWithParams writes an object
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download opens an object for reading
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete removes an object
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)

	// ListObjects returns every key under prefix
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// RecordStore defines the persistence of the records that reference assets
type RecordStore interface {
	// GetMediaAsset returns the asset currently referenced by ref
	GetMediaAsset(ctx context.Context, ref AssetRef) (*MediaAsset, error)

	// UpdateMediaAsset writes a new key and processing state to the record for
	// ref if it still holds update.ExpectedKey, else returns ErrRecordChanged
	UpdateMediaAsset(ctx context.Context, ref AssetRef, update AssetUpdate) error

	// GetProtectionSettings returns the owner's protection preferences
	GetProtectionSettings(ctx context.Context, ownerID string) (*ProtectionSettings, error)

	// GetOwnerDisplayName returns the name used in embedded attribution
	GetOwnerDisplayName(ctx context.Context, ownerID string) (string, error)

	// GetSubmissionOwner returns the owner id of a submission
	GetSubmissionOwner(ctx context.Context, submissionID string) (string, error)

	// ListSubmissionIDs returns every submission owned by ownerID
	ListSubmissionIDs(ctx context.Context, ownerID string) ([]string, error)
}

// RunGuard ensures at most one in-flight run per asset
type RunGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Observer receives pipeline measurements
type Observer interface {
	StepCompleted(step Step, duration time.Duration, kind Kind)
	RunCompleted(result *RunResult, duration time.Duration)
	UploadAuthorized(role Role, kind Kind)
}

// Compositor draws the brand mark onto image bytes
type Compositor interface {
	Apply(data []byte, opts watermark.Options) (*watermark.Result, error)
}

// Encoder converts image bytes into the canonical storage format
type Encoder interface {
	Encode(data []byte) (*canonical.Result, error)
}

// Embedder writes attribution metadata into image bytes
type Embedder interface {
	Embed(data []byte, creator string) ([]byte, error)
}

// Dispatcher hands ingestion jobs to a worker
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}
