package simplemedia

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies which record field an image belongs to.
type Role string

const (
	RoleSubmission  Role = "submission_image"
	RoleProfile     Role = "profile_image"
	RoleProgression Role = "progression_image"
	RoleReference   Role = "reference_image"
)

// Storage namespaces, the first path segment of every key.
const (
	NamespaceSubmissions  = "submissions"
	NamespaceProfiles     = "profiles"
	NamespaceProgressions = "progressions"
	NamespaceReferences   = "references"
)

// ParseRole accepts either the full role name or the short form used by the
// upload API ("submission", "profile", "progression", "reference").
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasSuffix(s, "_image") {
		s += "_image"
	}
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSubmission, RoleProfile, RoleProgression, RoleReference:
		return true
	}
	return false
}

// Namespace returns the key namespace for r.
func (r Role) Namespace() string {
	switch r {
	case RoleSubmission:
		return NamespaceSubmissions
	case RoleProfile:
		return NamespaceProfiles
	case RoleProgression:
		return NamespaceProgressions
	case RoleReference:
		return NamespaceReferences
	}
	return ""
}

// SubmissionScoped reports whether keys for r are scoped by submission id
// rather than owner id.
func (r Role) SubmissionScoped() bool {
	return r == RoleProgression || r == RoleReference
}

// Processable reports whether r is handled by the ingestion pipeline.
func (r Role) Processable() bool {
	return r == RoleSubmission || r == RoleProfile
}

// AssetRef identifies one asset: an owner, a role and, for submission-bound
// roles, the submission.
type AssetRef struct {
	OwnerID      string `json:"owner_id"`
	Role         Role   `json:"role"`
	SubmissionID string `json:"submission_id,omitempty"`
}

// Scope returns the second key segment for this asset.
func (r AssetRef) Scope() string {
	if r.Role.SubmissionScoped() {
		return r.SubmissionID
	}
	return r.OwnerID
}

// String returns the identity used for run guards and logs.
func (r AssetRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.OwnerID, r.Role, r.SubmissionID)
}

// ProcessingMetadata records what the pipeline did to an asset.
type ProcessingMetadata struct {
	Watermarked bool   `json:"watermarked"`
	Compressed  bool   `json:"compressed"`
	Protected   bool   `json:"protected"`
	Format      string `json:"format"`
}

// MediaAsset is the record-store view of one image.
type MediaAsset struct {
	Ref                AssetRef            `json:"ref"`
	StorageKey         string              `json:"storage_key"`
	PublicURL          string              `json:"public_url"`
	ProcessingMetadata *ProcessingMetadata `json:"processing_metadata,omitempty"`
	ProcessedAt        *time.Time          `json:"processed_at,omitempty"`
}

// AssetUpdate is the patch written to a record after ingestion or
// replacement. A nil ProcessingMetadata clears the stored value. The patch
// applies only while the record still holds ExpectedKey ("" for a record
// that has never had an object); otherwise the store returns
// ErrRecordChanged.
type AssetUpdate struct {
	ExpectedKey        string
	StorageKey         string
	ProcessingMetadata *ProcessingMetadata
	ProcessedAt        *time.Time
}

// ProtectionSettings are the owner's protection preferences.
type ProtectionSettings struct {
	EnableWatermark     bool   `json:"enable_watermark"`
	WatermarkPosition   string `json:"watermark_position"`
	ProtectFromAI       bool   `json:"protect_from_ai"`
	ProtectFromDownload bool   `json:"protect_from_download"`
}

// UploadAuthorization is a short-lived credential for one direct upload.
type UploadAuthorization struct {
	UploadURL string    `json:"upload_url"`
	PublicURL string    `json:"public_url"`
	Key       string    `json:"key"`
	ExpiresIn int       `json:"expires_in"` // seconds
	ExpiresAt time.Time `json:"expires_at"`
}

// Job asks the pipeline to process the object behind SourceURL for Ref.
type Job struct {
	SourceURL string   `json:"source_url"`
	Ref       AssetRef `json:"ref"`
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// UploadParams describes an object write.
type UploadParams struct {
	ObjectKey string
	MimeType  string
	Size      int64
}

// PresignParams describes a signed direct-upload request.
type PresignParams struct {
	ObjectKey     string
	MimeType      string
	ContentLength int64
	Expires       time.Duration
}
