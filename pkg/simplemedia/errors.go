package simplemedia

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrAssetNotFound indicates the owning record does not exist
	ErrAssetNotFound = errors.New("asset record not found")

	// ErrUserNotFound indicates an unknown owner
	ErrUserNotFound = errors.New("user not found")

	// ErrSubmissionNotFound indicates an unknown submission
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrObjectNotFound indicates an object was not found in the blob store
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidRole indicates an unknown role
	ErrInvalidRole = errors.New("invalid role")

	// ErrRoleNotProcessable indicates a role the ingestion pipeline does not handle
	ErrRoleNotProcessable = errors.New("role is not processed by the pipeline")

	// ErrUnsupportedMediaType indicates a content type outside the accepted set
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrTooLarge indicates a payload above the configured ceiling
	ErrTooLarge = errors.New("payload too large")

	// ErrEmptyPayload indicates a zero or negative content length
	ErrEmptyPayload = errors.New("empty payload")

	// ErrSubmissionIDRequired indicates a submission-scoped role without a submission id
	ErrSubmissionIDRequired = errors.New("submission id is required for this role")

	// ErrMissingOwner indicates a request without an owner id
	ErrMissingOwner = errors.New("owner id is required")

	// ErrForbidden indicates the caller does not own the target
	ErrForbidden = errors.New("forbidden")

	// ErrKeyOutOfScope indicates a key outside the asset's namespace and scope
	ErrKeyOutOfScope = errors.New("key is outside the asset scope")

	// ErrRecordChanged indicates the record no longer holds the key an update expected
	ErrRecordChanged = errors.New("asset record changed concurrently")
)

// Kind classifies failures so callers can choose status codes and retries.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindTooLarge         Kind = "too_large"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindUnreadableImage  Kind = "unreadable_image"
	KindSourceNotFound   Kind = "source_not_found"
	KindSourceUnreadable Kind = "source_unreadable"
	KindEncodeFailed     Kind = "encode_failed"
	KindUploadFailed     Kind = "upload_failed"
	KindUnavailable      Kind = "unavailable"
	KindPartialFailure   Kind = "partial_failure"
	KindInconsistency    Kind = "inconsistency"
	KindCanceled         Kind = "canceled"
	KindBusy             Kind = "busy"
	KindConflict         Kind = "conflict"
	KindDegraded         Kind = "degraded"
	KindInternal         Kind = "internal"
)

// Retryable reports whether a whole run may be retried after a failure of
// this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindSourceUnreadable, KindUploadFailed, KindUnavailable, KindInconsistency, KindCanceled, KindBusy:
		return true
	}
	return false
}

// Error is returned by request-style operations such as issuing upload
// credentials, direct uploads and replacements.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StepError is the typed failure of one ingestion step.
type StepError struct {
	Step Step
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func stepError(step Step, kind Kind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}
