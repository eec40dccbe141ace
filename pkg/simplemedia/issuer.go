package simplemedia

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

const opIssue = "issue_upload_authorization"

// IssueUploadAuthorization validates the request and returns a signed PUT URL
// scoped to one fresh key. Checks run in a fixed order: role, content type,
// size, submission id presence, then ownership.
func (s *service) IssueUploadAuthorization(ctx context.Context, req IssueRequest) (auth *UploadAuthorization, err error) {
	defer func() {
		if s.observer != nil {
			kind := Kind("")
			if err != nil {
				kind = KindOf(err)
			}
			s.observer.UploadAuthorized(req.Role, kind)
		}
	}()

	contentType := normalizeContentType(req.ContentType)
	if err := s.validateUpload(opIssue, req.OwnerID, req.Role, contentType, req.ContentLength, req.SubmissionID); err != nil {
		return nil, err
	}
	if err := s.checkSubmissionOwnership(ctx, opIssue, req.OwnerID, req.Role, req.SubmissionID); err != nil {
		return nil, err
	}

	ref := AssetRef{OwnerID: req.OwnerID, Role: req.Role, SubmissionID: req.SubmissionID}
	key := s.keys.GenerateKey(req.Role.Namespace(), ref.Scope(), objectkey.ExtensionFor(contentType))

	blobs, err := s.blobStore(ctx)
	if err != nil {
		return nil, newError(opIssue, KindUnavailable, err)
	}
	uploadURL, err := blobs.GetUploadURL(ctx, PresignParams{
		ObjectKey:     key,
		MimeType:      contentType,
		ContentLength: req.ContentLength,
		Expires:       s.uploadExpiry,
	})
	if err != nil {
		return nil, newError(opIssue, KindUnavailable, fmt.Errorf("sign upload url: %w", err))
	}

	s.logger.Info("issued upload authorization",
		"owner_id", req.OwnerID, "role", req.Role, "key", key, "content_length", req.ContentLength)

	return &UploadAuthorization{
		UploadURL: uploadURL,
		PublicURL: s.urls.PublicURL(key),
		Key:       key,
		ExpiresIn: int(s.uploadExpiry.Seconds()),
		ExpiresAt: s.now().Add(s.uploadExpiry).UTC(),
	}, nil
}

// validateUpload runs the request checks that need no I/O.
func (s *service) validateUpload(op, ownerID string, role Role, contentType string, size int64, submissionID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return newError(op, KindValidation, ErrMissingOwner)
	}
	if !role.Valid() {
		return newError(op, KindValidation, fmt.Errorf("%w: %q", ErrInvalidRole, role))
	}
	if !s.accepted[contentType] {
		return newError(op, KindValidation, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, contentType))
	}
	if size <= 0 {
		return newError(op, KindValidation, ErrEmptyPayload)
	}
	if size > s.maxUploadBytes {
		return newError(op, KindTooLarge, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, s.maxUploadBytes))
	}
	if role.SubmissionScoped() && strings.TrimSpace(submissionID) == "" {
		return newError(op, KindValidation, ErrSubmissionIDRequired)
	}
	return nil
}

// checkSubmissionOwnership verifies the caller owns the submission named by
// the request. Roles scoped by owner id pass through, as does a submission
// image with no submission id.
func (s *service) checkSubmissionOwnership(ctx context.Context, op, ownerID string, role Role, submissionID string) error {
	if submissionID == "" {
		return nil
	}
	if role == RoleProfile {
		return nil
	}
	owner, err := s.records.GetSubmissionOwner(ctx, submissionID)
	if errors.Is(err, ErrSubmissionNotFound) {
		return newError(op, KindNotFound, err)
	}
	if err != nil {
		return newError(op, KindUnavailable, err)
	}
	if owner != ownerID {
		return newError(op, KindForbidden, fmt.Errorf("%w: submission %s", ErrForbidden, submissionID))
	}
	return nil
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	return ct
}
