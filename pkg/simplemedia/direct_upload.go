package simplemedia

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
	"github.com/tendant/simple-media/pkg/simplemedia/watermark"
)

const opDirectUpload = "direct_upload"

// UploadDirect stores a file synchronously, applying the watermark and
// protection metadata inline with the same downgrade rules as the pipeline.
// It does not update any record.
func (s *service) UploadDirect(ctx context.Context, req DirectUploadRequest) (*DirectUploadResult, error) {
	contentType := normalizeContentType(mimetype.Detect(req.Data).String())
	if err := s.validateUpload(opDirectUpload, req.OwnerID, req.Role, contentType, int64(len(req.Data)), req.SubmissionID); err != nil {
		return nil, err
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(req.Data)); err != nil {
		return nil, newError(opDirectUpload, KindUnreadableImage, err)
	}
	if err := s.checkSubmissionOwnership(ctx, opDirectUpload, req.OwnerID, req.Role, req.SubmissionID); err != nil {
		return nil, err
	}

	settings, err := s.records.GetProtectionSettings(ctx, req.OwnerID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, newError(opDirectUpload, KindNotFound, err)
	}
	if err != nil {
		return nil, newError(opDirectUpload, KindUnavailable, err)
	}

	logger := s.logger.With("owner_id", req.OwnerID, "role", req.Role, "file_name", req.FileName)
	data := req.Data
	res := &DirectUploadResult{}

	if req.Role == RoleSubmission && settings.EnableWatermark && contentType != "image/gif" {
		opts := s.watermarkOpts
		opts.Position = watermark.ParsePosition(settings.WatermarkPosition)
		marked, err := s.compositor.Apply(data, opts)
		if err != nil {
			logger.Warn("watermark failed, storing unmarked image", "err", err)
		} else {
			data = marked.Data
			res.Watermarked = true
		}
	}
	if settings.ProtectFromAI {
		name, err := s.records.GetOwnerDisplayName(ctx, req.OwnerID)
		if err != nil {
			logger.Warn("owner display name unavailable, using default attribution", "err", err)
		}
		protected, err := s.embedder.Embed(data, name)
		if err != nil {
			logger.Warn("metadata embedding failed, storing without attribution", "err", err)
		} else {
			data = protected
			res.Protected = true
		}
	}

	contentType = normalizeContentType(mimetype.Detect(data).String())
	ref := AssetRef{OwnerID: req.OwnerID, Role: req.Role, SubmissionID: req.SubmissionID}
	key := s.keys.GenerateKey(req.Role.Namespace(), ref.Scope(), objectkey.ExtensionFor(contentType))

	blobs, err := s.blobStore(ctx)
	if err != nil {
		return nil, newError(opDirectUpload, KindUnavailable, err)
	}
	err = blobs.UploadWithParams(context.WithoutCancel(ctx), bytes.NewReader(data), UploadParams{
		ObjectKey: key,
		MimeType:  contentType,
		Size:      int64(len(data)),
	})
	if err != nil {
		return nil, newError(opDirectUpload, KindUploadFailed, fmt.Errorf("store %s: %w", key, err))
	}

	logger.Info("stored direct upload", "key", key, "watermarked", res.Watermarked, "protected", res.Protected)
	res.Key = key
	res.PublicURL = s.urls.PublicURL(key)
	res.ContentType = contentType
	return res, nil
}
