package simplemedia

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tendant/simple-media/pkg/simplemedia/crop"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

const (
	opCrop = "crop_preview"

	// MaxPreviewDimension bounds each side of a crop target.
	MaxPreviewDimension = 4096
)

// CropPreview renders a focal-point crop of a stored object as PNG. The key
// must belong to the caller: their own profile or submission images, or the
// progression and reference images of a submission they own.
func (s *service) CropPreview(ctx context.Context, req CropRequest) ([]byte, error) {
	if req.OwnerID == "" {
		return nil, newError(opCrop, KindValidation, ErrMissingOwner)
	}
	if req.Key == "" {
		return nil, newError(opCrop, KindValidation, errors.New("key is required"))
	}
	if req.Width <= 0 || req.Height <= 0 || req.Width > MaxPreviewDimension || req.Height > MaxPreviewDimension {
		return nil, newError(opCrop, KindValidation, fmt.Errorf("%w: %dx%d", crop.ErrInvalidTarget, req.Width, req.Height))
	}
	var focal *crop.FocalPoint
	if req.FocalX != nil || req.FocalY != nil {
		focal = &crop.FocalPoint{X: 50, Y: 50}
		if req.FocalX != nil {
			focal.X = *req.FocalX
		}
		if req.FocalY != nil {
			focal.Y = *req.FocalY
		}
	}

	if err := s.authorizeKey(ctx, opCrop, req.OwnerID, req.Key); err != nil {
		return nil, err
	}

	blobs, err := s.blobStore(ctx)
	if err != nil {
		return nil, newError(opCrop, KindUnavailable, err)
	}
	rc, err := blobs.Download(ctx, req.Key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, newError(opCrop, KindNotFound, err)
	}
	if err != nil {
		return nil, newError(opCrop, KindUnavailable, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.maxSourceBytes+1))
	if err != nil {
		return nil, newError(opCrop, KindUnavailable, err)
	}
	if int64(len(data)) > s.maxSourceBytes {
		return nil, newError(opCrop, KindTooLarge, ErrTooLarge)
	}

	out, err := crop.Crop(data, crop.Size{Width: req.Width, Height: req.Height}, focal)
	if errors.Is(err, crop.ErrUnreadableImage) {
		return nil, newError(opCrop, KindUnreadableImage, err)
	}
	if err != nil {
		return nil, newError(opCrop, KindInternal, err)
	}
	return out, nil
}

// authorizeKey checks that key lives under a prefix owned by ownerID.
func (s *service) authorizeKey(ctx context.Context, op, ownerID, key string) error {
	namespace, scope, ok := objectkey.Split(key)
	if !ok {
		return newError(op, KindValidation, fmt.Errorf("%w: %s", ErrKeyOutOfScope, key))
	}
	switch namespace {
	case NamespaceProfiles, NamespaceSubmissions:
		if scope != ownerID {
			return newError(op, KindForbidden, fmt.Errorf("%w: %s", ErrForbidden, key))
		}
		return nil
	case NamespaceProgressions, NamespaceReferences:
		return s.checkSubmissionOwnership(ctx, op, ownerID, RoleProgression, scope)
	}
	return newError(op, KindValidation, fmt.Errorf("%w: %s", ErrKeyOutOfScope, key))
}
