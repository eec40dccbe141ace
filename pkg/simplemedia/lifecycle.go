package simplemedia

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
)

const (
	opReplace = "replace_asset"
	opPurge   = "purge_media"
)

// ReplaceAsset points an asset at an object the owner already uploaded. The
// new key is committed before the previous object is deleted, and a failed
// delete only produces a warning.
func (s *service) ReplaceAsset(ctx context.Context, req ReplaceRequest) (*ReplaceResult, error) {
	ref := req.Ref
	if err := validateJobRef(ref); err != nil {
		return nil, newError(opReplace, KindValidation, err)
	}
	if err := s.checkSubmissionOwnership(ctx, opReplace, ref.OwnerID, ref.Role, ref.SubmissionID); err != nil {
		return nil, err
	}
	if !objectkey.InScope(req.Key, ref.Role.Namespace(), ref.Scope()) {
		return nil, newError(opReplace, KindValidation, fmt.Errorf("%w: %s", ErrKeyOutOfScope, req.Key))
	}

	blobs, err := s.blobStore(ctx)
	if err != nil {
		return nil, newError(opReplace, KindUnavailable, err)
	}
	if _, err := blobs.GetObjectMeta(ctx, req.Key); errors.Is(err, ErrObjectNotFound) {
		return nil, newError(opReplace, KindNotFound, err)
	} else if err != nil {
		return nil, newError(opReplace, KindUnavailable, err)
	}

	current, err := s.records.GetMediaAsset(ctx, ref)
	if errors.Is(err, ErrAssetNotFound) {
		return nil, newError(opReplace, KindNotFound, err)
	}
	if err != nil {
		return nil, newError(opReplace, KindUnavailable, err)
	}

	result := &ReplaceResult{}
	if current.StorageKey == req.Key {
		current.PublicURL = s.urls.PublicURL(current.StorageKey)
		result.Asset = current
		return result, nil
	}

	wctx := context.WithoutCancel(ctx)
	err = s.records.UpdateMediaAsset(wctx, ref, AssetUpdate{ExpectedKey: current.StorageKey, StorageKey: req.Key})
	if errors.Is(err, ErrRecordChanged) {
		return nil, newError(opReplace, KindConflict, err)
	}
	if err != nil {
		return nil, newError(opReplace, KindUnavailable, err)
	}

	if old := current.StorageKey; old != "" {
		result.RetiredKey = old
		if err := blobs.Delete(wctx, old); err != nil && !errors.Is(err, ErrObjectNotFound) {
			result.Warning = newError(opReplace, KindPartialFailure, err)
			s.logger.Warn("replaced asset but previous object was not deleted", "ref", ref.String(), "key", old, "err", err)
		}
	}

	s.logger.Info("replaced asset", "ref", ref.String(), "key", req.Key, "retired_key", result.RetiredKey)
	result.Asset = &MediaAsset{
		Ref:        ref,
		StorageKey: req.Key,
		PublicURL:  s.urls.PublicURL(req.Key),
	}
	return result, nil
}

// PurgeOwnerMedia deletes every object stored for an owner: profile and
// submission images plus the progression and reference images of each of
// the owner's submissions.
func (s *service) PurgeOwnerMedia(ctx context.Context, ownerID string) (*PurgeResult, error) {
	if ownerID == "" {
		return nil, newError(opPurge, KindValidation, ErrMissingOwner)
	}
	submissions, err := s.records.ListSubmissionIDs(ctx, ownerID)
	if err != nil {
		return nil, newError(opPurge, KindUnavailable, err)
	}

	prefixes := []string{
		objectkey.Prefix(NamespaceProfiles, ownerID),
		objectkey.Prefix(NamespaceSubmissions, ownerID),
	}
	for _, id := range submissions {
		prefixes = append(prefixes,
			objectkey.Prefix(NamespaceProgressions, id),
			objectkey.Prefix(NamespaceReferences, id))
	}
	return s.purgePrefixes(ctx, prefixes, nil)
}

// PurgeSubmissionMedia deletes the image, progression and reference objects
// of one submission.
func (s *service) PurgeSubmissionMedia(ctx context.Context, ownerID, submissionID string) (*PurgeResult, error) {
	if ownerID == "" {
		return nil, newError(opPurge, KindValidation, ErrMissingOwner)
	}
	if submissionID == "" {
		return nil, newError(opPurge, KindValidation, ErrSubmissionIDRequired)
	}
	if err := s.checkSubmissionOwnership(ctx, opPurge, ownerID, RoleProgression, submissionID); err != nil {
		return nil, err
	}

	var extra []string
	asset, err := s.records.GetMediaAsset(ctx, AssetRef{OwnerID: ownerID, Role: RoleSubmission, SubmissionID: submissionID})
	switch {
	case err == nil && asset.StorageKey != "":
		extra = append(extra, asset.StorageKey)
	case err != nil && !errors.Is(err, ErrAssetNotFound):
		return nil, newError(opPurge, KindUnavailable, err)
	}

	prefixes := []string{
		objectkey.Prefix(NamespaceProgressions, submissionID),
		objectkey.Prefix(NamespaceReferences, submissionID),
	}
	return s.purgePrefixes(ctx, prefixes, extra)
}

func (s *service) purgePrefixes(ctx context.Context, prefixes, extraKeys []string) (*PurgeResult, error) {
	blobs, err := s.blobStore(ctx)
	if err != nil {
		return nil, newError(opPurge, KindUnavailable, err)
	}

	keys := append([]string(nil), extraKeys...)
	for _, prefix := range prefixes {
		found, err := blobs.ListObjects(ctx, prefix)
		if err != nil {
			return nil, newError(opPurge, KindUnavailable, fmt.Errorf("list %s: %w", prefix, err))
		}
		keys = append(keys, found...)
	}

	wctx := context.WithoutCancel(ctx)
	result := &PurgeResult{}
	seen := make(map[string]bool, len(keys))
	var errs []error
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := blobs.Delete(wctx, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
			result.Failed = append(result.Failed, key)
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		result.Deleted++
	}

	s.logger.Info("purged media", "prefixes", prefixes, "deleted", result.Deleted, "failed", len(result.Failed))
	if len(errs) > 0 {
		return result, newError(opPurge, KindPartialFailure, errors.Join(errs...))
	}
	return result, nil
}
