package simplemedia

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tendant/simple-media/pkg/simplemedia/canonical"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
	"github.com/tendant/simple-media/pkg/simplemedia/watermark"
)

// ingestRun carries the state of one pipeline run between steps.
type ingestRun struct {
	s      *service
	job    Job
	logger *slog.Logger
	result *RunResult

	// io is used for every blob and record call so a cancelled caller never
	// interrupts a step halfway.
	io    context.Context
	blobs BlobStore

	current     Step
	sourceKey   string
	observedKey string
	settings  *ProtectionSettings
	data      []byte
	encoded   *canonical.Result
	meta      ProcessingMetadata
	newKey    string
	updatedAt time.Time
}

// ProcessUpload runs the ingestion pipeline for one uploaded object:
//
//	fetch -> decide_watermark -> encode -> embed_metadata -> upload_new -> update_record -> retire_old
//
// Nothing is written or deleted before upload_new succeeds, and the source
// object is deleted only after the record points at the new one. A run
// against a source the record no longer references reports success without
// touching anything, which makes retries after a partial run safe.
func (s *service) ProcessUpload(ctx context.Context, job Job) (result *RunResult) {
	started := time.Now()
	run := &ingestRun{
		s:      s,
		job:    job,
		result: &RunResult{},
		logger: s.logger.With("owner_id", job.Ref.OwnerID, "role", job.Ref.Role, "submission_id", job.Ref.SubmissionID),
	}
	defer func() {
		if rec := recover(); rec != nil {
			run.result.Success = false
			run.result.Err = stepError(run.current, KindInternal, fmt.Errorf("panic: %v", rec))
			run.logger.Error("ingestion run panicked", "step", run.current, "panic", rec)
		}
		if s.observer != nil {
			s.observer.RunCompleted(run.result, time.Since(started))
		}
		result = run.result
	}()

	run.execute(ctx)
	return run.result
}

func (r *ingestRun) execute(ctx context.Context) {
	ref := r.job.Ref
	if err := validateJobRef(ref); err != nil {
		r.fail(stepError(StepFetch, KindValidation, err))
		return
	}

	release, err := r.s.guard.Acquire(ctx, ref.String())
	if err != nil {
		r.fail(stepError(StepGuard, KindBusy, err))
		return
	}
	defer release()

	r.io = context.WithoutCancel(ctx)
	blobs, err := r.s.blobStore(r.io)
	if err != nil {
		r.fail(stepError(StepFetch, KindUnavailable, err))
		return
	}
	r.blobs = blobs

	steps := []struct {
		step Step
		fn   func() (string, *StepError)
	}{
		{StepFetch, r.fetch},
		{StepWatermark, r.decideWatermark},
		{StepEncode, r.encode},
		{StepEmbed, r.embedMetadata},
		{StepUploadNew, r.uploadNew},
	}
	for _, st := range steps {
		if err := r.checkCanceled(ctx, st.step); err != nil {
			r.fail(err)
			return
		}
		if err := r.runStep(st.step, st.fn); err != nil {
			r.fail(err)
			return
		}
		if r.result.Skipped {
			r.result.Success = true
			r.logger.Info("ingestion already completed, nothing to do", "source_key", r.sourceKey)
			return
		}
	}

	if err := r.checkCanceled(ctx, StepUpdateRecord); err != nil {
		r.discardNewObject()
		r.fail(err)
		return
	}
	if err := r.runStep(StepUpdateRecord, r.updateRecord); err != nil {
		r.fail(err)
		return
	}

	// The record now references the new object; finish regardless of ctx.
	_ = r.runStep(StepRetireOld, r.retireOld)

	processedAt := r.updatedAt
	meta := r.meta
	r.result.Success = true
	r.result.Asset = &MediaAsset{
		Ref:                ref,
		StorageKey:         r.newKey,
		PublicURL:          r.s.urls.PublicURL(r.newKey),
		ProcessingMetadata: &meta,
		ProcessedAt:        &processedAt,
	}
	r.logger.Info("ingestion completed",
		"source_key", r.sourceKey, "new_key", r.newKey,
		"watermarked", meta.Watermarked, "protected", meta.Protected, "warnings", len(r.result.Warnings))
}

// runStep executes fn, records its trace and reports it to the observer.
func (r *ingestRun) runStep(step Step, fn func() (string, *StepError)) *StepError {
	r.current = step
	start := time.Now()
	outcome, err := fn()
	if err != nil {
		outcome = OutcomeFailed
	}
	d := time.Since(start)
	r.result.Steps = append(r.result.Steps, StepRecord{Step: step, Outcome: outcome, Duration: d})

	if r.s.observer != nil {
		kind := Kind("")
		if err != nil {
			kind = err.Kind
		} else if outcome == OutcomeDegraded {
			kind = KindDegraded
		}
		r.s.observer.StepCompleted(step, d, kind)
	}
	r.logger.Debug("ingestion step finished", "step", step, "outcome", outcome, "duration", d)
	return err
}

func (r *ingestRun) checkCanceled(ctx context.Context, next Step) *StepError {
	if err := ctx.Err(); err != nil {
		return stepError(next, KindCanceled, err)
	}
	return nil
}

func (r *ingestRun) fail(err *StepError) {
	r.result.Success = false
	r.result.Err = err
	level := slog.LevelWarn
	if err.Kind == KindInconsistency || err.Kind == KindInternal {
		level = slog.LevelError
	}
	r.logger.Log(r.logCtx(), level, "ingestion run failed",
		"step", err.Step, "kind", err.Kind, "source_key", r.sourceKey, "new_key", r.newKey, "err", err.Err)
}

func (r *ingestRun) warn(err *StepError) {
	r.result.Warnings = append(r.result.Warnings, err)
	r.logger.Warn("ingestion step degraded", "step", err.Step, "kind", err.Kind, "err", err.Err)
}

func (r *ingestRun) logCtx() context.Context {
	if r.io != nil {
		return r.io
	}
	return context.Background()
}

// fetch resolves the source URL to a key and reads the object into memory.
func (r *ingestRun) fetch() (string, *StepError) {
	ref := r.job.Ref
	key, err := r.s.urls.KeyFromURL(r.job.SourceURL)
	if err != nil {
		return "", stepError(StepFetch, KindSourceNotFound, err)
	}
	if !objectkey.InScope(key, ref.Role.Namespace(), ref.Scope()) {
		return "", stepError(StepFetch, KindSourceNotFound, fmt.Errorf("%w: %s", ErrKeyOutOfScope, key))
	}
	r.sourceKey = key

	if done, err := r.alreadyCompleted(); err != nil {
		return "", err
	} else if done {
		r.result.Skipped = true
		return OutcomeSkipped, nil
	}

	rc, err := r.blobs.Download(r.io, key)
	if errors.Is(err, ErrObjectNotFound) {
		// A previous run may have committed and retired this source already.
		if done, cerr := r.alreadyCompleted(); cerr != nil {
			return "", cerr
		} else if done {
			r.result.Skipped = true
			return OutcomeSkipped, nil
		}
		return "", stepError(StepFetch, KindSourceNotFound, err)
	}
	if err != nil {
		return "", stepError(StepFetch, KindSourceUnreadable, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, r.s.maxSourceBytes+1))
	if err != nil {
		return "", stepError(StepFetch, KindSourceUnreadable, err)
	}
	if int64(len(data)) > r.s.maxSourceBytes {
		return "", stepError(StepFetch, KindTooLarge, fmt.Errorf("%w: source exceeds %d bytes", ErrTooLarge, r.s.maxSourceBytes))
	}
	if len(data) == 0 {
		return "", stepError(StepFetch, KindUnreadableImage, ErrEmptyPayload)
	}
	r.data = data
	return OutcomeOK, nil
}

// alreadyCompleted reports whether the record has moved on from the source
// key, meaning an earlier run finished the work.
func (r *ingestRun) alreadyCompleted() (bool, *StepError) {
	asset, err := r.s.records.GetMediaAsset(r.io, r.job.Ref)
	if errors.Is(err, ErrAssetNotFound) {
		return false, stepError(StepFetch, KindNotFound, err)
	}
	if err != nil {
		return false, stepError(StepFetch, KindUnavailable, err)
	}
	r.observedKey = asset.StorageKey
	return asset.StorageKey != "" && asset.StorageKey != r.sourceKey, nil
}

// decideWatermark loads protection settings and applies the mark to
// submission images of compositable formats. Compositor failures are
// downgraded and the unmodified bytes continue.
func (r *ingestRun) decideWatermark() (string, *StepError) {
	settings, err := r.s.records.GetProtectionSettings(r.io, r.job.Ref.OwnerID)
	if errors.Is(err, ErrUserNotFound) {
		return "", stepError(StepWatermark, KindNotFound, err)
	}
	if err != nil {
		return "", stepError(StepWatermark, KindUnavailable, err)
	}
	r.settings = settings

	if r.job.Ref.Role != RoleSubmission || !settings.EnableWatermark {
		return OutcomeSkipped, nil
	}
	if mimetype.Detect(r.data).Is("image/gif") {
		return OutcomeSkipped, nil
	}

	opts := r.s.watermarkOpts
	opts.Position = watermark.ParsePosition(settings.WatermarkPosition)
	res, err := r.s.compositor.Apply(r.data, opts)
	if err != nil {
		r.warn(stepError(StepWatermark, KindDegraded, err))
		return OutcomeDegraded, nil
	}
	r.data = res.Data
	r.meta.Watermarked = true
	return OutcomeOK, nil
}

func (r *ingestRun) encode() (string, *StepError) {
	res, err := r.s.encoder.Encode(r.data)
	if errors.Is(err, canonical.ErrUnreadableImage) {
		return "", stepError(StepEncode, KindUnreadableImage, err)
	}
	if err != nil {
		return "", stepError(StepEncode, KindEncodeFailed, err)
	}
	// The record says the source went through the encode stage, including
	// GIF pass-through.
	r.encoded = res
	r.meta.Compressed = true
	r.meta.Format = res.Format
	return OutcomeOK, nil
}

// embedMetadata writes attribution when the owner opted out of AI training.
func (r *ingestRun) embedMetadata() (string, *StepError) {
	if r.settings == nil || !r.settings.ProtectFromAI {
		return OutcomeSkipped, nil
	}
	name, err := r.s.records.GetOwnerDisplayName(r.io, r.job.Ref.OwnerID)
	if err != nil {
		r.logger.Warn("owner display name unavailable, using default attribution", "err", err)
		name = ""
	}
	out, err := r.s.embedder.Embed(r.encoded.Data, name)
	if err != nil {
		r.warn(stepError(StepEmbed, KindDegraded, err))
		return OutcomeDegraded, nil
	}
	r.encoded.Data = out
	r.meta.Protected = true
	return OutcomeOK, nil
}

// uploadNew writes the encoded bytes under a fresh key and confirms the
// write before anything is deleted.
func (r *ingestRun) uploadNew() (string, *StepError) {
	ref := r.job.Ref
	key := r.s.keys.GenerateKey(ref.Role.Namespace(), ref.Scope(), r.encoded.Extension)
	size := int64(len(r.encoded.Data))

	err := r.blobs.UploadWithParams(r.io, bytes.NewReader(r.encoded.Data), UploadParams{
		ObjectKey: key,
		MimeType:  r.encoded.ContentType,
		Size:      size,
	})
	if err != nil {
		return "", stepError(StepUploadNew, KindUploadFailed, err)
	}
	r.newKey = key

	meta, err := r.blobs.GetObjectMeta(r.io, key)
	if err != nil {
		r.discardNewObject()
		return "", stepError(StepUploadNew, KindUploadFailed, fmt.Errorf("confirm upload: %w", err))
	}
	if meta.Size != size {
		r.discardNewObject()
		return "", stepError(StepUploadNew, KindUploadFailed, fmt.Errorf("confirm upload: stored %d bytes, wrote %d", meta.Size, size))
	}
	return OutcomeOK, nil
}

// updateRecord commits the new key, provided the record still holds the key
// seen at fetch. If the owner replaced the asset meanwhile, the new object is
// discarded and the source is left for the replacement to retire. Any other
// failure leaves the new object unreferenced and the old one still live,
// which needs reconciliation but loses nothing.
func (r *ingestRun) updateRecord() (string, *StepError) {
	now := r.s.now().UTC()
	r.updatedAt = now
	meta := r.meta
	err := r.s.records.UpdateMediaAsset(r.io, r.job.Ref, AssetUpdate{
		ExpectedKey:        r.observedKey,
		StorageKey:         r.newKey,
		ProcessingMetadata: &meta,
		ProcessedAt:        &now,
	})
	if errors.Is(err, ErrRecordChanged) {
		r.logger.Warn("record moved on during ingestion, discarding result",
			"source_key", r.sourceKey, "new_key", r.newKey, "err", err)
		r.discardNewObject()
		return "", stepError(StepUpdateRecord, KindConflict, err)
	}
	if err != nil {
		r.logger.Error("record update failed after new object was written; reconciliation required",
			"source_key", r.sourceKey, "new_key", r.newKey, "err", err)
		return "", stepError(StepUpdateRecord, KindInconsistency, err)
	}
	return OutcomeOK, nil
}

// retireOld deletes the source object. Failure leaves an orphan, which is
// reported as a warning.
func (r *ingestRun) retireOld() (string, *StepError) {
	err := r.blobs.Delete(r.io, r.sourceKey)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		r.warn(stepError(StepRetireOld, KindPartialFailure, err))
		return OutcomeDegraded, nil
	}
	return OutcomeOK, nil
}

// discardNewObject removes an object written by this run that will never be
// referenced.
func (r *ingestRun) discardNewObject() {
	if r.newKey == "" {
		return
	}
	if err := r.blobs.Delete(r.io, r.newKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
		r.logger.Warn("failed to discard unreferenced object", "key", r.newKey, "err", err)
	}
}

func validateJobRef(ref AssetRef) error {
	if ref.OwnerID == "" {
		return ErrMissingOwner
	}
	if !ref.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, ref.Role)
	}
	if !ref.Role.Processable() {
		return fmt.Errorf("%w: %s", ErrRoleNotProcessable, ref.Role)
	}
	if ref.Role == RoleSubmission && ref.SubmissionID == "" {
		return ErrSubmissionIDRequired
	}
	return nil
}
