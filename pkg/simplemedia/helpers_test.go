package simplemedia_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
	recmem "github.com/tendant/simple-media/pkg/simplemedia/records/memory"
	"github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
)

const testBase = "https://cdn.example.com/media"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// faultyBlobs wraps the memory backend with injectable failures.
type faultyBlobs struct {
	*memory.Backend

	mu        sync.Mutex
	uploadErr error
	deleteErr map[string]error
	onUpload  func()
}

func (b *faultyBlobs) UploadWithParams(ctx context.Context, r io.Reader, p simplemedia.UploadParams) error {
	b.mu.Lock()
	err, hook := b.uploadErr, b.onUpload
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if err := b.Backend.UploadWithParams(ctx, r, p); err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

func (b *faultyBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	err := b.deleteErr[key]
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.Backend.Delete(ctx, key)
}

func (b *faultyBlobs) failDelete(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteErr[key] = err
}

func (b *faultyBlobs) has(t *testing.T, key string) bool {
	t.Helper()
	_, err := b.GetObjectMeta(context.Background(), key)
	return err == nil
}

func (b *faultyBlobs) read(t *testing.T, key string) []byte {
	t.Helper()
	rc, err := b.Download(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// faultyRecords wraps the memory record store with an injectable update
// failure and a hook that runs just before each update.
type faultyRecords struct {
	*recmem.Store
	updateErr    error
	beforeUpdate func()
}

func (r *faultyRecords) UpdateMediaAsset(ctx context.Context, ref simplemedia.AssetRef, u simplemedia.AssetUpdate) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	if hook := r.beforeUpdate; hook != nil {
		r.beforeUpdate = nil
		hook()
	}
	return r.Store.UpdateMediaAsset(ctx, ref, u)
}

type testEnv struct {
	svc     simplemedia.Service
	blobs   *faultyBlobs
	records *faultyRecords
}

// newEnv seeds two owners: u1 with every protection enabled and u2 with
// none. s1 belongs to u1, s2 to u2.
func newEnv(t *testing.T, opts ...simplemedia.Option) *testEnv {
	t.Helper()
	store := recmem.New()
	store.PutUser(recmem.User{
		ID:          "u1",
		DisplayName: "Ada Lovelace",
		Settings: simplemedia.ProtectionSettings{
			EnableWatermark:   true,
			WatermarkPosition: "bottom-right",
			ProtectFromAI:     true,
		},
	})
	store.PutUser(recmem.User{ID: "u2", DisplayName: "Grace"})
	store.PutSubmission(recmem.Submission{ID: "s1", OwnerID: "u1"})
	store.PutSubmission(recmem.Submission{ID: "s2", OwnerID: "u2"})

	env := &testEnv{
		blobs:   &faultyBlobs{Backend: memory.New(), deleteErr: map[string]error{}},
		records: &faultyRecords{Store: store},
	}
	base := []simplemedia.Option{
		simplemedia.WithRecordStore(env.records),
		simplemedia.WithBlobStore(env.blobs),
		simplemedia.WithPublicBaseURL(testBase),
		simplemedia.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		simplemedia.WithClock(func() time.Time { return testNow }),
	}
	svc, err := simplemedia.New(append(base, opts...)...)
	require.NoError(t, err)
	env.svc = svc
	return env
}

// stage stores data under key and points the record for ref at it, the
// state a client leaves behind after a direct upload and /upload/process.
func (e *testEnv) stage(t *testing.T, ref simplemedia.AssetRef, key string, data []byte) simplemedia.Job {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.blobs.Backend.UploadWithParams(ctx, bytes.NewReader(data), simplemedia.UploadParams{ObjectKey: key}))
	current, err := e.records.Store.GetMediaAsset(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, e.records.Store.UpdateMediaAsset(ctx, ref, simplemedia.AssetUpdate{ExpectedKey: current.StorageKey, StorageKey: key}))
	return simplemedia.Job{SourceURL: testBase + "/" + key, Ref: ref}
}

func (e *testEnv) asset(t *testing.T, ref simplemedia.AssetRef) *simplemedia.MediaAsset {
	t.Helper()
	asset, err := e.records.GetMediaAsset(context.Background(), ref)
	require.NoError(t, err)
	return asset
}

var (
	submissionRef = simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleSubmission, SubmissionID: "s1"}
	profileRef    = simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleProfile}
)
