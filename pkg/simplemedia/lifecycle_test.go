package simplemedia_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

func (e *testEnv) putObjects(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, e.blobs.Backend.UploadWithParams(context.Background(), bytes.NewReader([]byte(key)), simplemedia.UploadParams{ObjectKey: key}))
	}
}

func TestReplaceAsset(t *testing.T) {
	env := newEnv(t)
	env.stage(t, profileRef, "profiles/u1/old.png", []byte("old"))
	env.putObjects(t, "profiles/u1/new.png")

	res, err := env.svc.ReplaceAsset(context.Background(), simplemedia.ReplaceRequest{Ref: profileRef, Key: "profiles/u1/new.png"})
	require.NoError(t, err)
	assert.Equal(t, "profiles/u1/old.png", res.RetiredKey)
	assert.NoError(t, res.Warning)
	assert.Equal(t, testBase+"/profiles/u1/new.png", res.Asset.PublicURL)
	assert.Equal(t, "profiles/u1/new.png", env.asset(t, profileRef).StorageKey)
	assert.False(t, env.blobs.has(t, "profiles/u1/old.png"))

	// Replacing with the current key is a no-op.
	res, err = env.svc.ReplaceAsset(context.Background(), simplemedia.ReplaceRequest{Ref: profileRef, Key: "profiles/u1/new.png"})
	require.NoError(t, err)
	assert.Empty(t, res.RetiredKey)
	assert.True(t, env.blobs.has(t, "profiles/u1/new.png"))
}

func TestReplaceAsset_FirstAttach(t *testing.T) {
	env := newEnv(t)
	env.putObjects(t, "submissions/u1/first.png")

	res, err := env.svc.ReplaceAsset(context.Background(), simplemedia.ReplaceRequest{Ref: submissionRef, Key: "submissions/u1/first.png"})
	require.NoError(t, err)
	assert.Empty(t, res.RetiredKey)
	assert.Equal(t, "submissions/u1/first.png", env.asset(t, submissionRef).StorageKey)
}

func TestReplaceAsset_DeleteFailureIsWarning(t *testing.T) {
	env := newEnv(t)
	env.stage(t, profileRef, "profiles/u1/old.png", []byte("old"))
	env.putObjects(t, "profiles/u1/new.png")
	env.blobs.failDelete("profiles/u1/old.png", errors.New("denied"))

	res, err := env.svc.ReplaceAsset(context.Background(), simplemedia.ReplaceRequest{Ref: profileRef, Key: "profiles/u1/new.png"})
	require.NoError(t, err)
	require.Error(t, res.Warning)
	assert.Equal(t, simplemedia.KindPartialFailure, simplemedia.KindOf(res.Warning))
	assert.Equal(t, "profiles/u1/new.png", env.asset(t, profileRef).StorageKey)
	assert.True(t, env.blobs.has(t, "profiles/u1/old.png"))
}

func TestReplaceAsset_RecordChangedMeanwhile(t *testing.T) {
	env := newEnv(t)
	env.stage(t, profileRef, "profiles/u1/old.png", []byte("old"))
	env.putObjects(t, "profiles/u1/new.png", "profiles/u1/other.png")
	env.records.beforeUpdate = func() {
		env.stage(t, profileRef, "profiles/u1/other.png", []byte("other"))
	}

	_, err := env.svc.ReplaceAsset(context.Background(), simplemedia.ReplaceRequest{Ref: profileRef, Key: "profiles/u1/new.png"})
	require.Error(t, err)
	assert.Equal(t, simplemedia.KindConflict, simplemedia.KindOf(err))
	assert.ErrorIs(t, err, simplemedia.ErrRecordChanged)
	assert.Equal(t, "profiles/u1/other.png", env.asset(t, profileRef).StorageKey)
	assert.True(t, env.blobs.has(t, "profiles/u1/old.png"), "nothing is retired when the commit loses")
}

func TestReplaceAsset_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		req      simplemedia.ReplaceRequest
		wantKind simplemedia.Kind
	}{
		{name: "key of another owner", req: simplemedia.ReplaceRequest{Ref: profileRef, Key: "profiles/u2/a.png"}, wantKind: simplemedia.KindValidation},
		{name: "key of another namespace", req: simplemedia.ReplaceRequest{Ref: profileRef, Key: "submissions/u1/a.png"}, wantKind: simplemedia.KindValidation},
		{name: "nested key", req: simplemedia.ReplaceRequest{Ref: profileRef, Key: "profiles/u1/x/a.png"}, wantKind: simplemedia.KindValidation},
		{name: "object does not exist", req: simplemedia.ReplaceRequest{Ref: profileRef, Key: "profiles/u1/missing.png"}, wantKind: simplemedia.KindNotFound},
		{name: "role outside the record store", req: simplemedia.ReplaceRequest{Ref: simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleReference, SubmissionID: "s1"}, Key: "references/s1/a.png"}, wantKind: simplemedia.KindValidation},
		{name: "someone else's submission", req: simplemedia.ReplaceRequest{Ref: simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleSubmission, SubmissionID: "s2"}, Key: "submissions/u1/a.png"}, wantKind: simplemedia.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			env.putObjects(t, "profiles/u2/a.png", "submissions/u1/a.png", "profiles/u1/x/a.png", "references/s1/a.png")

			res, err := env.svc.ReplaceAsset(context.Background(), tt.req)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, simplemedia.KindOf(err))
			assert.Equal(t, 4, env.blobs.Len())
		})
	}
}

func TestGetMediaAsset(t *testing.T) {
	env := newEnv(t)
	env.stage(t, submissionRef, "submissions/u1/a.webp", []byte("a"))

	asset, err := env.svc.GetMediaAsset(context.Background(), submissionRef)
	require.NoError(t, err)
	assert.Equal(t, testBase+"/submissions/u1/a.webp", asset.PublicURL)

	_, err = env.svc.GetMediaAsset(context.Background(), simplemedia.AssetRef{OwnerID: "u2", Role: simplemedia.RoleSubmission, SubmissionID: "s1"})
	assert.Equal(t, simplemedia.KindNotFound, simplemedia.KindOf(err))

	_, err = env.svc.GetMediaAsset(context.Background(), simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleReference})
	assert.Equal(t, simplemedia.KindValidation, simplemedia.KindOf(err))
}

func TestPurgeOwnerMedia(t *testing.T) {
	env := newEnv(t)
	env.putObjects(t,
		"profiles/u1/a.png",
		"submissions/u1/b.webp",
		"progressions/s1/c.png",
		"references/s1/d.png",
		"profiles/u10/keep.png",
		"submissions/u2/keep.webp",
		"references/s2/keep.png",
	)

	res, err := env.svc.PurgeOwnerMedia(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Deleted)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 3, env.blobs.Len())
	assert.True(t, env.blobs.has(t, "profiles/u10/keep.png"))

	_, err = env.svc.PurgeOwnerMedia(context.Background(), "")
	assert.Equal(t, simplemedia.KindValidation, simplemedia.KindOf(err))
}

func TestPurgeSubmissionMedia(t *testing.T) {
	env := newEnv(t)
	env.stage(t, submissionRef, "submissions/u1/current.webp", []byte("x"))
	env.putObjects(t,
		"submissions/u1/other.webp",
		"progressions/s1/p.png",
		"references/s1/r.png",
		"references/s2/keep.png",
	)

	res, err := env.svc.PurgeSubmissionMedia(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.True(t, env.blobs.has(t, "submissions/u1/other.webp"))
	assert.True(t, env.blobs.has(t, "references/s2/keep.png"))
	assert.Equal(t, 2, env.blobs.Len())

	_, err = env.svc.PurgeSubmissionMedia(context.Background(), "u1", "s2")
	assert.Equal(t, simplemedia.KindForbidden, simplemedia.KindOf(err))
	_, err = env.svc.PurgeSubmissionMedia(context.Background(), "u1", "")
	assert.Equal(t, simplemedia.KindValidation, simplemedia.KindOf(err))
}

func TestPurge_PartialFailure(t *testing.T) {
	env := newEnv(t)
	env.putObjects(t, "profiles/u1/a.png", "profiles/u1/b.png", "submissions/u1/c.png")
	env.blobs.failDelete("profiles/u1/b.png", errors.New("denied"))

	res, err := env.svc.PurgeOwnerMedia(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, simplemedia.KindPartialFailure, simplemedia.KindOf(err))
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, []string{"profiles/u1/b.png"}, res.Failed)
}
