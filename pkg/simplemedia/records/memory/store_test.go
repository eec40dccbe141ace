package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/records/memory"
)

func seeded() *memory.Store {
	s := memory.New()
	s.PutUser(memory.User{
		ID:              "u1",
		DisplayName:     "Ada",
		Settings:        simplemedia.ProtectionSettings{EnableWatermark: true, ProtectFromAI: true},
		ProfileImageKey: "profiles/u1/old.webp",
	})
	s.PutUser(memory.User{ID: "u2"})
	s.PutSubmission(memory.Submission{ID: "s2", OwnerID: "u1"})
	s.PutSubmission(memory.Submission{ID: "s1", OwnerID: "u1", ImageKey: "submissions/u1/a.png"})
	s.PutSubmission(memory.Submission{ID: "s3", OwnerID: "u2"})
	return s
}

func TestStore_GetMediaAsset(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	tests := []struct {
		name    string
		ref     simplemedia.AssetRef
		wantKey string
		wantErr error
	}{
		{name: "profile", ref: simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleProfile}, wantKey: "profiles/u1/old.webp"},
		{name: "submission", ref: simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleSubmission, SubmissionID: "s1"}, wantKey: "submissions/u1/a.png"},
		{name: "unknown user", ref: simplemedia.AssetRef{OwnerID: "nobody", Role: simplemedia.RoleProfile}, wantErr: simplemedia.ErrAssetNotFound},
		{name: "other owner's submission", ref: simplemedia.AssetRef{OwnerID: "u2", Role: simplemedia.RoleSubmission, SubmissionID: "s1"}, wantErr: simplemedia.ErrAssetNotFound},
		{name: "unprocessed role", ref: simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleProgression, SubmissionID: "s1"}, wantErr: simplemedia.ErrRoleNotProcessable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, err := s.GetMediaAsset(ctx, tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, asset.StorageKey)
			assert.Equal(t, tt.ref, asset.Ref)
		})
	}
}

func TestStore_UpdateMediaAsset(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	ref := simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleSubmission, SubmissionID: "s1"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	meta := &simplemedia.ProcessingMetadata{Watermarked: true, Compressed: true, Format: "webp"}

	require.NoError(t, s.UpdateMediaAsset(ctx, ref, simplemedia.AssetUpdate{
		ExpectedKey:        "submissions/u1/a.png",
		StorageKey:         "submissions/u1/b.webp",
		ProcessingMetadata: meta,
		ProcessedAt:        &at,
	}))
	meta.Format = "mutated"

	asset, err := s.GetMediaAsset(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "submissions/u1/b.webp", asset.StorageKey)
	require.NotNil(t, asset.ProcessingMetadata)
	assert.Equal(t, "webp", asset.ProcessingMetadata.Format)
	assert.Equal(t, at, *asset.ProcessedAt)

	// returned values are copies
	asset.ProcessingMetadata.Format = "changed"
	again, err := s.GetMediaAsset(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "webp", again.ProcessingMetadata.Format)

	err = s.UpdateMediaAsset(ctx, simplemedia.AssetRef{OwnerID: "x", Role: simplemedia.RoleProfile}, simplemedia.AssetUpdate{})
	assert.ErrorIs(t, err, simplemedia.ErrAssetNotFound)
}

func TestStore_UpdateMediaAsset_ExpectedKey(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		ref      simplemedia.AssetRef
		expected string
		wantErr  error
		wantKey  string
	}{
		{
			name:     "profile matches",
			ref:      simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleProfile},
			expected: "profiles/u1/old.webp",
			wantKey:  "new",
		},
		{
			name:     "profile moved on",
			ref:      simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleProfile},
			expected: "profiles/u1/other.webp",
			wantErr:  simplemedia.ErrRecordChanged,
			wantKey:  "profiles/u1/old.webp",
		},
		{
			name:     "empty record expects empty",
			ref:      simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleSubmission, SubmissionID: "s2"},
			expected: "",
			wantKey:  "new",
		},
		{
			name:     "submission moved on",
			ref:      simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleSubmission, SubmissionID: "s1"},
			expected: "",
			wantErr:  simplemedia.ErrRecordChanged,
			wantKey:  "submissions/u1/a.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seeded()
			err := s.UpdateMediaAsset(ctx, tt.ref, simplemedia.AssetUpdate{ExpectedKey: tt.expected, StorageKey: "new"})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			asset, err := s.GetMediaAsset(ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, asset.StorageKey)
		})
	}
}

func TestStore_OwnerQueries(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	settings, err := s.GetProtectionSettings(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, settings.EnableWatermark)
	assert.True(t, settings.ProtectFromAI)

	_, err = s.GetProtectionSettings(ctx, "nobody")
	assert.ErrorIs(t, err, simplemedia.ErrUserNotFound)

	name, err := s.GetOwnerDisplayName(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)

	owner, err := s.GetSubmissionOwner(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, "u2", owner)

	_, err = s.GetSubmissionOwner(ctx, "missing")
	assert.ErrorIs(t, err, simplemedia.ErrSubmissionNotFound)

	ids, err := s.ListSubmissionIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
}
