package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "empty bucket", config: Config{}, wantErr: "bucket name is required"},
		{name: "half credentials", config: Config{Bucket: "b", AccessKeyID: "k"}, wantErr: "must be set together"},
		{name: "bad sse", config: Config{Bucket: "b", EnableSSE: true, SSEAlgorithm: "rot13"}, wantErr: "unsupported SSE"},
		{name: "valid", config: Config{Bucket: "b", EnableSSE: true, SSEAlgorithm: "aws:kms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetUploadURL_SignsContentHeaders(t *testing.T) {
	backend, err := New(context.Background(), Config{
		Bucket:          "media",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	signed, err := backend.GetUploadURL(context.Background(), simplemedia.PresignParams{
		ObjectKey:     "profiles/u1/a.png",
		MimeType:      "image/png",
		ContentLength: 1234,
		Expires:       5 * time.Minute,
	})
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "/media/profiles/u1/a.png", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	signedHeaders := u.Query().Get("X-Amz-SignedHeaders")
	assert.Contains(t, signedHeaders, "content-type")
	assert.Contains(t, signedHeaders, "host")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "NotFound"})))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}

// TestS3Backend_Live runs against a real S3-compatible endpoint, e.g. MinIO:
//
//	S3_ENDPOINT=http://localhost:9000 S3_ACCESS_KEY=minioadmin S3_SECRET_KEY=minioadmin go test ./...
func TestS3Backend_Live(t *testing.T) {
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_ENDPOINT not set")
	}
	ctx := context.Background()
	backend, err := New(ctx, Config{
		Bucket:                 "simple-media-test",
		AccessKeyID:            os.Getenv("S3_ACCESS_KEY"),
		SecretAccessKey:        os.Getenv("S3_SECRET_KEY"),
		Endpoint:               endpoint,
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)

	prefix := "profiles/" + uuid.NewString() + "/"
	key := prefix + "a.png"
	data := []byte("live object")
	require.NoError(t, backend.UploadWithParams(ctx, bytes.NewReader(data), simplemedia.UploadParams{ObjectKey: key, MimeType: "image/png"}))

	meta, err := backend.GetObjectMeta(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), meta.Size)
	assert.Equal(t, "image/png", meta.ContentType)

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, data, got)

	keys, err := backend.ListObjects(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	require.NoError(t, backend.Delete(ctx, key))
	_, err = backend.GetObjectMeta(ctx, key)
	assert.ErrorIs(t, err, simplemedia.ErrObjectNotFound)
}
