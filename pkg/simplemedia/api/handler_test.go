package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/internal/imagetest"
	"github.com/tendant/simple-media/pkg/simplemedia/records/memory"
	blobmemory "github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
)

const publicBase = "https://cdn.example.com"

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []simplemedia.Job
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job simplemedia.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type fixture struct {
	router     http.Handler
	records    *memory.Store
	blobs      *blobmemory.Backend
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	records := memory.New()
	records.PutUser(memory.User{ID: "u1", DisplayName: "Ada", Settings: simplemedia.ProtectionSettings{EnableWatermark: true}})
	records.PutUser(memory.User{ID: "u2"})
	records.PutSubmission(memory.Submission{ID: "s1", OwnerID: "u1"})
	records.PutSubmission(memory.Submission{ID: "s2", OwnerID: "u2"})
	blobs := blobmemory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := simplemedia.New(
		simplemedia.WithRecordStore(records),
		simplemedia.WithBlobStore(blobs),
		simplemedia.WithPublicBaseURL(publicBase),
		simplemedia.WithLogger(logger),
	)
	require.NoError(t, err)

	d := &recordingDispatcher{}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("metrics")) })
	h := NewHandler(svc, d, WithLogger(logger), WithMetrics(metrics))
	return &fixture{router: h.Routes(), records: records, blobs: blobs, dispatcher: d}
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) put(t *testing.T, key string, data []byte) {
	t.Helper()
	require.NoError(t, f.blobs.UploadWithParams(context.Background(), bytes.NewReader(data), simplemedia.UploadParams{ObjectKey: key, MimeType: "image/png"}))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error.Code
}

func TestPresign(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/upload/presign", "u1", PresignRequest{FileType: "image/png", FileSize: 1000, Type: "profile"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PresignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Key, "profiles/u1/"))
	assert.True(t, strings.HasSuffix(resp.Key, ".png"))
	assert.Equal(t, publicBase+"/"+resp.Key, resp.PublicURL)
	assert.NotEmpty(t, resp.PresignedURL)
	assert.Equal(t, 300, resp.ExpiresIn)
}

func TestPresign_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		user     string
		body     any
		wantCode int
		wantKind string
	}{
		{name: "no identity", body: PresignRequest{FileType: "image/png", FileSize: 1, Type: "profile"}, wantCode: http.StatusUnauthorized, wantKind: "unauthorized"},
		{name: "bad json", user: "u1", body: "nope", wantCode: http.StatusBadRequest, wantKind: "validation"},
		{name: "unknown role", user: "u1", body: PresignRequest{FileType: "image/png", FileSize: 1, Type: "banner"}, wantCode: http.StatusBadRequest, wantKind: "validation"},
		{name: "unsupported type", user: "u1", body: PresignRequest{FileType: "image/tiff", FileSize: 1, Type: "profile"}, wantCode: http.StatusBadRequest, wantKind: "validation"},
		{name: "too large", user: "u1", body: PresignRequest{FileType: "image/jpeg", FileSize: 11_000_000, Type: "submission"}, wantCode: http.StatusBadRequest, wantKind: "too_large"},
		{name: "progression without submission", user: "u1", body: PresignRequest{FileType: "image/png", FileSize: 10, Type: "progression"}, wantCode: http.StatusBadRequest, wantKind: "validation"},
		{name: "someone else's submission", user: "u1", body: PresignRequest{FileType: "image/png", FileSize: 10, Type: "reference", SubmissionID: "s2"}, wantCode: http.StatusForbidden, wantKind: "forbidden"},
		{name: "missing submission", user: "u1", body: PresignRequest{FileType: "image/png", FileSize: 10, Type: "progression", SubmissionID: "nope"}, wantCode: http.StatusNotFound, wantKind: "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/upload/presign", tt.user, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantKind, errorCode(t, rec))
		})
	}
}

func multipartUpload(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserIDHeader, "u1")
	return req
}

func TestUpload(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartUpload(t, map[string]string{"type": "submission", "submissionId": "s1"}, imagetest.PNG(t, 120, 80)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res simplemedia.DirectUploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, strings.HasPrefix(res.Key, "submissions/u1/"))
	assert.True(t, res.Watermarked)
	assert.Equal(t, 1, f.blobs.Len())

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartUpload(t, map[string]string{"type": "profile"}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartUpload(t, map[string]string{"type": "profile"}, []byte("plain text, not an image")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcess(t *testing.T) {
	f := newFixture(t)
	f.put(t, "submissions/u1/raw.png", imagetest.PNG(t, 50, 50))

	rec := f.do(t, http.MethodPost, "/upload/process", "u1", ProcessRequest{
		SourceURL:    publicBase + "/submissions/u1/raw.png",
		Type:         "submission",
		SubmissionID: "s1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, simplemedia.AssetRef{OwnerID: "u1", Role: simplemedia.RoleSubmission, SubmissionID: "s1"}, f.dispatcher.jobs[0].Ref)

	asset, err := f.records.GetMediaAsset(context.Background(), f.dispatcher.jobs[0].Ref)
	require.NoError(t, err)
	assert.Equal(t, "submissions/u1/raw.png", asset.StorageKey)
}

func TestProcess_Errors(t *testing.T) {
	f := newFixture(t)
	f.put(t, "submissions/u1/raw.png", imagetest.PNG(t, 50, 50))

	rec := f.do(t, http.MethodPost, "/upload/process", "u1", ProcessRequest{SourceURL: "https://evil.example.com/submissions/u1/raw.png", Type: "submission", SubmissionID: "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/upload/process", "u1", ProcessRequest{SourceURL: publicBase + "/submissions/u1/missing.png", Type: "submission", SubmissionID: "s1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/upload/process", "u1", ProcessRequest{SourceURL: publicBase + "/submissions/u1/raw.png", Type: "submission", SubmissionID: "s2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.dispatcher.err = errors.New("queue down")
	rec = f.do(t, http.MethodPost, "/upload/process", "u1", ProcessRequest{SourceURL: publicBase + "/submissions/u1/raw.png", Type: "submission", SubmissionID: "s1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReplaceAndGetAsset(t *testing.T) {
	f := newFixture(t)
	f.put(t, "profiles/u1/old.png", []byte("old"))
	f.put(t, "profiles/u1/new.png", []byte("new"))
	f.records.PutUser(memory.User{ID: "u1", ProfileImageKey: "profiles/u1/old.png"})

	rec := f.do(t, http.MethodPut, "/assets", "u1", ReplaceAssetRequest{Type: "profile", Key: "profiles/u1/new.png"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AssetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "profiles/u1/new.png", resp.Key)
	assert.Equal(t, "profiles/u1/old.png", resp.RetiredKey)
	assert.Equal(t, 1, f.blobs.Len())

	rec = f.do(t, http.MethodGet, "/assets?type=profile", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, publicBase+"/profiles/u1/new.png", resp.PublicURL)

	rec = f.do(t, http.MethodPut, "/assets", "u1", ReplaceAssetRequest{Type: "profile", Key: "profiles/u2/x.png"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/assets?type=profile", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	f.put(t, "profiles/u1/a.png", []byte("a"))
	f.put(t, "progressions/s1/b.png", []byte("b"))
	f.put(t, "references/s2/c.png", []byte("c"))

	rec := f.do(t, http.MethodDelete, "/submissions/s2/media", "u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/users/me/media", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res simplemedia.PurgeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, f.blobs.Len())
}

func TestCrop(t *testing.T) {
	f := newFixture(t)
	f.put(t, "submissions/u1/a.png", imagetest.PNG(t, 400, 200))

	rec := f.do(t, http.MethodGet, "/media/crop?key=submissions/u1/a.png&w=100&h=100&fx=25", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, format := imagetest.Decode(t, rec.Body.Bytes())
	assert.Equal(t, "png", format)
	assert.Equal(t, 100, img.Bounds().Dx())

	rec = f.do(t, http.MethodGet, "/media/crop?key=submissions/u1/a.png&w=abc&h=100", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/media/crop?key=submissions/u1/missing.png&w=10&h=10", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/media/crop?key=submissions/u1/a.png&w=10&h=10", "u2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := map[simplemedia.Kind]int{
		simplemedia.KindValidation:    http.StatusBadRequest,
		simplemedia.KindTooLarge:      http.StatusBadRequest,
		simplemedia.KindForbidden:     http.StatusForbidden,
		simplemedia.KindNotFound:      http.StatusNotFound,
		simplemedia.KindBusy:          http.StatusConflict,
		simplemedia.KindConflict:      http.StatusConflict,
		simplemedia.KindUnavailable:   http.StatusServiceUnavailable,
		simplemedia.KindInconsistency: http.StatusInternalServerError,
		simplemedia.KindInternal:      http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}
