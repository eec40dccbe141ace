package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

type object struct {
	data      []byte
	mimeType  string
	updatedAt time.Time
}

// Backend is an in-memory implementation of the simplemedia.BlobStore interface
type Backend struct {
	mu        sync.RWMutex
	objects   map[string]object
	uploadURL string
	now       func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithUploadBaseURL sets the base of the URLs returned by GetUploadURL.
func WithUploadBaseURL(base string) Option {
	return func(b *Backend) {
		b.uploadURL = strings.TrimSuffix(base, "/")
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects:   make(map[string]object),
		uploadURL: "memory://uploads",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*simplemedia.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, simplemedia.ErrObjectNotFound
	}
	return &simplemedia.ObjectMeta{
		Key:         objectKey,
		Size:        int64(len(obj.data)),
		ContentType: obj.mimeType,
		UpdatedAt:   obj.updatedAt,
	}, nil
}

// GetUploadURL returns a pseudo URL. The memory backend has no HTTP
// endpoint; callers upload with UploadWithParams.
func (b *Backend) GetUploadURL(ctx context.Context, params simplemedia.PresignParams) (string, error) {
	q := url.Values{}
	q.Set("content-type", params.MimeType)
	q.Set("content-length", fmt.Sprint(params.ContentLength))
	q.Set("expires", fmt.Sprint(b.now().Add(params.Expires).Unix()))
	return fmt.Sprintf("%s/%s?%s", b.uploadURL, params.ObjectKey, q.Encode()), nil
}

// UploadWithParams uploads content with parameters
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params simplemedia.UploadParams) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[params.ObjectKey] = object{data: data, mimeType: mimeType, updatedAt: b.now()}
	return nil
}

// Download downloads content directly
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, simplemedia.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[objectKey]; !exists {
		return simplemedia.ErrObjectNotFound
	}
	delete(b.objects, objectKey)
	return nil
}

// ListObjects returns the sorted keys under prefix
func (b *Backend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored objects.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
