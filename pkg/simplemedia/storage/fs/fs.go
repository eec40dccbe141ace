package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/presigned"
)

// ErrInvalidKey is returned for keys that would resolve outside the base directory.
var ErrInvalidKey = errors.New("fs: invalid object key")

// Backend is a filesystem implementation of the simplemedia.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	baseDir string
	signer  *presigned.Signer
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files

	// Signer issues upload URLs served by presigned.UploadHandler.
	// Without one GetUploadURL fails.
	Signer *presigned.Signer
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir: baseDir,
		signer:  config.Signer,
	}, nil
}

func (b *Backend) pathFor(objectKey string) (string, error) {
	if objectKey == "" || strings.HasPrefix(objectKey, "/") {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(objectKey, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidKey
		}
	}
	return filepath.Join(b.baseDir, filepath.FromSlash(objectKey)), nil
}

// GetObjectMeta retrieves metadata for an object in the filesystem
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*simplemedia.ObjectMeta, error) {
	filePath, err := b.pathFor(objectKey)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, simplemedia.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(filePath); err == nil {
		contentType = mt.String()
	}

	return &simplemedia.ObjectMeta{
		Key:         objectKey,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

// GetUploadURL returns a signed URL for the presigned upload handler
func (b *Backend) GetUploadURL(ctx context.Context, params simplemedia.PresignParams) (string, error) {
	if b.signer == nil || !b.signer.IsEnabled() {
		return "", errors.New("filesystem backend requires an upload signer")
	}
	if _, err := b.pathFor(params.ObjectKey); err != nil {
		return "", err
	}
	return b.signer.SignUpload(params.ObjectKey, params.MimeType, params.ContentLength, params.Expires)
}

// UploadWithParams writes content to the filesystem. The file is written to a
// temporary name and renamed so readers never see a partial object.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params simplemedia.UploadParams) error {
	filePath, err := b.pathFor(params.ObjectKey)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}
	return nil
}

// Download opens an object for reading
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	filePath, err := b.pathFor(objectKey)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, simplemedia.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete deletes content from the filesystem
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	filePath, err := b.pathFor(objectKey)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return simplemedia.ErrObjectNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// ListObjects walks the directory tree under prefix and returns sorted keys.
func (b *Backend) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Walk from the deepest directory the prefix names, then filter.
	root := b.baseDir
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		dir, err := b.pathFor(prefix[:i])
		if err != nil {
			return nil, err
		}
		root = dir
	}

	var keys []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipDir) {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
