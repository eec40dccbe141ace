package simplemedia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia/canonical"
	"github.com/tendant/simple-media/pkg/simplemedia/guard"
	"github.com/tendant/simple-media/pkg/simplemedia/objectkey"
	"github.com/tendant/simple-media/pkg/simplemedia/protect"
	"github.com/tendant/simple-media/pkg/simplemedia/watermark"
)

// Defaults for the upload and processing ceilings. The raw upload ceiling is
// smaller than the processing ceiling.
const (
	DefaultMaxUploadBytes int64 = 10 << 20
	DefaultMaxSourceBytes int64 = 25 << 20
	DefaultUploadExpiry         = 5 * time.Minute
	MaxUploadExpiry             = 15 * time.Minute
)

const opGetAsset = "get_media_asset"

// AcceptedContentTypes is the set of image types accepted for upload.
var AcceptedContentTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// BlobStoreFactory builds the blob store on first use.
type BlobStoreFactory func(ctx context.Context) (BlobStore, error)

// service implements the Service interface
type service struct {
	records RecordStore

	blobMu      sync.Mutex
	blobs       BlobStore
	blobFactory BlobStoreFactory

	keys       objectkey.Generator
	urls       *objectkey.Resolver
	compositor Compositor
	encoder    Encoder
	embedder   Embedder
	guard      RunGuard
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time

	maxUploadBytes int64
	maxSourceBytes int64
	uploadExpiry   time.Duration
	watermarkOpts  watermark.Options
	accepted       map[string]bool
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRecordStore sets the record store
func WithRecordStore(records RecordStore) Option {
	return func(s *service) {
		s.records = records
	}
}

// WithBlobStore sets an already constructed blob store
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobs = store
	}
}

// WithBlobStoreFactory defers blob store construction to first use. A
// factory error is returned to that caller and construction is retried on
// the next call.
func WithBlobStoreFactory(factory BlobStoreFactory) Option {
	return func(s *service) {
		s.blobFactory = factory
	}
}

// WithPublicBaseURL sets the base every public URL is derived from
func WithPublicBaseURL(base string) Option {
	return func(s *service) {
		s.urls = objectkey.NewResolver(base)
	}
}

// WithKeyGenerator overrides the object key generator
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(s *service) {
		s.keys = gen
	}
}

// WithCompositor overrides the watermark compositor
func WithCompositor(c Compositor) Option {
	return func(s *service) {
		s.compositor = c
	}
}

// WithEncoder overrides the canonical encoder
func WithEncoder(e Encoder) Option {
	return func(s *service) {
		s.encoder = e
	}
}

// WithEmbedder overrides the metadata embedder
func WithEmbedder(e Embedder) Option {
	return func(s *service) {
		s.embedder = e
	}
}

// WithRunGuard sets the per-asset run guard
func WithRunGuard(g RunGuard) Option {
	return func(s *service) {
		s.guard = g
	}
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) Option {
	return func(s *service) {
		s.observer = o
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithLimits sets the raw upload and processing ceilings in bytes
func WithLimits(maxUploadBytes, maxSourceBytes int64) Option {
	return func(s *service) {
		s.maxUploadBytes = maxUploadBytes
		s.maxSourceBytes = maxSourceBytes
	}
}

// WithUploadExpiry sets how long issued upload URLs stay valid
func WithUploadExpiry(d time.Duration) Option {
	return func(s *service) {
		s.uploadExpiry = d
	}
}

// WithWatermarkOptions sets opacity and size ratios. Position always comes
// from the owner's settings.
func WithWatermarkOptions(opts watermark.Options) Option {
	return func(s *service) {
		s.watermarkOpts = opts
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		keys:           objectkey.NewRandomGenerator(),
		guard:          guard.NewLocal(),
		logger:         slog.Default(),
		now:            time.Now,
		maxUploadBytes: DefaultMaxUploadBytes,
		maxSourceBytes: DefaultMaxSourceBytes,
		uploadExpiry:   DefaultUploadExpiry,
		watermarkOpts:  watermark.DefaultOptions(),
		accepted:       make(map[string]bool),
	}
	for _, t := range AcceptedContentTypes {
		s.accepted[t] = true
	}

	for _, option := range options {
		option(s)
	}

	if s.records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if s.blobs == nil && s.blobFactory == nil {
		return nil, fmt.Errorf("blob store or blob store factory is required")
	}
	if s.urls == nil || s.urls.PublicBaseURL == "" {
		return nil, fmt.Errorf("public base URL is required")
	}
	if s.maxUploadBytes <= 0 || s.maxSourceBytes <= s.maxUploadBytes {
		return nil, fmt.Errorf("upload ceiling %d must be positive and below processing ceiling %d", s.maxUploadBytes, s.maxSourceBytes)
	}
	if s.uploadExpiry <= 0 || s.uploadExpiry > MaxUploadExpiry {
		return nil, fmt.Errorf("upload expiry %s must be within (0, %s]", s.uploadExpiry, MaxUploadExpiry)
	}
	if err := s.watermarkOpts.Validate(); err != nil {
		return nil, err
	}

	if s.compositor == nil {
		s.compositor = watermark.New(watermark.WithLogger(s.logger))
	}
	if s.encoder == nil {
		enc, err := canonical.New(canonical.DefaultPolicy())
		if err != nil {
			return nil, err
		}
		s.encoder = enc
	}
	if s.embedder == nil {
		s.embedder = protect.New()
	}

	return s, nil
}

// blobStore returns the blob store, building it through the factory on first
// use.
func (s *service) blobStore(ctx context.Context) (BlobStore, error) {
	s.blobMu.Lock()
	defer s.blobMu.Unlock()
	if s.blobs != nil {
		return s.blobs, nil
	}
	store, err := s.blobFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("construct blob store: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("construct blob store: factory returned nil")
	}
	s.blobs = store
	return store, nil
}

func (s *service) PublicURL(key string) string {
	return s.urls.PublicURL(key)
}

func (s *service) KeyFromURL(rawURL string) (string, error) {
	return s.urls.KeyFromURL(rawURL)
}

func (s *service) GetMediaAsset(ctx context.Context, ref AssetRef) (*MediaAsset, error) {
	if err := validateJobRef(ref); err != nil {
		return nil, newError(opGetAsset, KindValidation, err)
	}
	asset, err := s.records.GetMediaAsset(ctx, ref)
	if errors.Is(err, ErrAssetNotFound) {
		return nil, newError(opGetAsset, KindNotFound, err)
	}
	if err != nil {
		return nil, newError(opGetAsset, KindUnavailable, err)
	}
	asset.PublicURL = s.urls.PublicURL(asset.StorageKey)
	return asset, nil
}
