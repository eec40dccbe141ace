package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/canonical"
	"github.com/tendant/simple-media/pkg/simplemedia/guard"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
	"github.com/tendant/simple-media/pkg/simplemedia/presigned"
	"github.com/tendant/simple-media/pkg/simplemedia/protect"
	recmem "github.com/tendant/simple-media/pkg/simplemedia/records/memory"
	recpg "github.com/tendant/simple-media/pkg/simplemedia/records/postgres"
	fsstorage "github.com/tendant/simple-media/pkg/simplemedia/storage/fs"
	memorystorage "github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
	s3storage "github.com/tendant/simple-media/pkg/simplemedia/storage/s3"
	"github.com/tendant/simple-media/pkg/simplemedia/trigger"
	"github.com/tendant/simple-media/pkg/simplemedia/watermark"
)

// Runtime holds the built service and the resources behind it.
type Runtime struct {
	Service  simplemedia.Service
	Observer *metrics.Observer
	Registry *prometheus.Registry

	// BlobUploads receives signed PUTs for the fs backend; nil otherwise.
	BlobUploads http.Handler

	closers []func()
}

// Close releases every resource in reverse construction order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// MetricsHandler serves the runtime registry, or nil when metrics are off.
func (r *Runtime) MetricsHandler() http.Handler {
	if r.Registry == nil {
		return nil
	}
	return metrics.Handler(r.Registry)
}

// BuildLogger returns a logger writing to w in the configured format.
func (c *Config) BuildLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Build constructs the service and its backends.
func (c *Config) Build(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	options := []simplemedia.Option{
		simplemedia.WithLogger(logger),
		simplemedia.WithPublicBaseURL(c.Media.PublicBaseURL),
		simplemedia.WithLimits(c.Media.MaxUploadBytes, c.Media.MaxSourceBytes),
		simplemedia.WithUploadExpiry(c.Media.UploadExpiry),
		simplemedia.WithWatermarkOptions(c.watermarkOptions()),
		simplemedia.WithCompositor(c.BuildCompositor(logger)),
		simplemedia.WithEmbedder(protect.New(protect.WithDefaultCreator(c.Media.DefaultAttribution))),
	}

	encoder, err := canonical.New(c.canonicalPolicy())
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder: %w", err)
	}
	options = append(options, simplemedia.WithEncoder(encoder))

	blobOpt, uploads, err := c.BuildBlobStore(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}
	options = append(options, blobOpt)
	rt.BlobUploads = uploads

	records, closeRecords, err := c.BuildRecordStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build record store: %w", err)
	}
	rt.closers = append(rt.closers, closeRecords)
	options = append(options, simplemedia.WithRecordStore(records))

	runGuard, closeGuard, err := c.BuildGuard(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build run guard: %w", err)
	}
	rt.closers = append(rt.closers, closeGuard)
	options = append(options, simplemedia.WithRunGuard(runGuard))

	if c.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		obs, err := metrics.New(c.Metrics.Namespace, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		rt.Registry, rt.Observer = reg, obs
		options = append(options, simplemedia.WithObserver(obs))
	}

	svc, err := simplemedia.New(options...)
	if err != nil {
		return nil, err
	}
	rt.Service = svc
	ok = true
	return rt, nil
}

// BuildCompositor returns the watermark compositor.
func (c *Config) BuildCompositor(logger *slog.Logger) *watermark.Compositor {
	return watermark.New(
		watermark.WithLogger(logger),
		watermark.WithText(c.Media.WatermarkText),
		watermark.WithMarkFile(c.Media.WatermarkMarkPath),
	)
}

// BuildSigner returns the HMAC signer for fs upload URLs.
func (c *Config) BuildSigner() *presigned.Signer {
	return presigned.New(
		presigned.WithSecretKey(c.Storage.UploadSecret),
		presigned.WithBaseURL(c.Storage.UploadBaseURL),
	)
}

// BuildBlobStore returns the service option installing the configured blob
// store. The fs backend also returns the handler for its signed uploads.
// S3 is built lazily on first use so the server can start before the bucket
// is reachable.
func (c *Config) BuildBlobStore(logger *slog.Logger) (simplemedia.Option, http.Handler, error) {
	switch c.Storage.Backend {
	case "memory":
		return simplemedia.WithBlobStore(memorystorage.New()), nil, nil
	case "fs":
		signer := c.BuildSigner()
		backend, err := fsstorage.New(fsstorage.Config{BaseDir: c.Storage.FSBaseDir, Signer: signer})
		if err != nil {
			return nil, nil, err
		}
		return simplemedia.WithBlobStore(backend), presigned.NewUploadHandler(signer, backend, logger), nil
	case "s3":
		s3cfg := c.s3Config()
		if err := s3cfg.Validate(); err != nil {
			return nil, nil, err
		}
		return simplemedia.WithBlobStoreFactory(func(ctx context.Context) (simplemedia.BlobStore, error) {
			return s3storage.New(ctx, s3cfg)
		}), nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
}

// BuildRecordStore returns the record store and its cleanup.
func (c *Config) BuildRecordStore(ctx context.Context) (simplemedia.RecordStore, func(), error) {
	switch c.Records.Backend {
	case "memory":
		return recmem.New(), func() {}, nil
	case "postgres":
		pool, err := recpg.Connect(ctx, c.Records.DatabaseURL, c.Records.Migrate)
		if err != nil {
			return nil, nil, err
		}
		return recpg.New(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported record store: %s", c.Records.Backend)
}

// BuildGuard returns the run guard and its cleanup.
func (c *Config) BuildGuard(ctx context.Context) (simplemedia.RunGuard, func(), error) {
	switch c.Guard.Backend {
	case "local":
		return guard.NewLocal(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Guard.RedisAddr,
			Password: c.Guard.RedisPassword,
			DB:       c.Guard.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return guard.NewRedis(client, c.Guard.TTL, c.Guard.Prefix), func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported guard backend: %s", c.Guard.Backend)
}

// BuildRunner wraps the service with the configured timeout and retries.
func (c *Config) BuildRunner(p trigger.Processor, logger *slog.Logger) *trigger.Runner {
	return trigger.NewRunner(p,
		trigger.WithRunTimeout(c.Trigger.RunTimeout),
		trigger.WithRetries(c.Trigger.MaxAttempts, c.Trigger.Backoff),
		trigger.WithRunnerLogger(logger),
	)
}

// BuildDispatcher returns the dispatcher used by the HTTP server. The local
// dispatcher runs jobs in-process; the kafka one publishes them for
// media-worker. The returned cleanup waits for in-flight local runs until
// ctx is done.
func (c *Config) BuildDispatcher(runner *trigger.Runner, logger *slog.Logger) (simplemedia.Dispatcher, func(ctx context.Context) error, error) {
	switch c.Trigger.Backend {
	case "local":
		d := trigger.NewLocalDispatcher(runner, c.Trigger.LocalConcurrency, trigger.WithLocalLogger(logger))
		return d, d.Wait, nil
	case "kafka":
		p := trigger.NewKafkaPublisher(c.Trigger.KafkaBrokers, c.Trigger.KafkaTopic)
		return p, func(context.Context) error { return p.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported trigger backend: %s", c.Trigger.Backend)
}

// BuildConsumer returns the Kafka consumer run by media-worker.
func (c *Config) BuildConsumer(runner *trigger.Runner, logger *slog.Logger) (*trigger.KafkaConsumer, error) {
	if len(c.Trigger.KafkaBrokers) == 0 || c.Trigger.KafkaTopic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	return trigger.NewKafkaConsumer(c.Trigger.KafkaBrokers, c.Trigger.KafkaTopic, c.Trigger.KafkaGroupID, runner, logger), nil
}

func (c *Config) watermarkOptions() watermark.Options {
	return watermark.Options{
		Position:    watermark.BottomRight,
		Opacity:     c.Media.WatermarkOpacity,
		SizeRatio:   c.Media.WatermarkSizeRatio,
		MarginRatio: c.Media.WatermarkMarginRatio,
	}
}

func (c *Config) s3Config() s3storage.Config {
	return s3storage.Config{
		Region:                 c.Storage.S3Region,
		Bucket:                 c.Storage.S3Bucket,
		AccessKeyID:            c.Storage.S3AccessKeyID,
		SecretAccessKey:        c.Storage.S3SecretAccessKey,
		Endpoint:               c.Storage.S3Endpoint,
		UsePathStyle:           c.Storage.S3PathStyle,
		EnableSSE:              c.Storage.S3EnableSSE,
		SSEAlgorithm:           c.Storage.S3SSEAlgorithm,
		SSEKMSKeyID:            c.Storage.S3SSEKMSKeyID,
		CreateBucketIfNotExist: c.Storage.S3CreateBucket,
	}
}
