// Package config reads the media service configuration from the environment
// and builds the components it names.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/canonical"
)

// Option applies configuration on top of the environment.
type Option func(*Config) error

// Config is the complete runtime configuration shared by both binaries.
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Media   MediaConfig
	Storage StorageConfig
	Records RecordsConfig
	Guard   GuardConfig
	Trigger TriggerConfig
	Metrics MetricsConfig
}

type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080" env-description:"HTTP listen port"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	Format string `env:"LOG_FORMAT" env-default:"text" env-description:"text or json"`
}

type MediaConfig struct {
	PublicBaseURL  string        `env:"PUBLIC_BASE_URL" env-default:"http://localhost:8080/media" env-description:"base every public URL is derived from"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" env-default:"10485760"`
	MaxSourceBytes int64         `env:"MAX_SOURCE_BYTES" env-default:"26214400"`
	UploadExpiry   time.Duration `env:"UPLOAD_EXPIRY" env-default:"5m"`

	WatermarkMarkPath    string  `env:"WATERMARK_MARK_PATH" env-description:"brand mark image; the text mark is used when empty"`
	WatermarkText        string  `env:"WATERMARK_TEXT"`
	WatermarkOpacity     float64 `env:"WATERMARK_OPACITY" env-default:"0.6"`
	WatermarkSizeRatio   float64 `env:"WATERMARK_SIZE_RATIO" env-default:"0.12"`
	WatermarkMarginRatio float64 `env:"WATERMARK_MARGIN_RATIO" env-default:"0.2"`

	CanonicalFormat       string `env:"CANONICAL_FORMAT" env-default:"webp" env-description:"webp or jpeg"`
	CanonicalQuality      int    `env:"CANONICAL_QUALITY" env-default:"82"`
	CanonicalMaxDimension int    `env:"CANONICAL_MAX_DIMENSION" env-default:"2560"`

	DefaultAttribution string `env:"DEFAULT_ATTRIBUTION" env-default:"simple-media"`
}

type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" env-default:"memory" env-description:"memory, fs or s3"`

	FSBaseDir     string `env:"FS_BASE_DIR" env-default:"./data/media"`
	UploadSecret  string `env:"UPLOAD_SECRET" env-description:"HMAC key for fs upload URLs"`
	UploadBaseURL string `env:"UPLOAD_BASE_URL" env-default:"http://localhost:8080"`

	S3Endpoint        string `env:"AWS_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Bucket          string `env:"AWS_S3_BUCKET" env-default:"media-bucket"`
	S3Region          string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	S3PathStyle       bool   `env:"AWS_S3_PATH_STYLE" env-default:"false"`
	S3EnableSSE       bool   `env:"AWS_S3_ENABLE_SSE" env-default:"false"`
	S3SSEAlgorithm    string `env:"AWS_S3_SSE_ALGORITHM" env-default:"AES256"`
	S3SSEKMSKeyID     string `env:"AWS_S3_SSE_KMS_KEY_ID"`
	S3CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

type RecordsConfig struct {
	Backend     string `env:"RECORD_STORE" env-default:"memory" env-description:"memory or postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	Migrate     bool   `env:"DATABASE_MIGRATE" env-default:"true"`
}

type GuardConfig struct {
	Backend       string        `env:"GUARD_BACKEND" env-default:"local" env-description:"local or redis"`
	RedisAddr     string        `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	TTL           time.Duration `env:"GUARD_TTL" env-default:"5m"`
	Prefix        string        `env:"GUARD_PREFIX" env-default:"simple-media:run:"`
}

type TriggerConfig struct {
	Backend          string        `env:"TRIGGER_BACKEND" env-default:"local" env-description:"local or kafka"`
	KafkaBrokers     []string      `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	KafkaTopic       string        `env:"KAFKA_TOPIC" env-default:"media.ingest"`
	KafkaGroupID     string        `env:"KAFKA_GROUP_ID" env-default:"media-worker"`
	LocalConcurrency int64         `env:"LOCAL_CONCURRENCY" env-default:"4"`
	RunTimeout       time.Duration `env:"RUN_TIMEOUT" env-default:"2m"`
	MaxAttempts      int           `env:"RUN_MAX_ATTEMPTS" env-default:"3"`
	Backoff          time.Duration `env:"RUN_BACKOFF" env-default:"2s"`
}

type MetricsConfig struct {
	Enabled   bool   `env:"METRICS_ENABLED" env-default:"true"`
	Namespace string `env:"METRICS_NAMESPACE" env-default:"simple_media"`
	Addr      string `env:"METRICS_ADDR" env-default:":9090" env-description:"worker metrics listener"`
}

// Load reads the environment, applies opts and validates the result.
func Load(opts ...Option) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Usage describes every environment variable.
func Usage() string {
	var cfg Config
	header := "Environment variables:"
	desc, err := cleanenv.GetDescription(&cfg, &header)
	if err != nil {
		return err.Error()
	}
	return desc
}

// WithStorageBackend overrides STORAGE_BACKEND.
func WithStorageBackend(backend string) Option {
	return func(c *Config) error {
		c.Storage.Backend = backend
		return nil
	}
}

// WithRecordStore overrides RECORD_STORE and DATABASE_URL.
func WithRecordStore(backend, databaseURL string) Option {
	return func(c *Config) error {
		c.Records.Backend = backend
		c.Records.DatabaseURL = databaseURL
		return nil
	}
}

// WithFSBaseDir selects the filesystem backend rooted at dir.
func WithFSBaseDir(dir string) Option {
	return func(c *Config) error {
		c.Storage.Backend = "fs"
		c.Storage.FSBaseDir = dir
		return nil
	}
}

// Validate checks the configuration without contacting any backend.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log format must be 'text' or 'json', got %q", c.Log.Format))
	}

	if u, err := url.Parse(c.Media.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("public base url %q must be absolute", c.Media.PublicBaseURL))
	}
	if c.Media.MaxUploadBytes <= 0 || c.Media.MaxSourceBytes <= c.Media.MaxUploadBytes {
		errs = append(errs, fmt.Errorf("max upload bytes %d must be positive and below max source bytes %d", c.Media.MaxUploadBytes, c.Media.MaxSourceBytes))
	}
	if c.Media.UploadExpiry <= 0 || c.Media.UploadExpiry > simplemedia.MaxUploadExpiry {
		errs = append(errs, fmt.Errorf("upload expiry %s must be within (0, %s]", c.Media.UploadExpiry, simplemedia.MaxUploadExpiry))
	}
	if err := c.watermarkOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.canonicalPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Storage.Backend {
	case "memory":
	case "fs":
		if c.Storage.FSBaseDir == "" {
			errs = append(errs, errors.New("FS_BASE_DIR is required for the fs backend"))
		}
		if c.Storage.UploadSecret == "" {
			errs = append(errs, errors.New("UPLOAD_SECRET is required for the fs backend"))
		}
	case "s3":
		if err := c.s3Config().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("s3: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage backend %q (use memory, fs or s3)", c.Storage.Backend))
	}

	switch c.Records.Backend {
	case "memory":
	case "postgres":
		if !strings.HasPrefix(c.Records.DatabaseURL, "postgres://") && !strings.HasPrefix(c.Records.DatabaseURL, "postgresql://") {
			errs = append(errs, fmt.Errorf("DATABASE_URL must be a postgres:// url when RECORD_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported record store %q (use memory or postgres)", c.Records.Backend))
	}

	switch c.Guard.Backend {
	case "local":
	case "redis":
		if c.Guard.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis guard"))
		}
		if c.Guard.TTL < c.Trigger.RunTimeout {
			errs = append(errs, fmt.Errorf("guard ttl %s must not be shorter than run timeout %s", c.Guard.TTL, c.Trigger.RunTimeout))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported guard backend %q (use local or redis)", c.Guard.Backend))
	}

	switch c.Trigger.Backend {
	case "local":
		if c.Trigger.LocalConcurrency <= 0 {
			errs = append(errs, errors.New("LOCAL_CONCURRENCY must be positive"))
		}
	case "kafka":
		if len(c.Trigger.KafkaBrokers) == 0 || c.Trigger.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required for the kafka trigger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported trigger backend %q (use local or kafka)", c.Trigger.Backend))
	}
	if c.Trigger.MaxAttempts < 1 {
		errs = append(errs, errors.New("RUN_MAX_ATTEMPTS must be at least 1"))
	}

	return errors.Join(errs...)
}

func (c *Config) canonicalPolicy() canonical.Policy {
	return canonical.Policy{
		Format:       c.Media.CanonicalFormat,
		Quality:      c.Media.CanonicalQuality,
		MaxDimension: c.Media.CanonicalMaxDimension,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
