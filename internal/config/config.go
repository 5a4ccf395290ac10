package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Storage backends
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"

	BlobS3    = "s3"
	BlobMinio = "minio"
)

// Config holds the application configuration
type Config struct {
	ServerPort     int      `envconfig:"SERVER_PORT" default:"8080"`
	JWTSecret      string   `envconfig:"JWT_SECRET" required:"true"`
	BaseURL        string   `envconfig:"BASE_URL" default:"http://localhost:3000"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`

	StoreBackend   string `envconfig:"STORE_BACKEND" default:"postgres"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"./migrations/001_init.sql"`
	MongoURI       string `envconfig:"MONGO_URI"`
	MongoDatabase  string `envconfig:"MONGO_DATABASE" default:"cloudshare"`

	BlobBackend    string `envconfig:"BLOB_BACKEND" default:"s3"`
	AWSBucketName  string `envconfig:"AWS_BUCKET_NAME"`
	AWSRegion      string `envconfig:"AWS_REGION"`
	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`

	RedisURL        string        `envconfig:"REDIS_URL"`
	UploadRateLimit int           `envconfig:"UPLOAD_RATE_LIMIT" default:"10"`
	LoginRateLimit  int           `envconfig:"LOGIN_RATE_LIMIT" default:"5"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"15m"`

	MaxUploadBytes    int64 `envconfig:"MAX_UPLOAD_BYTES" default:"100000000"`
	StorageLimitBytes int64 `envconfig:"STORAGE_LIMIT_BYTES" default:"16106127360"`
}

// Load reads the configuration from environment variables
func Load(cfg *Config) error {
	if err := envconfig.Process("", cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate checks the settings each selected backend needs
func (c *Config) Validate() error {
	var missing []string
	require := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	require("JWT_SECRET", c.JWTSecret)

	switch c.StoreBackend {
	case StorePostgres:
		require("DATABASE_URL", c.DatabaseURL)
	case StoreMongo:
		require("MONGO_URI", c.MongoURI)
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.BlobBackend {
	case BlobS3:
		require("AWS_BUCKET_NAME", c.AWSBucketName)
		require("AWS_REGION", c.AWSRegion)
	case BlobMinio:
		require("AWS_BUCKET_NAME", c.AWSBucketName)
		require("MINIO_ENDPOINT", c.MinioEndpoint)
		require("MINIO_ACCESS_KEY", c.MinioAccessKey)
		require("MINIO_SECRET_KEY", c.MinioSecretKey)
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.UploadRateLimit < 1 || c.LoginRateLimit < 1 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}
