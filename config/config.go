package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/compute/metadata"

	"github.com/klipach/picchu/log"
)

const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMongo     = "mongo"
	StoreMemory    = "memory"

	BlobFirebase   = "firebase"
	BlobCloudinary = "cloudinary"

	SinkStdout       = "stdout"
	SinkCloudLogging = "cloudlogging"

	defaultPort          = "8082"
	defaultMongoDatabase = "picchu"
)

var errMissingProjectID = errors.New("GOOGLE_CLOUD_PROJECT is not set and the metadata server is unreachable")

type Config struct {
	Port            string
	ProjectID       string
	CredentialsFile string

	StoreBackend  string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	BlobBackend   string
	StorageBucket string
	CloudinaryURL string

	LogLevel slog.Level
	LogSink  string
}

// projectIDFromMetadata is swapped in tests.
var projectIDFromMetadata = func(ctx context.Context) (string, error) {
	if !metadata.OnGCE() {
		return "", errMissingProjectID
	}
	return metadata.ProjectIDWithContext(ctx)
}

// Load reads the configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Port:            getenv("PORT", defaultPort),
		ProjectID:       os.Getenv("GOOGLE_CLOUD_PROJECT"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		StoreBackend:    getenv("STORE_BACKEND", StoreFirestore),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		MongoURI:        os.Getenv("MONGODB_URI"),
		MongoDatabase:   getenv("MONGODB_DATABASE", defaultMongoDatabase),
		BlobBackend:     getenv("BLOB_BACKEND", BlobFirebase),
		StorageBucket:   os.Getenv("FIREBASE_STORAGE_BUCKET"),
		CloudinaryURL:   os.Getenv("CLOUDINARY_URL"),
		LogLevel:        log.ParseLevel(os.Getenv("LOG_LEVEL")),
		LogSink:         getenv("LOG_SINK", SinkStdout),
	}

	switch cfg.StoreBackend {
	case StoreFirestore, StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("MONGODB_URI is required for the mongo store")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %s", cfg.StoreBackend)
	}

	switch cfg.BlobBackend {
	case BlobFirebase, BlobCloudinary:
	default:
		return nil, fmt.Errorf("unsupported BLOB_BACKEND: %s", cfg.BlobBackend)
	}
	if cfg.BlobBackend == BlobCloudinary && cfg.CloudinaryURL == "" {
		return nil, errors.New("CLOUDINARY_URL is required for the cloudinary blob store")
	}

	switch cfg.LogSink {
	case SinkStdout, SinkCloudLogging:
	default:
		return nil, fmt.Errorf("unsupported LOG_SINK: %s", cfg.LogSink)
	}

	if cfg.ProjectID == "" && cfg.needsProject() {
		projectID, err := projectIDFromMetadata(ctx)
		if err != nil {
			return nil, err
		}
		cfg.ProjectID = projectID
	}
	return cfg, nil
}

// needsProject reports whether any configured Google Cloud client needs a project id.
func (c *Config) needsProject() bool {
	return c.StoreBackend == StoreFirestore || c.BlobBackend == BlobFirebase || c.LogSink == SinkCloudLogging
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
