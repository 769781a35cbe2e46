package picchu

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/klipach/picchu/auth"
	"github.com/klipach/picchu/blob"
	"github.com/klipach/picchu/chat"
	"github.com/klipach/picchu/config"
	"github.com/klipach/picchu/friend"
	"github.com/klipach/picchu/log"
	"github.com/klipach/picchu/profile"
	"github.com/klipach/picchu/store"
	"github.com/klipach/picchu/store/memstore"
	"github.com/klipach/picchu/store/mongostore"
	"github.com/klipach/picchu/store/pgstore"
)

const logID = "picchu"

type server struct {
	projectID  string
	logger     *slog.Logger
	ds         store.DocumentStore
	verifier   auth.Verifier
	merger     *chat.Merger
	aggregator *chat.Aggregator
	friends    *friend.Machine
	profiles   *profile.Service
}

func newServer(projectID string, logger *slog.Logger, ds store.DocumentStore, blobs blob.Store, verifier auth.Verifier) *server {
	return &server{
		projectID:  projectID,
		logger:     logger,
		ds:         ds,
		verifier:   verifier,
		merger:     chat.NewMerger(ds),
		aggregator: chat.NewAggregator(ds),
		friends:    friend.New(ds),
		profiles:   profile.NewService(ds, blobs),
	}
}

// setup connects every backend named by cfg.
func setup(ctx context.Context, cfg *config.Config) (*server, error) {
	logger, err := newLogger(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	bucket := cfg.StorageBucket
	if bucket == "" && cfg.ProjectID != "" {
		bucket = cfg.ProjectID + ".appspot.com"
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID, StorageBucket: bucket}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	verifier, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}

	ds, err := newDocumentStore(ctx, cfg, app)
	if err != nil {
		return nil, fmt.Errorf("document store %s: %w", cfg.StoreBackend, err)
	}
	blobs, err := newBlobStore(ctx, cfg, app, bucket)
	if err != nil {
		return nil, fmt.Errorf("blob store %s: %w", cfg.BlobBackend, err)
	}

	logger.Info("services ready",
		slog.String("store", cfg.StoreBackend),
		slog.String("blobs", cfg.BlobBackend),
		slog.String("project", cfg.ProjectID),
	)
	return newServer(cfg.ProjectID, logger, ds, blobs, verifier), nil
}

func newLogger(ctx context.Context, cfg *config.Config) (*slog.Logger, error) {
	if cfg.LogSink == config.SinkCloudLogging {
		// the client lives as long as the process, so it is never closed
		handler, _, err := log.NewCloudClient(ctx, cfg.ProjectID, logID, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		return slog.New(handler), nil
	}
	return slog.New(log.NewCloudLoggingHandler(os.Stdout, cfg.LogLevel)), nil
}

func newDocumentStore(ctx context.Context, cfg *config.Config, app *firebase.App) (store.DocumentStore, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		return pgstore.Open(ctx, cfg.DatabaseURL)
	case config.StoreMongo:
		return mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.StoreMemory:
		return memstore.New(), nil
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, err
	}
	return store.NewFirestore(client), nil
}

func newBlobStore(ctx context.Context, cfg *config.Config, app *firebase.App, bucket string) (blob.Store, error) {
	if cfg.BlobBackend == config.BlobCloudinary {
		return blob.NewCloudinary(cfg.CloudinaryURL)
	}
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, err
	}
	handle, err := client.Bucket(bucket)
	if err != nil {
		return nil, err
	}
	return blob.NewFirebase(handle, bucket), nil
}
