package config

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "GOOGLE_CLOUD_PROJECT", "GOOGLE_APPLICATION_CREDENTIALS", "STORE_BACKEND", "DATABASE_URL",
	"MONGODB_URI", "MONGODB_DATABASE", "BLOB_BACKEND", "FIREBASE_STORAGE_BUCKET", "CLOUDINARY_URL",
	"LOG_LEVEL", "LOG_SINK",
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, env[k])
	}
}

func TestLoad(t *testing.T) {
	metadataCalls := 0
	orig := projectIDFromMetadata
	projectIDFromMetadata = func(context.Context) (string, error) {
		metadataCalls++
		return "from-metadata", nil
	}
	t.Cleanup(func() { projectIDFromMetadata = orig })

	tests := []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantProject  string
		wantStore    string
		wantLevel    slog.Level
		wantMetadata int
	}{
		{
			name:         "defaults resolve project from metadata",
			env:          map[string]string{},
			wantProject:  "from-metadata",
			wantStore:    StoreFirestore,
			wantLevel:    slog.LevelInfo,
			wantMetadata: 1,
		},
		{
			name:        "explicit project",
			env:         map[string]string{"GOOGLE_CLOUD_PROJECT": "p1", "LOG_LEVEL": "debug"},
			wantProject: "p1",
			wantStore:   StoreFirestore,
			wantLevel:   slog.LevelDebug,
		},
		{
			name: "postgres with cloudinary needs no project",
			env: map[string]string{
				"STORE_BACKEND":  StorePostgres,
				"DATABASE_URL":   "postgres://localhost/picchu",
				"BLOB_BACKEND":   BlobCloudinary,
				"CLOUDINARY_URL": "cloudinary://k:s@cloud",
			},
			wantStore: StorePostgres,
			wantLevel: slog.LevelInfo,
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"STORE_BACKEND": StorePostgres},
			wantErr: true,
		},
		{
			name:    "mongo without uri",
			env:     map[string]string{"STORE_BACKEND": StoreMongo},
			wantErr: true,
		},
		{
			name:    "unknown store",
			env:     map[string]string{"STORE_BACKEND": "redis"},
			wantErr: true,
		},
		{
			name:    "unknown log sink",
			env:     map[string]string{"GOOGLE_CLOUD_PROJECT": "p1", "LOG_SINK": "file"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			metadataCalls = 0

			cfg, err := Load(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProject, cfg.ProjectID)
			assert.Equal(t, tt.wantStore, cfg.StoreBackend)
			assert.Equal(t, tt.wantLevel, cfg.LogLevel)
			assert.Equal(t, tt.wantMetadata, metadataCalls)
			assert.Equal(t, defaultPort, cfg.Port)
		})
	}
}
