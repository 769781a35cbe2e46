package blob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

const (
	downloadTokensKey = "firebaseStorageDownloadTokens"
	downloadHost      = "https://firebasestorage.googleapis.com"
)

// Firebase writes objects to a Firebase Storage bucket and returns tokenized download URLs.
type Firebase struct {
	bucket *storage.BucketHandle
	name   string
}

func NewFirebase(bucket *storage.BucketHandle, name string) *Firebase {
	return &Firebase{bucket: bucket, name: name}
}

func (f *Firebase) Put(ctx context.Context, path string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	token := uuid.NewString()

	w := f.bucket.Object(path).NewWriter(ctx)
	w.ContentType = http.DetectContentType(data)
	w.Metadata = map[string]string{downloadTokensKey: token}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return downloadURL(f.name, path, token), nil
}

func downloadURL(bucket, path, token string) string {
	q := url.Values{}
	q.Set("alt", "media")
	q.Set("token", token)
	return fmt.Sprintf("%s/v0/b/%s/o/%s?%s", downloadHost, bucket, url.PathEscape(path), q.Encode())
}
