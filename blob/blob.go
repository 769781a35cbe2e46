// Package blob stores binary objects such as profile pictures and returns their public URLs.
package blob

import (
	"context"
	"errors"
)

var ErrEmpty = errors.New("blob is empty")

type Store interface {
	// Put writes data at path, replacing any previous object, and returns a URL serving it.
	Put(ctx context.Context, path string, data []byte) (string, error)
}
