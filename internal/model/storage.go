package model

import (
	"context"
	"io"
)

// AvatarStore holds profile picture blobs and returns the public URL
// clients embed in presence info.
type AvatarStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}
