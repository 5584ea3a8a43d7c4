package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Stat when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage is the replay archive.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns ErrNotFound for a missing key.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// List walks every object under prefix. Full listings get slow on
	// large archives; callers should page by prefix where they can.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// GetURL returns the public URL of key.
	GetURL(key string) string
}
