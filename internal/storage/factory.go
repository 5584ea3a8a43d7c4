package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotabank/dotabank/internal/config"
)

// NewStorage builds the archive backend named by cfg.Type, detecting it from
// the endpoint when empty.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
// Returns:
//   - ObjectStorage: initialized storage client implementation.
//   - error: non-nil if the storage client cannot be created.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	kind := StorageType(cfg.Type)
	if kind == "" {
		kind = detectStorageType(cfg.Endpoint)
	}

	switch kind {
	case StorageTypeMemory:
		return NewMemoryStorage(), nil
	case StorageTypeMinIO:
		return NewMinIOStorage(&MinIOConfig{
			Endpoint:  normalizeEndpoint(cfg.Endpoint),
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		})
	case StorageTypeS3, StorageTypeR2, StorageTypeS3Compatible:
		return NewS3Storage(&S3Config{
			Type:      kind,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			PublicURL: cfg.PublicURL,
		})
	}
	return nil, fmt.Errorf("unsupported storage type %q", kind)
}

// detectStorageType guesses the backend from the endpoint host.
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	case strings.Contains(endpoint, "minio") || strings.HasSuffix(endpoint, ":9000"):
		return StorageTypeMinIO
	default:
		return StorageTypeS3Compatible
	}
}

// normalizeEndpoint strips scheme, path and trailing slashes, leaving host[:port].
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}
	return endpoint
}

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// EnsureBucket creates the bucket when the backend supports it.
func EnsureBucket(ctx context.Context, s ObjectStorage) error {
	if b, ok := s.(bucketEnsurer); ok {
		return b.EnsureBucket(ctx)
	}
	return nil
}
