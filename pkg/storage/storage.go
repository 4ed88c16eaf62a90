package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/receipt-processor/config"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/storage/minio"
	"github.com/feichai0017/receipt-processor/pkg/storage/s3"
)

// StorageType selects the backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage is the object storage capability. Keys are full object keys
// (folder included).
type Storage interface {
	Put(ctx context.Context, reader io.Reader, size int64, key, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Presigner
	Delete(ctx context.Context, key string) error
	// CleanupBefore deletes objects under prefix last modified before threshold.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
	// BaseURL is the public URL objects are addressed under.
	BaseURL() string
}

// Presigner hands out short-lived GET URLs.
type Presigner interface {
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// S3Locator is implemented by backends whose objects Textract can read in place.
type S3Locator interface {
	Bucket() string
}

// NewStorage builds the configured backend.
func NewStorage(ctx context.Context, cfg *config.Config, log logger.Logger) (Storage, error) {
	switch StorageType(cfg.Storage.Type) {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, cfg.S3, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, cfg.Minio, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}
