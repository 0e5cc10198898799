// Package storage keeps pièces justificatives in a bucket: a local directory
// in development or an S3-compatible object store in production.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/diewo77/go-achats/internal/config"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// Bucket stores opaque objects by key.
type Bucket interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// New builds the bucket selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Bucket, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Dir)
	case "s3":
		if cfg.Bucket == "" {
			return nil, errors.New("S3_BUCKET is required for the s3 storage backend")
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
