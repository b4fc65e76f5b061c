// Package storage keeps finished recordings in blob storage.
package storage

import (
	"context"
	"errors"
	"time"

	"clinical-dictation-service/internal/platform"
)

// ErrNotFound is returned for missing or soft-deleted objects.
var ErrNotFound = errors.New("object not found")

// Store is the blob storage contract.
type Store interface {
	// Upload stores blob at path in bucket and returns the stored path.
	Upload(ctx context.Context, bucket, path string, blob *platform.Blob) (string, error)
	// SignedURL returns a time-limited download URL.
	SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
	// Delete marks the object deleted. Data is retained for audit.
	Delete(ctx context.Context, bucket, path string) error
}
