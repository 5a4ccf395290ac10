package service

import (
	"context"
	"time"
)

const (
	// accessURLLifetime is the validity of URLs returned by link access and download
	accessURLLifetime = 5 * time.Minute
	// previewURLLifetime is the validity of image preview redirects
	previewURLLifetime = time.Hour
)

// BlobStore is the object storage the core writes file bytes to.
// Blobs are only ever addressed by key.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Delete fails with apperr.KindNotFound when the object does not exist.
	Delete(ctx context.Context, key string) error
	SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
