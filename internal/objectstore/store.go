// Package objectstore moves scene files and render artifacts between local disk and durable storage.
package objectstore

import (
	"context"
	"errors"
	"io"

	"github.com/cuongbtq/render-farm/internal/domain"
)

// CodeNoSuchKey is the dependency error code of a missing object
const CodeNoSuchKey = "NoSuchKey"

// Store is a bucket/key object store.
// Implementations report backend failures as *domain.DependencyError.
type Store interface {
	Provider() string

	// Download writes the object to dstPath, creating or truncating it
	Download(ctx context.Context, bucket, key, dstPath string) error
	// Upload stores the file at srcPath under key, overwriting any existing object
	Upload(ctx context.Context, bucket, key, srcPath string) error
	// Open streams an object
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// IsNotFound reports whether err is a missing object error
func IsNotFound(err error) bool {
	var depErr *domain.DependencyError
	return errors.As(err, &depErr) && depErr.Code == CodeNoSuchKey
}
