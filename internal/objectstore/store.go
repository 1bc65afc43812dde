// Package objectstore provides an abstraction over the raw-document bucket.
package objectstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("object not found")

// Store is the narrow surface ingest and the upload flow need.
type Store interface {
	// Get returns the full object bytes for a key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores bytes under a key with the given content type.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Delete removes an object; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// PresignPut returns a URL a client can PUT the object to directly.
	PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error)
	// PresignGet returns a URL a client can GET the object from directly.
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}
