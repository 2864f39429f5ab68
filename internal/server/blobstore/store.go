// Package blobstore stores attachment bytes by key. Implementations must
// make Delete idempotent and report a missing key on Get as ErrNotFound so
// callers can tell absence from transport failures.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("blob not found")

type Store interface {
	// Put stores size bytes read from r under key.
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	// Get opens the blob stored under key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}
