package drive

import (
	"context"
	"io"
	"time"
)

// BlobStore is durable key/value byte storage with server-side compose.
// List is recursive and may be eventually consistent.
type BlobStore interface {
	// Put stores size bytes read from r under key, overwriting any previous value.
	Put(ctx context.Context, key string, r io.Reader, size int64, mediaType string) error

	// Get opens the blob stored under key. Returns ErrBlobNotFound if absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns the size of the blob. Returns ErrBlobNotFound if absent.
	Stat(ctx context.Context, key string) (int64, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists is a point existence check that does not go through listing.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Compose concatenates keys in order into target and returns its size.
	Compose(ctx context.Context, keys []string, target string, mediaType string) (int64, error)

	// PresignedURL returns a time-limited URL for reading key.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// ValidateSetup verifies the store is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
