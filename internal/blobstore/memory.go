package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/whrgg/cloud-drive-project/internal/drive"
)

type memoryBlob struct {
	data      []byte
	mediaType string
}

// MemoryStore is an in-memory implementation of drive.BlobStore, useful for
// testing. This implementation is safe for concurrent use.
type MemoryStore struct {
	blobs  map[string]memoryBlob
	signer *URLSigner
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty store. Presigned URLs use signer; a nil
// signer gets a random key.
func NewMemoryStore(signer *URLSigner) *MemoryStore {
	if signer == nil {
		signer = randomSigner("memory://blob")
	}
	return &MemoryStore{
		blobs:  make(map[string]memoryBlob),
		signer: signer,
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, mediaType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading blob %s: %w", key, err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch for %s: expected %d bytes, got %d", key, size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = memoryBlob{data: data, mediaType: mediaType}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, drive.ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (m *MemoryStore) Stat(ctx context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[key]
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, drive.ErrBlobNotFound)
	}
	return int64(len(b.data)), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Compose(ctx context.Context, keys []string, target string, mediaType string) (int64, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("compose %s: no source keys", target)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	for _, k := range keys {
		b, ok := m.blobs[k]
		if !ok {
			return 0, fmt.Errorf("compose %s: source %s: %w", target, k, drive.ErrBlobNotFound)
		}
		buf.Write(b.data)
	}
	m.blobs[target] = memoryBlob{data: buf.Bytes(), mediaType: mediaType}
	return int64(buf.Len()), nil
}

func (m *MemoryStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ok, _ := m.Exists(ctx, key); !ok {
		return "", fmt.Errorf("%s: %w", key, drive.ErrBlobNotFound)
	}
	return m.signer.Sign(key, ttl)
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

var _ drive.BlobStore = (*MemoryStore)(nil)
