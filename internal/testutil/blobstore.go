package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/whrgg/cloud-drive-project/internal/blobstore"
	"github.com/whrgg/cloud-drive-project/internal/drive"
)

// ErrInjected is returned by FaultyBlobStore for operations set to fail.
var ErrInjected = errors.New("injected blob store failure")

// NewTestBlobStore creates a new in-memory blob store for testing.
func NewTestBlobStore() *blobstore.MemoryStore {
	return blobstore.NewMemoryStore(nil)
}

// FaultyBlobStore wraps a BlobStore, counts calls and fails selected
// operations on demand. Safe for concurrent use.
type FaultyBlobStore struct {
	drive.BlobStore

	mu          sync.Mutex
	puts        int
	deletes     int
	composes    int
	failPut     bool
	failDelete  bool
	failCompose bool
	unlisted    map[string]bool
}

// NewFaultyBlobStore wraps inner.
func NewFaultyBlobStore(inner drive.BlobStore) *FaultyBlobStore {
	return &FaultyBlobStore{BlobStore: inner, unlisted: make(map[string]bool)}
}

// FailPut makes Put fail while on is true.
func (f *FaultyBlobStore) FailPut(on bool) { f.mu.Lock(); f.failPut = on; f.mu.Unlock() }

// FailDelete makes Delete fail while on is true.
func (f *FaultyBlobStore) FailDelete(on bool) { f.mu.Lock(); f.failDelete = on; f.mu.Unlock() }

// FailCompose makes Compose fail while on is true.
func (f *FaultyBlobStore) FailCompose(on bool) { f.mu.Lock(); f.failCompose = on; f.mu.Unlock() }

// HideFromList makes List omit key, simulating an eventually consistent listing.
func (f *FaultyBlobStore) HideFromList(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlisted[key] = true
}

// Puts returns the number of Put calls seen.
func (f *FaultyBlobStore) Puts() int { f.mu.Lock(); defer f.mu.Unlock(); return f.puts }

// Deletes returns the number of Delete calls seen.
func (f *FaultyBlobStore) Deletes() int { f.mu.Lock(); defer f.mu.Unlock(); return f.deletes }

// Composes returns the number of Compose calls seen.
func (f *FaultyBlobStore) Composes() int { f.mu.Lock(); defer f.mu.Unlock(); return f.composes }

func (f *FaultyBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, mediaType string) error {
	f.mu.Lock()
	f.puts++
	fail := f.failPut
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.BlobStore.Put(ctx, key, r, size, mediaType)
}

func (f *FaultyBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deletes++
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.BlobStore.Delete(ctx, key)
}

func (f *FaultyBlobStore) Compose(ctx context.Context, keys []string, target string, mediaType string) (int64, error) {
	f.mu.Lock()
	f.composes++
	fail := f.failCompose
	f.mu.Unlock()
	if fail {
		return 0, ErrInjected
	}
	return f.BlobStore.Compose(ctx, keys, target, mediaType)
}

func (f *FaultyBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := f.BlobStore.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := keys[:0]
	for _, k := range keys {
		if !f.unlisted[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

var _ drive.BlobStore = (*FaultyBlobStore)(nil)
