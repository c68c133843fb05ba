package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Payload is the source of bytes for a content registration: either a reader
// to be written under a fresh key, or a blob that is already in the store.
type Payload struct {
	reader  io.Reader
	blobKey string
}

// ReaderPayload registers bytes read from r.
func ReaderPayload(r io.Reader) Payload { return Payload{reader: r} }

// BlobPayload registers an already stored blob, adopting key as the storage key.
func BlobPayload(key string) Payload { return Payload{blobKey: key} }

// ContentRegistry deduplicates payloads by hash and owns blob lifecycle through
// reference counting. Count changes are atomic in the database; the per-hash
// lock only keeps one process from writing the same payload twice.
type ContentRegistry struct {
	database Database
	blobs    BlobStore
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	metrics  Metrics
	locks    *keyedMutex
}

// NewContentRegistry creates a registry over the given database and blob store.
func NewContentRegistry(database Database, blobs BlobStore, logger Logger, clock Clock, idgen IDGenerator, metrics Metrics) *ContentRegistry {
	return &ContentRegistry{
		database: database,
		blobs:    blobs,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		metrics:  metrics,
		locks:    newKeyedMutex(),
	}
}

// contentKey is the storage key of a payload written directly by the registry.
func contentKey(hash, id string) string {
	prefix := hash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return fmt.Sprintf("content/%s/%s", prefix, id)
}

// Lookup returns the content registered under hash, or nil.
func (r *ContentRegistry) Lookup(ctx context.Context, hash string) (*Content, error) {
	c, err := r.database.FindContentByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("finding content by hash: %w", err)
	}
	return c, nil
}

// Get returns the content with the given id.
func (r *ContentRegistry) Get(ctx context.Context, id int64) (*Content, error) {
	c, err := r.database.FindContentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding content: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("content %d: %w", id, ErrNotFound)
	}
	return c, nil
}

// RegisterOrReuse returns the content object for hash. When one exists its
// reference count is incremented and the blob store is not written; the bool
// result reports this reuse. Otherwise the payload is stored and a new object
// with reference count 1 is inserted. A failed blob write leaves no row.
func (r *ContentRegistry) RegisterOrReuse(ctx context.Context, hash string, size int64, mediaType string, p Payload) (*Content, bool, error) {
	if hash == "" {
		return nil, false, fmt.Errorf("empty content hash: %w", ErrInvalidArgument)
	}
	if p.reader == nil && p.blobKey == "" {
		return nil, false, fmt.Errorf("empty payload: %w", ErrInvalidArgument)
	}

	unlock := r.locks.Lock(hash)
	defer unlock()

	existing, err := r.Lookup(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		c, err := r.reuse(ctx, existing, p.blobKey)
		return c, true, err
	}

	key := p.blobKey
	if p.reader != nil {
		key = contentKey(hash, r.idgen.New())
		if err := r.blobs.Put(ctx, key, p.reader, size, mediaType); err != nil {
			return nil, false, backendErr("storing content", err)
		}
	}

	now := r.clock.Now()
	c, err := r.database.CreateContent(ctx, &Content{
		Hash:       hash,
		StorageKey: key,
		Size:       size,
		MediaType:  mediaType,
		RefCount:   1,
		Status:     ContentUsable,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if errors.Is(err, ErrDuplicateContent) {
		// Another process registered the same hash after our lookup.
		r.discard(ctx, key)
		existing, err := r.Lookup(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("content %s vanished after conflict: %w", hash, ErrBackend)
		}
		c, err := r.reuse(ctx, existing, "")
		return c, true, err
	}
	if err != nil {
		r.discard(ctx, key)
		return nil, false, fmt.Errorf("creating content: %w", err)
	}

	r.metrics.ContentRegistered(false, size)
	r.logger.Debug("content registered", "hash", hash, "key", key, "size", size)
	return c, false, nil
}

// reuse takes one more reference on c. A staged blob that duplicates c is removed.
func (r *ContentRegistry) reuse(ctx context.Context, c *Content, stagedKey string) (*Content, error) {
	count, err := r.retain(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.RefCount = count
	if stagedKey != "" && stagedKey != c.StorageKey {
		r.discard(ctx, stagedKey)
	}
	r.metrics.ContentRegistered(true, c.Size)
	r.logger.Debug("content reused", "hash", c.Hash, "refs", count)
	return c, nil
}

func (r *ContentRegistry) retain(ctx context.Context, id int64) (int64, error) {
	count, err := r.database.RetainContent(ctx, id)
	if errors.Is(err, ErrInvalidTransition) {
		return 0, backendErr("content is being removed, retry later", err)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing reference count: %w", err)
	}
	return count, nil
}

// Retain adds a reference to an existing content object.
func (r *ContentRegistry) Retain(ctx context.Context, id int64) (*Content, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := r.retain(ctx, id)
	if err != nil {
		return nil, err
	}
	c.RefCount = count
	return c, nil
}

// Release drops one reference that is not tied to a node.
func (r *ContentRegistry) Release(ctx context.Context, id int64) error {
	return r.release(ctx, id, 0)
}

// ReleaseNode drops the reference held by n and clears n's content pointer.
// It is a no-op once the pointer is cleared, so a purge that failed after
// releasing can be retried without releasing twice.
func (r *ContentRegistry) ReleaseNode(ctx context.Context, n *Node) error {
	if n.IsDir || n.ContentID == 0 {
		return nil
	}
	if err := r.release(ctx, n.ContentID, n.ID); err != nil {
		return err
	}
	n.ContentID = 0
	return nil
}

// release drops one reference. The last release marks the content unusable,
// deletes the blob and then the row. A failed blob delete makes the content
// usable again and can be retried.
func (r *ContentRegistry) release(ctx context.Context, id, nodeID int64) error {
	outcome, err := r.database.ReleaseContent(ctx, id, nodeID)
	if err != nil {
		return fmt.Errorf("releasing content: %w", err)
	}
	switch outcome {
	case ReleaseSkipped:
		return nil
	case ReleaseDropped:
		r.metrics.ContentReleased(false)
		return nil
	}

	c, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.blobs.Delete(ctx, c.StorageKey); err != nil {
		if serr := r.database.SetContentStatus(ctx, id, ContentUsable); serr != nil {
			r.logger.Error("restoring content status failed", "content", id, "error", serr)
		}
		return backendErr("deleting content blob", err)
	}
	if err := r.database.DeleteContent(ctx, id, nodeID); err != nil {
		return fmt.Errorf("deleting content: %w", err)
	}
	r.metrics.ContentReleased(true)
	r.logger.Info("content deleted", "hash", c.Hash, "key", c.StorageKey, "size", c.Size)
	return nil
}

// discard deletes a blob that will not be referenced. Errors are logged only.
func (r *ContentRegistry) discard(ctx context.Context, key string) {
	if err := r.blobs.Delete(ctx, key); err != nil {
		r.logger.Warn("discarding unreferenced blob failed", "key", key, "error", err)
	}
}
