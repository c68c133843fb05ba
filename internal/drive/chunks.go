package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

const chunkSuffix = ".chunk"

// ChunkSet is what the blob store currently shows for an upload session.
type ChunkSet struct {
	Present  []int // sorted
	MaxIndex int   // -1 when no chunk was observed
}

// MergeRequest describes a finished chunked upload.
type MergeRequest struct {
	Owner          int64
	Hash           string
	FileName       string
	ParentID       int64
	DeclaredChunks int
}

// CheckRequest asks whether an upload can be skipped or resumed.
type CheckRequest struct {
	Owner    int64
	Hash     string
	Size     int64
	FileName string
	ParentID int64
}

// ExistingCheck is the answer to a CheckRequest.
type ExistingCheck struct {
	AlreadyComplete bool
	NodeID          int64
	UploadedChunks  []int
}

// ChunkAssembler tracks resumable uploads purely from blob store state under
// chunks/<owner>/<hash>/ and merges them into content.
type ChunkAssembler struct {
	blobs    BlobStore
	registry *ContentRegistry
	tree     *NamespaceTree
	quota    *QuotaLedger
	logger   Logger
	idgen    IDGenerator
	metrics  Metrics
}

// NewChunkAssembler creates an assembler.
func NewChunkAssembler(blobs BlobStore, registry *ContentRegistry, tree *NamespaceTree, quota *QuotaLedger, logger Logger, idgen IDGenerator, metrics Metrics) *ChunkAssembler {
	return &ChunkAssembler{
		blobs:    blobs,
		registry: registry,
		tree:     tree,
		quota:    quota,
		logger:   logger,
		idgen:    idgen,
		metrics:  metrics,
	}
}

func sessionPrefix(owner int64, hash string) string {
	return fmt.Sprintf("chunks/%d/%s/", owner, hash)
}

func chunkKey(owner int64, hash string, index int) string {
	return sessionPrefix(owner, hash) + strconv.Itoa(index) + chunkSuffix
}

func mergedKey(owner int64, hash, id string) string {
	return fmt.Sprintf("merged/%d/%s/%s", owner, hash, id)
}

// parseChunkIndex extracts the index from a chunk key.
func parseChunkIndex(key string) (int, bool) {
	if !strings.HasSuffix(key, chunkSuffix) {
		return 0, false
	}
	name := strings.TrimSuffix(key[strings.LastIndex(key, "/")+1:], chunkSuffix)
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func validateSession(hash string) error {
	if hash == "" || strings.ContainsAny(hash, "/\\") {
		return fmt.Errorf("invalid content hash %q: %w", hash, ErrInvalidArgument)
	}
	return nil
}

// StoreChunk writes chunk index of the session. Re-sending an index overwrites it.
func (a *ChunkAssembler) StoreChunk(ctx context.Context, owner int64, hash string, index int, r io.Reader, size int64) error {
	if err := validateSession(hash); err != nil {
		return err
	}
	if index < 0 {
		return fmt.Errorf("negative chunk index %d: %w", index, ErrInvalidArgument)
	}
	if size <= 0 {
		return fmt.Errorf("empty chunk: %w", ErrInvalidArgument)
	}
	if err := a.blobs.Put(ctx, chunkKey(owner, hash, index), r, size, DefaultMediaType); err != nil {
		return backendErr("storing chunk", err)
	}
	a.logger.Debug("chunk stored", "owner", owner, "hash", hash, "index", index, "size", size)
	return nil
}

// QueryUploadedChunks lists the session. Absence from the result is provisional.
func (a *ChunkAssembler) QueryUploadedChunks(ctx context.Context, owner int64, hash string) (ChunkSet, error) {
	set := ChunkSet{MaxIndex: -1}
	if err := validateSession(hash); err != nil {
		return set, err
	}
	keys, err := a.blobs.List(ctx, sessionPrefix(owner, hash))
	if err != nil {
		return set, backendErr("listing chunks", err)
	}
	for _, key := range keys {
		idx, ok := parseChunkIndex(key)
		if !ok {
			a.logger.Warn("ignoring unparsable chunk key", "key", key)
			continue
		}
		set.Present = append(set.Present, idx)
		if idx > set.MaxIndex {
			set.MaxIndex = idx
		}
	}
	set.Present = lo.Uniq(set.Present)
	sort.Ints(set.Present)
	return set, nil
}

// confirmMissing point-checks every index in [0, count) the listing did not
// show and returns the ones that really are absent.
func (a *ChunkAssembler) confirmMissing(ctx context.Context, owner int64, hash string, set ChunkSet, count int) ([]int, []int, error) {
	present := lo.SliceToMap(set.Present, func(i int) (int, struct{}) { return i, struct{}{} })
	var missing []int
	for i := 0; i < count; i++ {
		if _, ok := present[i]; ok {
			continue
		}
		exists, err := a.blobs.Exists(ctx, chunkKey(owner, hash, i))
		if err != nil {
			return nil, nil, backendErr("checking chunk", err)
		}
		if exists {
			a.logger.Debug("chunk present but not listed", "hash", hash, "index", i)
			present[i] = struct{}{}
			continue
		}
		missing = append(missing, i)
	}
	found := lo.Keys(present)
	sort.Ints(found)
	return found, missing, nil
}

// Merge composes the session's chunks into one object, registers it and
// creates the file node. The chunk count comes from storage, not from the
// client. Nothing is created or charged when a chunk is missing.
func (a *ChunkAssembler) Merge(ctx context.Context, req MergeRequest) (*Node, error) {
	if err := validateSession(req.Hash); err != nil {
		return nil, err
	}
	if err := a.tree.checkCreate(ctx, req.Owner, req.ParentID, req.FileName); err != nil {
		return nil, err
	}

	set, err := a.QueryUploadedChunks(ctx, req.Owner, req.Hash)
	if err != nil {
		return nil, err
	}
	count := set.MaxIndex + 1
	if count == 0 {
		if req.DeclaredChunks <= 0 {
			return nil, fmt.Errorf("no chunks uploaded for %s: %w", req.Hash, ErrInvalidArgument)
		}
		count = req.DeclaredChunks
	}
	if count != req.DeclaredChunks {
		a.logger.Warn("chunk count mismatch, using stored count", "hash", req.Hash, "declared", req.DeclaredChunks, "stored", count)
	}

	_, missing, err := a.confirmMissing(ctx, req.Owner, req.Hash, set, count)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		a.metrics.MergeFinished(MergeIncomplete, count)
		return nil, &IncompleteUploadError{Missing: missing}
	}

	keys := make([]string, count)
	for i := range keys {
		keys[i] = chunkKey(req.Owner, req.Hash, i)
	}
	mediaType := MediaTypeFor(req.FileName)
	target := mergedKey(req.Owner, req.Hash, a.idgen.New())

	if _, err := a.blobs.Compose(ctx, keys, target, mediaType); err != nil {
		a.metrics.MergeFinished(MergeFailed, count)
		a.discard(ctx, target)
		return nil, fmt.Errorf("composing %d chunks: %w: %w", count, ErrComposeFailure, err)
	}
	size, err := a.blobs.Stat(ctx, target)
	if err != nil {
		a.metrics.MergeFinished(MergeFailed, count)
		a.discard(ctx, target)
		return nil, fmt.Errorf("reading composed size: %w: %w", ErrComposeFailure, err)
	}

	if err := a.quota.Check(ctx, req.Owner, size); err != nil {
		a.metrics.MergeFinished(MergeFailed, count)
		a.discard(ctx, target)
		return nil, err
	}

	content, reused, err := a.registry.RegisterOrReuse(ctx, req.Hash, size, mediaType, BlobPayload(target))
	if err != nil {
		a.metrics.MergeFinished(MergeFailed, count)
		return nil, err
	}

	node, err := a.tree.attach(ctx, req.Owner, req.ParentID, req.FileName, content)
	if err != nil {
		a.metrics.MergeFinished(MergeFailed, count)
		return nil, err
	}

	for _, key := range keys {
		a.discard(ctx, key)
	}

	a.metrics.MergeFinished(MergeOK, count)
	a.logger.Info("upload merged", "owner", req.Owner, "hash", req.Hash, "chunks", count, "size", size, "reused", reused, "node", node.ID)
	return node, nil
}

// CheckExisting lets a client skip or resume an upload. When content with
// the hash is already registered a node referencing it is created right away.
func (a *ChunkAssembler) CheckExisting(ctx context.Context, req CheckRequest) (*ExistingCheck, error) {
	if err := validateSession(req.Hash); err != nil {
		return nil, err
	}

	content, err := a.registry.Lookup(ctx, req.Hash)
	if err != nil {
		return nil, err
	}
	if content != nil && content.Status == ContentUsable {
		if req.Size > 0 && req.Size != content.Size {
			a.logger.Warn("declared size differs from registered content", "hash", req.Hash, "declared", req.Size, "registered", content.Size)
		}
		node, err := a.tree.link(ctx, req.Owner, req.ParentID, req.FileName, content)
		if err != nil {
			return nil, err
		}
		a.logger.Info("instant upload", "owner", req.Owner, "hash", req.Hash, "node", node.ID)
		return &ExistingCheck{AlreadyComplete: true, NodeID: node.ID}, nil
	}

	set, err := a.QueryUploadedChunks(ctx, req.Owner, req.Hash)
	if err != nil {
		return nil, err
	}
	found, _, err := a.confirmMissing(ctx, req.Owner, req.Hash, set, set.MaxIndex+1)
	if err != nil {
		return nil, err
	}
	return &ExistingCheck{UploadedChunks: found}, nil
}

// AbortUpload removes every chunk of a session.
func (a *ChunkAssembler) AbortUpload(ctx context.Context, owner int64, hash string) (int, error) {
	if err := validateSession(hash); err != nil {
		return 0, err
	}
	keys, err := a.blobs.List(ctx, sessionPrefix(owner, hash))
	if err != nil {
		return 0, backendErr("listing chunks", err)
	}
	var deleted int
	var errs []error
	for _, key := range keys {
		if err := a.blobs.Delete(ctx, key); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	if len(errs) > 0 {
		return deleted, backendErr("deleting chunks", errors.Join(errs...))
	}
	return deleted, nil
}

// discard deletes a blob best-effort.
func (a *ChunkAssembler) discard(ctx context.Context, key string) {
	if err := a.blobs.Delete(ctx, key); err != nil {
		a.logger.Warn("deleting blob failed", "key", key, "error", err)
	}
}
