package drive

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Options tunes a Service.
type Options struct {
	// DefaultQuota is the total space of owners without a quota row.
	DefaultQuota int64
	// BatchSize bounds rows per cascade transaction.
	BatchSize int
}

// Service wires the components together over one database and blob store.
type Service struct {
	Registry *ContentRegistry
	Chunks   *ChunkAssembler
	Tree     *NamespaceTree
	Quota    *QuotaLedger
	Shares   *ShareResolver

	database Database
	blobs    BlobStore
	logger   Logger
	clock    Clock
}

// NewService creates the component graph.
func NewService(database Database, blobs BlobStore, publisher IndexPublisher, metrics Metrics, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	quota := NewQuotaLedger(database, logger, clock, metrics, opts.DefaultQuota)
	registry := NewContentRegistry(database, blobs, logger, clock, idgen, metrics)
	tree := NewNamespaceTree(database, registry, quota, publisher, logger, clock, metrics, opts.BatchSize)
	return &Service{
		Registry: registry,
		Chunks:   NewChunkAssembler(blobs, registry, tree, quota, logger, idgen, metrics),
		Tree:     tree,
		Quota:    quota,
		Shares:   NewShareResolver(database, tree, blobs, logger, clock, idgen, metrics),
		database: database,
		blobs:    blobs,
		logger:   logger,
		clock:    clock,
	}
}

// UploadRequest is a single-shot upload of a whole file.
type UploadRequest struct {
	Owner       int64
	ParentID    int64
	RelativeDir string // created below ParentID when missing
	Name        string
	Hash        string
	Size        int64
	Body        io.Reader
}

// Upload stores a whole file. Identical content already in the registry is
// reused without writing the body.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Node, error) {
	if req.Hash == "" {
		return nil, fmt.Errorf("empty content hash: %w", ErrInvalidArgument)
	}
	if req.Size < 0 {
		return nil, fmt.Errorf("negative size: %w", ErrInvalidArgument)
	}
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if err := s.Quota.Check(ctx, req.Owner, req.Size); err != nil {
		return nil, err
	}
	parentID, undo, err := s.Tree.BuildPath(ctx, req.Owner, req.ParentID, req.RelativeDir)
	if err != nil {
		return nil, err
	}
	n, err := s.upload(ctx, req, parentID)
	if err != nil {
		undo(ctx)
		return nil, err
	}
	return n, nil
}

func (s *Service) upload(ctx context.Context, req UploadRequest, parentID int64) (*Node, error) {
	if err := s.Tree.checkCreate(ctx, req.Owner, parentID, req.Name); err != nil {
		return nil, err
	}
	content, _, err := s.Registry.RegisterOrReuse(ctx, req.Hash, req.Size, MediaTypeFor(req.Name), ReaderPayload(req.Body))
	if err != nil {
		return nil, err
	}
	return s.Tree.attach(ctx, req.Owner, parentID, req.Name, content)
}

func (s *Service) fileContent(ctx context.Context, owner, nodeID int64) (*Node, *Content, error) {
	n, err := s.Tree.Get(ctx, nodeID, owner)
	if err != nil {
		return nil, nil, err
	}
	if n.State != StateActive {
		return nil, nil, fmt.Errorf("node %d is not active: %w", nodeID, ErrNotFound)
	}
	if n.IsDir {
		return nil, nil, fmt.Errorf("node %d is a folder: %w", nodeID, ErrInvalidArgument)
	}
	c, err := s.Registry.Get(ctx, n.ContentID)
	if err != nil {
		return nil, nil, err
	}
	return n, c, nil
}

// DownloadURL returns a presigned URL for owner's file and counts the download.
func (s *Service) DownloadURL(ctx context.Context, owner, nodeID int64, ttl time.Duration) (string, error) {
	n, c, err := s.fileContent(ctx, owner, nodeID)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.PresignedURL(ctx, c.StorageKey, ttl)
	if err != nil {
		return "", backendErr("presigning download", err)
	}
	if err := s.database.IncrementNodeDownloads(ctx, n.ID); err != nil {
		s.logger.Warn("incrementing downloads failed", "node", n.ID, "error", err)
	}
	return url, nil
}

// Open streams owner's file.
func (s *Service) Open(ctx context.Context, owner, nodeID int64) (io.ReadCloser, *Node, error) {
	n, c, err := s.fileContent(ctx, owner, nodeID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Get(ctx, c.StorageKey)
	if err != nil {
		return nil, nil, backendErr("opening content", err)
	}
	if err := s.database.IncrementNodeDownloads(ctx, n.ID); err != nil {
		s.logger.Warn("incrementing downloads failed", "node", n.ID, "error", err)
	}
	return rc, n, nil
}

// RebuildIndex feeds every active node of owner to index in one bulk call.
func (s *Service) RebuildIndex(ctx context.Context, owner int64, index SearchIndex) (int, error) {
	nodes, err := s.Tree.ListActive(ctx, owner)
	if err != nil {
		return 0, err
	}
	summaries := make([]NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		summaries = append(summaries, n.Summary())
	}
	if err := index.BulkIndex(ctx, summaries); err != nil {
		return 0, fmt.Errorf("bulk indexing: %w", err)
	}
	s.logger.Info("index rebuilt", "owner", owner, "nodes", len(summaries))
	return len(summaries), nil
}

// Search resolves keyword hits back to owner's active nodes. Stale index
// entries are skipped.
func (s *Service) Search(ctx context.Context, owner int64, keyword string, index SearchIndex) ([]*Node, error) {
	ids, err := index.Search(ctx, keyword, owner)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	var out []*Node
	for _, id := range ids {
		n, err := s.database.FindNode(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading search hit: %w", err)
		}
		if n == nil || n.OwnerID != owner || n.State != StateActive {
			continue
		}
		out = append(out, n)
	}
	return sortNodes(out), nil
}
