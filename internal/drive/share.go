package drive

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/samber/lo"
)

const (
	shareCodeLength   = 8
	shareCodeAttempts = 5
)

// ShareOptions controls a new share.
type ShareOptions struct {
	// ExtractionCode is required from visitors when set. When empty and
	// RequireExtraction is true a four-digit code is generated.
	ExtractionCode    string
	RequireExtraction bool
	// ExpireDays <= 0 means the share never expires.
	ExpireDays int
}

// ShareResolver publishes subtrees under a code and gates every access to
// them with an ancestor-chain containment check.
type ShareResolver struct {
	database Database
	tree     *NamespaceTree
	blobs    BlobStore
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	metrics  Metrics
}

// NewShareResolver creates a resolver.
func NewShareResolver(database Database, tree *NamespaceTree, blobs BlobStore, logger Logger, clock Clock, idgen IDGenerator, metrics Metrics) *ShareResolver {
	return &ShareResolver{
		database: database,
		tree:     tree,
		blobs:    blobs,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		metrics:  metrics,
	}
}

// Containment reports whether nodeID is rootID or lies below it. A broken
// ancestor chain reads as false.
func (s *ShareResolver) Containment(ctx context.Context, nodeID, rootID int64) (bool, error) {
	return s.tree.contains(ctx, nodeID, rootID)
}

func (s *ShareResolver) newCode() string {
	code := s.idgen.New()
	if len(code) > shareCodeLength {
		code = code[:shareCodeLength]
	}
	return code
}

// CreateShare publishes owner's active node.
func (s *ShareResolver) CreateShare(ctx context.Context, owner, nodeID int64, opts ShareOptions) (*Share, error) {
	n, err := s.tree.Get(ctx, nodeID, owner)
	if err != nil {
		return nil, err
	}
	if n.State != StateActive {
		return nil, fmt.Errorf("node %d is not active: %w", nodeID, ErrNotFound)
	}

	extraction := opts.ExtractionCode
	if extraction == "" && opts.RequireExtraction {
		extraction = strconv.Itoa(rand.Intn(9000) + 1000)
	}
	now := s.clock.Now()
	var expires time.Time
	if opts.ExpireDays > 0 {
		expires = now.AddDate(0, 0, opts.ExpireDays)
	}

	b := &backoff.Backoff{Min: 5 * time.Millisecond, Max: 200 * time.Millisecond, Factor: 2, Jitter: true}
	for attempt := 1; ; attempt++ {
		share := &Share{
			OwnerID:        owner,
			RootNodeID:     n.ID,
			Code:           s.newCode(),
			ExtractionCode: extraction,
			Status:         ShareActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if !expires.IsZero() {
			share.ExpiresAt.Time, share.ExpiresAt.Valid = expires, true
		}
		created, err := s.database.CreateShare(ctx, share)
		if err == nil {
			s.logger.Info("share created", "owner", owner, "node", n.ID, "code", created.Code)
			return created, nil
		}
		if !errors.Is(err, ErrNameConflict) || attempt >= shareCodeAttempts {
			return nil, fmt.Errorf("creating share: %w", err)
		}
		s.logger.Debug("share code collision, retrying", "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}

// ResolveShare returns the active, unexpired share with code.
func (s *ShareResolver) ResolveShare(ctx context.Context, code string) (*Share, error) {
	share, err := s.database.FindShareByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("finding share: %w", err)
	}
	if share == nil || share.Status != ShareActive || share.Expired(s.clock.Now()) {
		return nil, fmt.Errorf("share %q: %w", code, ErrNotFound)
	}
	return share, nil
}

// Authorize checks a visitor's extraction code.
func (s *ShareResolver) Authorize(share *Share, extractionCode string) error {
	if share.ExtractionCode == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(share.ExtractionCode), []byte(extractionCode)) != 1 {
		return fmt.Errorf("wrong extraction code for share %q: %w", share.Code, ErrPermissionDenied)
	}
	return nil
}

// Open resolves and authorizes a share and counts the view.
func (s *ShareResolver) Open(ctx context.Context, code, extractionCode string) (*Share, error) {
	share, err := s.ResolveShare(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.Authorize(share, extractionCode); err != nil {
		return nil, err
	}
	s.bump(ctx, share, CounterViews)
	return share, nil
}

// bump increments a share counter. Failures are logged only.
func (s *ShareResolver) bump(ctx context.Context, share *Share, counter ShareCounter) {
	s.metrics.ShareAccessed(counter)
	if err := s.database.IncrementShareCounter(ctx, share.ID, counter); err != nil {
		s.logger.Warn("incrementing share counter failed", "share", share.ID, "counter", string(counter), "error", err)
	}
}

// inside fails with ErrPermissionDenied unless nodeID lies in the share.
func (s *ShareResolver) inside(ctx context.Context, share *Share, nodeID int64) error {
	ok, err := s.Containment(ctx, nodeID, share.RootNodeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("node %d is outside share %q: %w", nodeID, share.Code, ErrPermissionDenied)
	}
	return nil
}

// sharedNode loads an active node of the share's owner.
func (s *ShareResolver) sharedNode(ctx context.Context, share *Share, nodeID int64) (*Node, error) {
	n, err := s.tree.Get(ctx, nodeID, share.OwnerID)
	if err != nil {
		return nil, err
	}
	if n.State != StateActive {
		return nil, fmt.Errorf("node %d is not active: %w", nodeID, ErrNotFound)
	}
	return n, nil
}

// ListShared lists folderID inside the share. folderID 0 selects the shared
// root. A shared file lists as itself. Each listing inside the share counts
// as a view.
func (s *ShareResolver) ListShared(ctx context.Context, share *Share, folderID int64) ([]*Node, error) {
	if folderID == RootID {
		folderID = share.RootNodeID
	}
	if err := s.inside(ctx, share, folderID); err != nil {
		return nil, err
	}
	defer s.bump(ctx, share, CounterViews)

	n, err := s.sharedNode(ctx, share, folderID)
	if err != nil {
		return nil, err
	}
	if !n.IsDir {
		return []*Node{n}, nil
	}
	children, err := s.database.ListChildren(ctx, share.OwnerID, n.ID)
	if err != nil {
		return nil, fmt.Errorf("listing shared folder: %w", err)
	}
	return sortNodes(lo.Filter(children, func(c *Node, _ int) bool { return c.State == StateActive })), nil
}

// SaveToDrive copies a node from inside the share into owner's targetParentID.
// Only active nodes are copied. The save counter moves whether or not the
// copy succeeds.
func (s *ShareResolver) SaveToDrive(ctx context.Context, share *Share, sourceNodeID, targetParentID, owner int64) (*Node, error) {
	if err := s.inside(ctx, share, sourceNodeID); err != nil {
		return nil, err
	}
	defer s.bump(ctx, share, CounterSaves)

	n, err := s.tree.copyTree(ctx, share.OwnerID, sourceNodeID, owner, targetParentID, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("saved from share", "share", share.Code, "source", sourceNodeID, "owner", owner, "node", n.ID)
	return n, nil
}

// DownloadURL returns a presigned URL for a file inside the share.
func (s *ShareResolver) DownloadURL(ctx context.Context, share *Share, nodeID int64, ttl time.Duration) (string, error) {
	if err := s.inside(ctx, share, nodeID); err != nil {
		return "", err
	}
	s.bump(ctx, share, CounterDownloads)

	n, err := s.sharedNode(ctx, share, nodeID)
	if err != nil {
		return "", err
	}
	if n.IsDir {
		return "", fmt.Errorf("node %d is a folder: %w", nodeID, ErrInvalidArgument)
	}
	c, err := s.tree.registry.Get(ctx, n.ContentID)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.PresignedURL(ctx, c.StorageKey, ttl)
	if err != nil {
		return "", backendErr("presigning download", err)
	}
	return url, nil
}

// CancelShare voids owner's share.
func (s *ShareResolver) CancelShare(ctx context.Context, owner, shareID int64) error {
	share, err := s.database.FindShareByID(ctx, shareID)
	if err != nil {
		return fmt.Errorf("finding share: %w", err)
	}
	if share == nil || share.OwnerID != owner {
		return fmt.Errorf("share %d: %w", shareID, ErrNotFound)
	}
	if share.Status == ShareCancelled {
		return nil
	}
	if err := s.database.SetShareStatus(ctx, share.ID, ShareCancelled, s.clock.Now()); err != nil {
		return fmt.Errorf("cancelling share: %w", err)
	}
	s.logger.Info("share cancelled", "owner", owner, "code", share.Code)
	return nil
}

// CancelShares voids several of owner's shares. Every id is checked before
// anything changes; one unknown or foreign id fails the whole batch.
func (s *ShareResolver) CancelShares(ctx context.Context, owner int64, shareIDs []int64) (int, error) {
	shareIDs = lo.Uniq(shareIDs)
	if len(shareIDs) == 0 {
		return 0, fmt.Errorf("no shares given: %w", ErrInvalidArgument)
	}
	var pending []*Share
	for _, id := range shareIDs {
		share, err := s.database.FindShareByID(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("finding share: %w", err)
		}
		if share == nil || share.OwnerID != owner {
			return 0, fmt.Errorf("share %d: %w", id, ErrNotFound)
		}
		if share.Status != ShareCancelled {
			pending = append(pending, share)
		}
	}

	now := s.clock.Now()
	for i, share := range pending {
		if err := s.database.SetShareStatus(ctx, share.ID, ShareCancelled, now); err != nil {
			return i, fmt.Errorf("cancelling share %d: %w", share.ID, err)
		}
	}
	s.logger.Info("shares cancelled", "owner", owner, "count", len(pending))
	return len(pending), nil
}

// ListShares returns owner's active, unexpired shares, newest first.
func (s *ShareResolver) ListShares(ctx context.Context, owner int64) ([]*Share, error) {
	shares, err := s.database.ListSharesByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing shares: %w", err)
	}
	now := s.clock.Now()
	return lo.Filter(shares, func(sh *Share, _ int) bool {
		return sh.Status == ShareActive && !sh.Expired(now)
	}), nil
}
