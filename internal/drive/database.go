package drive

import (
	"context"
	"time"
)

// Database provides metadata storage for contents, nodes, shares and quotas.
// Lookups return (nil, nil) when the row does not exist.
type Database interface {
	// Content operations

	// FindContentByHash returns the content object with the given hash.
	FindContentByHash(ctx context.Context, hash string) (*Content, error)

	// FindContentByID returns the content object with the given id.
	FindContentByID(ctx context.Context, id int64) (*Content, error)

	// CreateContent inserts a content object. Returns ErrDuplicateContent if
	// the hash is already registered.
	CreateContent(ctx context.Context, c *Content) (*Content, error)

	// RetainContent adds one reference to a usable content object and returns
	// the new count. Returns ErrNotFound for a missing row and
	// ErrInvalidTransition for a content that is being removed.
	RetainContent(ctx context.Context, id int64) (int64, error)

	// ReleaseContent drops one reference in a single transaction. With a
	// non-zero nodeID the reference is the node's: the release is skipped
	// unless the node still points at id, and the pointer is cleared with the
	// decrement. The last reference is not decremented; the content is marked
	// unusable and ReleaseLast is returned so the caller can remove the blob.
	ReleaseContent(ctx context.Context, id, nodeID int64) (ContentRelease, error)

	// SetContentStatus updates a content's status.
	SetContentStatus(ctx context.Context, id int64, status ContentStatus) error

	// DeleteContent removes a content row and, for a non-zero nodeID, clears
	// that node's pointer to it in the same transaction.
	DeleteContent(ctx context.Context, id, nodeID int64) error

	// Node operations

	// CreateNode inserts a node. Returns ErrNameConflict if the owner already
	// has a sibling with the same name under the same parent.
	CreateNode(ctx context.Context, n *Node) (*Node, error)

	// FindNode returns a node by id regardless of owner.
	FindNode(ctx context.Context, id int64) (*Node, error)

	// FindChildByName returns the sibling named name under parentID.
	FindChildByName(ctx context.Context, owner, parentID int64, name string) (*Node, error)

	// ListChildren returns every child of parentID for owner, in any state.
	ListChildren(ctx context.Context, owner, parentID int64) ([]*Node, error)

	// ListNodesByState returns all of owner's nodes in the given state.
	ListNodesByState(ctx context.Context, owner int64, state NodeState) ([]*Node, error)

	// ListStarred returns owner's active starred nodes.
	ListStarred(ctx context.Context, owner int64) ([]*Node, error)

	// RenameNode sets a node's name. Returns ErrNameConflict on collision.
	RenameNode(ctx context.Context, id int64, name string, at time.Time) error

	// MoveNode sets a node's parent. Returns ErrNameConflict on collision.
	MoveNode(ctx context.Context, id int64, parentID int64, at time.Time) error

	// SetNodeStates sets the state of all ids in a single transaction.
	SetNodeStates(ctx context.Context, ids []int64, state NodeState, at time.Time) error

	// SetNodeStarred sets the starred flag.
	SetNodeStarred(ctx context.Context, id int64, starred bool) error

	// IncrementNodeDownloads bumps the download counter.
	IncrementNodeDownloads(ctx context.Context, id int64) error

	// DeleteNodes removes node rows in a single transaction.
	DeleteNodes(ctx context.Context, ids []int64) error

	// Share operations

	// CreateShare inserts a share. Returns ErrNameConflict if the code is taken.
	CreateShare(ctx context.Context, s *Share) (*Share, error)

	// FindShareByCode returns the share with the given code.
	FindShareByCode(ctx context.Context, code string) (*Share, error)

	// FindShareByID returns the share with the given id.
	FindShareByID(ctx context.Context, id int64) (*Share, error)

	// ListSharesByOwner returns owner's shares, newest first.
	ListSharesByOwner(ctx context.Context, owner int64) ([]*Share, error)

	// SetShareStatus updates a share's status.
	SetShareStatus(ctx context.Context, id int64, status ShareStatus, at time.Time) error

	// IncrementShareCounter bumps one of the share counters.
	IncrementShareCounter(ctx context.Context, id int64, counter ShareCounter) error

	// Quota operations

	// FindQuota returns owner's quota row.
	FindQuota(ctx context.Context, owner int64) (*Quota, error)

	// AdjustQuota adds delta to owner's used space in a single transaction,
	// creating the row with defaultTotal when missing. Growth past the total
	// returns ErrQuotaExceeded without writing. A result below zero is stored
	// as zero and reported through the bool.
	AdjustQuota(ctx context.Context, owner, delta, defaultTotal int64, at time.Time) (*Quota, bool, error)

	// SetQuotaTotal writes owner's total, keeping used space.
	SetQuotaTotal(ctx context.Context, owner, total int64, at time.Time) (*Quota, error)

	// Operation journal

	// CreateOperation records the start of a CLI operation.
	CreateOperation(ctx context.Context, name, parameters string, at time.Time) (*Operation, error)

	// FinishOperation records how an operation ended.
	FinishOperation(ctx context.Context, id int64, status string, at time.Time) error

	// ListOperations returns up to limit operations, newest first.
	ListOperations(ctx context.Context, limit int) ([]*Operation, error)

	// Close closes the database connection.
	Close() error
}
