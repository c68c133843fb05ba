package drive

import (
	"database/sql"
	"time"
)

// RootID is the parent id of every top-level node.
const RootID int64 = 0

// ContentStatus marks whether a content object can be served.
type ContentStatus string

const (
	ContentUsable   ContentStatus = "usable"
	ContentUnusable ContentStatus = "unusable"
)

// ContentRelease is the outcome of dropping one content reference.
type ContentRelease int

const (
	// ReleaseSkipped means the reference was already gone.
	ReleaseSkipped ContentRelease = iota
	// ReleaseDropped means other references remain.
	ReleaseDropped
	// ReleaseLast means the content is now unusable and its blob must go.
	ReleaseLast
)

// Content is a unique physical payload in the blob store, shared by every
// node whose bytes hash to Hash.
type Content struct {
	ID         int64
	Hash       string
	StorageKey string
	Size       int64
	MediaType  string
	RefCount   int64
	Status     ContentStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Node is one file or folder in an owner's tree.
type Node struct {
	ID        int64
	OwnerID   int64
	ParentID  int64
	Name      string
	IsDir     bool
	ContentID int64 // 0 for directories
	Size      int64
	MediaType string
	State     NodeState
	Starred   bool
	Downloads int64
	CreatedAt time.Time
	UpdatedAt time.Time
	TrashedAt sql.NullTime
}

// ShareStatus is the lifecycle of a share link.
type ShareStatus string

const (
	ShareActive    ShareStatus = "active"
	ShareCancelled ShareStatus = "cancelled"
)

// Share binds a root node to a public code.
type Share struct {
	ID             int64
	OwnerID        int64
	RootNodeID     int64
	Code           string
	ExtractionCode string
	ExpiresAt      sql.NullTime
	Views          int64
	Downloads      int64
	Saves          int64
	Status         ShareStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired reports whether a time-limited share is past its expiry at now.
func (s *Share) Expired(now time.Time) bool {
	return s.ExpiresAt.Valid && !now.Before(s.ExpiresAt.Time)
}

// ShareCounter selects which share counter to increment.
type ShareCounter string

const (
	CounterViews     ShareCounter = "views"
	CounterDownloads ShareCounter = "downloads"
	CounterSaves     ShareCounter = "saves"
)

// Quota is the per-owner space accounting.
type Quota struct {
	OwnerID   int64
	Total     int64
	Used      int64
	UpdatedAt time.Time
}

// QuotaInfo is a read model of Quota for display.
type QuotaInfo struct {
	Total        int64
	Used         int64
	Available    int64
	UsagePercent float64
}

// PathEntry is one breadcrumb element.
type PathEntry struct {
	ID   int64
	Name string
}

// NodeSummary is what the search index receives about a node.
type NodeSummary struct {
	ID        int64
	OwnerID   int64
	ParentID  int64
	Name      string
	IsDir     bool
	Size      int64
	MediaType string
	UpdatedAt time.Time
}

// Summary returns the search summary of n.
func (n *Node) Summary() NodeSummary {
	return NodeSummary{
		ID:        n.ID,
		OwnerID:   n.OwnerID,
		ParentID:  n.ParentID,
		Name:      n.Name,
		IsDir:     n.IsDir,
		Size:      n.Size,
		MediaType: n.MediaType,
		UpdatedAt: n.UpdatedAt,
	}
}

// Operation is one journaled CLI invocation.
type Operation struct {
	ID         int64
	Name       string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}
