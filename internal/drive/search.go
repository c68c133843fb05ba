package drive

import "context"

// SearchIndex is the full-text index over node names. The core only ever
// talks to it through an asynchronous publisher; failures never reach callers.
type SearchIndex interface {
	Index(ctx context.Context, n NodeSummary) error
	Update(ctx context.Context, n NodeSummary) error
	Delete(ctx context.Context, nodeID int64) error
	BulkIndex(ctx context.Context, nodes []NodeSummary) error
	Search(ctx context.Context, keyword string, owner int64) ([]int64, error)
}

// IndexPublisher accepts index notifications without blocking the caller.
type IndexPublisher interface {
	PublishIndex(n NodeSummary)
	PublishUpdate(n NodeSummary)
	PublishDelete(nodeID int64)
}

// NopPublisher drops every notification.
type NopPublisher struct{}

func (NopPublisher) PublishIndex(NodeSummary)  {}
func (NopPublisher) PublishUpdate(NodeSummary) {}
func (NopPublisher) PublishDelete(int64)       {}
