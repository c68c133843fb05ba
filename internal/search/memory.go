package search

import (
	"context"
	"sort"
	"sync"

	"github.com/whrgg/cloud-drive-project/internal/drive"
)

// MemoryIndex is an in-memory Index. It is safe for concurrent use.
type MemoryIndex struct {
	mu    sync.RWMutex
	nodes map[int64]drive.NodeSummary
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{nodes: make(map[int64]drive.NodeSummary)}
}

func (m *MemoryIndex) Index(ctx context.Context, n drive.NodeSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = n
	return nil
}

func (m *MemoryIndex) Update(ctx context.Context, n drive.NodeSummary) error {
	return m.Index(ctx, n)
}

func (m *MemoryIndex) Delete(ctx context.Context, nodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, nodeID)
	return nil
}

func (m *MemoryIndex) BulkIndex(ctx context.Context, nodes []drive.NodeSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range nodes {
		m.nodes[n.ID] = n
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, keyword string, owner int64) ([]int64, error) {
	keyword = normalize(keyword)
	if keyword == "" {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for id, n := range m.nodes {
		if matches(n, keyword, owner) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Len returns the number of indexed nodes.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

func (m *MemoryIndex) Close() error { return nil }

var _ Index = (*MemoryIndex)(nil)
