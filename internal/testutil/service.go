package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/whrgg/cloud-drive-project/internal/database"
	"github.com/whrgg/cloud-drive-project/internal/drive"
	"github.com/whrgg/cloud-drive-project/internal/search"
)

// DefaultTestQuota is the per-owner total used by NewEnv (1 GiB).
const DefaultTestQuota int64 = 1 << 30

// SyncPublisher applies index notifications immediately, so tests can search
// right after a write. It also remembers deleted ids.
type SyncPublisher struct {
	Index *search.MemoryIndex

	mu      sync.Mutex
	deleted []int64
}

func (p *SyncPublisher) PublishIndex(n drive.NodeSummary) { _ = p.Index.Index(context.Background(), n) }
func (p *SyncPublisher) PublishUpdate(n drive.NodeSummary) {
	_ = p.Index.Update(context.Background(), n)
}

func (p *SyncPublisher) PublishDelete(id int64) {
	_ = p.Index.Delete(context.Background(), id)
	p.mu.Lock()
	p.deleted = append(p.deleted, id)
	p.mu.Unlock()
}

// Deleted returns every id passed to PublishDelete.
func (p *SyncPublisher) Deleted() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.deleted...)
}

// Env is a fully wired drive.Service over in-memory backends.
type Env struct {
	Service   *drive.Service
	DB        *database.SQLiteDatabase
	Blobs     *FaultyBlobStore
	Clock     *StubClock
	Publisher *SyncPublisher
}

// NewEnv builds an Env. A zero DefaultQuota selects DefaultTestQuota.
func NewEnv(t *testing.T, opts drive.Options) *Env {
	t.Helper()
	if opts.DefaultQuota == 0 {
		opts.DefaultQuota = DefaultTestQuota
	}
	env := &Env{
		DB:        NewTestDatabase(t),
		Blobs:     NewFaultyBlobStore(NewTestBlobStore()),
		Clock:     FixedClock(),
		Publisher: &SyncPublisher{Index: search.NewMemoryIndex()},
	}
	env.Service = drive.NewService(env.DB, env.Blobs, env.Publisher, nil, drive.NewNopLogger(), env.Clock, NewStubIDGenerator(), opts)
	return env
}
