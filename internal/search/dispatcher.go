package search

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/whrgg/cloud-drive-project/internal/drive"
)

// DefaultQueueSize is used when a Dispatcher is created with a size <= 0.
const DefaultQueueSize = 256

type eventKind int

const (
	eventIndex eventKind = iota
	eventUpdate
	eventDelete
	eventFlush
)

type event struct {
	kind    eventKind
	node    drive.NodeSummary
	nodeID  int64
	flushed chan struct{}
}

// Dispatcher applies index notifications on a single background worker.
// Publishing never blocks: when the queue is full the event is dropped and
// counted. Index errors are logged and never surface to publishers.
type Dispatcher struct {
	index  drive.SearchIndex
	logger drive.Logger
	queue  chan event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewDispatcher starts the worker.
func NewDispatcher(index drive.SearchIndex, logger drive.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = drive.NewNopLogger()
	}
	d := &Dispatcher{
		index:  index,
		logger: logger,
		queue:  make(chan event, queueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) PublishIndex(n drive.NodeSummary) {
	d.publish(event{kind: eventIndex, node: n, nodeID: n.ID})
}

func (d *Dispatcher) PublishUpdate(n drive.NodeSummary) {
	d.publish(event{kind: eventUpdate, node: n, nodeID: n.ID})
}

func (d *Dispatcher) PublishDelete(nodeID int64) {
	d.publish(event{kind: eventDelete, nodeID: nodeID})
}

func (d *Dispatcher) publish(ev event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("search queue full, dropping event", "node_id", ev.nodeID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	ctx := context.Background()
	for ev := range d.queue {
		var err error
		switch ev.kind {
		case eventIndex:
			err = d.index.Index(ctx, ev.node)
		case eventUpdate:
			err = d.index.Update(ctx, ev.node)
		case eventDelete:
			err = d.index.Delete(ctx, ev.nodeID)
		case eventFlush:
			close(ev.flushed)
			continue
		}
		if err != nil {
			d.failed.Add(1)
			d.logger.Warn("search index update failed", "node_id", ev.nodeID, "error", err)
		}
	}
}

// Flush waits until every event published before the call has been applied.
// Unlike publishing it blocks while the queue is full.
func (d *Dispatcher) Flush(ctx context.Context) error {
	ev := event{kind: eventFlush, flushed: make(chan struct{})}
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil
	}
	select {
	case d.queue <- ev:
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-ev.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Failed returns how many events the index rejected.
func (d *Dispatcher) Failed() int64 { return d.failed.Load() }

var _ drive.IndexPublisher = (*Dispatcher)(nil)
