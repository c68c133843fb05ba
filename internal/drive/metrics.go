package drive

// Metrics records domain events. Implementations must be safe for concurrent use.
type Metrics interface {
	ContentRegistered(reused bool, size int64)
	ContentReleased(deleted bool)
	MergeFinished(outcome string, chunks int)
	NodesPurged(files int, bytes int64)
	QuotaRejected()
	ShareAccessed(counter ShareCounter)
}

// Merge outcomes reported to Metrics.
const (
	MergeOK         = "ok"
	MergeIncomplete = "incomplete"
	MergeFailed     = "failed"
)

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ContentRegistered(bool, int64) {}
func (NopMetrics) ContentReleased(bool)          {}
func (NopMetrics) MergeFinished(string, int)     {}
func (NopMetrics) NodesPurged(int, int64)        {}
func (NopMetrics) QuotaRejected()                {}
func (NopMetrics) ShareAccessed(ShareCounter)    {}
