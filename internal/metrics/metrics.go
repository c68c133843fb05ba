// Package metrics is the Prometheus implementation of drive.Metrics.
//
// The CLI is short-lived, so there is no scrape endpoint: when a textfile
// path is configured the registry is written on exit for node_exporter's
// textfile collector.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/whrgg/cloud-drive-project/internal/drive"
)

type driveMetrics struct {
	contentsRegistered *prometheus.CounterVec
	bytesRegistered    prometheus.Counter
	contentsReleased   *prometheus.CounterVec
	merges             *prometheus.CounterVec
	mergeChunks        prometheus.Histogram
	filesPurged        prometheus.Counter
	bytesPurged        prometheus.Counter
	quotaRejections    prometheus.Counter
	shareAccesses      *prometheus.CounterVec
}

// New registers drive metrics on reg. A nil registry disables metrics.
func New(reg *prometheus.Registry) drive.Metrics {
	if reg == nil {
		return drive.NopMetrics{}
	}

	return &driveMetrics{
		contentsRegistered: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "drive_contents_registered_total",
				Help: "Content registrations by whether an existing payload was reused",
			},
			[]string{"reused"},
		),
		bytesRegistered: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "drive_content_bytes_stored_total",
				Help: "Bytes written to the blob store for new contents",
			},
		),
		contentsReleased: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "drive_contents_released_total",
				Help: "Content releases by whether the payload was deleted",
			},
			[]string{"deleted"},
		),
		merges: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "drive_chunk_merges_total",
				Help: "Chunk merges by outcome",
			},
			[]string{"outcome"},
		),
		mergeChunks: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "drive_chunk_merge_chunks",
				Help:    "Number of chunks per merge",
				Buckets: []float64{1, 4, 16, 64, 256, 1024},
			},
		),
		filesPurged: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "drive_files_purged_total",
				Help: "Files permanently removed from trash",
			},
		),
		bytesPurged: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "drive_bytes_purged_total",
				Help: "Logical bytes released by purges",
			},
		),
		quotaRejections: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "drive_quota_rejections_total",
				Help: "Writes rejected for exceeding quota",
			},
		),
		shareAccesses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "drive_share_accesses_total",
				Help: "Share accesses by counter",
			},
			[]string{"counter"},
		),
	}
}

func (m *driveMetrics) ContentRegistered(reused bool, size int64) {
	m.contentsRegistered.WithLabelValues(strconv.FormatBool(reused)).Inc()
	if !reused {
		m.bytesRegistered.Add(float64(size))
	}
}

func (m *driveMetrics) ContentReleased(deleted bool) {
	m.contentsReleased.WithLabelValues(strconv.FormatBool(deleted)).Inc()
}

func (m *driveMetrics) MergeFinished(outcome string, chunks int) {
	m.merges.WithLabelValues(outcome).Inc()
	m.mergeChunks.Observe(float64(chunks))
}

func (m *driveMetrics) NodesPurged(files int, bytes int64) {
	m.filesPurged.Add(float64(files))
	m.bytesPurged.Add(float64(bytes))
}

func (m *driveMetrics) QuotaRejected() {
	m.quotaRejections.Inc()
}

func (m *driveMetrics) ShareAccessed(counter drive.ShareCounter) {
	m.shareAccesses.WithLabelValues(string(counter)).Inc()
}

// WriteTextfile writes every metric in reg to path in the text exposition format.
func WriteTextfile(reg *prometheus.Registry, path string) error {
	if reg == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
