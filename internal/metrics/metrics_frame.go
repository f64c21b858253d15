package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts completed simulation frames
	FramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_frames_total",
			Help: "Total number of completed frames",
		},
	)

	// FramePeakBytes tracks the frame allocator high-water mark
	FramePeakBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumen_frame_peak_bytes",
			Help: "Highest number of bytes used by the frame allocator in a single frame",
		},
	)

	// FrameBytesUsed observes bytes used by the frame allocator per frame
	FrameBytesUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumen_frame_bytes_used",
			Help:    "Bytes used by the frame allocator at the end of each frame",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// FrameDiscardedAllocationsTotal counts transient allocations still live at frame end
	FrameDiscardedAllocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_frame_discarded_allocations_total",
			Help: "Total number of frame allocations discarded by the end-of-frame reset",
		},
	)

	// FrameDurationSeconds measures wall time per frame
	FrameDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumen_frame_duration_seconds",
			Help:    "Duration of simulation frames",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)
)
