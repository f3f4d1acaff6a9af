package ingestion

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
)

var (
	// ChunksTotal counts chunks written to the vector store.
	ChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "groundd",
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Total number of chunks indexed",
		},
	)

	// DocumentsTotal counts finished ingestions.
	// Labels: result (success, or the error kind)
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundd",
			Subsystem: "ingestion",
			Name:      "documents_total",
			Help:      "Total number of document ingestions",
		},
		[]string{"result"},
	)

	// Duration tracks whole-document ingestion latency.
	Duration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "groundd",
			Subsystem: "ingestion",
			Name:      "duration_seconds",
			Help:      "Duration of document ingestion in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		},
	)

	// SweptTotal counts documents failed by the stale sweep.
	SweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "groundd",
			Subsystem: "ingestion",
			Name:      "swept_total",
			Help:      "Total number of stale documents failed by the sweep",
		},
	)
)

func observe(err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = string(errkind.KindOf(err))
	}
	DocumentsTotal.WithLabelValues(result).Inc()
	Duration.Observe(elapsed.Seconds())
}
