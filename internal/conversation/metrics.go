package conversation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
)

var (
	// TurnsTotal counts finished turns.
	// Labels: mode (batch, stream), result (success, or the error kind)
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundd",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"mode", "result"},
	)

	// StageDuration tracks the latency of each turn stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "groundd",
			Subsystem: "conversation",
			Name:      "stage_duration_seconds",
			Help:      "Duration of conversation turn stages in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
)

func observeStage(stage Stage, start, end time.Time) {
	if start.IsZero() || end.IsZero() {
		return
	}
	StageDuration.WithLabelValues(string(stage)).Observe(end.Sub(start).Seconds())
}

func countTurn(mode string, err error) {
	result := "success"
	if err != nil {
		result = string(errkind.KindOf(err))
	}
	TurnsTotal.WithLabelValues(mode, result).Inc()
}
