package evaluation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished test runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundd",
			Subsystem: "evaluation",
			Name:      "runs_total",
			Help:      "Total number of test runs by final status",
		},
		[]string{"status"},
	)

	// QuestionFailures counts questions scored zero, by error kind.
	QuestionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundd",
			Subsystem: "evaluation",
			Name:      "question_failures_total",
			Help:      "Total number of test questions that failed",
		},
		[]string{"kind"},
	)

	// QuestionDuration tracks the replay and scoring time of a question.
	QuestionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "groundd",
			Subsystem: "evaluation",
			Name:      "question_duration_seconds",
			Help:      "Duration of a scored test question in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)
