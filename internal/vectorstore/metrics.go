package vectorstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: backend, op, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"backend", "op", "result"},
	)

	// OperationDuration tracks how long store operations take.
	// Labels: backend, op
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "groundd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// RecordsInserted counts records written.
	RecordsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundd",
			Subsystem: "vectorstore",
			Name:      "records_inserted_total",
			Help:      "Total number of records inserted",
		},
		[]string{"backend"},
	)
)

// instrumented records Prometheus metrics around another Store.
type instrumented struct {
	Store
	backend string
}

// Instrument wraps store so every operation is counted and timed.
func Instrument(store Store, backend string) Store {
	if backend == "" {
		backend = "chromem"
	}
	return &instrumented{Store: store, backend: backend}
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(s.backend, op, result).Inc()
	OperationDuration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
}

func (s *instrumented) EnsurePartition(ctx context.Context, partition string) error {
	start := time.Now()
	err := s.Store.EnsurePartition(ctx, partition)
	s.observe("ensure_partition", start, err)
	return err
}

func (s *instrumented) Insert(ctx context.Context, partition string, records []Record) error {
	start := time.Now()
	err := s.Store.Insert(ctx, partition, records)
	s.observe("insert", start, err)
	if err == nil {
		RecordsInserted.WithLabelValues(s.backend).Add(float64(len(records)))
	}
	return err
}

func (s *instrumented) Search(ctx context.Context, embedding []float32, partition string, limit int) ([]Match, error) {
	start := time.Now()
	matches, err := s.Store.Search(ctx, embedding, partition, limit)
	s.observe("search", start, err)
	return matches, err
}

func (s *instrumented) DeleteSubject(ctx context.Context, subject, partition string) error {
	start := time.Now()
	err := s.Store.DeleteSubject(ctx, subject, partition)
	s.observe("delete_subject", start, err)
	return err
}

func (s *instrumented) DeletePartition(ctx context.Context, partition string) error {
	start := time.Now()
	err := s.Store.DeletePartition(ctx, partition)
	s.observe("delete_partition", start, err)
	return err
}
