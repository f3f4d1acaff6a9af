package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/groundd/internal/embeddings"

// Metrics holds embedding instruments.
type Metrics struct {
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates embedding instruments on mp's meter.
func NewMetrics(mp metric.MeterProvider, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{logger: logger}
	meter := mp.Meter(instrumentationName)

	var err error
	m.duration, err = meter.Float64Histogram(
		"groundd.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding calls in seconds, labeled by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"groundd.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"groundd.embedding.errors_total",
		metric.WithDescription("Total embedding errors by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}
	return m
}

// RecordGeneration records one embedding call.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

type instrumented struct {
	Provider
	metrics *Metrics
	model   string
}

func (p *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := p.Provider.EmbedDocuments(ctx, texts)
	p.metrics.RecordGeneration(ctx, p.model, "embed_documents", time.Since(start), len(texts), err)
	return vectors, err
}

func (p *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := p.Provider.EmbedQuery(ctx, text)
	p.metrics.RecordGeneration(ctx, p.model, "embed_query", time.Since(start), 1, err)
	return vector, err
}
