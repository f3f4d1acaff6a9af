// Package ingestion indexes documents into their project's vector partition.
//
// A document's text is split into chunks, one per non-blank line. Chunks
// are embedded in batches and upserted with deterministic ids
// {document_id}_{index}, so re-running an ingestion overwrites rather than
// duplicates. A document only becomes ready once every batch is stored;
// any failure marks it failed and removes what was already written.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/embeddings"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/events"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/repository"
	"github.com/fyrsmithlabs/groundd/internal/vectorstore"
)

const (
	// DefaultBatchSize is the number of chunks embedded per request.
	DefaultBatchSize = 100

	// DefaultStaleAfter is how long a document may stay uploading before
	// the sweep fails it.
	DefaultStaleAfter = 6 * time.Hour
)

var tracer = otel.Tracer("groundd.ingestion")

var (
	// ErrEmptyDocument is returned for documents without a non-blank line.
	ErrEmptyDocument = errors.New("document has no content")

	// ErrStale is recorded on documents failed by the sweep.
	ErrStale = errors.New("ingestion did not finish in time")
)

// TextSource returns the raw text of a document.
type TextSource interface {
	Document(ctx context.Context, d *repository.Document) (string, error)
}

// Config tunes the pipeline.
type Config struct {
	BatchSize  int
	StaleAfter time.Duration
}

// ConfigFrom maps the ingestion section of the service configuration.
func ConfigFrom(cfg config.IngestionConfig) Config {
	return Config{
		BatchSize:  cfg.BatchSize,
		StaleAfter: cfg.StaleAfter.OrDefault(DefaultStaleAfter),
	}
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store    repository.DocumentStore
	Vectors  vectorstore.Store
	Embedder embeddings.Embedder
	Source   TextSource
	Events   events.Publisher
	Logger   *logging.Logger
	Now      func() time.Time
}

// Pipeline ingests and deletes documents.
type Pipeline struct {
	cfg      Config
	store    repository.DocumentStore
	vectors  vectorstore.Store
	embedder embeddings.Embedder
	source   TextSource
	events   events.Publisher
	logger   *logging.Logger
	now      func() time.Time
}

// New returns a Pipeline. Store, Vectors, Embedder and Source are required.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("ingestion: store is required")
	case deps.Vectors == nil:
		return nil, errors.New("ingestion: vector store is required")
	case deps.Embedder == nil:
		return nil, errors.New("ingestion: embedder is required")
	case deps.Source == nil:
		return nil, errors.New("ingestion: text source is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{
		cfg:      cfg,
		store:    deps.Store,
		vectors:  deps.Vectors,
		embedder: deps.Embedder,
		source:   deps.Source,
		events:   deps.Events,
		logger:   deps.Logger.Named("ingestion"),
		now:      deps.Now,
	}, nil
}

// Chunks splits text into trimmed non-blank lines.
func Chunks(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Ingest indexes doc into the partition of its project and returns the
// number of stored chunks. The document moves to uploading, then to ready
// or failed. Cancellation is checked between batches.
func (p *Pipeline) Ingest(ctx context.Context, doc *repository.Document) (n int, err error) {
	ctx = logging.WithDocumentID(logging.WithProjectID(ctx, doc.ProjectID), doc.ID)
	ctx, span := tracer.Start(ctx, "ingestion.Ingest")
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.String("document.type", string(doc.Type)),
	)
	start := p.now()
	defer func() {
		observe(err, p.now().Sub(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := p.setStatus(ctx, doc, repository.DocumentUploading, ""); err != nil {
		return 0, err
	}
	p.publish(ctx, events.New(events.EntityDocument, doc.ID, events.Started))

	n, err = p.index(ctx, doc)
	if err != nil {
		p.fail(ctx, doc, err)
		return 0, err
	}

	if err := p.setStatus(ctx, doc, repository.DocumentReady, ""); err != nil {
		return 0, err
	}
	ev := events.New(events.EntityDocument, doc.ID, events.Completed)
	ev.Done, ev.Total = n, n
	p.publish(ctx, ev)
	p.logger.Info(ctx, "document ingested", zap.Int("chunks", n))
	return n, nil
}

func (p *Pipeline) index(ctx context.Context, doc *repository.Document) (int, error) {
	const op = "ingestion.Ingest"

	text, err := p.source.Document(ctx, doc)
	if err != nil {
		return 0, classify(op, err)
	}
	chunks := Chunks(text)
	if len(chunks) == 0 {
		return 0, errkind.E(errkind.Ingestion, op, fmt.Errorf("document %s: %w", doc.ID, ErrEmptyDocument))
	}

	if err := p.vectors.EnsurePartition(ctx, doc.ProjectID); err != nil {
		return 0, classify(op, err)
	}

	for offset := 0; offset < len(chunks); offset += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, errkind.E(errkind.Ingestion, op, err)
		}
		batch := chunks[offset:min(offset+p.cfg.BatchSize, len(chunks))]

		vecs, err := p.embedder.EmbedDocuments(ctx, batch)
		if err != nil {
			return 0, classify(op, fmt.Errorf("embedding chunks %d-%d: %w", offset, offset+len(batch)-1, err))
		}
		records, err := vectorstore.Records(doc.ID, offset, vecs, batch)
		if err != nil {
			return 0, classify(op, err)
		}
		if err := p.vectors.Insert(ctx, doc.ProjectID, records); err != nil {
			return 0, classify(op, err)
		}
		ChunksTotal.Add(float64(len(records)))

		ev := events.New(events.EntityDocument, doc.ID, events.Progress)
		ev.Done, ev.Total = offset+len(batch), len(chunks)
		p.publish(ctx, ev)
	}
	return len(chunks), nil
}

// fail marks doc failed and removes any chunks already stored. It runs
// detached from ctx so a canceled ingestion is still recorded.
func (p *Pipeline) fail(ctx context.Context, doc *repository.Document, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := p.vectors.DeleteSubject(ctx, doc.ID, doc.ProjectID); err != nil {
		p.logger.Warn(ctx, "removing partial chunks failed", zap.Error(err))
	}
	if err := p.setStatus(ctx, doc, repository.DocumentFailed, cause.Error()); err != nil {
		p.logger.Error(ctx, "marking document failed", zap.Error(err))
	}

	typ := events.Failed
	if errors.Is(cause, context.Canceled) {
		typ = events.Canceled
	}
	ev := events.New(events.EntityDocument, doc.ID, typ)
	ev.Message = cause.Error()
	p.publish(ctx, ev)
	p.logger.Warn(ctx, "document ingestion failed", zap.Error(cause))
}

// Delete removes the chunks of doc from its partition and then the
// document record.
func (p *Pipeline) Delete(ctx context.Context, doc *repository.Document) error {
	const op = "ingestion.Delete"
	if err := p.vectors.DeleteSubject(ctx, doc.ID, doc.ProjectID); err != nil {
		return classify(op, err)
	}
	if err := p.store.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	p.logger.Info(logging.WithDocumentID(ctx, doc.ID), "document deleted")
	return nil
}

func (p *Pipeline) setStatus(ctx context.Context, doc *repository.Document, status repository.DocumentStatus, msg string) error {
	if err := p.store.SetDocumentStatus(ctx, doc.ID, status, msg); err != nil {
		return err
	}
	doc.Status = status
	doc.Error = msg
	return nil
}

func (p *Pipeline) publish(ctx context.Context, ev events.Event) {
	if err := p.events.Publish(ctx, ev); err != nil {
		p.logger.Debug(ctx, "publishing event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// classify keeps the kind of an already classified error.
func classify(op string, err error) error {
	if errkind.KindOf(err) != errkind.Unknown {
		return err
	}
	return errkind.E(errkind.Ingestion, op, err)
}
