package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("groundd.vectorstore.chromem")

const (
	metaText    = "text"
	metaSubject = "document"
)

// errPrecomputed is returned if chromem ever tries to embed on its own.
var errPrecomputed = errors.New("embeddings must be computed before insert")

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression for persisted files.
	Compress bool

	// Concurrency bounds parallel document writes. Default 4.
	Concurrency int
}

// ChromemStore implements Store on an embedded chromem-go database. Each
// partition is one collection.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens a chromem database.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		cfg.Path = path
	}

	logger.Info("chromem store initialized",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
	)
	return &ChromemStore{db: db, config: cfg, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errPrecomputed
}

func (s *ChromemStore) collection(partition string) (*chromem.Collection, error) {
	name, err := CollectionName("", partition)
	if err != nil {
		return nil, err
	}
	return s.db.GetCollection(name, noEmbedding), nil
}

// EnsurePartition creates the partition's collection if needed.
func (s *ChromemStore) EnsurePartition(ctx context.Context, partition string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.EnsurePartition")
	defer span.End()

	name, err := CollectionName("", partition)
	if err != nil {
		return err
	}
	if _, err := s.db.GetOrCreateCollection(name, nil, noEmbedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return retrievalError("vectorstore.EnsurePartition", fmt.Errorf("collection %s: %w", name, err))
	}
	return nil
}

// Insert upserts records, creating the partition on first use.
func (s *ChromemStore) Insert(ctx context.Context, partition string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("partition", partition), attribute.Int("records", len(records)))

	if len(records) == 0 {
		return nil
	}
	if err := s.EnsurePartition(ctx, partition); err != nil {
		return err
	}
	col, err := s.collection(partition)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: r.Vector,
			Metadata:  map[string]string{metaText: r.Text, metaSubject: r.Subject},
		}
	}
	if err := col.AddDocuments(ctx, docs, s.config.Concurrency); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return retrievalError("vectorstore.Insert", err)
	}
	return nil
}

// Search queries the partition. chromem rejects limits above the document
// count, so the limit is capped.
func (s *ChromemStore) Search(ctx context.Context, embedding []float32, partition string, limit int) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	col, err := s.collection(partition)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, nil
	}
	n := min(limitOrDefault(limit), col.Count())
	if n == 0 {
		return nil, nil
	}
	span.SetAttributes(attribute.String("partition", partition), attribute.Int("limit", n))

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, retrievalError("vectorstore.Search", err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			ID:      r.ID,
			Text:    r.Content,
			Subject: r.Metadata[metaSubject],
			Score:   r.Similarity,
		}
	}
	return matches, nil
}

// DeleteSubject removes all records whose metadata names subject.
func (s *ChromemStore) DeleteSubject(ctx context.Context, subject, partition string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteSubject")
	defer span.End()

	col, err := s.collection(partition)
	if err != nil {
		return err
	}
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{metaSubject: subject}, nil); err != nil {
		span.RecordError(err)
		return retrievalError("vectorstore.DeleteSubject", err)
	}
	return nil
}

// DeletePartition drops the partition's collection.
func (s *ChromemStore) DeletePartition(ctx context.Context, partition string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DeletePartition")
	defer span.End()

	name, err := CollectionName("", partition)
	if err != nil {
		return err
	}
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		return retrievalError("vectorstore.DeletePartition", err)
	}
	return nil
}

// Count returns the number of records in partition.
func (s *ChromemStore) Count(_ context.Context, partition string) (int, error) {
	col, err := s.collection(partition)
	if err != nil {
		return 0, err
	}
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Close is a no-op; persistent databases write through on every change.
func (s *ChromemStore) Close() error { return nil }
