package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("groundd.vectorstore.qdrant")

const payloadID = "id"

// pointNamespace seeds the UUIDv5 point ids derived from record ids.
var pointNamespace = uuid.MustParse("5b0c4c1e-8f7a-4f7e-9a51-6f1d2a9e3c10")

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host   string
	Port   int // gRPC port, not the REST port
	UseTLS bool
	APIKey string

	// CollectionPrefix namespaces partition collections. Default "groundd".
	CollectionPrefix string

	// VectorSize must match the embedder's output dimension.
	VectorSize uint64

	// MaxMessageSize is the gRPC message limit in bytes. Default 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "groundd"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore implements Store on a remote Qdrant server. Each partition
// is one collection named {prefix}_{partition}.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// known caches collections confirmed to exist.
	known sync.Map
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and runs a health check.
func NewQdrantStore(cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, TLS disabled", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, retrievalError("vectorstore.NewQdrantStore", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, retrievalError("vectorstore.NewQdrantStore", fmt.Errorf("health check: %w", err))
	}

	return &QdrantStore{client: client, config: cfg, logger: logger}, nil
}

// IsTransientError reports whether a backend error is worth retrying
// at a higher layer.
func IsTransientError(err error) bool {
	st, ok := status.FromError(unwrapAll(err))
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func unwrapAll(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok || u.Unwrap() == nil {
			return err
		}
		err = u.Unwrap()
	}
}

// PointID converts a record id into the UUID Qdrant requires. The mapping
// is stable, so upserts of the same record hit the same point.
func PointID(partition, recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(partition+"/"+recordID)).String()
}

func (s *QdrantStore) collectionName(partition string) (string, error) {
	return CollectionName(s.config.CollectionPrefix, partition)
}

// EnsurePartition creates the partition's collection if needed.
func (s *QdrantStore) EnsurePartition(ctx context.Context, partition string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsurePartition")
	defer span.End()

	name, err := s.collectionName(partition)
	if err != nil {
		return err
	}
	if _, ok := s.known.Load(name); ok {
		return nil
	}
	span.SetAttributes(attribute.String("collection", name))

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return retrievalError("vectorstore.EnsurePartition", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && status.Code(err) != grpccodes.AlreadyExists {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return retrievalError("vectorstore.EnsurePartition", fmt.Errorf("creating %s: %w", name, err))
		}
		// A payload index keeps subject deletes cheap.
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      metaSubject,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			s.logger.Warn("creating payload index", zap.String("collection", name), zap.Error(err))
		}
		s.logger.Info("created qdrant collection", zap.String("collection", name))
	}
	s.known.Store(name, true)
	return nil
}

// Insert upserts records, creating the partition on first use.
func (s *QdrantStore) Insert(ctx context.Context, partition string, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("partition", partition), attribute.Int("records", len(records)))

	if len(records) == 0 {
		return nil
	}
	if err := s.EnsurePartition(ctx, partition); err != nil {
		return err
	}
	name, err := s.collectionName(partition)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(partition, r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadID:   r.ID,
				metaText:    r.Text,
				metaSubject: r.Subject,
			}),
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return retrievalError("vectorstore.Insert", fmt.Errorf("upserting into %s: %w", name, err))
	}
	return nil
}

// Search queries the partition. A missing collection yields no matches.
func (s *QdrantStore) Search(ctx context.Context, embedding []float32, partition string, limit int) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	name, err := s.collectionName(partition)
	if err != nil {
		return nil, err
	}
	limit = limitOrDefault(limit)
	span.SetAttributes(attribute.String("collection", name), attribute.Int("limit", limit))

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if status.Code(err) == grpccodes.NotFound {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, retrievalError("vectorstore.Search", fmt.Errorf("querying %s: %w", name, err))
	}

	matches := make([]Match, len(points))
	for i, p := range points {
		matches[i] = Match{
			ID:      p.GetPayload()[payloadID].GetStringValue(),
			Text:    p.GetPayload()[metaText].GetStringValue(),
			Subject: p.GetPayload()[metaSubject].GetStringValue(),
			Score:   p.GetScore(),
		}
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

// DeleteSubject removes all points whose payload names subject.
func (s *QdrantStore) DeleteSubject(ctx context.Context, subject, partition string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteSubject")
	defer span.End()

	name, err := s.collectionName(partition)
	if err != nil {
		return err
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword(metaSubject, subject)},
		}),
	})
	if status.Code(err) == grpccodes.NotFound {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return retrievalError("vectorstore.DeleteSubject", err)
	}
	return nil
}

// DeletePartition drops the partition's collection.
func (s *QdrantStore) DeletePartition(ctx context.Context, partition string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeletePartition")
	defer span.End()

	name, err := s.collectionName(partition)
	if err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil && status.Code(err) != grpccodes.NotFound {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return retrievalError("vectorstore.DeletePartition", err)
	}
	s.known.Delete(name)
	return nil
}

// Count returns the exact number of points in partition.
func (s *QdrantStore) Count(ctx context.Context, partition string) (int, error) {
	name, err := s.collectionName(partition)
	if err != nil {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if status.Code(err) == grpccodes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, retrievalError("vectorstore.Count", err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
