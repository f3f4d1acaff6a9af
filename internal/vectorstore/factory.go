package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"go.uber.org/zap"
)

// NewStore creates the backend named by cfg.Provider and wraps it with
// Prometheus instrumentation.
//
//   - "chromem" (default): embedded, no external services
//   - "qdrant": remote Qdrant over gRPC
//
// dimension is the embedder's vector size; Qdrant needs it to create
// collections.
func NewStore(cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Provider {
	case "chromem", "":
		store, err = NewChromemStore(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, logger)

	case "qdrant":
		if dimension <= 0 {
			return nil, fmt.Errorf("%w: qdrant requires a positive vector dimension", ErrInvalidConfig)
		}
		store, err = NewQdrantStore(QdrantConfig{
			Host:             cfg.Qdrant.Host,
			Port:             cfg.Qdrant.Port,
			UseTLS:           cfg.Qdrant.UseTLS,
			APIKey:           cfg.Qdrant.APIKey.Value(),
			CollectionPrefix: cfg.Qdrant.CollectionPrefix,
			VectorSize:       uint64(dimension),
			MaxMessageSize:   cfg.Qdrant.MaxMessageSize,
		}, logger)

	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(store, cfg.Provider), nil
}
