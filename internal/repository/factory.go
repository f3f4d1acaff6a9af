package repository

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/groundd/internal/config"
)

// Provider names a persistence backend.
type Provider string

const (
	ProviderMemory Provider = "memory"
	ProviderMongo  Provider = "mongo"
	ProviderSQLite Provider = "sqlite"
)

// Open builds the store selected by cfg.Provider.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch Provider(cfg.Provider) {
	case ProviderMemory, "":
		return NewMemoryStore(), nil
	case ProviderMongo:
		return NewMongoStore(ctx, cfg.Mongo.URI.Value(), cfg.Mongo.Database)
	case ProviderSQLite:
		return NewSQLiteStore(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}
