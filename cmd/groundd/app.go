package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/conversation"
	"github.com/fyrsmithlabs/groundd/internal/embeddings"
	"github.com/fyrsmithlabs/groundd/internal/evaluation"
	"github.com/fyrsmithlabs/groundd/internal/events"
	"github.com/fyrsmithlabs/groundd/internal/extract"
	"github.com/fyrsmithlabs/groundd/internal/ingestion"
	"github.com/fyrsmithlabs/groundd/internal/llm"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/repository"
	"github.com/fyrsmithlabs/groundd/internal/speech"
	"github.com/fyrsmithlabs/groundd/internal/telemetry"
	"github.com/fyrsmithlabs/groundd/internal/translate"
	"github.com/fyrsmithlabs/groundd/internal/vectorstore"
	"github.com/fyrsmithlabs/groundd/internal/workflows"
)

// app holds every service built from configuration.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	store     repository.Store
	embedder  embeddings.Provider
	vectors   vectorstore.Store
	bus       events.Bus
	generator *llm.Generator
	redis     *redis.Client

	orchestrator *conversation.Orchestrator
	pipeline     *ingestion.Pipeline
	harness      *evaluation.Harness

	closers []func(context.Context) error
}

// newApp loads configuration and initializes dependencies in order:
//  1. Configuration, telemetry and logging
//  2. Persistence, embeddings and the vector store
//  3. Event bus, generation, speech and translation providers
//  4. Orchestrator, ingestion pipeline and evaluation harness
//
// On failure everything already opened is closed again.
func newApp(ctx context.Context) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	loader, err := config.NewLoader(configPath)
	if err != nil {
		return nil, err
	}
	if a.cfg, err = loader.Config(); err != nil {
		return nil, err
	}
	cfg := a.cfg

	telCfg := telemetry.NewDefaultConfig()
	if err := loader.Unmarshal("telemetry", telCfg); err != nil {
		return nil, err
	}
	if a.telemetry, err = telemetry.New(ctx, telCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.onClose(a.telemetry.Shutdown)

	logCfg := logging.NewDefaultConfig()
	if err := loader.Unmarshal("logging", logCfg); err != nil {
		return nil, err
	}
	if a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.onClose(func(context.Context) error { return a.logger.Sync() })
	zl := a.logger.Underlying()

	if a.store, err = repository.Open(ctx, cfg.Storage); err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Provider, err)
	}
	a.onClose(a.store.Close)

	embMetrics := embeddings.NewMetrics(otel.GetMeterProvider(), zl)
	if a.embedder, err = embeddings.NewProvider(ctx, embeddings.ConfigFrom(cfg.Embeddings, cfg.LLM), embMetrics); err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.onClose(func(context.Context) error { return a.embedder.Close() })

	if a.vectors, err = vectorstore.NewStore(cfg.VectorStore, a.embedder.Dimension(), zl); err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	a.onClose(func(context.Context) error { return a.vectors.Close() })

	if a.bus, err = events.Open(cfg.NATS, zl); err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return a.bus.Close() })

	a.generator = llm.New(cfg.LLM, zl)
	a.onClose(func(context.Context) error { return a.generator.Close() })

	engines, err := speech.NewRegistry(ctx, cfg.Speech, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech engines: %w", err)
	}
	translator, err := translate.New(ctx, cfg.Translate)
	if err != nil {
		return nil, fmt.Errorf("failed to create translator: %w", err)
	}

	var nonces conversation.NonceGuard
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		a.onClose(func(context.Context) error { return a.redis.Close() })
		nonces = conversation.NewRedisNonceGuard(a.redis, a.store, cfg.Redis.NonceTTL.Duration())
	}

	a.orchestrator, err = conversation.New(conversation.ConfigFrom(cfg.Conversation, cfg.LLM), conversation.Deps{
		Store:      a.store,
		Vectors:    a.vectors,
		Embedder:   a.embedder,
		Generator:  a.generator,
		Speech:     engines,
		Translator: translator,
		Nonces:     nonces,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}

	a.pipeline, err = ingestion.New(ingestion.ConfigFrom(cfg.Ingestion), ingestion.Deps{
		Store:    a.store,
		Vectors:  a.vectors,
		Embedder: a.embedder,
		Source:   extract.New(),
		Events:   a.bus,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, err
	}

	a.harness, err = evaluation.New(evaluation.ConfigFrom(cfg.Evaluation), evaluation.Deps{
		Store:     a.store,
		Converser: a.orchestrator,
		Embedder:  a.embedder,
		Events:    a.bus,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info(ctx, "groundd initialized",
		zap.String("version", version),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("events", cfg.NATS.URL != ""),
		zap.Bool("redis_nonces", cfg.Redis.Addr != ""),
		zap.Bool("telemetry", a.telemetry.IsEnabled()),
	)
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// activities binds the workflow activities to the pipeline and harness.
func (a *app) activities() *workflows.Activities {
	return &workflows.Activities{
		Documents: a.store,
		Ingester:  a.pipeline,
		Evaluator: a.harness,
	}
}

// Close releases resources in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
