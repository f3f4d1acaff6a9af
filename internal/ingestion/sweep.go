package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/events"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// Sweeper fails documents left uploading by an ingestion that died.
type Sweeper struct {
	store      repository.DocumentStore
	events     events.Publisher
	logger     *logging.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// NewSweeper returns a Sweeper sharing the pipeline's collaborators.
func (p *Pipeline) NewSweeper() *Sweeper {
	return &Sweeper{
		store:      p.store,
		events:     p.events,
		logger:     p.logger.Named("sweep"),
		staleAfter: p.cfg.StaleAfter,
		now:        p.now,
	}
}

// Sweep flips documents uploading for longer than the stale threshold to
// failed and returns how many were changed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.store.ListStaleDocuments(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, d := range stale {
		if err := s.store.SetDocumentStatus(ctx, d.ID, repository.DocumentFailed, ErrStale.Error()); err != nil {
			s.logger.Warn(ctx, "failing stale document", zap.String("document_id", d.ID), zap.Error(err))
			continue
		}
		ev := events.New(events.EntityDocument, d.ID, events.Failed)
		ev.Message = ErrStale.Error()
		_ = s.events.Publish(ctx, ev)
		swept++
	}
	if swept > 0 {
		SweptTotal.Add(float64(swept))
		s.logger.Info(ctx, "stale documents failed", zap.Int("count", swept))
	}
	return swept, nil
}
