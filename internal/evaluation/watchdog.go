package evaluation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/events"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// Watchdog fails runs left RUNNING by a harness that died.
type Watchdog struct {
	h *Harness
}

// NewWatchdog returns a Watchdog sharing the harness's collaborators.
func (h *Harness) NewWatchdog() *Watchdog {
	return &Watchdog{h: h}
}

// Sweep flips runs RUNNING for longer than the stale threshold to FAILED
// and returns how many were changed.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	h := w.h
	stale, err := h.store.ListStaleRuns(ctx, h.now().Add(-h.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, run := range stale {
		err := h.store.TransitionRun(ctx, run.ID, repository.RunFailed, ErrStale.Error())
		if errors.Is(err, repository.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			h.logger.Warn(ctx, "failing stale run", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		ev := events.New(events.EntityRun, run.ID, events.Failed)
		ev.Message = ErrStale.Error()
		h.publish(ctx, ev)
		swept++
	}
	if swept > 0 {
		h.logger.Info(ctx, "stale test runs failed", zap.Int("count", swept))
	}
	return swept, nil
}
