// Package scheduler runs the periodic stale-work sweeps.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/logging"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 30 * time.Minute

// Sweeper is one periodic cleanup, such as the document sweep or the
// test run watchdog.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler runs sweepers on a fixed interval. A sweep never overlaps
// with a still running sweep of the same name.
type Scheduler struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New returns a stopped scheduler.
func New(cfg config.SchedulerConfig, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		interval:  cfg.SweepInterval.OrDefault(DefaultInterval),
		logger:    logger.Named("scheduler"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Add schedules sw under name. The first sweep runs one interval after
// Start; use Run to sweep immediately.
func (s *Scheduler) Add(name string, sw Sweeper) error {
	_, err := s.scheduler.Every(s.interval).WaitForSchedule().Tag(name).Do(func() {
		s.sweep(name, sw)
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) sweep(name string, sw Sweeper) {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	start := time.Now()
	n, err := sw.Sweep(ctx)
	if err != nil {
		s.logger.Error(ctx, "sweep failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.logger.Debug(ctx, "sweep finished",
		zap.String("job", name),
		zap.Int("swept", n),
		zap.Duration("duration", time.Since(start)))
}

// Run triggers the sweep name now.
func (s *Scheduler) Run(name string) error {
	return s.scheduler.RunByTag(name)
}

// Start begins running sweeps in the background.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
	s.logger.Info(s.ctx, "scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("jobs", s.scheduler.Len()))
}

// Stop cancels running sweeps and stops scheduling new ones.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}
