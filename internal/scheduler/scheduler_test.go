package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/logging"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	s := New(config.SchedulerConfig{SweepInterval: config.Duration(20 * time.Millisecond)}, nil)
	docs := &countingSweeper{}
	runs := &countingSweeper{err: errors.New("store down")}
	require.NoError(t, s.Add("documents", docs))
	require.NoError(t, s.Add("runs", runs))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return docs.calls.Load() >= 2 && runs.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_Run(t *testing.T) {
	logger := logging.NewTestLogger()
	s := New(config.SchedulerConfig{SweepInterval: config.Duration(time.Hour)}, logger.Logger)
	sw := &countingSweeper{}
	require.NoError(t, s.Add("documents", sw))

	s.Start()
	defer s.Stop()

	require.NoError(t, s.Run("documents"))
	assert.Eventually(t, func() bool { return sw.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Error(t, s.Run("unknown"))
}

func TestScheduler_DuplicateName(t *testing.T) {
	s := New(config.SchedulerConfig{}, nil)
	require.NoError(t, s.Add("documents", &countingSweeper{}))
	assert.Error(t, s.Add("documents", &countingSweeper{}))
}
