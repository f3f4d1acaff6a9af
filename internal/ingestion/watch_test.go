package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/groundd/internal/repository"
)

func TestWatcher(t *testing.T) {
	f := newFixture(t, 10)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFile), []byte("drafts/\n"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "drafts"), 0o750))

	w, err := f.pipeline.NewWatcher(f.project.ID, root, WalkOptions{})
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	docs := func() []repository.Document {
		out, err := f.store.ListDocuments(context.Background(), f.project.ID)
		require.NoError(t, err)
		return out
	}
	ready := func(n int) func() bool {
		return func() bool {
			ds := docs()
			if len(ds) != n {
				return false
			}
			for _, d := range ds {
				if d.Status != repository.DocumentReady {
					return false
				}
			}
			return true
		}
	}

	// Give the watcher time to register the tree.
	time.Sleep(50 * time.Millisecond)
	path := filepath.Join(root, "guide.txt")
	require.NoError(t, os.WriteFile(path, []byte("fever\n"), 0o600))
	require.Eventually(t, ready(1), 2*time.Second, 10*time.Millisecond)
	first := docs()[0].ID

	require.NoError(t, os.WriteFile(path, []byte("fever\ncough\n"), 0o600))
	require.Eventually(t, func() bool {
		ds := docs()
		return ready(1)() && ds[0].ID != first
	}, 2*time.Second, 10*time.Millisecond)

	count, err := f.vectors.Count(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Ignored and unsupported files are not picked up.
	require.NoError(t, os.WriteFile(filepath.Join(root, "drafts", "wip.txt"), []byte("rash\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scan.png"), []byte{0x89}, 0o600))

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return len(docs()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
