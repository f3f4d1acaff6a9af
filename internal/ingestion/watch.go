package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/extract"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher keeps the files under a directory ingested as they change. A
// written file is re-ingested as a new document once writes settle; a
// removed file's document is deleted.
type Watcher struct {
	p         *Pipeline
	projectID string
	root      string
	maxSize   int64
	exclude   []string
	debounce  time.Duration

	mu     sync.Mutex
	docs   map[string]*repository.Document // by absolute path
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// NewWatcher returns a Watcher for root, filtered like Walk.
func (p *Pipeline) NewWatcher(projectID, root string, opts WalkOptions) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	fromFile, err := readIgnoreFile(filepath.Join(abs, IgnoreFile))
	if err != nil {
		return nil, err
	}
	return &Watcher{
		p:         p,
		projectID: projectID,
		root:      abs,
		maxSize:   opts.MaxFileSize,
		exclude:   append(append([]string(nil), opts.Exclude...), fromFile...),
		debounce:  defaultDebounce,
		docs:      map[string]*repository.Document{},
		timers:    map[string]*time.Timer{},
	}, nil
}

// Run watches until ctx is done, then waits for in-flight ingestions.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := w.seed(ctx); err != nil {
		return err
	}
	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	w.p.logger.Info(ctx, "watching for changes", zap.String("root", w.root))

	defer w.wg.Wait()
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.p.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

// seed maps already ingested files under root to their documents.
func (w *Watcher) seed(ctx context.Context) error {
	docs, err := w.p.store.ListDocuments(ctx, w.projectID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range docs {
		d := docs[i]
		if d.Type == repository.DocumentFile && w.under(d.Path) {
			w.docs[d.Path] = &d
		}
	}
	return nil
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && (skipDirs[d.Name()] || excluded(w.rel(path), w.exclude)) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) {
	path := ev.Name
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.addTree(fw, path); err != nil {
				w.p.logger.Warn(ctx, "watching new directory", zap.String("path", path), zap.Error(err))
			}
			return
		}
		if w.accept(path, info) {
			w.schedule(ctx, path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(path)
		w.forget(ctx, path)
	}
}

// accept applies the Walk filters to a single file.
func (w *Watcher) accept(path string, info fs.FileInfo) bool {
	return info.Mode().IsRegular() &&
		info.Size() <= w.maxSize &&
		extract.Supported(path) &&
		!excluded(w.rel(path), w.exclude)
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] == t {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.reingest(ctx, path)
	})
	w.timers[path] = t
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok && t.Stop() {
		delete(w.timers, path)
		w.wg.Done()
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
}

// reingest replaces the file's document with a freshly ingested one.
func (w *Watcher) reingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	w.forget(ctx, path)
	doc, err := w.p.IngestFile(ctx, w.projectID, path)
	if err != nil {
		w.p.logger.Warn(ctx, "file not ingested", zap.String("path", path), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.docs[path] = doc
	w.mu.Unlock()
	w.p.logger.Info(ctx, "file ingested", zap.String("path", path), zap.String("document_id", doc.ID))
}

// forget deletes the document ingested from path, if any.
func (w *Watcher) forget(ctx context.Context, path string) {
	w.mu.Lock()
	doc, ok := w.docs[path]
	delete(w.docs, path)
	w.mu.Unlock()
	if !ok {
		return
	}
	if err := w.p.Delete(ctx, doc); err != nil {
		w.p.logger.Warn(ctx, "deleting document of changed file", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) under(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
