package ingestion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/extract"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// IgnoreFile lists extra exclude patterns, one per line, at a walk root.
const IgnoreFile = ".groundignore"

const (
	defaultMaxFileSize = 10 << 20
	maxFileSizeLimit   = 100 << 20
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
}

// WalkOptions filters the files picked up by Walk.
type WalkOptions struct {
	// MaxFileSize skips larger files. Zero means 10MB.
	MaxFileSize int64
	// Exclude holds glob patterns matched against the base name and the
	// slash-separated path relative to the root. "dir/**" excludes a subtree.
	Exclude []string
}

// Walk calls fn for every extractable file under root, in lexical order.
// root may also be a single file, which is passed to fn unfiltered.
func Walk(ctx context.Context, root string, opts WalkOptions, fn func(path string) error) error {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fn(root)
	}

	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if opts.MaxFileSize > maxFileSizeLimit {
		return fmt.Errorf("max file size cannot exceed %d bytes", maxFileSizeLimit)
	}
	for _, pattern := range opts.Exclude {
		if _, err := filepath.Match(pattern, "x"); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}
	fromFile, err := readIgnoreFile(filepath.Join(root, IgnoreFile))
	if err != nil {
		return err
	}
	exclude := append(append([]string(nil), opts.Exclude...), fromFile...)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || excluded(rel, exclude)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !extract.Supported(path) || excluded(rel, exclude) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > opts.MaxFileSize {
			return nil
		}
		return fn(path)
	})
}

func excluded(rel string, patterns []string) bool {
	base := rel[strings.LastIndex(rel, "/")+1:]
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// readIgnoreFile returns the patterns of an ignore file. Blank lines and
// comments are skipped; negations are not supported and dropped. A
// trailing slash marks a directory subtree.
func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		line = strings.TrimPrefix(line, "/")
		if dir, ok := strings.CutSuffix(line, "/"); ok {
			line = dir + "/**"
		}
		patterns = append(patterns, line)
	}
	return patterns, sc.Err()
}

// FilesResult summarizes an IngestFiles call.
type FilesResult struct {
	Root      string
	Ingested  []repository.Document
	Failed    map[string]error
	StartedAt time.Time
	Duration  time.Duration
}

// IngestFiles creates a file document for every file Walk yields under root
// and ingests it into projectID. A failing file is recorded and the walk
// continues; only walk errors and cancellation abort.
func (p *Pipeline) IngestFiles(ctx context.Context, projectID, root string, opts WalkOptions) (*FilesResult, error) {
	res := &FilesResult{Root: root, Failed: map[string]error{}, StartedAt: p.now()}
	err := Walk(ctx, root, opts, func(path string) error {
		doc, err := p.IngestFile(ctx, projectID, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.Failed[path] = err
			p.logger.Warn(ctx, "file not ingested", zap.String("path", path), zap.Error(err))
			return nil
		}
		res.Ingested = append(res.Ingested, *doc)
		return nil
	})
	res.Duration = p.now().Sub(res.StartedAt)
	if err != nil {
		return res, fmt.Errorf("walking %s: %w", root, err)
	}
	return res, nil
}

// IngestFile registers path as a file document of projectID and ingests it.
func (p *Pipeline) IngestFile(ctx context.Context, projectID, path string) (*repository.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	doc := &repository.Document{
		ProjectID: projectID,
		Title:     filepath.Base(abs),
		Type:      repository.DocumentFile,
		Path:      abs,
		Status:    repository.DocumentPending,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	if _, err := p.Ingest(ctx, doc); err != nil {
		return doc, err
	}
	return doc, nil
}
