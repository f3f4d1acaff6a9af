// Package extract turns uploaded documents into plain text for ingestion.
//
// Files are dispatched on extension (or MIME type when the name has none):
// PDF pages, spreadsheet rows, HTML bodies and plain text are supported.
// URL documents are fetched and the text of their body is returned.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// DefaultMaxBytes bounds a fetched or read document.
const DefaultMaxBytes = 32 << 20

var (
	// ErrUnsupported is returned for file types without an extractor.
	ErrUnsupported = errors.New("unsupported document format")

	// ErrTooLarge is returned when a document exceeds the size limit.
	ErrTooLarge = errors.New("document too large")
)

// Extractor extracts plain text from documents.
type Extractor struct {
	client   *http.Client
	maxBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient sets the client used to fetch URL documents.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) { e.client = c }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// New returns an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supported reports whether files named like path can be extracted.
func Supported(path string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

var extractors = map[string]func([]byte) (string, error){
	".pdf":      extractPDF,
	".xlsx":     extractExcel,
	".html":     extractHTML,
	".htm":      extractHTML,
	".txt":      extractPlain,
	".md":       extractPlain,
	".markdown": extractPlain,
	".rst":      extractPlain,
	".csv":      extractPlain,
}

// Document returns the text of d according to its type.
func (e *Extractor) Document(ctx context.Context, d *repository.Document) (string, error) {
	const op = "extract.Document"
	switch d.Type {
	case repository.DocumentText:
		return d.Text, nil
	case repository.DocumentURL:
		return e.URL(ctx, d.URL)
	case repository.DocumentFile:
		return e.File(d.Path, d.MIMEType)
	default:
		return "", errkind.Errorf(errkind.Validation, op, "document %s: unknown type %q", d.ID, d.Type)
	}
}

// File reads path and extracts its text. mimeType is consulted when path
// has no extension.
func (e *Extractor) File(path, mimeType string) (string, error) {
	const op = "extract.File"
	f, err := os.Open(path)
	if err != nil {
		return "", errkind.E(errkind.Ingestion, op, fmt.Errorf("opening %s: %w", path, err))
	}
	defer f.Close()

	content, err := e.readAll(f)
	if err != nil {
		return "", errkind.E(errkind.Ingestion, op, fmt.Errorf("reading %s: %w", path, err))
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = extensionFor(mimeType)
	}
	return e.Bytes(content, ext)
}

// Bytes extracts content based on ext, which includes the leading dot.
func (e *Extractor) Bytes(content []byte, ext string) (string, error) {
	const op = "extract.Bytes"
	fn, ok := extractors[ext]
	if !ok {
		return "", errkind.E(errkind.Validation, op, fmt.Errorf("%w: %q", ErrUnsupported, ext))
	}
	text, err := fn(content)
	if err != nil {
		return "", errkind.E(errkind.Ingestion, op, err)
	}
	return text, nil
}

// URL fetches rawURL and returns the text of the page body. Non-HTML
// responses are extracted by their content type.
func (e *Extractor) URL(ctx context.Context, rawURL string) (string, error) {
	const op = "extract.URL"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errkind.E(errkind.Validation, op, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("User-Agent", "groundd/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", errkind.E(errkind.Ingestion, op, fmt.Errorf("fetching %s: %w", rawURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errkind.Errorf(errkind.Ingestion, op, "fetching %s: status %d", rawURL, resp.StatusCode)
	}
	content, err := e.readAll(resp.Body)
	if err != nil {
		return "", errkind.E(errkind.Ingestion, op, fmt.Errorf("reading %s: %w", rawURL, err))
	}

	ext := extensionFor(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = ".html"
	}
	return e.Bytes(content, ext)
}

func (e *Extractor) readAll(r io.Reader) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, e.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > e.maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, e.maxBytes)
	}
	return content, nil
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "application/pdf":
		return ".pdf"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	case "text/html", "application/xhtml+xml":
		return ".html"
	case "text/plain", "text/markdown":
		return ".txt"
	case "text/csv":
		return ".csv"
	}
	return ""
}
