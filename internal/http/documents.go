package http

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/extract"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// CreateDocumentRequest is the JSON body for POST
// /api/v1/projects/:project/documents. Files are uploaded as multipart with
// a "file" part and an optional "title" value instead.
type CreateDocumentRequest struct {
	Title string                  `json:"title"`
	Type  repository.DocumentType `json:"type"`
	Text  string                  `json:"text"`
	URL   string                  `json:"url"`
}

func (s *Server) handleCreateDocument(c echo.Context) error {
	ctx := logging.WithProjectID(c.Request().Context(), c.Param("project"))
	project, err := s.store.GetProject(ctx, c.Param("project"))
	if err != nil {
		return err
	}
	if project.Archived {
		return echo.NewHTTPError(http.StatusBadRequest, "project is archived")
	}

	var doc *repository.Document
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		doc, err = s.uploadedDocument(c)
	} else {
		doc, err = jsonDocument(c)
	}
	if err != nil {
		return err
	}
	doc.ProjectID = project.ID
	doc.Status = repository.DocumentPending

	if err := s.store.CreateDocument(ctx, doc); err != nil {
		s.removeUpload(ctx, doc)
		return err
	}
	ctx = logging.WithDocumentID(ctx, doc.ID)
	if err := s.dispatcher.IngestDocument(ctx, doc.ID); err != nil {
		s.logger.Error(ctx, "dispatching ingestion", zap.Error(err))
		if serr := s.store.SetDocumentStatus(context.WithoutCancel(ctx), doc.ID, repository.DocumentFailed, err.Error()); serr != nil {
			s.logger.Warn(ctx, "marking undispatched document failed", zap.Error(serr))
		}
		return err
	}
	return c.JSON(http.StatusAccepted, doc)
}

func jsonDocument(c echo.Context) (*repository.Document, error) {
	var req CreateDocumentRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	doc := &repository.Document{Title: req.Title, Type: req.Type}
	switch req.Type {
	case repository.DocumentText:
		if strings.TrimSpace(req.Text) == "" {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "text is required")
		}
		doc.Text = req.Text
	case repository.DocumentURL:
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "url must be an absolute http(s) URL")
		}
		doc.URL = u.String()
		if doc.Title == "" {
			doc.Title = doc.URL
		}
	default:
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("type must be %q or %q; upload files as multipart", repository.DocumentText, repository.DocumentURL))
	}
	return doc, nil
}

// uploadedDocument stores the "file" part under the upload directory.
func (s *Server) uploadedDocument(c echo.Context) (*repository.Document, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if !extract.Supported(fh.Filename) {
		return nil, echo.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported file type")
	}
	path, err := s.saveUpload(fh)
	if err != nil {
		return nil, err
	}

	title := c.FormValue("title")
	if title == "" {
		title = fh.Filename
	}
	return &repository.Document{
		Title:    title,
		Type:     repository.DocumentFile,
		Path:     path,
		MIMEType: fh.Header.Get(echo.HeaderContentType),
	}, nil
}

func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.config.UploadDir, 0o750); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(s.config.UploadDir, "upload-*"+strings.ToLower(filepath.Ext(fh.Filename)))
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("writing upload: %w", err)
	}
	return dst.Name(), nil
}

// removeUpload deletes the stored copy of an uploaded document.
func (s *Server) removeUpload(ctx context.Context, doc *repository.Document) {
	if doc.Type != repository.DocumentFile || s.config.UploadDir == "" {
		return
	}
	if filepath.Dir(doc.Path) != filepath.Clean(s.config.UploadDir) {
		return
	}
	if err := os.Remove(doc.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn(ctx, "removing upload", zap.String("path", doc.Path), zap.Error(err))
	}
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.store.ListDocuments(c.Request().Context(), c.Param("project"))
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []repository.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.store.GetDocument(c.Request().Context(), c.Param("doc"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

// handleDeleteDocument removes a document and its indexed chunks.
func (s *Server) handleDeleteDocument(c echo.Context) error {
	ctx := logging.WithDocumentID(c.Request().Context(), c.Param("doc"))
	doc, err := s.store.GetDocument(ctx, c.Param("doc"))
	if err != nil {
		return err
	}
	if err := s.indexer.Delete(ctx, doc); err != nil {
		return err
	}
	s.removeUpload(ctx, doc)
	return c.NoContent(http.StatusNoContent)
}
