// Package http serves the groundd API: chats and turns, documents, and test
// runs with their progress streams.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/conversation"
	"github.com/fyrsmithlabs/groundd/internal/events"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/repository"
	"github.com/fyrsmithlabs/groundd/internal/workflows"
)

// Request headers carrying caller identity and credentials. Authentication
// happens in front of groundd; these are trusted as given.
const (
	HeaderAPIKey             = "OpenAI-Key"
	HeaderUserID             = "X-User-ID"
	HeaderAllowPlatformKey   = "X-Allow-Platform-Key"
	defaultHeartbeatInterval = 30 * time.Second
	defaultMaxAudioBytes     = 25 << 20
)

// Conversations runs turns. *conversation.Orchestrator implements it.
type Conversations interface {
	CreateChat(ctx context.Context, req conversation.NewChat) (*repository.Chat, error)
	Converse(ctx context.Context, turn conversation.Turn) (*conversation.Result, error)
	ConverseStream(ctx context.Context, turn conversation.Turn) (<-chan conversation.StreamEvent, error)
}

// Indexer removes ingested documents. *ingestion.Pipeline implements it.
type Indexer interface {
	Delete(ctx context.Context, doc *repository.Document) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host          string
	Port          int
	MaxAudioBytes int64
	UploadDir     string
	// HeartbeatInterval is the comment interval on idle event streams.
	HeartbeatInterval time.Duration
}

// Deps are the collaborators behind the API. Events may be nil, in which
// case run event streams answer 503.
type Deps struct {
	Conversations Conversations
	Store         repository.Store
	Indexer       Indexer
	Dispatcher    workflows.Dispatcher
	Events        events.Bus
	Logger        *logging.Logger
}

// Server provides HTTP endpoints for groundd.
type Server struct {
	echo          *echo.Echo
	conversations Conversations
	store         repository.Store
	indexer       Indexer
	dispatcher    workflows.Dispatcher
	events        events.Bus
	logger        *logging.Logger
	config        *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	switch {
	case deps.Conversations == nil:
		return nil, fmt.Errorf("conversations cannot be nil")
	case deps.Store == nil:
		return nil, fmt.Errorf("store cannot be nil")
	case deps.Indexer == nil:
		return nil, fmt.Errorf("indexer cannot be nil")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("dispatcher cannot be nil")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = defaultMaxAudioBytes
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "groundd-uploads")
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}

	logger := deps.Logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger.Underlying()).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			if err != nil {
				// Run the error handler now so the logged status is the one sent.
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:          e,
		conversations: deps.Conversations,
		store:         deps.Store,
		indexer:       deps.Indexer,
		dispatcher:    deps.Dispatcher,
		events:        deps.Events,
		logger:        logger,
		config:        cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/projects/:project/chats", s.handleCreateChat)
	v1.GET("/projects/:project/chats", s.handleListChats)
	v1.GET("/chats/:chat", s.handleGetChat)
	v1.POST("/chats/:chat/converse", s.handleConverse)
	v1.POST("/messages/:message/feedback", s.handleChatFeedback)

	v1.POST("/projects/:project/documents", s.handleCreateDocument)
	v1.GET("/projects/:project/documents", s.handleListDocuments)
	v1.GET("/documents/:doc", s.handleGetDocument)
	v1.DELETE("/documents/:doc", s.handleDeleteDocument)

	v1.POST("/testruns", s.handleCreateRun)
	v1.GET("/testruns/:run", s.handleGetRun)
	v1.POST("/testruns/:run/cancel", s.handleCancelRun)
	v1.GET("/testruns/:run/events", s.handleRunEvents)
	v1.POST("/testresults/:result/feedback", s.handleResultFeedback)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// ServeHTTP lets the server be driven directly, as in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// caller holds the identity headers of a request.
type caller struct {
	userID        string
	apiKey        string
	allowPlatform bool
}

func callerOf(c echo.Context) caller {
	h := c.Request().Header
	return caller{
		userID:        h.Get(HeaderUserID),
		apiKey:        h.Get(HeaderAPIKey),
		allowPlatform: h.Get(HeaderAllowPlatformKey) == "true",
	}
}
