// Package httpapi is the approval surface: the HTTP API through which
// the AI pipeline stores drafts and human operators approve, adjust,
// or reject them.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/petrijr/relay/pkg/api"
)

// seenArticlesWorkflow is the state namespace used for per-day article
// dedup, keyed by date string (YYYY-MM-DD).
const seenArticlesWorkflow = "seen-articles"

// Config describes how to construct a Server. Controller and Drafts
// are required; State enables the seen-articles endpoints.
type Config struct {
	Controller api.DraftController
	Drafts     api.DraftStore
	State      api.StateStore
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server holds the dependencies for the approval API.
type Server struct {
	echo   *echo.Echo
	ctrl   api.DraftController
	drafts api.DraftStore
	state  api.StateStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Server and registers its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		ctrl:   cfg.Controller,
		drafts: cfg.Drafts,
		state:  cfg.State,
		logger: logger,
		now:    now,
	}

	e.GET("/health", s.health)
	e.POST("/drafts", s.createDraft)
	e.GET("/drafts", s.listDrafts)
	e.GET("/drafts/:id", s.getDraft)
	e.POST("/drafts/:id/approve", s.approveDraft)
	e.POST("/drafts/:id/reject", s.rejectDraft)
	e.POST("/drafts/:id/edit", s.editDraft)
	e.POST("/drafts/:id/test-send", s.testSendDraft)
	e.GET("/seen-articles", s.getSeenArticles)
	e.POST("/seen-articles", s.storeSeenArticles)

	return s
}

// Handler returns the http.Handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start runs the server until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
