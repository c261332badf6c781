// Package server provides the HTTP API over the search engine, the
// document store, and the index manager.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/altiplano/afin/internal/config"
	"github.com/altiplano/afin/internal/search"
	"github.com/altiplano/afin/internal/storage"
	"github.com/altiplano/afin/internal/topics"
	"github.com/altiplano/afin/internal/vector"
)

// Server is the HTTP server for the recommendation API.
type Server struct {
	engine   *search.Engine
	manager  *vector.Manager
	resolver *topics.Resolver
	store    storage.Store
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	manager *vector.Manager,
	resolver *topics.Resolver,
	store storage.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		manager:  manager,
		resolver: resolver,
		store:    store,
		config:   cfg,
		logger:   logger,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/recommend", s.handleRecommend)
	r.Post("/api/v1/documents", s.handleUpsertDocument)
	r.Get("/api/v1/documents/{uuid}", s.handleGetDocument)
	r.Delete("/api/v1/documents/{uuid}", s.handleDeleteDocument)
	r.Get("/api/v1/topics", s.handleTopics)
	r.Get("/api/v1/topics/{clusterID}/documents", s.handleTopicDocuments)
	r.Post("/api/v1/reload", s.handleReload)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
