// Package server exposes the pipeline and the matcher over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/raphaelgruber/matgraph/internal/metrics"
	"github.com/raphaelgruber/matgraph/internal/models"
	"github.com/raphaelgruber/matgraph/internal/service"
	"github.com/raphaelgruber/matgraph/internal/tasks"
)

// Pipeline is the ingestion surface. *service.PipelineService implements it.
type Pipeline interface {
	Upload(ctx context.Context, req service.UploadRequest) (*models.Process, error)
	Submit(ctx context.Context, key models.StageKey, req service.StageRequest) (*models.Process, error)
	Cancel(ctx context.Context, userID, processID string) (*models.Process, error)
	Status(ctx context.Context, userID, processID string) (*models.Process, error)
	Report(ctx context.Context, userID, processID string, key models.StageKey) (*tasks.Report, error)
	Delete(ctx context.Context, userID, processID string) error
	List(ctx context.Context, userID string, limit int) ([]models.ProcessSummary, error)
}

// Matches is the workflow query surface. *service.MatchService implements it.
type Matches interface {
	Submit(ctx context.Context, req service.MatchRequest) (*models.Process, error)
}

// Server wraps the HTTP router with its dependencies and lifecycle.
type Server struct {
	router   *gin.Engine
	pipeline Pipeline
	matches  Matches
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// New creates the server and registers every route. collector may be nil.
func New(pipeline Pipeline, matches Matches, collector *metrics.Collector, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), LoggingMiddleware(logger))

	s := &Server{
		router:   router,
		pipeline: pipeline,
		matches:  matches,
		metrics:  collector,
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
		s.router.GET("/stats", s.handleStats)
	}

	imp := s.router.Group("/import")
	imp.POST("/label-extract", s.handleUpload)
	imp.POST("/attribute-extract", s.handleStage(models.KeyAttributes))
	imp.POST("/node-extract", s.handleStage(models.KeyNodes))
	imp.POST("/graph-extract", s.handleStage(models.KeyGraph))
	imp.POST("/graph-import", s.handleStage(models.KeyDataset))
	imp.PATCH("/cancel", s.handleCancel)
	imp.GET("/status", s.handleStatus)
	imp.GET("/report", s.handleReport)
	imp.DELETE("/delete", s.handleDelete)
	imp.GET("/processes", s.handleList)

	s.router.POST("/match/fabrication-workflow", s.handleMatch)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
