// Package api exposes the engine over HTTP: request parsing, field
// catalogs, asynchronous runs and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/runner"
)

// Config configures the API server.
type Config struct {
	Addr            string
	MaxRuns         int
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	Collector       *metrics.Collector
	// DataDir confines the local files submitted plans may read. Empty
	// refuses file-backed sources, curl files and response schemas.
	DataDir string
	// RunnerOptions are passed to runner.Prepare for every run. Logger and
	// Collector are filled in from this config when unset.
	RunnerOptions runner.Options
}

// Server is the REST API server.
type Server struct {
	cfg    Config
	router *gin.Engine
	runs   *registry
	logger *slog.Logger

	// runCtx outlives requests; it is cancelled on shutdown.
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// NewServer creates a server with all routes registered.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Collector == nil {
		cfg.Collector = metrics.NewCollector()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RunnerOptions.Logger == nil {
		cfg.RunnerOptions.Logger = cfg.Logger
	}
	if cfg.RunnerOptions.Collector == nil {
		cfg.RunnerOptions.Collector = cfg.Collector
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		router:    gin.New(),
		runs:      newRegistry(cfg.MaxRuns),
		logger:    cfg.Logger,
		runCtx:    ctx,
		cancelRun: cancel,
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/healthz", healthzHandler)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Collector.Registry(), promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.POST("/parse", s.parseHandler)
		v1.POST("/catalog", s.catalogHandler)

		runs := v1.Group("/runs")
		{
			runs.POST("", s.createRunHandler)
			runs.GET("", s.listRunsHandler)
			runs.GET("/:id", s.getRunHandler)
			runs.POST("/:id/stop", s.stopRunHandler)
			runs.GET("/:id/outcomes", s.listOutcomesHandler)
		}
	}
}

// ListenAndServe serves until ctx is cancelled, then stops active runs and
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.cancelRun()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}

// Shutdown stops active runs, waiting for them until ctx is done.
func (s *Server) Shutdown(ctx context.Context) {
	s.runs.stopAll(ctx)
	s.cancelRun()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// healthzHandler returns health status
func healthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
