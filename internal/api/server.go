package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"procodus.dev/aquamon/internal/pipeline"
	"procodus.dev/aquamon/pkg/metrics"
	"procodus.dev/aquamon/pkg/toggles"
)

// Server is the HTTP API server.
type Server struct {
	logger          *slog.Logger
	db              *gorm.DB
	pipeline        *pipeline.Pipeline
	toggles         *toggles.Toggles
	httpServer      *http.Server
	metrics         *metrics.APIMetrics      // Optional metrics
	pipelineMetrics *metrics.PipelineMetrics // Optional metrics
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger   *slog.Logger
	DB       *gorm.DB
	Pipeline *pipeline.Pipeline
	Toggles  *toggles.Toggles

	// HTTPPort is the listen port.
	HTTPPort int

	// Metrics is the optional Prometheus metrics collector for the API.
	Metrics *metrics.APIMetrics
	// PipelineMetrics is the optional collector for per-source batch counts.
	PipelineMetrics *metrics.PipelineMetrics
}

// NewServer creates a new API Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}

	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline cannot be nil")
	}

	if cfg.Toggles == nil {
		return nil, errors.New("toggles cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	s := &Server{
		logger:          cfg.Logger,
		db:              cfg.DB,
		pipeline:        cfg.Pipeline,
		toggles:         cfg.Toggles,
		metrics:         cfg.Metrics,
		pipelineMetrics: cfg.PipelineMetrics,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// setupRoutes builds the gin router.
func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.observe())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/sensor-data", s.handleIngest)
		apiGroup.GET("/nodes", s.handleListNodes)
		apiGroup.GET("/nodes/:node_id", s.handleGetNode)
		apiGroup.GET("/dashboard", s.handleDashboard)

		apiGroup.POST("/recipients", s.handleAddRecipient)
		apiGroup.GET("/recipients", s.handleListRecipients)
		apiGroup.DELETE("/recipients/:address", s.handleRemoveRecipient)

		apiGroup.GET("/toggles", s.handleListToggles)
		apiGroup.POST("/toggles/:name/enable", s.handleSetToggle(true))
		apiGroup.POST("/toggles/:name/disable", s.handleSetToggle(false))
	}

	return router
}

// observe is the request metrics middleware.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metrics == nil {
			c.Next()
			return
		}

		s.metrics.HTTPRequestsInFlight.Inc()
		start := time.Now()

		c.Next()

		s.metrics.HTTPRequestsInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
		s.metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path,
			strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP API server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-httpErr:
		return err
	}
}

// shutdown drains in-flight requests.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP API server stopped")
	return nil
}
