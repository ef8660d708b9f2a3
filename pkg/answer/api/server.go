// Package api exposes the answer cache over HTTP
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/developer-mesh/answercache/pkg/answer"
	"github.com/developer-mesh/answercache/pkg/observability"
)

// Server serves the answer cache API
type Server struct {
	svc    Service
	cfg    answer.APIConfig
	logger observability.Logger
	router *gin.Engine
	server *http.Server
}

// NewServer builds the router and the HTTP server
func NewServer(svc Service, cfg answer.APIConfig, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger("answer.api")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(MetricsMiddleware())
	router.Use(TracingMiddleware())

	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		router: router,
		server: &http.Server{
			Addr:              cfg.ListenAddress,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")

	subjects := v1.Group("/subjects/:subjectID")
	subjects.POST("/answers", s.askHandler)
	subjects.GET("/answers", s.lookupHandler)
	subjects.PUT("/answers", s.storeHandler)
	subjects.DELETE("", s.invalidateHandler)
	subjects.POST("/warmup", s.warmupHandler)
	subjects.GET("/warmup", s.warmupStatusHandler)
	subjects.DELETE("/warmup", s.cancelWarmupHandler)

	v1.DELETE("/categories/:category", s.invalidateCategoryHandler)
	v1.POST("/analyze", s.analyzeHandler)

	stats := v1.Group("/stats")
	stats.GET("/cache", s.cacheStatsHandler)
	stats.GET("/ratelimit", s.rateLimitHandler)
	stats.PUT("/ratelimit/tier", s.setTierHandler)
	stats.GET("/analytics", s.analyticsHandler)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Starting answer cache API", map[string]interface{}{
		"address": s.cfg.ListenAddress,
	})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down answer cache API", nil)
	return s.server.Shutdown(ctx)
}
