// Package api implements the REST API + WebSocket surface over the
// pipeline/job model: gin.New() with an ordered middleware stack,
// wrapped in an http.Server for graceful shutdown.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pipectl/pipectl/internal/api/middleware"
	"github.com/pipectl/pipectl/internal/api/ws"
	"github.com/pipectl/pipectl/internal/auth"
	"github.com/pipectl/pipectl/internal/events"
	"github.com/pipectl/pipectl/internal/executor"
	"github.com/pipectl/pipectl/internal/registry"
)

const (
	standardRateLimit  = 100
	standardRateWindow = 15 * time.Minute
	triggerRateLimit   = 10
	triggerRateWindow  = time.Hour
	maxBodyBytes       = 1 << 20
)

// Config holds everything Server needs to wire routes.
type Config struct {
	Port       string
	Executor   *executor.Executor
	Registry   *registry.Registry
	Bus        *events.Bus
	Logger     *zap.Logger
	AuthShared *auth.SharedKeyAuthenticator
	AuthJWT    *auth.JWTService
	Tracing    bool
}

// Server is the HTTP/WS frontend over the executor and registry.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	ex  *executor.Executor
	reg *registry.Registry
}

// NewServer builds the gin engine, registers middleware in a fixed order
// (order matters), and wires every route.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	if cfg.Tracing {
		router.Use(middleware.TracingMiddleware("pipectl"))
	}
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger(cfg.Logger))
	router.Use(middleware.NewRateLimiter(standardRateLimit, standardRateWindow).Middleware())
	router.Use(middleware.BodySizeLimitMiddleware(maxBodyBytes))

	s := &Server{
		router: router,
		logger: cfg.Logger,
		ex:     cfg.Executor,
		reg:    cfg.Registry,
	}

	writeAuth := middleware.WriteAuth(middleware.AuthConfig{Shared: cfg.AuthShared, JWT: cfg.AuthJWT})
	triggerLimiter := middleware.NewRateLimiter(triggerRateLimit, triggerRateWindow)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/pipelines", s.listPipelines)
		api.POST("/pipelines/:pipelineId/trigger", triggerLimiter.Middleware(), writeAuth, s.triggerPipeline)
		api.GET("/pipelines/:pipelineId/jobs", s.listPipelineJobs)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:jobId", s.getJob)
		api.POST("/jobs/:jobId/cancel", writeAuth, s.cancelJob)
		api.POST("/jobs/:jobId/retry", writeAuth, s.retryJob)
		api.POST("/pipelines/:pipelineId/dependencies", writeAuth, s.registerDependency)
		api.GET("/ws", ws.New(cfg.Bus, cfg.Logger).Handle)
	}

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the underlying http.Handler, primarily so tests can
// drive the stack with httptest without binding a real port.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving; it returns once the server stops.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
