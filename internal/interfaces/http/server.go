// Package http exposes the approval engine over a JSON API.
// Handlers only translate between HTTP and the application services.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/approval-engine/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthChecker reports whether a backing dependency is usable
type HealthChecker func(ctx context.Context) error

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Services groups the application services the API delegates to
type Services struct {
	Approvals   service.ApprovalService
	Templates   service.TemplateService
	Escalations service.EscalationService
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	gatherer   prometheus.Gatherer
	health     HealthChecker
	logger     Logger
}

// NewServer creates a new HTTP server. gatherer and health may be nil.
func NewServer(
	config ServerConfig,
	services Services,
	gatherer prometheus.Gatherer,
	health HealthChecker,
	logger Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		gatherer: gatherer,
		health:   health,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// HeaderRequestID correlates a call with its log line. Generated when absent.
const HeaderRequestID = "X-Request-ID"

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery(), requestID(), s.accessLog())
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// accessLog writes one line per request once the handler chain has finished
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		keysAndValues := []interface{}{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"request_id", c.Writer.Header().Get(HeaderRequestID),
		}
		if user := c.GetHeader(HeaderUserID); user != "" {
			keysAndValues = append(keysAndValues, "user_id", user)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error("HTTP request", keysAndValues...)
			return
		}
		s.logger.Info("HTTP request", keysAndValues...)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.services, s.health, s.logger)

	s.router.GET("/health", handlers.HealthCheck)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api")
	{
		requests := api.Group("/requests", requireUser())
		requests.POST("", handlers.CreateRequest)
		requests.GET("/:id", handlers.GetRequest)
		requests.POST("/:id/approve", handlers.Approve)
		requests.POST("/:id/reject", handlers.Reject)
		requests.POST("/:id/cancel", handlers.Cancel)
		requests.POST("/:id/resubmit", handlers.Resubmit)
		requests.POST("/:id/delegate", handlers.Delegate)
		requests.POST("/:id/skip", handlers.SkipLevel)
		requests.POST("/:id/hold", handlers.Hold)
		requests.POST("/:id/resume", handlers.Resume)

		api.GET("/approvals/pending", requireUser(), handlers.PendingApprovals)
		api.POST("/escalations/sweep", handlers.RunEscalationSweep)

		templates := api.Group("/templates")
		templates.GET("", handlers.ListTemplates)
		templates.POST("", handlers.CreateTemplate)
		templates.POST("/resolve", handlers.ResolveTemplate)
		templates.GET("/:id", handlers.GetTemplate)
		templates.PUT("/:id", handlers.UpdateTemplate)
		templates.POST("/:id/deactivate", handlers.DeactivateTemplate)
	}
}

// Start serves until ctx is cancelled, then drains in-flight requests.
// It returns the listener error if serving fails first.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("HTTP server listening", "address", s.httpServer.Addr)

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server error", "error", err)
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// Stop drains connections until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
