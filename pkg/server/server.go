// Package server exposes the router and its stores over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zen-systems/helpgate/pkg/faq"
	"github.com/zen-systems/helpgate/pkg/logger"
	"github.com/zen-systems/helpgate/pkg/router"
	"github.com/zen-systems/helpgate/pkg/session"
)

const (
	DefaultAddr = ":8000"

	defaultListLimit = 5
	maxListLimit     = 50
	defaultPageSize  = 50
	maxPageSize      = 200
	shutdownTimeout  = 10 * time.Second
)

// Server serves the chat API.
type Server struct {
	router   *router.Router
	sessions session.Store
	index    *faq.Index

	addr      string
	rateLimit RateLimitConfig
	metrics   http.Handler
	log       logger.Logger
	usage     *usageStats

	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithRateLimit replaces the default in-memory limiter configuration.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(s *Server) { s.rateLimit = cfg }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l.With("component", "server") }
}

// New builds the gin engine and registers every route.
func New(r *router.Router, sessions session.Store, index *faq.Index, opts ...Option) (*Server, error) {
	s := &Server{
		router:    r,
		sessions:  sessions,
		index:     index,
		addr:      DefaultAddr,
		rateLimit: DefaultRateLimitConfig(),
		log:       logger.Discard(),
		usage:     newUsageStats(time.Now().UTC()),
	}
	for _, opt := range opts {
		opt(s)
	}

	limit, err := rateLimitMiddleware(s.rateLimit)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(s.log), limit)
	s.register(engine)
	s.engine = engine
	return s, nil
}

// Handler returns the HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) register(e *gin.Engine) {
	e.GET("/health", s.health)
	if s.metrics != nil {
		e.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := e.Group("/api/v1")
	api.POST("/chat", s.chat)
	api.POST("/session", s.createSession)
	api.GET("/session/:id", s.getSession)
	api.GET("/session/:id/transcript", s.transcript)
	api.POST("/escalate", s.escalate)
	api.GET("/faq", s.searchFAQ)
	api.GET("/faq/suggestions", s.suggestions)
	api.GET("/usage", s.usageReport)
	api.GET("/admin/sessions", s.listSessions)
}

// requestIDHeader carries the request id in both directions.
const requestIDHeader = "X-Request-ID"

// requestLogger tags the request context with a logger bound to the request
// id, then logs one line per completed request.
func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		log := log.With("request_id", id)
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), log))

		c.Next()
		log.Info("request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
