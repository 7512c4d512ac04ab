package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/config"
	"qrattend/internal/feed"
	"qrattend/internal/logging"
	"qrattend/internal/metrics"
)

// Dependencies are the collaborators the handlers read from. Feed, Metrics
// and Status may be nil.
type Dependencies struct {
	Ledger  Ledger
	Feed    *feed.Hub
	Metrics *metrics.Metrics
	Status  StatusProvider
	Logger  *slog.Logger
}

// Server is the station's HTTP API.
type Server struct {
	bind        string
	logger      *slog.Logger
	deps        Dependencies
	engine      *gin.Engine
	maxFeedWait time.Duration

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// New builds the router. It returns nil when api.bind is empty.
func New(cfg *config.Config, deps Dependencies) *Server {
	if cfg == nil || deps.Ledger == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		bind:        bind,
		logger:      logger,
		deps:        deps,
		engine:      engine,
		maxFeedWait: 30 * time.Second,
	}

	engine.GET("/healthz", s.handleHealth)
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	group := engine.Group("/api", bearerAuth(cfg.API.Token))
	group.GET("/status", s.handleStatus)
	group.GET("/events", s.handleEvents)
	group.GET("/events/:id", s.handleEvent)
	group.GET("/events/:id/attendance", s.handleAttendance)
	group.GET("/events/:id/summary", s.handleSummary)
	group.GET("/events/:id/participants/:pid", s.handleCheckIn)
	group.GET("/feed", s.handleFeed)
	group.GET("/preview", s.handlePreview)
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until ctx ends or Stop
// is called.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long-poll requests hold the response open for up to maxFeedWait.
		WriteTimeout: s.maxFeedWait + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	context.AfterFunc(ctx, s.Stop)

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting up to five seconds for requests.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if path == "/healthz" || path == "/metrics" {
			return
		}
		status := c.Writer.Status()
		attrs := []logging.Attr{
			logging.String("method", c.Request.Method),
			logging.String("path", path),
			logging.Int("status", status),
			logging.Duration("duration", time.Since(started)),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("api request failed", logging.Args(attrs...)...)
			return
		}
		logger.Debug("api request", logging.Args(attrs...)...)
	}
}
