// Package api serves the control plane: trigger injection, pause/resume,
// engine and scheduler status, journal queries, the journal WebSocket tail
// and analyst preset export. It is a thin read-mostly layer; every mutation
// it offers goes through the engine or the scheduler.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quorum-trader/internal/config"
	"quorum-trader/internal/orchestrator"
	"quorum-trader/internal/scheduler"
	"quorum-trader/pkg/models"
)

// Engine is the cycle-engine surface the control plane drives.
type Engine interface {
	Pause()
	Resume()
	Status() orchestrator.Status
}

// Scheduler is the trigger surface the control plane drives.
type Scheduler interface {
	TriggerNow(pairName string) (int, error)
	TriggerEmergency(pairName, reason string) (int, error)
	Status() []scheduler.PairStatus
}

// Portfolio is the read view of the paper book.
type Portfolio interface {
	State() models.PortfolioState
	Fills() int64
}

// JournalReader serves the journal query endpoint.
type JournalReader interface {
	Since(since time.Time) ([]models.JournalRecord, error)
}

// Server represents the control-plane HTTP server.
type Server struct {
	router *gin.Engine
	deps   Deps
	addr   string
	server *http.Server
	log    zerolog.Logger
}

// Config contains server configuration.
type Config struct {
	Host string
	Port int
}

// Deps are the components the handlers reach into. Engine and Scheduler are
// required; the rest degrade to 503 on their endpoints when absent.
type Deps struct {
	Engine    Engine
	Scheduler Scheduler
	Portfolio Portfolio
	Journal   JournalReader
	Analysts  []config.AnalystConfig
	Hub       *Hub
}

// NewServer creates the control-plane server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("api server requires the engine")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("api server requires the scheduler")
	}

	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	server := &Server{
		router: router,
		deps:   deps,
		addr:   addr,
		log:    logger.With().Str("component", "api").Logger(),
	}

	// Setup routes
	server.setupRoutes()

	return server, nil
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// Router exposes the handler, primarily for httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Log request
		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
