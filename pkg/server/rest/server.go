// Copyright (c) 2025 Will Holley
//
// This file is part of couchcopy.
//
// couchcopy is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact the copyright holder for commercial licensing options.

// Package rest serves the read-only status endpoint of a running replication.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/willholley/couchcopy/pkg/adapters"
	"github.com/willholley/couchcopy/pkg/server/middleware"
)

// ErrStatusProviderRequired is returned when NewServer has nothing to report on.
var ErrStatusProviderRequired = errors.New("status provider is required")

// Server represents the status HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
	config     *ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	// Addr is the host:port to listen on (default: "127.0.0.1:8080")
	Addr string

	// EnableLogging enables request logging middleware
	EnableLogging bool

	// EnableRateLimit enables rate limiting middleware
	EnableRateLimit bool

	// RateLimitConfig is the rate limiting configuration
	RateLimitConfig *middleware.RateLimitConfig

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration

	// Mode sets the Gin mode: "debug", "release", or "test" (default: "release")
	Mode string

	// Logger is the pluggable logger adapter (default: NoOpLogger)
	Logger adapters.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:            "127.0.0.1:8080",
		EnableLogging:   true,
		EnableRateLimit: true,
		RateLimitConfig: middleware.DefaultRateLimitConfig(),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		Mode:            gin.ReleaseMode,
		Logger:          adapters.NewNoOpLogger(),
	}
}

// NewServer creates a status server reporting on provider.
func NewServer(provider StatusProvider, config *ServerConfig) (*Server, error) {
	if provider == nil {
		return nil, ErrStatusProviderRequired
	}
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}
	if config.Mode == "" {
		config.Mode = gin.ReleaseMode
	}

	gin.SetMode(config.Mode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ErrorHandlingMiddleware(config.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if config.EnableRateLimit {
		router.Use(middleware.RateLimitMiddleware(config.RateLimitConfig, config.Logger))
	}
	if config.EnableLogging {
		router.Use(LoggingMiddleware(config.Logger))
	}

	handler := NewHandler(provider)
	SetupRoutes(router, handler)

	httpServer := &http.Server{
		Addr:         config.Addr,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		router:     router,
		httpServer: httpServer,
		handler:    handler,
		config:     config,
	}, nil
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve serves requests on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	s.config.Logger.Info(context.TODO(), "Starting status server",
		adapters.Field{Key: "address", Value: listener.Addr().String()},
	)
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.config.Logger.Info(ctx, "Shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying Gin router (useful for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the HTTP handler
func (s *Server) Handler() *Handler {
	return s.handler
}

// Address returns the server address
func (s *Server) Address() string {
	return s.httpServer.Addr
}
