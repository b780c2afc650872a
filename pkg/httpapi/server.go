// Package httpapi implements Transit's HTTP adapter: PUT /<uid>/<filename>
// for uploads, GET /<uid> for downloads (with a browser-facing preview
// page), and the health/robots endpoints spec section 6 calls for.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/transit/internal/logger"
)

// Config configures the HTTP listener, mirroring pkg/config.ServerConfig.
type Config struct {
	Port              int
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
}

// Server wraps an *http.Server with a goroutine-backed Start/Stop
// lifecycle, the same shape pkg/api/server.go in the teacher used for its
// control-plane listener.
type Server struct {
	httpServer   *http.Server
	config       Config
	shutdownOnce sync.Once
}

// NewServer builds a Server around deps' router.
func NewServer(cfg Config, deps Dependencies) *Server {
	return NewServerWithHandler(cfg, NewRouter(deps))
}

// NewServerWithHandler builds a Server around a pre-built handler rather
// than constructing its own router, so a caller can mount additional
// routes (the WebSocket adapter's /send and /receive) onto the router
// before handing it to the listener.
func NewServerWithHandler(cfg Config, handler chi.Router) *Server {
	applyDefaults(&cfg)

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: handler,
			// ReadTimeout is deliberately left at zero: it bounds the whole
			// request including the body read, and uploads legitimately
			// block in WaitForClientConnected before the body is even
			// touched. ReadHeaderTimeout alone bounds the slow-header-attack
			// surface that ReadTimeout would otherwise cover.
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// Start runs the listener in a goroutine and blocks until ctx is canceled
// or the listener fails, whichever happens first.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case err := <-errChan:
		return err
	}
}

// Stop gracefully shuts the server down; safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.httpServer.Shutdown(ctx)
	})
	return err
}

// Port returns the configured listening port.
func (s *Server) Port() int {
	return s.config.Port
}
