// Package server runs the dispatcher's HTTP listener: health probes, the
// metrics scrape endpoint and the notification websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"mercator-hq/dispatch/pkg/config"
)

// Server is the operator-facing HTTP listener.
type Server struct {
	config     config.ServerConfig
	mux        *http.ServeMux
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger

	mu           sync.Mutex
	isRunning    bool
	shutdownOnce sync.Once
}

// New creates a server for cfg. Routes are added with Handle before Start.
func New(cfg config.ServerConfig) *Server {
	return &Server{
		config: cfg,
		mux:    http.NewServeMux(),
		logger: slog.Default().With("component", "server"),
	}
}

// Mux returns the route table.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Handle registers h at pattern.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Addr returns the bound address once Start has returned.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listen address and serves in the background. Serve errors
// other than a clean shutdown arrive on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil, fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.config.ListenAddress, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.isRunning = true

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	s.logger.Info("http listener started", "address", ln.Addr().String())
	return errCh, nil
}

// Shutdown stops accepting connections and waits for in-flight requests, up
// to the configured shutdown timeout. Websocket connections are not waited
// for; the notification hub closes them when its context ends.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		s.isRunning = false
		s.mu.Unlock()
		if !running {
			return
		}

		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			s.logger.Error("error during server shutdown", "error", err)
			return
		}
		s.logger.Info("http listener stopped")
	})

	return shutdownErr
}

// handler wraps the route table in the middleware chain, recovery outermost.
func (s *Server) handler() http.Handler {
	var h http.Handler = s.mux
	h = LoggingMiddleware(h)
	h = RequestIDMiddleware(h)
	h = RecoveryMiddleware(h)
	return h
}
