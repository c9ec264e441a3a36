// Package server runs the local login callback HTTP server.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"session-keeper/internal/common/errors"
	"session-keeper/internal/common/logging"
)

// Server represents an HTTP server
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   logging.Logger
}

// New creates a new server instance listening on address
func New(handler http.Handler, address string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:              address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// Start binds the address and serves in the background. Bind failures are
// returned; later serve failures are logged.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.ConfigError("failed to listen on " + s.srv.Addr).WithCause(err)
	}
	s.listener = listener

	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Callback server stopped", err)
		}
	}()

	s.logger.Info("Callback server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
