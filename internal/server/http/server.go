package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sceneforge/internal/logging"
)

// Server wraps the http.Server lifecycle with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

// NewServer builds the listener around an assembled router.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    addr,
			Handler: handler,
			// WriteTimeout of zero keeps long-lived SSE/WebSocket
			// streams alive; per-write deadlines guard those paths.
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		logger: logging.OrNop(logger),
	}
}

// ListenAndServe blocks until the listener stops. A shutdown-triggered
// close returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.srv.Shutdown(ctx)
}
