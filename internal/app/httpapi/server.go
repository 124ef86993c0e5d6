package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ScrapCrafters/scrap_layer/internal/logging"
)

// ServerConfig controls the listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server runs the HTTP API as a lifecycle-managed service.
type Server struct {
	cfg     ServerConfig
	handler http.Handler
	log     *logging.Logger

	mu    sync.Mutex
	srv   *http.Server
	addr  string
	errCh chan error
}

// NewServer creates a stopped server for handler.
func NewServer(cfg ServerConfig, handler http.Handler, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewDefault("http")
	}
	return &Server{cfg: cfg, handler: handler, log: log}
}

func (s *Server) Name() string { return "http" }

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	s.addr = ln.Addr().String()
	s.errCh = make(chan error, 1)

	srv, errCh := s.srv, s.errCh
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server stopped unexpectedly")
		}
		errCh <- err
		close(errCh)
	}()

	s.log.WithField("addr", s.addr).Info("http server listening")
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

// Done reports the serve loop's exit error. It is nil before Start.
func (s *Server) Done() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCh
}
