// Package microservice exposes a query cache over HTTP.
package microservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Service is the lifecycle shared by the servers in this package.
type Service interface {
	Start() error
	Shutdown(ctx context.Context) error
	Mux() *http.ServeMux
	GetHTTPPort() string
}

// BaseServer owns the HTTP listener and the /healthz route.
type BaseServer struct {
	Logger   zerolog.Logger
	HTTPPort string

	httpServer *http.Server
	mux        *http.ServeMux

	mu    sync.RWMutex
	bound net.Addr
}

// NewBaseServer creates a BaseServer for httpPort. Nothing listens until Start.
func NewBaseServer(logger zerolog.Logger, httpPort string) *BaseServer {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", HealthzHandler)

	return &BaseServer{
		Logger:   logger,
		HTTPPort: httpPort,
		mux:      mux,
		httpServer: &http.Server{
			Addr:              httpPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the port and serves in the background. Binding errors are
// returned; serving errors are logged.
func (s *BaseServer) Start() error {
	ln, err := net.Listen("tcp", s.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.HTTPPort, err)
	}

	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()
	s.Logger.Info().Str("address", ln.Addr().String()).Msg("Query server listening.")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("Query server stopped unexpectedly.")
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("Query server shutdown incomplete.")
		return err
	}
	s.Logger.Info().Msg("Query server stopped.")
	return nil
}

// GetHTTPPort returns ":<port>" for the bound listener, or the configured
// port before Start. With ":0" this is the port the OS picked.
func (s *BaseServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tcp, ok := s.bound.(*net.TCPAddr); ok {
		return fmt.Sprintf(":%d", tcp.Port)
	}
	return s.HTTPPort
}

// Mux returns the route table; handlers must be registered before Start.
func (s *BaseServer) Mux() *http.ServeMux {
	return s.mux
}

// setHandler replaces the root handler, e.g. to wrap the mux in middleware.
// It must be called before Start.
func (s *BaseServer) setHandler(h http.Handler) {
	s.httpServer.Handler = h
}

// HealthzHandler answers liveness probes with 200 OK.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
