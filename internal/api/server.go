// Package api exposes rounds, worker status and bus history over HTTP.
package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/lodge/internal/coordinator"
	"github.com/dyluth/lodge/internal/worker"
	"github.com/dyluth/lodge/pkg/bus"
)

// maxBodyBytes caps analyze request bodies. Pages may carry base64 images.
const maxBodyBytes = 32 << 20

// Runner starts rounds. Implemented by *coordinator.Coordinator.
type Runner interface {
	Run(ctx context.Context, req coordinator.Request, emit coordinator.EmitFunc) (coordinator.Round, error)
	ActiveRounds() []coordinator.Round
}

// StatusSource reports worker status. Implemented by *agents.Roster.
type StatusSource interface {
	Statuses() []worker.Status
}

// Server provides the lodge HTTP endpoints.
type Server struct {
	addr     string
	bus      *bus.Bus
	rounds   Runner
	workers  StatusSource
	server   *http.Server
	listener net.Listener
}

// NewServer creates a server that will listen on addr. rounds and workers
// may be nil when this process runs only part of the system.
func NewServer(addr string, b *bus.Bus, rounds Runner, workers StatusSource) *Server {
	return &Server{
		addr:    addr,
		bus:     b,
		rounds:  rounds,
		workers: workers,
	}
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /api/v1/analyze", s.analyzeHandler)
	mux.HandleFunc("GET /api/v1/agents", s.agentsHandler)
	mux.HandleFunc("GET /api/v1/history", s.historyHandler)
	return mux
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	// No WriteTimeout: analyze responses stream for the length of a round.
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[API] Server error: %v", err)
		}
	}()

	log.Printf("[API] Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
