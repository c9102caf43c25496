// Package server hosts the audit log sink and the admin registration relay.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/zjrosen/provenance/internal/log"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":5000". Use ":0" for a random port.
	Addr string
	// ReadTimeout bounds reading a request. Zero uses 30s.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing a response. Zero uses 2m, enough for a
	// relayed registration to be confirmed.
	WriteTimeout time.Duration

	HandlerConfig
}

// Server is the HTTP server.
type Server struct {
	handler  *Handler
	addr     string
	port     int
	listener net.Listener
	server   *http.Server
}

// NewServer creates a server listening on cfg.Addr. Call Start to serve.
func NewServer(cfg ServerConfig) (*Server, error) {
	handler, err := NewHandler(cfg.HandlerConfig)
	if err != nil {
		return nil, err
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 2 * time.Minute
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	return &Server{
		handler:  handler,
		addr:     cfg.Addr,
		port:     port,
		listener: listener,
		server: &http.Server{
			Handler:           handler.Routes(),
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      writeTimeout,
		},
	}, nil
}

// Start serves until Stop is called. It returns nil after a clean stop.
func (s *Server) Start() error {
	log.Info(log.CatHTTP, "Starting audit sink", "addr", s.listener.Addr().String(), "relay", s.handler.relayEnabled())
	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatHTTP, "Stopping audit sink")
	return s.server.Shutdown(ctx)
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}
