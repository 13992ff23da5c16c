package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

// Server serves the ops endpoints (probes, metrics) of quotad until its
// context is cancelled.
type Server struct {
	set      *settings
	stopOnce sync.Once

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New returns a Server with opts applied over the defaults.
func New(opts ...Option) *Server {
	set := defaultSettings()
	for _, opt := range opts {
		opt(set)
	}
	if set.logger == nil {
		set.logger = slog.New(slog.DiscardHandler)
	}
	return &Server{set: set}
}

// Addr returns the bound address, or "" until Run has opened the listener.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) httpServer(ctx context.Context, handler http.Handler) *http.Server {
	set := s.set
	srv := set.base
	if srv == nil {
		srv = &http.Server{}
	}
	if srv.Addr == "" {
		srv.Addr = set.addr
	}
	if srv.ReadTimeout == 0 {
		srv.ReadTimeout = set.read
	}
	if srv.WriteTimeout == 0 {
		srv.WriteTimeout = set.write
	}
	if srv.IdleTimeout == 0 {
		srv.IdleTimeout = set.idle
	}
	srv.Handler = handler
	// Requests keep running while the server drains after ctx is cancelled.
	srv.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }
	return srv
}

// Run opens the listener and serves handler until ctx is cancelled or
// Shutdown is called. A nil handler answers 404. Bind failures are returned
// joined with ErrStart and no listen callback runs.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, ErrAlreadyRunning)
	}
	srv := s.httpServer(ctx, handler)
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, err)
	}
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	addr := ln.Addr().String()
	s.set.logger.InfoContext(ctx, "ops server listening", "addr", addr)
	for _, fn := range s.set.onListen {
		fn(addr)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	var serveErr error
	select {
	case <-ctx.Done():
		if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
			s.set.logger.ErrorContext(ctx, "ops server shutdown failed", "error", err)
		}
		serveErr = <-served
	case serveErr = <-served:
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return errors.Join(ErrStart, serveErr)
	}
	return nil
}

// Shutdown drains in-flight requests within the shutdown timeout. Only the
// first call does any work. Failures are joined with ErrShutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, s.set.shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(ctx)
		s.set.logger.InfoContext(ctx, "ops server stopped")
		for _, fn := range s.set.onShutdown {
			fn()
		}
	})
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(ErrShutdown, err)
	}
	return nil
}
