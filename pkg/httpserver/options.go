package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures the ops server.
type Option func(*settings)

type settings struct {
	addr            string
	read            time.Duration
	write           time.Duration
	idle            time.Duration
	shutdownTimeout time.Duration
	base            *http.Server
	logger          *slog.Logger
	onListen        []func(addr string)
	onShutdown      []func()
}

func defaultSettings() *settings {
	return &settings{
		addr:            ":9090",
		shutdownTimeout: 5 * time.Second,
	}
}

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	if addr == "" {
		panic("httpserver: empty listen address")
	}
	return func(s *settings) { s.addr = addr }
}

// WithTimeouts sets the read, write and idle timeouts of the underlying
// http.Server. A zero value leaves that timeout unset.
func WithTimeouts(read, write, idle time.Duration) Option {
	if read < 0 || write < 0 || idle < 0 {
		panic("httpserver: negative timeout")
	}
	return func(s *settings) {
		s.read, s.write, s.idle = read, write, idle
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("httpserver: shutdown timeout must be positive")
	}
	return func(s *settings) { s.shutdownTimeout = d }
}

// WithServer serves on srv. Fields already set on srv win over the
// configured timeouts and address; Handler and BaseContext are overwritten.
func WithServer(srv *http.Server) Option {
	if srv == nil {
		panic("httpserver: nil http.Server")
	}
	return func(s *settings) { s.base = srv }
}

// WithLogger sets the server logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithOnListen registers fn to run with the bound address once the listener
// is open. It does not run when binding fails.
func WithOnListen(fn func(addr string)) Option {
	if fn == nil {
		panic("httpserver: nil listen callback")
	}
	return func(s *settings) { s.onListen = append(s.onListen, fn) }
}

// WithOnShutdown registers fn to run after the server has drained.
func WithOnShutdown(fn func()) Option {
	if fn == nil {
		panic("httpserver: nil shutdown callback")
	}
	return func(s *settings) { s.onShutdown = append(s.onShutdown, fn) }
}
