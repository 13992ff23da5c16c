package httpserver

import "time"

// Config holds the ops server settings read from the environment.
type Config struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":9090"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	ProbeTimeout    time.Duration `env:"HTTP_PROBE_TIMEOUT" envDefault:"2s"`
}

// NewFromConfig creates a Server from cfg. opts run after the config values
// and can override them. Zero or negative durations are ignored.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	base := []Option{WithTimeouts(
		max(cfg.ReadTimeout, 0),
		max(cfg.WriteTimeout, 0),
		max(cfg.IdleTimeout, 0),
	)}
	if cfg.Addr != "" {
		base = append(base, WithAddr(cfg.Addr))
	}
	if cfg.ShutdownTimeout > 0 {
		base = append(base, WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	return New(append(base, opts...)...)
}
