package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Option customizes a single Load call.
type Option func(*options)

type options struct {
	prefix      string
	environment map[string]string
}

// WithPrefix only considers variables starting with prefix, e.g. "QUOTA_".
// The prefix is stripped before matching field tags.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithEnvironment parses from vars instead of the process environment.
func WithEnvironment(vars map[string]string) Option {
	return func(o *options) { o.environment = vars }
}

// LoadEnv reads .env files into the process environment. Variables that are
// already set are never overwritten; among the files, later ones take
// precedence over earlier ones. Without arguments it reads ".env" from the
// working directory and silently ignores a missing file.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		paths = []string{".env"}
	}

	merged := make(map[string]string)
	for _, p := range paths {
		vals, err := godotenv.Read(p)
		if err != nil {
			return errors.Join(ErrLoadingEnvFile, fmt.Errorf("%s: %w", p, err))
		}
		for k, v := range vals {
			merged[k] = v
		}
	}

	for k, v := range merged {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return errors.Join(ErrLoadingEnvFile, err)
		}
	}
	return nil
}

// MustLoadEnv is like LoadEnv but panics on failure.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(fmt.Sprintf("failed to load env files: %v", err))
	}
}

// Load parses environment variables into the struct pointed to by v using
// `env` and `envDefault` field tags.
//
// Example:
//
//	type ReconcileConfig struct {
//		Schedule string        `env:"RECONCILE_SCHEDULE" envDefault:"@every 1m"`
//		Timeout  time.Duration `env:"RECONCILE_TIMEOUT" envDefault:"30s"`
//	}
//
//	var cfg ReconcileConfig
//	if err := config.Load(&cfg, config.WithPrefix("QUOTA_")); err != nil {
//		// handle error
//	}
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := env.ParseWithOptions(v, env.Options{
		Prefix:      o.prefix,
		Environment: o.environment,
	}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
// It suits configuration that is required for the process to start.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
