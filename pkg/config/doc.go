// Package config loads process configuration from environment variables.
//
// It wraps github.com/joho/godotenv for reading .env files and
// github.com/caarlos0/env/v11 for parsing the environment into annotated
// structs:
//
//	type DatabaseConfig struct {
//	    URL string `env:"PG_CONN_URL,required"`
//	}
//
//	if err := config.LoadEnv(); err != nil {
//	    log.Fatalf("loading env: %v", err)
//	}
//
//	var db DatabaseConfig
//	if err := config.Load(&db, config.WithPrefix("QUOTA_")); err != nil {
//	    log.Fatalf("parsing env: %v", err)
//	}
//
// Values already present in the process environment always win over values
// read from .env files. Tests can bypass the process environment entirely
// with WithEnvironment.
//
// # Error Handling
//
// Failures wrap one of the sentinel errors ErrParsingConfig,
// ErrLoadingEnvFile or ErrNilPointer and can be matched with errors.Is.
package config
