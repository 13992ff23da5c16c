package pgstore

import "time"

// Config tunes the store. Fields are populated from environment variables.
type Config struct {
	// LockTimeout bounds how long a transaction waits for a row or advisory lock.
	LockTimeout time.Duration `env:"QUOTA_LOCK_TIMEOUT" envDefault:"5s"`
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{LockTimeout: 5 * time.Second}
}
