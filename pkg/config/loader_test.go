package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/config"
)

type schedulerConfig struct {
	Schedule string        `env:"RECONCILE_SCHEDULE" envDefault:"@every 1m"`
	Timeout  time.Duration `env:"RECONCILE_TIMEOUT" envDefault:"30s"`
	Days     []int         `env:"REMINDER_DAYS" envSeparator:"," envDefault:"7,3,1"`
}

type requiredConfig struct {
	URL string `env:"PG_CONN_URL,required"`
}

func writeEnvFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		var cfg schedulerConfig
		err := config.Load(&cfg, config.WithEnvironment(map[string]string{}))
		require.NoError(t, err)
		assert.Equal(t, "@every 1m", cfg.Schedule)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
		assert.Equal(t, []int{7, 3, 1}, cfg.Days)
	})

	t.Run("prefixed values", func(t *testing.T) {
		var cfg schedulerConfig
		err := config.Load(&cfg,
			config.WithPrefix("QUOTA_"),
			config.WithEnvironment(map[string]string{
				"QUOTA_RECONCILE_SCHEDULE": "@every 5m",
				"RECONCILE_TIMEOUT":        "1h",
				"QUOTA_REMINDER_DAYS":      "14,1",
			}),
		)
		require.NoError(t, err)
		assert.Equal(t, "@every 5m", cfg.Schedule)
		assert.Equal(t, 30*time.Second, cfg.Timeout, "unprefixed variable must be ignored")
		assert.Equal(t, []int{14, 1}, cfg.Days)
	})

	t.Run("missing required", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg, config.WithEnvironment(map[string]string{}))
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("invalid value", func(t *testing.T) {
		var cfg schedulerConfig
		err := config.Load(&cfg, config.WithEnvironment(map[string]string{"RECONCILE_TIMEOUT": "soon"}))
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *schedulerConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})

	t.Run("process environment", func(t *testing.T) {
		t.Setenv("PG_CONN_URL", "postgres://localhost/quota")
		var cfg requiredConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "postgres://localhost/quota", cfg.URL)
	})
}

func TestMustLoad(t *testing.T) {
	var cfg requiredConfig
	assert.Panics(t, func() {
		config.MustLoad(&cfg, config.WithEnvironment(map[string]string{}))
	})
}

func TestLoadEnv(t *testing.T) {
	t.Run("later files win", func(t *testing.T) {
		t.Setenv("CFG_TEST_A", "")
		os.Unsetenv("CFG_TEST_A")
		t.Setenv("CFG_TEST_B", "")
		os.Unsetenv("CFG_TEST_B")

		base := writeEnvFile(t, ".env.base", "CFG_TEST_A=base\nCFG_TEST_B=base\n")
		override := writeEnvFile(t, ".env.override", "CFG_TEST_B=override\n")

		require.NoError(t, config.LoadEnv(base, override))
		assert.Equal(t, "base", os.Getenv("CFG_TEST_A"))
		assert.Equal(t, "override", os.Getenv("CFG_TEST_B"))
	})

	t.Run("process environment wins", func(t *testing.T) {
		t.Setenv("CFG_TEST_C", "process")
		p := writeEnvFile(t, ".env", "CFG_TEST_C=file\n")

		require.NoError(t, config.LoadEnv(p))
		assert.Equal(t, "process", os.Getenv("CFG_TEST_C"))
	})

	t.Run("missing explicit file", func(t *testing.T) {
		err := config.LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
		assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
		assert.Panics(t, func() {
			config.MustLoadEnv(filepath.Join(t.TempDir(), "missing.env"))
		})
	})

	t.Run("missing default file is ignored", func(t *testing.T) {
		t.Chdir(t.TempDir())
		assert.NoError(t, config.LoadEnv())
	})
}
