package logger_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
)

func TestWithEnvironment(t *testing.T) {
	t.Run("development logs debug text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithEnvironment(logger.EnvDevelopment, "quotad"),
			logger.WithOutput(buf),
		)
		log.Debug("msg")
		out := buf.String()
		assert.Contains(t, out, "level=DEBUG")
		assert.Contains(t, out, "service=quotad")
		assert.Contains(t, out, "env=development")
	})

	t.Run("production logs info json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithEnvironment("prod", "quotad"),
			logger.WithOutput(buf),
		)
		log.Debug("dropped")
		assert.Empty(t, buf.String())

		log.Info("msg")
		entry := decode(t, buf)
		assert.Equal(t, "quotad", entry["service"])
		assert.Equal(t, logger.EnvProduction, entry["env"])
	})

	t.Run("staging logs json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithEnvironment(logger.EnvStaging, ""),
			logger.WithOutput(buf),
		)
		log.Info("msg")
		entry := decode(t, buf)
		assert.Equal(t, logger.EnvStaging, entry["env"])
		assert.NotContains(t, entry, "service")
	})

	t.Run("unknown environment falls back to development", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithEnvironment("qa", "quotad"),
			logger.WithOutput(buf),
		)
		require.NotNil(t, log)
		log.Debug("msg")
		assert.Contains(t, buf.String(), "env=development")
	})

	t.Run("explicit level overrides environment", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := logger.New(
			logger.WithEnvironment(logger.EnvDevelopment, "quotad"),
			logger.WithLevelName("error"),
			logger.WithOutput(buf),
		)
		log.Warn("dropped")
		assert.Empty(t, buf.String())
	})
}
