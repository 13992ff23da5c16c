package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/config"
	"github.com/dmitrymomot/quotaledger/pkg/logger"
	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := loadConfig(config.WithEnvironment(map[string]string{
			"PG_CONN_URL": "postgres://localhost/quota",
		}))
		require.NoError(t, err)
		assert.Equal(t, "development", cfg.Env)
		assert.Equal(t, "@every 1m", cfg.ReconcileSchedule)
		assert.Equal(t, []int{7, 3, 1}, cfg.ReminderDays)
		assert.Equal(t, ":9090", cfg.HTTP.Addr)
		assert.Equal(t, 5*time.Second, cfg.Store.LockTimeout)
		assert.Equal(t, "billing.orders", cfg.Bus.OrdersStream)
		assert.True(t, cfg.ConsumeOrders)
	})

	t.Run("missing database url", func(t *testing.T) {
		t.Parallel()
		_, err := loadConfig(config.WithEnvironment(map[string]string{}))
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("invalid timezone", func(t *testing.T) {
		t.Parallel()
		_, err := loadConfig(config.WithEnvironment(map[string]string{
			"PG_CONN_URL": "postgres://localhost/quota",
			"TIMEZONE":    "Mars/Olympus",
		}))
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})
}

func TestCatalogExample(t *testing.T) {
	t.Parallel()
	catalog, err := quota.LoadCatalogFile("catalog.example.yaml")
	require.NoError(t, err)

	limit, err := catalog.FeatureLimit(context.Background(), "pro", "articles_per_month")
	require.NoError(t, err)
	assert.Equal(t, int64(100), limit)

	plan, err := catalog.Plan(context.Background(), "articles_boost_25")
	require.NoError(t, err)
	assert.Equal(t, quota.PlanTypeBooster, plan.Type)
}

func TestRunJob(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithFormat(logger.FormatText),
		logger.WithLevel(slog.LevelDebug),
	)

	t.Run("deadline applied", func(t *testing.T) {
		var deadline bool
		runJob(context.Background(), "reconcile", time.Second, func(ctx context.Context) error {
			_, deadline = ctx.Deadline()
			return nil
		}, log)()
		assert.True(t, deadline)
	})

	t.Run("failure logged", func(t *testing.T) {
		buf.Reset()
		runJob(context.Background(), "reconcile", time.Second, func(context.Context) error {
			return errors.New("boom")
		}, log)()
		out := buf.String()
		assert.Contains(t, out, "scheduled job failed")
		assert.Contains(t, out, "job=reconcile")
		assert.Contains(t, out, "boom")
	})

	t.Run("cancelled context skips", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		runJob(ctx, "reconcile", time.Second, func(context.Context) error {
			called = true
			return nil
		}, log)()
		assert.False(t, called)
	})
}

func TestCronLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := cronLogger{log: slog.New(slog.NewTextHandler(&buf, nil))}
	l.Error(errors.New("bad schedule"), "job panicked", "entry", 1)
	assert.Contains(t, buf.String(), "bad schedule")
	assert.Contains(t, buf.String(), "entry=1")
}
