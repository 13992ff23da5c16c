package quota_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
	"github.com/dmitrymomot/quotaledger/pkg/quota/quotatest"
)

func TestNewServicePanics(t *testing.T) {
	assert.Panics(t, func() { quota.NewService(nil, quota.NewMemoryStore()) })
	assert.Panics(t, func() { quota.NewService(quotatest.Catalog(t), nil) })
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := quotatest.NewEnv(t, newMemoryStore, quota.WithMetrics(quota.NewMetrics(reg)))
	user := uuid.New()

	e.Subscribe(user, quotatest.PlanBasic, "order-1")
	require.True(t, e.Consume(user, quotatest.Articles, 3, "").Success)
	e.Boost(user, quotatest.PlanArticles25, "boost-1")
	require.True(t, e.Consume(user, quotatest.Articles, 4, "").Success)
	require.False(t, e.Consume(user, quotatest.Articles, 100, "").Success)
	_, err := e.Svc.Reconcile(e.Ctx)
	require.NoError(t, err)

	expected := `
# HELP quota_consumptions_total TryConsume calls by feature and outcome.
# TYPE quota_consumptions_total counter
quota_consumptions_total{feature="articles_per_month",outcome="QUOTA_EXCEEDED"} 1
quota_consumptions_total{feature="articles_per_month",outcome="consumed"} 2
# HELP quota_consumed_units_total Units consumed by feature and source (base or booster).
# TYPE quota_consumed_units_total counter
quota_consumed_units_total{feature="articles_per_month",source="base"} 5
quota_consumed_units_total{feature="articles_per_month",source="booster"} 2
# HELP quota_activations_total Subscription and booster activations by plan type and outcome.
# TYPE quota_activations_total counter
quota_activations_total{outcome="created",plan_type="base"} 1
quota_activations_total{outcome="created",plan_type="booster"} 1
# HELP quota_reconcile_runs_total Reconciler runs by outcome.
# TYPE quota_reconcile_runs_total counter
quota_reconcile_runs_total{outcome="completed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"quota_consumptions_total",
		"quota_consumed_units_total",
		"quota_activations_total",
		"quota_reconcile_runs_total",
	))
}

func TestNotifierFailureDoesNotFailOperations(t *testing.T) {
	var buf bytes.Buffer
	failing := quota.NotifierFunc(func(context.Context, quota.Event) error {
		return errors.New("broker down")
	})
	e := quotatest.NewEnv(t, newMemoryStore,
		quota.WithNotifier(failing),
		quota.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)
	user := uuid.New()

	e.Subscribe(user, quotatest.PlanBasic, "order-1")
	res := e.Consume(user, quotatest.Articles, 1, "")
	assert.True(t, res.Success)
	assert.Equal(t, int64(4), res.CombinedRemaining)
	assert.Contains(t, buf.String(), "failed to publish quota event")
	assert.Contains(t, buf.String(), "broker down")
	assert.Empty(t, e.Events.Events(), "the failing notifier replaced the recorder")
}

// busyStore fails every transaction as if the lock wait timed out.
type busyStore struct {
	quota.Store
}

func (busyStore) InTx(context.Context, func(context.Context, quota.Tx) error) error {
	return quota.ErrLockTimeout
}

func TestLockTimeoutIsRetryable(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := quotatest.NewEnv(t, func(*testing.T) quota.Store { return busyStore{quota.NewMemoryStore()} },
		quota.WithMetrics(quota.NewMetrics(reg)))
	user := uuid.New()

	res, err := e.Svc.TryConsume(e.Ctx, user, quotatest.Articles, 1, "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, quota.KindRetry, res.Kind)
	assert.Equal(t, "the ledger is busy, try again", res.Message())

	act, err := e.Svc.ActivateSubscription(e.Ctx, quota.ActivateSubscriptionParams{UserID: user, PlanID: quotatest.PlanBasic, OrderID: "order-1"})
	assert.True(t, quota.IsRetryable(err))
	assert.Equal(t, quota.KindRetry, act.Kind)

	boost, err := e.Svc.ActivateBoosterPack(e.Ctx, user, quotatest.PlanArticles25, "boost-1")
	assert.ErrorIs(t, err, quota.ErrLockTimeout)
	assert.Equal(t, quota.KindRetry, boost.Kind)

	expected := `
# HELP quota_lock_timeouts_total Operations that gave up waiting for a ledger lock.
# TYPE quota_lock_timeouts_total counter
quota_lock_timeouts_total{operation="activate_booster"} 1
quota_lock_timeouts_total{operation="activate_subscription"} 1
quota_lock_timeouts_total{operation="consume"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "quota_lock_timeouts_total"))
}

func TestCustomAlertThresholds(t *testing.T) {
	e := quotatest.NewEnv(t, newMemoryStore,
		quota.WithAlertThresholds(quota.AlertThreshold{Level: quota.AlertCritical, Percent: 50}))
	user := uuid.New()
	e.Subscribe(user, quotatest.PlanBasic, "order-1")

	require.True(t, e.Consume(user, quotatest.Articles, 2, "").Success)
	assert.Empty(t, e.Events.OfType(quota.EventQuotaAlert))
	require.True(t, e.Consume(user, quotatest.Articles, 3, "").Success)

	alerts := e.Events.OfType(quota.EventQuotaAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, quota.AlertCritical, alerts[0].Level)
	assert.Equal(t, 100, alerts[0].Percentage)
}

func TestReminderDaysOption(t *testing.T) {
	e := quotatest.NewEnv(t, newMemoryStore, quota.WithReminderDays(10))
	user := uuid.New()
	e.Subscribe(user, quotatest.PlanBasic, "order-1")

	e.Advance(20*24*time.Hour + time.Hour)
	n, err := e.Svc.SendExpirationReminders(e.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	evs := e.Events.OfType(quota.EventSubscriptionExpiring)
	require.Len(t, evs, 1)
	assert.Equal(t, 10, evs[0].DaysRemaining)
}
