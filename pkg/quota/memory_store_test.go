package quota_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
	"github.com/dmitrymomot/quotaledger/pkg/quota/quotatest"
)

func newMemoryStore(*testing.T) quota.Store {
	return quota.NewMemoryStore()
}

func TestMemoryStore(t *testing.T) {
	quotatest.RunStoreSuite(t, newMemoryStore)
}

func TestMemoryStoreRollback(t *testing.T) {
	ctx := context.Background()
	store := quota.NewMemoryStore()
	now := quotatest.Epoch
	sub := quota.Subscription{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		PlanID:    quotatest.PlanBasic,
		OrderID:   "order-1",
		Status:    quota.SubscriptionActive,
		StartDate: now,
		EndDate:   now.AddDate(0, 0, 30),
		CreatedAt: now,
		UpdatedAt: now,
	}

	boom := errors.New("boom")
	err := store.InTx(ctx, func(ctx context.Context, tx quota.Tx) error {
		require.NoError(t, tx.CreateSubscription(ctx, sub))
		_, err := tx.ActiveSubscription(ctx, sub.UserID)
		require.NoError(t, err, "writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.ActiveSubscription(ctx, sub.UserID)
	assert.ErrorIs(t, err, quota.ErrNotFound)

	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx quota.Tx) error {
		return tx.CreateSubscription(ctx, sub)
	}))
	got, err := store.ActiveSubscription(ctx, sub.UserID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
}

func TestMemoryStoreConstraints(t *testing.T) {
	ctx := context.Background()
	store := quota.NewMemoryStore()
	now := quotatest.Epoch
	user := uuid.New()
	sub := quota.Subscription{
		ID: uuid.New(), UserID: user, PlanID: quotatest.PlanBasic, OrderID: "order-1",
		Status: quota.SubscriptionActive, StartDate: now, EndDate: now.AddDate(0, 0, 30),
	}

	err := store.InTx(ctx, func(ctx context.Context, tx quota.Tx) error {
		require.NoError(t, tx.CreateSubscription(ctx, sub))

		second := sub
		second.ID, second.OrderID = uuid.New(), "order-2"
		assert.ErrorIs(t, tx.CreateSubscription(ctx, second), quota.ErrSubscriptionAlreadyActive)

		reused := sub
		reused.ID, reused.UserID = uuid.New(), uuid.New()
		assert.ErrorIs(t, tx.CreateSubscription(ctx, reused), quota.ErrOrderConflict)

		period := quota.UsagePeriod{
			ID: uuid.New(), UserID: user, FeatureCode: quotatest.Seats, SubscriptionID: sub.ID,
			PeriodStart: sub.StartDate, PeriodEnd: sub.EndDate, Status: quota.PeriodCurrent,
		}
		require.NoError(t, tx.CreateUsagePeriod(ctx, period))

		dup := period
		dup.ID = uuid.New()
		assert.ErrorIs(t, tx.CreateUsagePeriod(ctx, dup), quota.ErrPeriodConflict)

		beyond := period
		beyond.ID, beyond.FeatureCode, beyond.PeriodEnd = uuid.New(), quotatest.Images, sub.EndDate.Add(time.Hour)
		assert.ErrorIs(t, tx.CreateUsagePeriod(ctx, beyond), quota.ErrPeriodBeyondSubscription)

		rec := quota.UsageRecord{ID: uuid.New(), UserID: user, FeatureCode: quotatest.Seats, Amount: 1, BaseAmount: 1, ResourceID: "seat-1"}
		require.NoError(t, tx.InsertUsageRecord(ctx, rec))
		rec.ID = uuid.New()
		assert.ErrorIs(t, tx.InsertUsageRecord(ctx, rec), quota.ErrDuplicateUsageRecord)

		booster := quota.BoosterSubscription{ID: uuid.New(), UserID: user, OrderID: "boost-1", Status: quota.SubscriptionActive}
		row := quota.BoosterQuota{ID: uuid.New(), BoosterSubscriptionID: booster.ID, UserID: user, FeatureCode: quotatest.Articles, Limit: 2, Status: quota.BoosterActive}
		require.NoError(t, tx.CreateBoosterSubscription(ctx, booster, []quota.BoosterQuota{row}))
		assert.ErrorIs(t, tx.CreateBoosterSubscription(ctx, booster, nil), quota.ErrOrderConflict)
		assert.ErrorIs(t, tx.IncrementBoosterUsage(ctx, row.ID, 3), quota.ErrQuotaExceeded)
		assert.ErrorIs(t, tx.IncrementBoosterUsage(ctx, uuid.New(), 1), quota.ErrNotFound)

		assert.ErrorIs(t, tx.UpdateReservation(ctx, quota.Reservation{ID: uuid.New()}), quota.ErrNotFound)
		_, err := tx.Reservation(ctx, uuid.New())
		assert.ErrorIs(t, err, quota.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreLockTimeout(t *testing.T) {
	ctx := context.Background()
	store := quota.NewMemoryStore(quota.WithMemoryLockTimeout(20 * time.Millisecond))

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.InTx(ctx, func(context.Context, quota.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := store.InTx(ctx, func(context.Context, quota.Tx) error { return nil })
	assert.ErrorIs(t, err, quota.ErrLockTimeout)
	assert.Equal(t, quota.KindRetry, quota.KindOf(err))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = store.InTx(cctx, func(context.Context, quota.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-done)
	assert.NoError(t, store.InTx(ctx, func(context.Context, quota.Tx) error { return nil }))
}
