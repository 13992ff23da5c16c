package quotatest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

const day = 24 * time.Hour

// Env is a quota.Service wired to a fresh store and a mock clock set to Epoch.
type Env struct {
	T      *testing.T
	Ctx    context.Context
	Store  quota.Store
	Clock  *quartz.Mock
	Events *Recorder
	Svc    quota.Service
}

// NewEnv builds an Env on the store returned by newStore.
func NewEnv(t *testing.T, newStore func(*testing.T) quota.Store, opts ...quota.Option) *Env {
	t.Helper()
	ctx := context.Background()
	clock := quartz.NewMock(t)
	clock.Set(Epoch).MustWait(ctx)

	e := &Env{T: t, Ctx: ctx, Store: newStore(t), Clock: clock, Events: &Recorder{}}
	opts = append([]quota.Option{quota.WithClock(clock), quota.WithNotifier(e.Events)}, opts...)
	e.Svc = quota.NewService(Catalog(t), e.Store, opts...)
	return e
}

// ServiceWith returns a service that shares the Env store, clock and
// recorder but reads plans from catalog.
func (e *Env) ServiceWith(catalog quota.Catalog, opts ...quota.Option) quota.Service {
	opts = append([]quota.Option{quota.WithClock(e.Clock), quota.WithNotifier(e.Events)}, opts...)
	return quota.NewService(catalog, e.Store, opts...)
}

// Reserve calls Reserve and fails the test on error.
func (e *Env) Reserve(userID uuid.UUID, feature quota.FeatureCode, amount int64) quota.ReservationResult {
	e.T.Helper()
	res, err := e.Svc.Reserve(e.Ctx, userID, feature, amount, "")
	require.NoError(e.T, err)
	return res
}

// Advance moves the mock clock forward.
func (e *Env) Advance(d time.Duration) {
	e.Clock.Advance(d).MustWait(e.Ctx)
}

// Now returns the mock clock time.
func (e *Env) Now() time.Time {
	return e.Clock.Now().UTC()
}

// Subscribe activates a base plan and fails the test on error.
func (e *Env) Subscribe(userID uuid.UUID, planID, orderID string) quota.SubscriptionActivation {
	e.T.Helper()
	res, err := e.Svc.ActivateSubscription(e.Ctx, quota.ActivateSubscriptionParams{UserID: userID, PlanID: planID, OrderID: orderID})
	require.NoError(e.T, err)
	return res
}

// Boost activates a booster pack and fails the test on error.
func (e *Env) Boost(userID uuid.UUID, planID, orderID string) quota.BoosterActivation {
	e.T.Helper()
	res, err := e.Svc.ActivateBoosterPack(e.Ctx, userID, planID, orderID)
	require.NoError(e.T, err)
	return res
}

// Consume calls TryConsume and fails the test on error.
func (e *Env) Consume(userID uuid.UUID, feature quota.FeatureCode, amount int64, resourceID string) quota.ConsumptionResult {
	e.T.Helper()
	res, err := e.Svc.TryConsume(e.Ctx, userID, feature, amount, resourceID)
	require.NoError(e.T, err)
	return res
}

// Check calls CheckCombinedQuota and fails the test on error.
func (e *Env) Check(userID uuid.UUID, feature quota.FeatureCode) quota.CombinedQuota {
	e.T.Helper()
	q, err := e.Svc.CheckCombinedQuota(e.Ctx, userID, feature)
	require.NoError(e.T, err)
	return q
}

// RunStoreSuite runs the ledger scenarios against stores built by newStore.
// newStore is called once per scenario and must return an empty store.
// Scenarios run sequentially.
func RunStoreSuite(t *testing.T, newStore func(*testing.T) quota.Store) {
	scenarios := []struct {
		name string
		fn   func(*testing.T, *Env)
	}{
		{"combined quota adds boosters to exhausted base", testCombinedQuota},
		{"consumption spends base first then soonest expiring booster", testSpillOrder},
		{"refusals write nothing", testRefusals},
		{"boosters outlive a cancelled subscription", testBoostersAfterCancel},
		{"resource id makes consumption idempotent", testIdempotentConsumption},
		{"activation is idempotent per order", testIdempotentActivation},
		{"booster purchase eligibility", testEligibility},
		{"renewal extends subscription and keeps usage", testRenewal},
		{"plan change preserves marked features", testSupersede},
		{"cancel expires periods", testCancel},
		{"custom quota overrides plan limit", testCustomQuota},
		{"daily period rolls over", testDailyRollover},
		{"reconcile expires subscriptions periods and boosters", testExpirationCascade},
		{"reconcile is skipped while another run holds the lock", testReconcileSkip},
		{"expiring boosters", testExpiringBoosters},
		{"booster history pagination", testBoosterHistory},
		{"usage records pagination", testUsageRecords},
		{"verify and repair usage drift", testUsageDrift},
		{"concurrent consumption never oversells", testConcurrentConsumption},
		{"concurrent consumption spills into boosters without overselling", testConcurrentSpill},
		{"retired plan keeps boosters usable", testRetiredPlan},
		{"reservations hold quota until confirmed or released", testReservations},
		{"lapsed reservations stop holding quota", testReservationExpiry},
		{"concurrent reservations never overbook", testConcurrentReservations},
		{"expiration reminders", testReminders},
		{"usage alerts", testAlerts},
		{"paid orders are routed by plan type", testHandleOrderPaid},
		{"quota overview", testOverview},
	}
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			sc.fn(t, NewEnv(t, newStore))
		})
	}
}

func testCombinedQuota(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")

	res := e.Consume(user, Articles, 5, "")
	require.True(t, res.Success)
	assert.Equal(t, int64(5), res.ConsumedFromBase)
	assert.Equal(t, int64(0), res.CombinedRemaining)

	e.Boost(user, PlanArticles50, "boost-1")

	q := e.Check(user, Articles)
	assert.True(t, q.HasQuota)
	assert.True(t, q.HasSubscription)
	assert.Equal(t, quota.Usage{Limit: 5, Used: 5, Remaining: 0}, q.Base)
	assert.Equal(t, int64(50), q.Booster.TotalLimit)
	assert.Equal(t, int64(0), q.Booster.TotalUsed)
	assert.Equal(t, int64(50), q.Booster.TotalRemaining)
	assert.Equal(t, 1, q.Booster.ActivePackCount)
	assert.Equal(t, int64(50), q.CombinedRemaining)
	assert.Equal(t, quota.KindNone, q.Kind)
	require.NotNil(t, q.Booster.EarliestExpiration)
	assert.True(t, Epoch.Add(30*day).Equal(*q.Booster.EarliestExpiration))
}

func testSpillOrder(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	require.True(t, e.Consume(user, Articles, 3, "").Success)

	week := e.Boost(user, PlanArticlesWeek, "boost-week")
	short := e.Boost(user, PlanArticles25, "boost-short")
	require.Len(t, week.Quotas, 1)
	require.Len(t, short.Quotas, 1)

	res := e.Consume(user, Articles, 6, "")
	require.True(t, res.Success)
	assert.Equal(t, int64(2), res.ConsumedFromBase)
	require.Len(t, res.BoosterDraws, 1)
	assert.Equal(t, short.Quotas[0].ID, res.BoosterDraws[0].BoosterQuotaID, "soonest expiry is drawn first")
	assert.Equal(t, int64(4), res.BoosterDraws[0].Amount)
	assert.Equal(t, int64(0), res.BaseRemaining)
	assert.Equal(t, int64(31), res.CombinedRemaining)

	res = e.Consume(user, Articles, 25, "")
	require.True(t, res.Success)
	assert.Equal(t, int64(0), res.ConsumedFromBase)
	require.Len(t, res.BoosterDraws, 2)
	assert.Equal(t, short.Quotas[0].ID, res.BoosterDraws[0].BoosterQuotaID)
	assert.Equal(t, int64(21), res.BoosterDraws[0].Amount)
	assert.Equal(t, week.Quotas[0].ID, res.BoosterDraws[1].BoosterQuotaID)
	assert.Equal(t, int64(4), res.BoosterDraws[1].Amount)
	assert.Equal(t, int64(25), res.ConsumedFromBoosters())
	assert.Equal(t, int64(6), res.CombinedRemaining)

	q := e.Check(user, Articles)
	assert.Equal(t, int64(29), q.Booster.TotalUsed)
	assert.Equal(t, int64(6), q.CombinedRemaining)
}

func testRefusals(t *testing.T, e *Env) {
	user := uuid.New()

	res := e.Consume(user, Articles, 1, "")
	assert.False(t, res.Success)
	assert.Equal(t, quota.KindNoActiveSubscription, res.Kind)

	res = e.Consume(uuid.Nil, Articles, 1, "")
	assert.Equal(t, quota.KindNotAuthenticated, res.Kind)

	res = e.Consume(user, "unknown_feature", 1, "")
	assert.Equal(t, quota.KindUnknownFeature, res.Kind)

	_, err := e.Svc.TryConsume(e.Ctx, user, Articles, 0, "")
	assert.ErrorIs(t, err, quota.ErrInvalidArgument)

	e.Subscribe(user, PlanBasic, "order-1")
	res = e.Consume(user, Articles, 6, "too-much")
	assert.False(t, res.Success)
	assert.Equal(t, quota.KindQuotaExceeded, res.Kind)
	assert.Equal(t, int64(5), res.CombinedRemaining)
	assert.Equal(t, "quota exceeded: 5 remaining", res.Message())

	q := e.Check(user, Articles)
	assert.Equal(t, int64(0), q.Base.Used)
	page, err := e.Svc.ListUsageRecords(e.Ctx, user, "", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, e.Events.OfType(quota.EventQuotaUpdated))

	q = e.Check(uuid.New(), Articles)
	assert.False(t, q.HasQuota)
	assert.Equal(t, quota.KindNoActiveSubscription, q.Kind)
}

func testBoostersAfterCancel(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	e.Boost(user, PlanArticles50, "boost-1")
	_, err := e.Svc.CancelSubscription(e.Ctx, user)
	require.NoError(t, err)

	q := e.Check(user, Articles)
	assert.False(t, q.HasSubscription)
	assert.True(t, q.HasQuota)
	assert.Equal(t, int64(0), q.Base.Limit)
	assert.Equal(t, int64(50), q.CombinedRemaining)

	res := e.Consume(user, Articles, 2, "")
	require.True(t, res.Success)
	assert.Equal(t, int64(0), res.ConsumedFromBase)
	assert.Equal(t, int64(2), res.ConsumedFromBoosters())
	assert.Equal(t, int64(48), res.CombinedRemaining)

	q = e.Check(user, Images)
	assert.False(t, q.HasQuota)
	assert.Equal(t, quota.KindNoActiveSubscription, q.Kind)
}

func testIdempotentConsumption(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")

	first := e.Consume(user, Articles, 1, "doc-1")
	require.True(t, first.Success)
	assert.False(t, first.Duplicate)

	second := e.Consume(user, Articles, 1, "doc-1")
	require.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, int64(1), second.ConsumedFromBase)
	assert.Equal(t, int64(4), second.CombinedRemaining)
	assert.Equal(t, "already recorded", second.Message())

	other := e.Consume(user, Images, 1, "doc-1")
	assert.False(t, other.Duplicate, "resource ids are scoped per feature")

	assert.Equal(t, int64(1), e.Check(user, Articles).Base.Used)
	page, err := e.Svc.ListUsageRecords(e.Ctx, user, Articles, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Len(t, e.Events.OfType(quota.EventQuotaUpdated), 2)
}

func testIdempotentActivation(t *testing.T, e *Env) {
	user := uuid.New()
	first := e.Subscribe(user, PlanBasic, "order-1")
	assert.Equal(t, quota.OutcomeCreated, first.Outcome)

	again := e.Subscribe(user, PlanBasic, "order-1")
	assert.Equal(t, quota.OutcomeDuplicate, again.Outcome)
	assert.Equal(t, quota.KindDuplicateActivation, again.Kind)
	assert.Equal(t, first.Subscription.ID, again.Subscription.ID)
	assert.True(t, first.Subscription.EndDate.Equal(again.Subscription.EndDate))

	_, err := e.Svc.ActivateSubscription(e.Ctx, quota.ActivateSubscriptionParams{UserID: uuid.New(), PlanID: PlanBasic, OrderID: "order-1"})
	assert.ErrorIs(t, err, quota.ErrOrderConflict)
	assert.True(t, quota.IsPermanent(err))

	b1 := e.Boost(user, PlanArticles25, "boost-1")
	assert.Equal(t, quota.KindNone, b1.Kind)
	b2 := e.Boost(user, PlanArticles25, "boost-1")
	assert.Equal(t, quota.KindDuplicateActivation, b2.Kind)
	assert.Equal(t, b1.Subscription.ID, b2.Subscription.ID)
	require.Len(t, b2.Quotas, 1)
	assert.Equal(t, b1.Quotas[0].ID, b2.Quotas[0].ID)

	_, err = e.Svc.ActivateBoosterPack(e.Ctx, uuid.New(), PlanArticles25, "boost-1")
	assert.ErrorIs(t, err, quota.ErrOrderConflict)

	h, err := e.Svc.GetUserBoosterHistory(e.Ctx, user, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Total)
	assert.Equal(t, int64(25), e.Check(user, Articles).Booster.TotalLimit)
	assert.Len(t, e.Events.OfType(quota.EventSubscriptionActivated), 1)
	assert.Len(t, e.Events.OfType(quota.EventBoosterActivated), 1)
}

func testEligibility(t *testing.T, e *Env) {
	user := uuid.New()

	el, err := e.Svc.CanPurchaseBooster(e.Ctx, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, quota.PurchaseEligibility{Kind: quota.KindNotAuthenticated}, el)

	el, err = e.Svc.CanPurchaseBooster(e.Ctx, user)
	require.NoError(t, err)
	assert.Equal(t, quota.PurchaseEligibility{Kind: quota.KindNoActiveSubscription}, el)

	_, err = e.Svc.ActivateBoosterPack(e.Ctx, user, PlanArticles25, "boost-1")
	assert.ErrorIs(t, err, quota.ErrNoActiveSubscription)
	assert.Equal(t, quota.KindNoActiveSubscription, quota.KindOf(err))

	e.Subscribe(user, PlanBasic, "order-1")
	el, err = e.Svc.CanPurchaseBooster(e.Ctx, user)
	require.NoError(t, err)
	assert.Equal(t, quota.PurchaseEligibility{Allowed: true}, el)

	_, err = e.Svc.ActivateBoosterPack(e.Ctx, user, PlanBasic, "boost-2")
	assert.ErrorIs(t, err, quota.ErrNotBoosterPlan)
	_, err = e.Svc.ActivateSubscription(e.Ctx, quota.ActivateSubscriptionParams{UserID: user, PlanID: PlanArticles25, OrderID: "order-2"})
	assert.ErrorIs(t, err, quota.ErrNotBasePlan)
	_, err = e.Svc.ActivateBoosterPack(e.Ctx, user, "missing", "boost-3")
	assert.ErrorIs(t, err, quota.ErrPlanNotFound)

	e.Advance(31 * day)
	el, err = e.Svc.CanPurchaseBooster(e.Ctx, user)
	require.NoError(t, err)
	assert.Equal(t, quota.KindNoActiveSubscription, el.Kind, "an ended but unreconciled subscription does not qualify")
}

func testRenewal(t *testing.T, e *Env) {
	user := uuid.New()
	first := e.Subscribe(user, PlanBasic, "order-1")
	assert.True(t, Epoch.Add(30*day).Equal(first.Subscription.EndDate))
	require.True(t, e.Consume(user, Articles, 2, "").Success)

	e.Advance(10 * day)
	renewed := e.Subscribe(user, PlanBasic, "order-2")
	assert.Equal(t, quota.OutcomeRenewed, renewed.Outcome)
	assert.Equal(t, first.Subscription.ID, renewed.Subscription.ID)
	assert.True(t, Epoch.Add(60*day).Equal(renewed.Subscription.EndDate))
	assert.Nil(t, renewed.Previous)

	q := e.Check(user, Articles)
	assert.Equal(t, int64(2), q.Base.Used, "renewal keeps usage")

	p, err := e.Store.CurrentUsagePeriod(e.Ctx, user, Articles)
	require.NoError(t, err)
	assert.True(t, Epoch.AddDate(0, 1, 0).Equal(p.PeriodEnd), "period end is re-clamped to the monthly boundary")

	replay := e.Subscribe(user, PlanBasic, "order-2")
	assert.Equal(t, quota.OutcomeDuplicate, replay.Outcome)
	assert.Len(t, e.Events.OfType(quota.EventSubscriptionRenewed), 1)
}

func testSupersede(t *testing.T, e *Env) {
	user := uuid.New()
	basic := e.Subscribe(user, PlanBasic, "order-1")
	require.True(t, e.Consume(user, Articles, 3, "").Success)
	require.True(t, e.Consume(user, Images, 2, "").Success)

	e.Advance(time.Hour)
	pro := e.Subscribe(user, PlanPro, "order-2")
	assert.Equal(t, quota.OutcomeSuperseded, pro.Outcome)
	require.NotNil(t, pro.Previous)
	assert.Equal(t, basic.Subscription.ID, pro.Previous.ID)
	assert.Equal(t, quota.SubscriptionCancelled, pro.Previous.Status)
	assert.NotEqual(t, basic.Subscription.ID, pro.Subscription.ID)

	articles := e.Check(user, Articles)
	assert.Equal(t, int64(100), articles.Base.Limit)
	assert.Equal(t, int64(3), articles.Base.Used, "preserved feature carries its count")

	images := e.Check(user, Images)
	assert.Equal(t, int64(20), images.Base.Limit)
	assert.Equal(t, int64(0), images.Base.Used)

	seats := e.Check(user, Seats)
	assert.Equal(t, quota.Unlimited, seats.CombinedRemaining)

	active, err := e.Svc.GetActiveSubscription(e.Ctx, user)
	require.NoError(t, err)
	assert.Equal(t, PlanPro, active.PlanID)
}

func testCancel(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	require.True(t, e.Consume(user, Articles, 1, "").Success)

	sub, err := e.Svc.CancelSubscription(e.Ctx, user)
	require.NoError(t, err)
	assert.Equal(t, quota.SubscriptionCancelled, sub.Status)

	_, err = e.Store.CurrentUsagePeriod(e.Ctx, user, Articles)
	assert.ErrorIs(t, err, quota.ErrNotFound)

	q := e.Check(user, Articles)
	assert.False(t, q.HasQuota)
	assert.Equal(t, quota.KindNoActiveSubscription, q.Kind)

	_, err = e.Svc.GetActiveSubscription(e.Ctx, user)
	assert.ErrorIs(t, err, quota.ErrNoActiveSubscription)
	_, err = e.Svc.CancelSubscription(e.Ctx, user)
	assert.ErrorIs(t, err, quota.ErrNoActiveSubscription)
	assert.Len(t, e.Events.OfType(quota.EventSubscriptionCancelled), 1)

	again := e.Subscribe(user, PlanBasic, "order-2")
	assert.Equal(t, quota.OutcomeCreated, again.Outcome)
	assert.Equal(t, int64(0), e.Check(user, Articles).Base.Used)
}

func testCustomQuota(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	ten, unlimited, invalid := int64(10), quota.Unlimited, int64(-2)

	sub, err := e.Svc.SetCustomQuota(e.Ctx, user, Articles, &ten)
	require.NoError(t, err)
	assert.Equal(t, map[quota.FeatureCode]int64{Articles: 10}, sub.CustomQuotas)
	assert.Equal(t, int64(10), e.Check(user, Articles).Base.Limit)

	_, err = e.Svc.SetCustomQuota(e.Ctx, user, Articles, &unlimited)
	require.NoError(t, err)
	q := e.Check(user, Articles)
	assert.True(t, q.Base.IsUnlimited())
	assert.Equal(t, quota.Unlimited, q.CombinedRemaining)
	assert.True(t, q.Allows(1_000_000))

	res := e.Consume(user, Articles, 1000, "")
	require.True(t, res.Success)
	assert.Equal(t, int64(1000), res.ConsumedFromBase)
	assert.Equal(t, quota.Unlimited, res.CombinedRemaining)

	_, err = e.Svc.SetCustomQuota(e.Ctx, user, Articles, nil)
	require.NoError(t, err)
	q = e.Check(user, Articles)
	assert.Equal(t, int64(5), q.Base.Limit)
	assert.Equal(t, int64(0), q.Base.Remaining, "usage above the restored limit clamps to zero")

	_, err = e.Svc.SetCustomQuota(e.Ctx, user, Articles, &invalid)
	assert.ErrorIs(t, err, quota.ErrInvalidArgument)
	_, err = e.Svc.SetCustomQuota(e.Ctx, user, "unknown_feature", &ten)
	assert.ErrorIs(t, err, quota.ErrUnknownFeature)
	_, err = e.Svc.SetCustomQuota(e.Ctx, uuid.New(), Articles, &ten)
	assert.ErrorIs(t, err, quota.ErrNoActiveSubscription)

	other := uuid.New()
	_, err = e.Svc.ActivateSubscription(e.Ctx, quota.ActivateSubscriptionParams{
		UserID:       other,
		PlanID:       PlanBasic,
		OrderID:      "order-2",
		CustomQuotas: map[quota.FeatureCode]int64{"unknown_feature": 10},
	})
	assert.ErrorIs(t, err, quota.ErrUnknownFeature)
	_, err = e.Svc.GetActiveSubscription(e.Ctx, other)
	assert.ErrorIs(t, err, quota.ErrNoActiveSubscription, "a rejected activation writes nothing")

	zero := int64(0)
	_, err = e.Svc.SetCustomQuota(e.Ctx, user, Images, &zero)
	require.NoError(t, err)
	res = e.Consume(user, Images, 1, "")
	assert.Equal(t, quota.KindQuotaExceeded, res.Kind)
}

func testDailyRollover(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")

	require.True(t, e.Consume(user, Images, 3, "").Success)
	assert.Equal(t, quota.KindQuotaExceeded, e.Consume(user, Images, 1, "").Kind)
	first, err := e.Store.CurrentUsagePeriod(e.Ctx, user, Images)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC).Add(day).Equal(first.PeriodEnd))
	assert.True(t, Epoch.Equal(first.PeriodStart), "first period starts with the subscription")

	e.Advance(day)
	q := e.Check(user, Images)
	assert.Equal(t, int64(0), q.Base.Used, "a passed period no longer counts")
	assert.Equal(t, int64(3), q.Base.Remaining)

	require.True(t, e.Consume(user, Images, 1, "").Success)
	drift, err := e.Svc.VerifyUsage(e.Ctx, user, Images)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, drift.PeriodID)
	assert.Equal(t, int64(1), drift.Stored)
	assert.Equal(t, int64(1), drift.Reconstructed)
	assert.False(t, drift.HasDrift())

	assert.Equal(t, int64(1), e.Check(user, Images).Base.Used)
}

func testExpirationCascade(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	require.True(t, e.Consume(user, Articles, 1, "").Success)
	require.True(t, e.Consume(user, Images, 1, "").Success)
	e.Boost(user, PlanArticles25, "boost-1")
	e.Events.Reset()

	e.Advance(31 * day)
	q := e.Check(user, Articles)
	assert.False(t, q.HasQuota, "expired rows stop granting quota before reconciliation")
	assert.Equal(t, quota.KindNoActiveSubscription, q.Kind)

	res, err := e.Svc.Reconcile(e.Ctx)
	require.NoError(t, err)
	assert.Equal(t, quota.ReconcileResult{
		ExpiredSubscriptions:        1,
		ExpiredPeriods:              2,
		ExpiredBoosterQuotas:        1,
		ExpiredBoosterSubscriptions: 1,
		HandledCount:                2,
	}, res)
	assert.Len(t, e.Events.OfType(quota.EventSubscriptionExpired), 1)
	assert.Len(t, e.Events.OfType(quota.EventBoosterExpired), 1)

	res, err = e.Svc.Reconcile(e.Ctx)
	require.NoError(t, err)
	assert.Equal(t, quota.ReconcileResult{}, res)

	_, err = e.Svc.GetActiveSubscription(e.Ctx, user)
	assert.ErrorIs(t, err, quota.ErrNoActiveSubscription)
	_, err = e.Store.CurrentUsagePeriod(e.Ctx, user, Articles)
	assert.ErrorIs(t, err, quota.ErrNotFound)

	h, err := e.Svc.GetUserBoosterHistory(e.Ctx, user, 1, 10)
	require.NoError(t, err)
	require.Len(t, h.Records, 1)
	assert.Equal(t, quota.SubscriptionExpired, h.Records[0].Subscription.Status)
	require.Len(t, h.Records[0].Quotas, 1)
	assert.Equal(t, quota.BoosterExpired, h.Records[0].Quotas[0].Status)

	again := e.Subscribe(user, PlanBasic, "order-2")
	assert.Equal(t, quota.OutcomeCreated, again.Outcome)
}

func testReconcileSkip(t *testing.T, e *Env) {
	acquired, err := e.Store.WithReconcileLock(e.Ctx, func(ctx context.Context, _ quota.Tx) error {
		res, err := e.Svc.Reconcile(ctx)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, quota.KindReconciliationConflict, res.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, acquired)

	res, err := e.Svc.Reconcile(e.Ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}

func testExpiringBoosters(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	boost := e.Boost(user, PlanArticles25, "boost-1")
	e.Boost(user, PlanArticles50, "boost-2")

	expiring, err := e.Svc.GetExpiringBoosters(e.Ctx, user, 7)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	exp := expiring[0]
	assert.Equal(t, boost.Subscription.ID, exp.BoosterSubscriptionID)
	assert.Equal(t, Articles, exp.Feature)
	assert.Equal(t, int64(25), exp.Remaining)
	assert.Equal(t, 3, exp.DaysRemaining)
	assert.GreaterOrEqual(t, exp.DaysRemaining, 0)
	assert.LessOrEqual(t, exp.DaysRemaining, 7)

	none, err := e.Svc.GetExpiringBoosters(e.Ctx, user, 2)
	require.NoError(t, err)
	assert.Empty(t, none)

	e.Advance(36 * time.Hour)
	expiring, err = e.Svc.GetExpiringBoosters(e.Ctx, user, 7)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, 2, expiring[0].DaysRemaining, "days remaining round up")

	summary, err := e.Svc.GetBoosterSummary(e.Ctx, user)
	require.NoError(t, err)
	require.Contains(t, summary, Articles)
	assert.Equal(t, int64(75), summary[Articles].TotalLimit)
	assert.Equal(t, 2, summary[Articles].ActivePackCount)

	_, err = e.Svc.GetExpiringBoosters(e.Ctx, user, -1)
	assert.ErrorIs(t, err, quota.ErrInvalidArgument)

	anon, err := e.Svc.GetExpiringBoosters(e.Ctx, uuid.Nil, 7)
	require.NoError(t, err)
	assert.Empty(t, anon)
}

func testBoosterHistory(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	for i := 1; i <= 3; i++ {
		e.Boost(user, PlanArticles50, fmt.Sprintf("boost-%d", i))
		e.Advance(time.Minute)
	}
	other := uuid.New()
	e.Subscribe(other, PlanBasic, "order-other")
	e.Boost(other, PlanArticles50, "boost-other")

	h, err := e.Svc.GetUserBoosterHistory(e.Ctx, user, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Total)
	assert.Equal(t, 2, h.TotalPages)
	assert.Equal(t, 1, h.Page)
	assert.Equal(t, 2, h.PageSize)
	require.Len(t, h.Records, 2)
	assert.Equal(t, "boost-3", h.Records[0].Subscription.OrderID, "newest first")
	assert.Equal(t, "boost-2", h.Records[1].Subscription.OrderID)
	assert.Len(t, h.Records[0].Quotas, 1)

	h, err = e.Svc.GetUserBoosterHistory(e.Ctx, user, 2, 2)
	require.NoError(t, err)
	require.Len(t, h.Records, 1)
	assert.Equal(t, "boost-1", h.Records[0].Subscription.OrderID)

	h, err = e.Svc.GetUserBoosterHistory(e.Ctx, user, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Page)
	assert.Equal(t, 20, h.PageSize)

	h, err = e.Svc.GetUserBoosterHistory(e.Ctx, uuid.Nil, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, h.Records)
	assert.Zero(t, h.Total)
}

func testUsageRecords(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanPro, "order-1")
	require.True(t, e.Consume(user, Articles, 1, "a-1").Success)
	e.Advance(time.Minute)
	require.True(t, e.Consume(user, Images, 2, "").Success)
	e.Advance(time.Minute)
	require.True(t, e.Consume(user, Articles, 3, "a-2").Success)

	page, err := e.Svc.ListUsageRecords(e.Ctx, user, "", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "a-2", page.Records[0].ResourceID)
	assert.Equal(t, int64(3), page.Records[0].BaseAmount)
	assert.NotNil(t, page.Records[0].UsagePeriodID)
	assert.Equal(t, Images, page.Records[1].FeatureCode)
	assert.Empty(t, page.Records[1].ResourceID)

	page, err = e.Svc.ListUsageRecords(e.Ctx, user, Articles, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "a-1", page.Records[1].ResourceID)

	_, err = e.Svc.ListUsageRecords(e.Ctx, uuid.Nil, "", 1, 10)
	assert.ErrorIs(t, err, quota.ErrNotAuthenticated)
}

func testUsageDrift(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	require.True(t, e.Consume(user, Articles, 2, "").Success)

	period, err := e.Store.CurrentUsagePeriod(e.Ctx, user, Articles)
	require.NoError(t, err)
	require.NoError(t, e.Store.InTx(e.Ctx, func(ctx context.Context, tx quota.Tx) error {
		return tx.IncrementUsagePeriod(ctx, period.ID, 2, e.Now())
	}))

	drift, err := e.Svc.VerifyUsage(e.Ctx, user, Articles)
	require.NoError(t, err)
	assert.True(t, drift.HasDrift())
	assert.Equal(t, int64(4), drift.Stored)
	assert.Equal(t, int64(2), drift.Reconstructed)
	assert.Equal(t, int64(4), e.Check(user, Articles).Base.Used, "verify does not write")

	drift, err = e.Svc.RepairUsage(e.Ctx, user, Articles)
	require.NoError(t, err)
	assert.True(t, drift.HasDrift())
	assert.Equal(t, int64(2), e.Check(user, Articles).Base.Used)

	drift, err = e.Svc.VerifyUsage(e.Ctx, user, Articles)
	require.NoError(t, err)
	assert.False(t, drift.HasDrift())

	_, err = e.Svc.VerifyUsage(e.Ctx, user, Seats)
	assert.ErrorIs(t, err, quota.ErrNotFound)
}

func testConcurrentConsumption(t *testing.T, e *Env) {
	const workers, limit = 20, 5
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[quota.Kind]int{}
		errs     []error
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Svc.TryConsume(e.Ctx, user, Articles, 1, fmt.Sprintf("doc-%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[res.Kind]++
		}(i)
	}
	wg.Wait()

	require.NoError(t, errors.Join(errs...))
	assert.Equal(t, limit, outcomes[quota.KindNone])
	assert.Equal(t, workers-limit, outcomes[quota.KindQuotaExceeded])

	q := e.Check(user, Articles)
	assert.Equal(t, int64(limit), q.Base.Used)
	assert.Equal(t, int64(0), q.Base.Remaining)

	drift, err := e.Svc.VerifyUsage(e.Ctx, user, Articles)
	require.NoError(t, err)
	assert.False(t, drift.HasDrift())
}

func testConcurrentSpill(t *testing.T, e *Env) {
	const workers, capacity = 60, 40
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	e.Boost(user, PlanArticles25, "boost-1")
	e.Boost(user, PlanArticlesWeek, "boost-2")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[quota.Kind]int{}
		errs     []error
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Svc.TryConsume(e.Ctx, user, Articles, 1, fmt.Sprintf("doc-%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[res.Kind]++
		}(i)
	}
	wg.Wait()

	require.NoError(t, errors.Join(errs...))
	assert.Equal(t, capacity, outcomes[quota.KindNone])
	assert.Equal(t, workers-capacity, outcomes[quota.KindQuotaExceeded])

	q := e.Check(user, Articles)
	assert.Equal(t, int64(5), q.Base.Used)
	assert.Equal(t, int64(35), q.Booster.TotalUsed)
	assert.Equal(t, int64(capacity), q.Base.Used+q.Booster.TotalUsed)
	assert.Equal(t, int64(0), q.CombinedRemaining)

	recs, err := e.Svc.ListUsageRecords(e.Ctx, user, Articles, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, capacity, recs.Total)

	drift, err := e.Svc.VerifyUsage(e.Ctx, user, Articles)
	require.NoError(t, err)
	assert.False(t, drift.HasDrift())
}

func testRetiredPlan(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")
	require.True(t, e.Consume(user, Articles, 2, "").Success)
	e.Boost(user, PlanArticles25, "boost-1")

	svc := e.ServiceWith(CatalogWithout(t, PlanBasic))

	q, err := svc.CheckCombinedQuota(e.Ctx, user, Articles)
	require.NoError(t, err)
	assert.True(t, q.HasQuota)
	assert.True(t, q.HasSubscription)
	assert.Equal(t, quota.Usage{Limit: 0, Used: 2, Remaining: 0}, q.Base)
	assert.Equal(t, int64(25), q.CombinedRemaining)

	res, err := svc.TryConsume(e.Ctx, user, Articles, 3, "")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Zero(t, res.ConsumedFromBase)
	assert.Equal(t, int64(3), res.ConsumedFromBoosters())
	assert.Equal(t, int64(22), res.CombinedRemaining)

	images, err := svc.CheckCombinedQuota(e.Ctx, user, Images)
	require.NoError(t, err)
	assert.False(t, images.HasQuota)
	assert.Equal(t, quota.KindQuotaExceeded, images.Kind)

	overview, err := svc.GetQuotaOverview(e.Ctx, user)
	require.NoError(t, err)
	require.Len(t, overview, 1)
	assert.Equal(t, Articles, overview[0].Feature.Code)
	assert.True(t, overview[0].IsBeingConsumed)

	assert.Equal(t, int64(5), e.Check(user, Articles).Base.Limit, "the full catalog still resolves the plan")
}

func testReservations(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")

	res, err := e.Svc.Reserve(e.Ctx, uuid.Nil, Articles, 1, "")
	require.NoError(t, err)
	assert.Equal(t, quota.KindNotAuthenticated, res.Kind)
	res, err = e.Svc.Reserve(e.Ctx, user, "unknown_feature", 1, "")
	require.NoError(t, err)
	assert.Equal(t, quota.KindUnknownFeature, res.Kind)
	_, err = e.Svc.Reserve(e.Ctx, user, Articles, 0, "")
	assert.ErrorIs(t, err, quota.ErrInvalidArgument)

	held, err := e.Svc.Reserve(e.Ctx, user, Articles, 3, "desktop-1")
	require.NoError(t, err)
	require.True(t, held.Success)
	assert.Equal(t, int64(2), held.CombinedRemaining)
	assert.Equal(t, quota.ReservationHeld, held.Reservation.Status)
	assert.Equal(t, "desktop-1", held.Reservation.ClientID)
	assert.True(t, Epoch.Add(10*time.Minute).Equal(held.Reservation.ExpiresAt))

	q := e.Check(user, Articles)
	assert.Equal(t, int64(3), q.Reserved)
	assert.Equal(t, int64(0), q.Base.Used)
	assert.Equal(t, int64(2), q.CombinedRemaining)

	assert.Equal(t, quota.KindQuotaExceeded, e.Consume(user, Articles, 3, "").Kind, "held units are not available to other callers")
	refused := e.Reserve(user, Articles, 3)
	assert.False(t, refused.Success)
	assert.Equal(t, quota.KindQuotaExceeded, refused.Kind)
	assert.Equal(t, int64(2), refused.CombinedRemaining)

	confirmed, err := e.Svc.ConfirmReservation(e.Ctx, user, held.Reservation.ID)
	require.NoError(t, err)
	require.True(t, confirmed.Success)
	assert.False(t, confirmed.Duplicate)
	assert.Equal(t, int64(3), confirmed.ConsumedFromBase)
	assert.Equal(t, int64(2), confirmed.CombinedRemaining)

	q = e.Check(user, Articles)
	assert.Zero(t, q.Reserved)
	assert.Equal(t, int64(3), q.Base.Used)

	again, err := e.Svc.ConfirmReservation(e.Ctx, user, held.Reservation.ID)
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.True(t, again.Duplicate)
	assert.Equal(t, int64(3), e.Check(user, Articles).Base.Used)

	_, err = e.Svc.ReleaseReservation(e.Ctx, user, held.Reservation.ID, "too late")
	assert.ErrorIs(t, err, quota.ErrReservationClosed)

	e.Advance(time.Minute)
	second := e.Reserve(user, Articles, 2)
	require.True(t, second.Success)
	assert.Zero(t, second.CombinedRemaining)

	released, err := e.Svc.ReleaseReservation(e.Ctx, user, second.Reservation.ID, "task failed")
	require.NoError(t, err)
	assert.Equal(t, quota.ReservationReleased, released.Status)
	assert.Equal(t, "task failed", released.ReleaseReason)
	require.NotNil(t, released.ReleasedAt)
	assert.Equal(t, int64(2), e.Check(user, Articles).CombinedRemaining)

	closed, err := e.Svc.ConfirmReservation(e.Ctx, user, second.Reservation.ID)
	require.NoError(t, err)
	assert.False(t, closed.Success)
	assert.Equal(t, quota.KindReservationClosed, closed.Kind)

	_, err = e.Svc.ConfirmReservation(e.Ctx, uuid.New(), second.Reservation.ID)
	assert.ErrorIs(t, err, quota.ErrReservationNotFound, "reservations of other users are invisible")
	_, err = e.Svc.ReleaseReservation(e.Ctx, user, uuid.New(), "")
	assert.ErrorIs(t, err, quota.ErrReservationNotFound)

	all, err := e.Svc.GetUserReservations(e.Ctx, user, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.Reservation.ID, all[0].ID)
	assert.Equal(t, held.Reservation.ID, all[1].ID)
	require.NotNil(t, all[1].ConfirmedAt)

	done, err := e.Svc.GetUserReservations(e.Ctx, user, quota.ReservationConfirmed)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, held.Reservation.ID, done[0].ID)

	assert.Len(t, e.Events.OfType(quota.EventQuotaReserved), 2)
	assert.Len(t, e.Events.OfType(quota.EventReservationReleased), 1)

	third := e.Reserve(user, Articles, 2)
	require.True(t, third.Success)
	one := int64(1)
	_, err = e.Svc.SetCustomQuota(e.Ctx, user, Articles, &one)
	require.NoError(t, err)

	shrunk, err := e.Svc.ConfirmReservation(e.Ctx, user, third.Reservation.ID)
	require.NoError(t, err)
	assert.False(t, shrunk.Success)
	assert.Equal(t, quota.KindQuotaExceeded, shrunk.Kind)
	kept, err := e.Store.Reservation(e.Ctx, third.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, quota.ReservationHeld, kept.Status, "a refused confirmation keeps the hold")
	assert.Nil(t, kept.ConfirmedAt)
	assert.Equal(t, int64(3), e.Check(user, Articles).Base.Used)
}

func testReservationExpiry(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")

	late := e.Reserve(user, Articles, 5)
	require.True(t, late.Success)
	swept := e.Reserve(user, Images, 1)
	require.True(t, swept.Success)
	assert.Zero(t, e.Check(user, Articles).CombinedRemaining)

	e.Advance(10 * time.Minute)
	q := e.Check(user, Articles)
	assert.Zero(t, q.Reserved, "a lapsed hold stops counting before reconciliation")
	assert.Equal(t, int64(5), q.CombinedRemaining)

	res, err := e.Svc.ConfirmReservation(e.Ctx, user, late.Reservation.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, quota.KindReservationExpired, res.Kind)
	assert.Zero(t, e.Check(user, Articles).Base.Used)

	rec, err := e.Svc.Reconcile(e.Ctx)
	require.NoError(t, err)
	assert.Equal(t, quota.ReconcileResult{ExpiredReservations: 1, HandledCount: 1}, rec)

	expired, err := e.Svc.GetUserReservations(e.Ctx, user, quota.ReservationExpired)
	require.NoError(t, err)
	assert.Len(t, expired, 2)

	res, err = e.Svc.ConfirmReservation(e.Ctx, user, swept.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, quota.KindReservationClosed, res.Kind)
}

func testConcurrentReservations(t *testing.T, e *Env) {
	const workers, limit = 20, 5
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[quota.Kind]int{}
		errs     []error
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				res quota.ReservationResult
				err error
			)
			if i%2 == 0 {
				res, err = e.Svc.Reserve(e.Ctx, user, Articles, 1, fmt.Sprintf("client-%d", i))
			} else {
				var c quota.ConsumptionResult
				c, err = e.Svc.TryConsume(e.Ctx, user, Articles, 1, fmt.Sprintf("doc-%d", i))
				res.Kind = c.Kind
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			outcomes[res.Kind]++
		}(i)
	}
	wg.Wait()

	require.NoError(t, errors.Join(errs...))
	assert.Equal(t, limit, outcomes[quota.KindNone])
	assert.Equal(t, workers-limit, outcomes[quota.KindQuotaExceeded])

	q := e.Check(user, Articles)
	assert.Equal(t, int64(limit), q.Base.Used+q.Reserved)
	assert.Zero(t, q.CombinedRemaining)
}

func testReminders(t *testing.T, e *Env) {
	user := uuid.New()
	sub := e.Subscribe(user, PlanBasic, "order-1").Subscription

	steps := []struct {
		at   time.Duration
		want int
	}{
		{at: 20*day + time.Hour, want: 0},
		{at: 23*day + time.Hour, want: 7},
		{at: 24*day + time.Hour, want: 0},
		{at: 27*day + time.Hour, want: 3},
		{at: 29*day + time.Hour, want: 1},
	}
	for _, st := range steps {
		e.Clock.Set(Epoch.Add(st.at)).MustWait(e.Ctx)
		e.Events.Reset()

		n, err := e.Svc.SendExpirationReminders(e.Ctx)
		require.NoError(t, err)
		evs := e.Events.OfType(quota.EventSubscriptionExpiring)
		if st.want == 0 {
			assert.Zero(t, n, "at %s", st.at)
			assert.Empty(t, evs)
			continue
		}
		assert.Equal(t, 1, n, "at %s", st.at)
		require.Len(t, evs, 1)
		assert.Equal(t, st.want, evs[0].DaysRemaining)
		assert.Equal(t, sub.ID, evs[0].SubscriptionID)
		require.NotNil(t, evs[0].ExpiresAt)
		assert.True(t, sub.EndDate.Equal(*evs[0].ExpiresAt))
	}
}

func testAlerts(t *testing.T, e *Env) {
	user := uuid.New()
	e.Subscribe(user, PlanBasic, "order-1")

	require.True(t, e.Consume(user, Articles, 3, "").Success)
	assert.Empty(t, e.Events.OfType(quota.EventQuotaAlert))

	require.True(t, e.Consume(user, Articles, 1, "").Success)
	require.True(t, e.Consume(user, Articles, 1, "").Success)

	alerts := e.Events.OfType(quota.EventQuotaAlert)
	require.Len(t, alerts, 2)
	assert.Equal(t, quota.AlertWarning, alerts[0].Level)
	assert.Equal(t, 80, alerts[0].Percentage)
	assert.Equal(t, quota.AlertDepleted, alerts[1].Level, "the highest crossed threshold wins")
	assert.Equal(t, 100, alerts[1].Percentage)
	assert.Equal(t, Articles, alerts[1].Feature)

	updates := e.Events.OfType(quota.EventQuotaUpdated)
	require.Len(t, updates, 3)
	assert.Equal(t, int64(0), updates[2].Remaining)
}

func testHandleOrderPaid(t *testing.T, e *Env) {
	user := uuid.New()

	err := e.Svc.HandleOrderPaid(e.Ctx, quota.OrderPaid{UserID: user, PlanID: PlanArticles25, OrderID: "boost-1"})
	assert.ErrorIs(t, err, quota.ErrNoActiveSubscription)
	assert.False(t, quota.IsPermanent(err), "a booster paid before its base plan is retried")

	require.NoError(t, e.Svc.HandleOrderPaid(e.Ctx, quota.OrderPaid{UserID: user, PlanID: PlanBasic, OrderID: "order-1"}))
	sub, err := e.Svc.GetActiveSubscription(e.Ctx, user)
	require.NoError(t, err)
	assert.Equal(t, PlanBasic, sub.PlanID)

	require.NoError(t, e.Svc.HandleOrderPaid(e.Ctx, quota.OrderPaid{UserID: user, PlanID: PlanArticles25, OrderID: "boost-1"}))
	assert.Equal(t, int64(25), e.Check(user, Articles).Booster.TotalRemaining)

	require.NoError(t, e.Svc.HandleOrderPaid(e.Ctx, quota.OrderPaid{UserID: user, PlanID: PlanBasic, OrderID: "order-1"}), "replays are accepted")
	require.NoError(t, e.Svc.HandleOrderPaid(e.Ctx, quota.OrderPaid{UserID: user, PlanID: PlanArticles25, OrderID: "boost-1"}))

	err = e.Svc.HandleOrderPaid(e.Ctx, quota.OrderPaid{UserID: user, PlanID: "missing", OrderID: "order-x"})
	assert.ErrorIs(t, err, quota.ErrPlanNotFound)
	assert.True(t, quota.IsPermanent(err))

	err = e.Svc.HandleOrderPaid(e.Ctx, quota.OrderPaid{UserID: uuid.Nil, PlanID: PlanBasic, OrderID: "order-y"})
	assert.True(t, quota.IsPermanent(err))
}

func testOverview(t *testing.T, e *Env) {
	user := uuid.New()
	_, err := e.Svc.GetQuotaOverview(e.Ctx, uuid.Nil)
	assert.ErrorIs(t, err, quota.ErrNotAuthenticated)

	e.Subscribe(user, PlanBasic, "order-1")
	require.True(t, e.Consume(user, Articles, 5, "").Success)
	require.True(t, e.Consume(user, Images, 1, "").Success)
	e.Boost(user, PlanArticles25, "boost-1")

	overview, err := e.Svc.GetQuotaOverview(e.Ctx, user)
	require.NoError(t, err)
	byCode := make(map[quota.FeatureCode]quota.FeatureOverview, len(overview))
	for _, ov := range overview {
		byCode[ov.Feature.Code] = ov
	}
	require.Len(t, byCode, 3)

	articles := byCode[Articles]
	assert.Equal(t, 100, articles.Percentage)
	assert.True(t, articles.IsBeingConsumed)
	assert.True(t, articles.ExpirationWarning)
	require.NotNil(t, articles.ResetAt)
	assert.True(t, Epoch.Add(30*day).Equal(*articles.ResetAt), "monthly window is clamped to the subscription end")

	images := byCode[Images]
	assert.Equal(t, 33, images.Percentage)
	assert.False(t, images.IsBeingConsumed)
	assert.False(t, images.ExpirationWarning)
	require.NotNil(t, images.ResetAt)
	assert.True(t, time.Date(2025, time.January, 16, 0, 0, 0, 0, time.UTC).Equal(*images.ResetAt))

	seats := byCode[Seats]
	assert.Equal(t, 0, seats.Percentage)
	require.NotNil(t, seats.ResetAt)
	assert.True(t, Epoch.Add(30*day).Equal(*seats.ResetAt))

	fresh, err := e.Svc.GetQuotaOverview(e.Ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, fresh)
}
