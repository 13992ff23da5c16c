package quota

import (
	"context"
	"time"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
)

// ReconcileResult reports what a reconcile run changed.
type ReconcileResult struct {
	ExpiredSubscriptions        int  `json:"expired_subscriptions"`
	ExpiredPeriods              int  `json:"expired_periods"`
	ExpiredBoosterQuotas        int  `json:"expired_booster_quotas"`
	ExpiredBoosterSubscriptions int  `json:"expired_booster_subscriptions"`
	ExpiredReservations         int  `json:"expired_reservations"`
	HandledCount                int  `json:"handled_count"`
	Skipped                     bool `json:"skipped"`
	Kind                        Kind `json:"kind,omitempty"`
}

// Reconciler expires ledger rows whose validity window has passed.
type Reconciler struct {
	*deps
	tracker *UsagePeriodTracker
}

// NewReconciler returns a standalone Reconciler.
func NewReconciler(catalog Catalog, store Store, opts ...Option) *Reconciler {
	d := newDeps(catalog, store, opts)
	return &Reconciler{deps: d, tracker: &UsagePeriodTracker{deps: d}}
}

// Reconcile expires subscriptions past their EndDate together with their
// current usage periods, booster rows past their ExpiresAt and lapsed
// reservation holds. It is
// idempotent. When another run holds the reconcile lock it returns
// immediately with Skipped=true and a nil error.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var (
		res      ReconcileResult
		subs     []Subscription
		boosters []BoosterQuota
	)
	now := r.now()

	acquired, err := r.store.WithReconcileLock(ctx, func(ctx context.Context, tx Tx) error {
		res = ReconcileResult{}
		var err error
		subs, err = tx.ExpireSubscriptions(ctx, now)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			n, err := r.tracker.ExpireAll(ctx, tx, sub.ID, now)
			if err != nil {
				return err
			}
			res.ExpiredPeriods += n
		}
		boosters, err = tx.ExpireBoosterQuotas(ctx, now)
		if err != nil {
			return err
		}
		res.ExpiredBoosterSubscriptions, err = tx.ExpireBoosterSubscriptions(ctx, now)
		if err != nil {
			return err
		}
		res.ExpiredReservations, err = tx.ExpireReservations(ctx, now)
		if err != nil {
			return err
		}
		res.ExpiredSubscriptions = len(subs)
		res.ExpiredBoosterQuotas = len(boosters)
		res.HandledCount = res.ExpiredSubscriptions + res.ExpiredBoosterQuotas + res.ExpiredReservations
		return nil
	})
	if err != nil {
		r.metrics.reconcile("failed", ReconcileResult{})
		r.log.ErrorContext(ctx, "quota reconciliation failed", logger.Component("reconciler"), logger.Error(err))
		return ReconcileResult{}, err
	}
	if !acquired {
		r.metrics.reconcile("skipped", ReconcileResult{})
		r.log.DebugContext(ctx, "quota reconciliation already running", logger.Component("reconciler"))
		return ReconcileResult{Skipped: true, Kind: KindReconciliationConflict}, nil
	}

	r.metrics.reconcile("completed", res)
	if res.HandledCount > 0 {
		r.log.InfoContext(ctx, "quota reconciliation completed",
			logger.Component("reconciler"),
			"expired_subscriptions", res.ExpiredSubscriptions,
			"expired_periods", res.ExpiredPeriods,
			"expired_booster_quotas", res.ExpiredBoosterQuotas,
			"expired_booster_subscriptions", res.ExpiredBoosterSubscriptions,
			"expired_reservations", res.ExpiredReservations,
		)
	}

	for _, sub := range subs {
		r.notify(ctx, Event{
			Type:           EventSubscriptionExpired,
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			PlanID:         sub.PlanID,
		})
	}
	for _, q := range boosters {
		exp := q.ExpiresAt
		r.notify(ctx, Event{
			Type:           EventBoosterExpired,
			UserID:         q.UserID,
			Feature:        q.FeatureCode,
			SubscriptionID: q.BoosterSubscriptionID,
			Remaining:      q.Remaining(),
			ExpiresAt:      &exp,
		})
	}
	return res, nil
}

// SendExpirationReminders publishes EventSubscriptionExpiring for active
// subscriptions whose remaining whole days (rounded up) equal one of the
// reminder days (7, 3 and 1 by default). Running it once a day sends each
// reminder once. It returns the number of events published.
func (r *Reconciler) SendExpirationReminders(ctx context.Context) (int, error) {
	now := r.now()
	sent := 0
	for _, days := range r.reminderDays {
		if days <= 0 {
			continue
		}
		after := now.Add(time.Duration(days-1) * 24 * time.Hour)
		notAfter := now.Add(time.Duration(days) * 24 * time.Hour)
		subs, err := r.store.SubscriptionsEndingBetween(ctx, after, notAfter)
		if err != nil {
			return sent, err
		}
		for _, sub := range subs {
			exp := sub.EndDate
			r.notify(ctx, Event{
				Type:           EventSubscriptionExpiring,
				UserID:         sub.UserID,
				SubscriptionID: sub.ID,
				PlanID:         sub.PlanID,
				DaysRemaining:  days,
				ExpiresAt:      &exp,
			})
			sent++
		}
	}
	if sent > 0 {
		r.log.InfoContext(ctx, "subscription expiration reminders sent", logger.Component("reconciler"), "count", sent)
	}
	return sent, nil
}
