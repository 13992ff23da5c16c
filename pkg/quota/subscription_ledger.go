package quota

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
)

// ActivationOutcome describes what ActivateSubscription did.
type ActivationOutcome string

const (
	OutcomeCreated    ActivationOutcome = "created"
	OutcomeRenewed    ActivationOutcome = "renewed"
	OutcomeSuperseded ActivationOutcome = "superseded"
	OutcomeDuplicate  ActivationOutcome = "duplicate"
)

// ActivateSubscriptionParams describes a paid or gifted base plan.
type ActivateSubscriptionParams struct {
	UserID       uuid.UUID
	PlanID       string
	OrderID      string
	CustomQuotas map[FeatureCode]int64
}

// SubscriptionActivation is the outcome of ActivateSubscription.
type SubscriptionActivation struct {
	Subscription Subscription      `json:"subscription"`
	Previous     *Subscription     `json:"previous,omitempty"`
	Outcome      ActivationOutcome `json:"outcome"`
	Kind         Kind              `json:"kind,omitempty"`
}

// SubscriptionLedger owns the base subscription write path. A user never has
// more than one active subscription.
type SubscriptionLedger struct {
	*deps
	tracker *UsagePeriodTracker
}

// NewSubscriptionLedger returns a standalone SubscriptionLedger.
func NewSubscriptionLedger(catalog Catalog, store Store, opts ...Option) *SubscriptionLedger {
	d := newDeps(catalog, store, opts)
	return &SubscriptionLedger{deps: d, tracker: &UsagePeriodTracker{deps: d}}
}

// ActivateSubscription applies a base plan order.
//
//   - No active subscription: a new one is created.
//   - Active subscription of the same plan: it is renewed, EndDate moves
//     forward by the plan duration and usage is kept.
//   - Active subscription of another plan: it is cancelled, its periods
//     expire and a new subscription starts. Counters of features marked
//     PreserveOnPlanChange carry over.
//
// Replaying an order already applied for the same user returns the
// subscription it produced with Kind=DUPLICATE_ACTIVATION and a nil error.
func (l *SubscriptionLedger) ActivateSubscription(ctx context.Context, p ActivateSubscriptionParams) (SubscriptionActivation, error) {
	if p.UserID == uuid.Nil {
		return SubscriptionActivation{Kind: KindNotAuthenticated}, ErrNotAuthenticated
	}
	if p.OrderID == "" {
		return SubscriptionActivation{}, errors.Join(ErrInvalidArgument, errors.New("order id is required"))
	}
	for code, v := range p.CustomQuotas {
		if v < Unlimited {
			return SubscriptionActivation{}, errors.Join(ErrInvalidArgument, fmt.Errorf("custom quota for %q must be >= -1, got %d", code, v))
		}
		if _, err := l.catalog.Feature(ctx, code); err != nil {
			return SubscriptionActivation{}, err
		}
	}

	plan, err := l.catalog.Plan(ctx, p.PlanID)
	if err != nil {
		return SubscriptionActivation{}, err
	}
	if plan.Type != PlanTypeBase {
		return SubscriptionActivation{}, errors.Join(ErrNotBasePlan, fmt.Errorf("plan %q", p.PlanID))
	}

	var out SubscriptionActivation
	err = l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		out = SubscriptionActivation{}
		if err := tx.LockUser(ctx, p.UserID); err != nil {
			return err
		}

		existing, err := tx.SubscriptionByOrder(ctx, p.OrderID)
		switch {
		case err == nil:
			if existing.UserID != p.UserID {
				return errors.Join(ErrOrderConflict, fmt.Errorf("order %q belongs to another user", p.OrderID))
			}
			out = SubscriptionActivation{Subscription: existing, Outcome: OutcomeDuplicate, Kind: KindDuplicateActivation}
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		now := l.now()
		cur, err := tx.ActiveSubscription(ctx, p.UserID)
		hasCur := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		if hasCur && cur.PlanID == plan.ID && cur.IsActive(now) {
			from := cur.EndDate
			if now.After(from) {
				from = now
			}
			cur.EndDate = from.AddDate(0, 0, plan.DurationDays)
			cur.CustomQuotas = mergeQuotas(cur.CustomQuotas, p.CustomQuotas)
			cur.UpdatedAt = now
			if err := tx.UpdateSubscription(ctx, cur); err != nil {
				return err
			}
			if err := tx.AttachOrder(ctx, p.OrderID, cur); err != nil {
				return err
			}
			if err := l.tracker.Reclamp(ctx, tx, cur, now); err != nil {
				return err
			}
			out = SubscriptionActivation{Subscription: cur, Outcome: OutcomeRenewed}
			return nil
		}

		carried := map[FeatureCode]int64{}
		if hasCur {
			prev := cur
			prev.Status = SubscriptionCancelled
			if !cur.IsActive(now) {
				prev.Status = SubscriptionExpired
			}
			prev.UpdatedAt = now
			if err := tx.UpdateSubscription(ctx, prev); err != nil {
				return err
			}
			if prev.Status == SubscriptionCancelled {
				if carried, err = l.preservedUsage(ctx, tx, cur, now); err != nil {
					return err
				}
			}
			if _, err := l.tracker.ExpireAll(ctx, tx, cur.ID, now); err != nil {
				return err
			}
			out.Previous = &prev
		}

		sub := Subscription{
			ID:           uuid.New(),
			UserID:       p.UserID,
			PlanID:       plan.ID,
			OrderID:      p.OrderID,
			Status:       SubscriptionActive,
			StartDate:    now,
			EndDate:      now.AddDate(0, 0, plan.DurationDays),
			CustomQuotas: mergeQuotas(nil, p.CustomQuotas),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		for code, used := range carried {
			def, err := l.catalog.Feature(ctx, code)
			if err != nil {
				return err
			}
			if _, err := l.tracker.Open(ctx, tx, sub, def, used, now); err != nil {
				return err
			}
		}

		out.Subscription = sub
		out.Outcome = OutcomeCreated
		if out.Previous != nil {
			out.Outcome = OutcomeSuperseded
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			l.metrics.lockTimeout("activate_subscription")
		}
		l.metrics.activation(PlanTypeBase, "failed")
		return SubscriptionActivation{Kind: KindOf(err)}, err
	}

	l.metrics.activation(PlanTypeBase, string(out.Outcome))
	if out.Outcome == OutcomeDuplicate {
		return out, nil
	}

	attrs := []any{
		logger.UserID(p.UserID),
		logger.PlanID(plan.ID),
		logger.OrderID(p.OrderID),
		"outcome", out.Outcome,
		"end_date", out.Subscription.EndDate,
	}
	if out.Previous != nil {
		attrs = append(attrs, "previous_plan_id", out.Previous.PlanID)
	}
	l.log.InfoContext(ctx, "subscription activated", attrs...)

	evType := EventSubscriptionActivated
	if out.Outcome == OutcomeRenewed {
		evType = EventSubscriptionRenewed
	}
	exp := out.Subscription.EndDate
	l.notify(ctx, Event{
		Type:           evType,
		UserID:         p.UserID,
		SubscriptionID: out.Subscription.ID,
		PlanID:         plan.ID,
		OrderID:        p.OrderID,
		ExpiresAt:      &exp,
	})
	return out, nil
}

// preservedUsage returns the counters of features that survive a plan
// change. Only periods still running at now are carried.
func (l *SubscriptionLedger) preservedUsage(ctx context.Context, tx Tx, sub Subscription, now time.Time) (map[FeatureCode]int64, error) {
	periods, err := tx.CurrentUsagePeriodsBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[FeatureCode]int64)
	for _, p := range periods {
		def, err := l.catalog.Feature(ctx, p.FeatureCode)
		if err != nil {
			if errors.Is(err, ErrUnknownFeature) {
				continue
			}
			return nil, err
		}
		if def.PreserveOnPlanChange && p.UsageCount > 0 && p.Contains(now) {
			out[p.FeatureCode] = p.UsageCount
		}
	}
	return out, nil
}

// CancelSubscription cancels the user's active subscription and expires its
// usage periods. Boosters keep running until their own expiry.
func (l *SubscriptionLedger) CancelSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	if userID == uuid.Nil {
		return Subscription{}, ErrNotAuthenticated
	}

	var sub Subscription
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		cur, err := tx.ActiveSubscription(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNoActiveSubscription
			}
			return err
		}
		now := l.now()
		cur.Status = SubscriptionCancelled
		cur.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, cur); err != nil {
			return err
		}
		if _, err := l.tracker.ExpireAll(ctx, tx, cur.ID, now); err != nil {
			return err
		}
		sub = cur
		return nil
	})
	if err != nil {
		return Subscription{}, err
	}

	l.log.InfoContext(ctx, "subscription cancelled", logger.UserID(userID), logger.PlanID(sub.PlanID))
	l.notify(ctx, Event{
		Type:           EventSubscriptionCancelled,
		UserID:         userID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
	})
	return sub, nil
}

// SetCustomQuota overrides the plan limit of a feature for the user's active
// subscription. A nil value removes the override.
func (l *SubscriptionLedger) SetCustomQuota(ctx context.Context, userID uuid.UUID, feature FeatureCode, value *int64) (Subscription, error) {
	if userID == uuid.Nil {
		return Subscription{}, ErrNotAuthenticated
	}
	if _, err := l.catalog.Feature(ctx, feature); err != nil {
		return Subscription{}, err
	}
	if value != nil && *value < Unlimited {
		return Subscription{}, errors.Join(ErrInvalidArgument, fmt.Errorf("custom quota must be >= -1, got %d", *value))
	}

	var sub Subscription
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		cur, err := tx.ActiveSubscription(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNoActiveSubscription
			}
			return err
		}
		if cur.CustomQuotas == nil {
			cur.CustomQuotas = map[FeatureCode]int64{}
		}
		if value == nil {
			delete(cur.CustomQuotas, feature)
		} else {
			cur.CustomQuotas[feature] = *value
		}
		cur.UpdatedAt = l.now()
		if err := tx.UpdateSubscription(ctx, cur); err != nil {
			return err
		}
		sub = cur
		return nil
	})
	if err != nil {
		return Subscription{}, err
	}

	l.log.InfoContext(ctx, "custom quota changed",
		logger.UserID(userID),
		logger.Feature(string(feature)),
		"removed", value == nil,
	)
	ev := Event{Type: EventCustomQuotaChanged, UserID: userID, Feature: feature, SubscriptionID: sub.ID}
	if value != nil {
		ev.Remaining = *value
	}
	l.notify(ctx, ev)
	return sub, nil
}

// GetActiveSubscription returns the subscription that currently grants the
// user's base quota.
func (l *SubscriptionLedger) GetActiveSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error) {
	if userID == uuid.Nil {
		return Subscription{}, ErrNotAuthenticated
	}
	sub, err := l.store.ActiveSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Subscription{}, ErrNoActiveSubscription
		}
		return Subscription{}, err
	}
	if !sub.IsActive(l.now()) {
		return Subscription{}, ErrNoActiveSubscription
	}
	return sub, nil
}

func mergeQuotas(base, overrides map[FeatureCode]int64) map[FeatureCode]int64 {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[FeatureCode]int64, len(overrides))
	}
	maps.Copy(out, overrides)
	return out
}
