package quota

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
)

// BoosterLedger owns booster pack purchases and their quota rows.
type BoosterLedger struct {
	*deps
}

// NewBoosterLedger returns a standalone BoosterLedger.
func NewBoosterLedger(catalog Catalog, store Store, opts ...Option) *BoosterLedger {
	return &BoosterLedger{deps: newDeps(catalog, store, opts)}
}

// CanPurchaseBooster reports whether the user may buy a booster pack.
// Boosters extend a base subscription and cannot be bought without one.
func (b *BoosterLedger) CanPurchaseBooster(ctx context.Context, userID uuid.UUID) (PurchaseEligibility, error) {
	if userID == uuid.Nil {
		return PurchaseEligibility{Kind: KindNotAuthenticated}, nil
	}

	sub, err := b.store.ActiveSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PurchaseEligibility{Kind: KindNoActiveSubscription}, nil
		}
		return PurchaseEligibility{}, err
	}
	if !sub.IsActive(b.now()) {
		return PurchaseEligibility{Kind: KindNoActiveSubscription}, nil
	}
	return PurchaseEligibility{Allowed: true}, nil
}

// ActivateBoosterPack creates the booster subscription of a paid order and
// one quota row per feature granted by the plan. Replaying an order already
// activated for the same user returns the existing booster with
// Kind=DUPLICATE_ACTIVATION and a nil error.
func (b *BoosterLedger) ActivateBoosterPack(ctx context.Context, userID uuid.UUID, planID, orderID string) (BoosterActivation, error) {
	if userID == uuid.Nil {
		return BoosterActivation{Kind: KindNotAuthenticated}, ErrNotAuthenticated
	}
	if orderID == "" {
		return BoosterActivation{}, errors.Join(ErrInvalidArgument, errors.New("order id is required"))
	}

	plan, err := b.catalog.Plan(ctx, planID)
	if err != nil {
		return BoosterActivation{}, err
	}
	if plan.Type != PlanTypeBooster {
		return BoosterActivation{}, errors.Join(ErrNotBoosterPlan, fmt.Errorf("plan %q", planID))
	}

	var out BoosterActivation
	err = b.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		out = BoosterActivation{}
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}

		existing, err := tx.BoosterSubscriptionByOrder(ctx, orderID)
		switch {
		case err == nil:
			if existing.UserID != userID {
				return errors.Join(ErrOrderConflict, fmt.Errorf("order %q belongs to another user", orderID))
			}
			quotas, err := tx.BoosterQuotasForSubscription(ctx, existing.ID)
			if err != nil {
				return err
			}
			out = BoosterActivation{Subscription: existing, Quotas: quotas, Kind: KindDuplicateActivation}
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		now := b.now()
		sub, err := tx.ActiveSubscription(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNoActiveSubscription
			}
			return err
		}
		if !sub.IsActive(now) {
			return ErrNoActiveSubscription
		}

		bs := BoosterSubscription{
			ID:        uuid.New(),
			UserID:    userID,
			OrderID:   orderID,
			PlanID:    plan.ID,
			Status:    SubscriptionActive,
			StartDate: now,
			EndDate:   now.AddDate(0, 0, plan.DurationDays),
			CreatedAt: now,
		}
		codes := slices.Sorted(maps.Keys(plan.Features))
		quotas := make([]BoosterQuota, 0, len(codes))
		for _, code := range codes {
			limit := plan.Features[code]
			if limit == 0 {
				continue
			}
			quotas = append(quotas, BoosterQuota{
				ID:                    uuid.New(),
				BoosterSubscriptionID: bs.ID,
				UserID:                userID,
				FeatureCode:           code,
				Limit:                 limit,
				Status:                BoosterActive,
				ExpiresAt:             bs.EndDate,
				CreatedAt:             now,
			})
		}
		if err := tx.CreateBoosterSubscription(ctx, bs, quotas); err != nil {
			return err
		}
		out = BoosterActivation{Subscription: bs, Quotas: quotas}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			b.metrics.lockTimeout("activate_booster")
		}
		b.metrics.activation(PlanTypeBooster, "failed")
		return BoosterActivation{Kind: KindOf(err)}, err
	}

	if out.Kind == KindDuplicateActivation {
		b.metrics.activation(PlanTypeBooster, "duplicate")
		b.log.InfoContext(ctx, "booster order already activated",
			logger.UserID(userID),
			logger.OrderID(orderID),
		)
		return out, nil
	}

	b.metrics.activation(PlanTypeBooster, "created")
	b.log.InfoContext(ctx, "booster pack activated",
		logger.UserID(userID),
		logger.PlanID(plan.ID),
		logger.OrderID(orderID),
		"expires_at", out.Subscription.EndDate,
	)
	exp := out.Subscription.EndDate
	b.notify(ctx, Event{
		Type:           EventBoosterActivated,
		UserID:         userID,
		SubscriptionID: out.Subscription.ID,
		PlanID:         plan.ID,
		OrderID:        orderID,
		ExpiresAt:      &exp,
	})
	return out, nil
}

// GetUserBoosterHistory returns one page of the user's booster purchases,
// newest first. page starts at 1; pageSize defaults to 20 and is capped at 100.
func (b *BoosterLedger) GetUserBoosterHistory(ctx context.Context, userID uuid.UUID, page, pageSize int) (BoosterHistory, error) {
	page, pageSize = b.pagination(page, pageSize)
	h := BoosterHistory{Records: []BoosterHistoryRecord{}, Page: page, PageSize: pageSize}
	if userID == uuid.Nil {
		return h, nil
	}

	subs, total, err := b.store.BoosterSubscriptions(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return h, err
	}
	ids := make([]uuid.UUID, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	quotas, err := b.store.BoosterQuotasBySubscription(ctx, ids)
	if err != nil {
		return h, err
	}

	for _, s := range subs {
		h.Records = append(h.Records, BoosterHistoryRecord{Subscription: s, Quotas: quotas[s.ID]})
	}
	h.Total = total
	h.TotalPages = totalPages(total, pageSize)
	return h, nil
}

// GetExpiringBoosters returns the active booster rows that expire within
// the given number of days, soonest first. DaysRemaining is rounded up.
func (b *BoosterLedger) GetExpiringBoosters(ctx context.Context, userID uuid.UUID, withinDays int) ([]ExpiringBooster, error) {
	if withinDays < 0 {
		return nil, errors.Join(ErrInvalidArgument, fmt.Errorf("withinDays must not be negative, got %d", withinDays))
	}
	if userID == uuid.Nil {
		return []ExpiringBooster{}, nil
	}

	now := b.now()
	rows, err := b.store.ActiveBoosterQuotas(ctx, userID, "", now)
	if err != nil {
		return nil, err
	}

	horizon := now.Add(time.Duration(withinDays) * 24 * time.Hour)
	out := make([]ExpiringBooster, 0, len(rows))
	for _, q := range rows {
		if q.ExpiresAt.After(horizon) {
			continue
		}
		out = append(out, ExpiringBooster{
			BoosterSubscriptionID: q.BoosterSubscriptionID,
			BoosterQuotaID:        q.ID,
			Feature:               q.FeatureCode,
			Limit:                 q.Limit,
			Used:                  q.Used,
			Remaining:             q.Remaining(),
			ExpiresAt:             q.ExpiresAt,
			DaysRemaining:         daysUntil(now, q.ExpiresAt),
		})
	}
	return out, nil
}

// daysUntil returns the whole days from now to t, rounded up and never negative.
func daysUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}
