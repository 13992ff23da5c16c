package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UsagePeriodTracker maintains the per-feature base usage periods.
//
// A (user, feature) pair starts uninitialized and gets a current period on
// its first consumption. When the period window passes it is closed and a new
// one is opened with a zero counter. Periods of superseded or expired
// subscriptions are marked expired and never read again. Every method must
// be called inside a transaction that holds the matching lock.
type UsagePeriodTracker struct {
	*deps
}

// NewUsagePeriodTracker returns a standalone tracker.
func NewUsagePeriodTracker(catalog Catalog, store Store, opts ...Option) *UsagePeriodTracker {
	return &UsagePeriodTracker{deps: newDeps(catalog, store, opts)}
}

// Ensure returns the period of sub that contains now, rolling over or
// replacing the stored current period when needed. current is the row
// already read in this transaction, or nil.
func (t *UsagePeriodTracker) Ensure(ctx context.Context, tx Tx, sub Subscription, def FeatureDefinition, current *UsagePeriod, now time.Time) (UsagePeriod, error) {
	if current == nil {
		p, err := tx.CurrentUsagePeriod(ctx, sub.UserID, def.Code)
		switch {
		case err == nil:
			current = &p
		case !errors.Is(err, ErrNotFound):
			return UsagePeriod{}, err
		}
	}

	if current != nil {
		switch {
		case current.SubscriptionID != sub.ID:
			if err := t.retire(ctx, tx, *current, PeriodExpired, now); err != nil {
				return UsagePeriod{}, err
			}
		case current.Contains(now):
			return *current, nil
		default:
			if err := t.retire(ctx, tx, *current, PeriodClosed, now); err != nil {
				return UsagePeriod{}, err
			}
		}
	}

	return t.Open(ctx, tx, sub, def, 0, now)
}

// Open creates the current period of sub for now with the given counter.
func (t *UsagePeriodTracker) Open(ctx context.Context, tx Tx, sub Subscription, def FeatureDefinition, usage int64, now time.Time) (UsagePeriod, error) {
	start, end, ok := CurrentPeriod(def.Cycle, sub.StartDate, sub.EndDate, now, t.loc)
	if !ok {
		return UsagePeriod{}, errors.Join(ErrNoActiveSubscription,
			fmt.Errorf("subscription %s does not cover %s", sub.ID, now.Format(time.RFC3339)))
	}

	p := UsagePeriod{
		ID:             uuid.New(),
		UserID:         sub.UserID,
		FeatureCode:    def.Code,
		SubscriptionID: sub.ID,
		PeriodStart:    start,
		PeriodEnd:      end,
		UsageCount:     usage,
		Status:         PeriodCurrent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.CreateUsagePeriod(ctx, p); err != nil {
		return UsagePeriod{}, err
	}
	return p, nil
}

// ExpireAll marks every current period of a subscription as expired.
func (t *UsagePeriodTracker) ExpireAll(ctx context.Context, tx Tx, subscriptionID uuid.UUID, now time.Time) (int, error) {
	return tx.ExpireUsagePeriods(ctx, subscriptionID, now)
}

// Reclamp recomputes the end of the current periods of sub after its
// EndDate changed. Start and counters are kept.
func (t *UsagePeriodTracker) Reclamp(ctx context.Context, tx Tx, sub Subscription, now time.Time) error {
	periods, err := tx.CurrentUsagePeriodsBySubscription(ctx, sub.ID)
	if err != nil {
		return err
	}
	for _, p := range periods {
		def, err := t.catalog.Feature(ctx, p.FeatureCode)
		if err != nil {
			if errors.Is(err, ErrUnknownFeature) {
				continue
			}
			return err
		}
		_, end, ok := CurrentPeriod(def.Cycle, sub.StartDate, sub.EndDate, p.PeriodStart, t.loc)
		if !ok || end.Equal(p.PeriodEnd) {
			continue
		}
		p.PeriodEnd = end
		p.UpdatedAt = now
		if err := tx.UpdateUsagePeriod(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *UsagePeriodTracker) retire(ctx context.Context, tx Tx, p UsagePeriod, status PeriodStatus, now time.Time) error {
	p.Status = status
	p.UpdatedAt = now
	return tx.UpdateUsagePeriod(ctx, p)
}
