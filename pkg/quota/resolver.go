package quota

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
)

// Resolver answers "how much is left" for a user and feature. It reads the
// ledgers without locks and never writes.
type Resolver struct {
	*deps
}

// NewResolver returns a standalone Resolver.
func NewResolver(catalog Catalog, store Store, opts ...Option) *Resolver {
	return &Resolver{deps: newDeps(catalog, store, opts)}
}

// snapshot is the resolved state of one (user, feature) pair.
type snapshot struct {
	def       FeatureDefinition
	sub       *Subscription
	baseLimit int64
	period    *UsagePeriod
	boosters  []BoosterQuota
	quota     CombinedQuota
}

// CheckCombinedQuota returns the combined quota of base plan, custom
// overrides and active boosters. Business refusals are reported through
// CombinedQuota.Kind with a nil error.
func (r *Resolver) CheckCombinedQuota(ctx context.Context, userID uuid.UUID, feature FeatureCode) (CombinedQuota, error) {
	q := CombinedQuota{UserID: userID, Feature: feature}
	if userID == uuid.Nil {
		q.Kind = KindNotAuthenticated
		return q, nil
	}

	def, err := r.catalog.Feature(ctx, feature)
	if err != nil {
		if errors.Is(err, ErrUnknownFeature) {
			q.Kind = KindUnknownFeature
			return q, nil
		}
		return q, err
	}

	snap, err := r.evaluate(ctx, r.store, userID, def, r.now())
	if err != nil {
		return q, err
	}
	return snap.quota, nil
}

// GetQuotaOverview summarizes every feature granted to the user by the
// active plan, custom overrides or active boosters.
func (r *Resolver) GetQuotaOverview(ctx context.Context, userID uuid.UUID) ([]FeatureOverview, error) {
	if userID == uuid.Nil {
		return nil, ErrNotAuthenticated
	}

	defs, err := r.catalog.Features(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	warnBefore := now.Add(time.Duration(r.warningDays) * 24 * time.Hour)
	out := make([]FeatureOverview, 0, len(defs))
	for _, def := range defs {
		snap, err := r.evaluate(ctx, r.store, userID, def, now)
		if err != nil {
			return nil, err
		}
		q := snap.quota
		if q.Base.Limit == 0 && len(snap.boosters) == 0 {
			continue
		}

		ov := FeatureOverview{
			Feature:         def,
			Quota:           q,
			Percentage:      percentage(q.Base.Limit, q.Base.Used),
			IsBeingConsumed: q.Base.Remaining == 0 && q.Booster.TotalRemaining != 0,
		}
		if exp := q.Booster.EarliestExpiration; exp != nil && !exp.After(warnBefore) {
			ov.ExpirationWarning = true
		}
		if snap.sub != nil {
			if snap.period != nil && snap.period.SubscriptionID == snap.sub.ID && snap.period.Contains(now) {
				end := snap.period.PeriodEnd
				ov.ResetAt = &end
			} else if _, end, ok := CurrentPeriod(def.Cycle, snap.sub.StartDate, snap.sub.EndDate, now, r.loc); ok {
				ov.ResetAt = &end
			}
		}
		out = append(out, ov)
	}
	return out, nil
}

// GetBoosterSummary aggregates the user's active booster rows per feature.
func (r *Resolver) GetBoosterSummary(ctx context.Context, userID uuid.UUID) (map[FeatureCode]BoosterUsage, error) {
	if userID == uuid.Nil {
		return nil, ErrNotAuthenticated
	}

	rows, err := r.store.ActiveBoosterQuotas(ctx, userID, "", r.now())
	if err != nil {
		return nil, err
	}

	grouped := make(map[FeatureCode][]BoosterQuota)
	for _, q := range rows {
		grouped[q.FeatureCode] = append(grouped[q.FeatureCode], q)
	}
	out := make(map[FeatureCode]BoosterUsage, len(grouped))
	for code, qs := range grouped {
		out[code] = aggregateBoosters(qs)
	}
	return out, nil
}

// evaluate resolves the combined quota from rd. Units held by reservations
// are not available to other callers. Inside a transaction rd is the Tx, so
// the rows read are locked and the answer stays valid until commit.
func (d *deps) evaluate(ctx context.Context, rd ledgerReader, userID uuid.UUID, def FeatureDefinition, now time.Time) (snapshot, error) {
	snap := snapshot{def: def}
	q := CombinedQuota{UserID: userID, Feature: def.Code}

	sub, err := rd.ActiveSubscription(ctx, userID)
	switch {
	case err == nil:
		if sub.IsActive(now) {
			snap.sub = &sub
		}
	case !errors.Is(err, ErrNotFound):
		return snap, err
	}

	if snap.sub != nil {
		limit, err := ResolveBaseLimit(ctx, d.catalog, sub, def.Code)
		switch {
		case errors.Is(err, ErrPlanNotFound):
			// A retired plan grants no base quota; boosters still apply.
			d.log.WarnContext(ctx, "subscription plan missing from catalog",
				logger.UserID(userID),
				logger.PlanID(sub.PlanID),
				logger.Feature(string(def.Code)),
				logger.Error(err),
			)
			limit = 0
		case err != nil:
			return snap, err
		}

		var used int64
		period, err := rd.CurrentUsagePeriod(ctx, userID, def.Code)
		switch {
		case err == nil:
			snap.period = &period
			if period.SubscriptionID == sub.ID && period.Contains(now) {
				used = period.UsageCount
			}
		case !errors.Is(err, ErrNotFound):
			return snap, err
		}

		snap.baseLimit = limit
		q.HasSubscription = true
		q.Base = Usage{Limit: limit, Used: used, Remaining: Remaining(limit, used)}
	}

	boosters, err := rd.ActiveBoosterQuotas(ctx, userID, def.Code, now)
	if err != nil {
		return snap, err
	}
	snap.boosters = boosters
	q.Booster = aggregateBoosters(boosters)

	reserved, err := rd.ReservedUnits(ctx, userID, def.Code, now)
	if err != nil {
		return snap, err
	}
	q.Reserved = reserved
	q.CombinedRemaining = AddLimits(q.Base.Remaining, q.Booster.TotalRemaining)
	if q.CombinedRemaining != Unlimited {
		q.CombinedRemaining = max(q.CombinedRemaining-reserved, 0)
	}
	q.HasQuota = q.CombinedRemaining == Unlimited || q.CombinedRemaining > 0
	if !q.HasQuota {
		q.Kind = refusalKind(q)
	}
	snap.quota = q
	return snap, nil
}

func aggregateBoosters(rows []BoosterQuota) BoosterUsage {
	var u BoosterUsage
	packs := make(map[uuid.UUID]struct{}, len(rows))
	for _, q := range rows {
		u.TotalLimit = AddLimits(u.TotalLimit, q.Limit)
		u.TotalRemaining = AddLimits(u.TotalRemaining, q.Remaining())
		u.TotalUsed += q.Used
		packs[q.BoosterSubscriptionID] = struct{}{}
		if u.EarliestExpiration == nil || q.ExpiresAt.Before(*u.EarliestExpiration) {
			exp := q.ExpiresAt
			u.EarliestExpiration = &exp
		}
	}
	u.ActivePackCount = len(packs)
	return u
}

// refusalKind explains why a quota without remaining units refuses.
func refusalKind(q CombinedQuota) Kind {
	if !q.HasSubscription && q.Booster.ActivePackCount == 0 {
		return KindNoActiveSubscription
	}
	return KindQuotaExceeded
}
