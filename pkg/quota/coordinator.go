package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotaledger/pkg/logger"
)

// Coordinator is the only write path for usage counters.
type Coordinator struct {
	*deps
	tracker *UsagePeriodTracker
}

// NewCoordinator returns a standalone Coordinator.
func NewCoordinator(catalog Catalog, store Store, opts ...Option) *Coordinator {
	d := newDeps(catalog, store, opts)
	return &Coordinator{deps: d, tracker: &UsagePeriodTracker{deps: d}}
}

// TryConsume atomically spends amount units of a feature.
//
// The base allowance is spent first, the rest spills into active boosters
// ordered by the soonest expiry. Nothing is written unless the whole amount
// fits. A non-empty resourceID makes the call idempotent: repeating it
// returns the original outcome with Duplicate set.
//
// Refusals (not authenticated, unknown feature, no subscription, quota
// exceeded, lock timeout) are reported through ConsumptionResult.Kind with a
// nil error. Only infrastructure failures and invalid arguments return errors.
func (c *Coordinator) TryConsume(ctx context.Context, userID uuid.UUID, feature FeatureCode, amount int64, resourceID string) (ConsumptionResult, error) {
	res := ConsumptionResult{UserID: userID, Feature: feature, Amount: amount, ResourceID: resourceID}
	if userID == uuid.Nil {
		res.Kind = KindNotAuthenticated
		c.metrics.consumption(feature, string(res.Kind))
		return res, nil
	}
	if amount <= 0 {
		return res, errors.Join(ErrInvalidArgument, fmt.Errorf("amount must be positive, got %d", amount))
	}

	def, err := c.catalog.Feature(ctx, feature)
	if err != nil {
		if errors.Is(err, ErrUnknownFeature) {
			res.Kind = KindUnknownFeature
			c.metrics.consumption(feature, string(res.Kind))
			return res, nil
		}
		return res, err
	}

	var before Usage
	err = c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUsage(ctx, userID, feature); err != nil {
			return err
		}
		var err error
		res, before, err = c.consume(ctx, tx, def, userID, amount, resourceID, c.now())
		return err
	})
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			c.log.WarnContext(ctx, "quota consumption gave up waiting for lock",
				logger.UserID(userID),
				logger.Feature(string(feature)),
				logger.Error(err),
			)
			c.metrics.lockTimeout("consume")
			c.metrics.consumption(feature, string(KindRetry))
			return ConsumptionResult{UserID: userID, Feature: feature, Amount: amount, ResourceID: resourceID, Kind: KindRetry}, nil
		}
		return res, err
	}

	c.afterConsume(ctx, res, before)
	return res, nil
}

// consume spends amount inside tx, base first and then boosters in
// consumption order. The caller holds the usage lock of the pair. A refusal
// returns a result with Kind set and writes nothing. before is the base
// usage prior to the write.
func (c *Coordinator) consume(ctx context.Context, tx Tx, def FeatureDefinition, userID uuid.UUID, amount int64, resourceID string, now time.Time) (res ConsumptionResult, before Usage, err error) {
	feature := def.Code
	res = ConsumptionResult{UserID: userID, Feature: feature, Amount: amount, ResourceID: resourceID}
	if resourceID != "" {
		rec, err := tx.UsageRecordByResource(ctx, userID, feature, resourceID)
		switch {
		case err == nil:
			snap, err := c.evaluate(ctx, tx, userID, def, now)
			if err != nil {
				return res, before, err
			}
			res.Success = true
			res.Duplicate = true
			res.ConsumedFromBase = rec.BaseAmount
			fillRemaining(&res, snap.quota)
			return res, before, nil
		case !errors.Is(err, ErrNotFound):
			return res, before, err
		}
	}

	snap, err := c.evaluate(ctx, tx, userID, def, now)
	if err != nil {
		return res, before, err
	}
	if !snap.quota.Allows(amount) {
		res.Kind = refusalKind(snap.quota)
		fillRemaining(&res, snap.quota)
		return res, before, nil
	}
	before = snap.quota.Base

	rec := UsageRecord{
		ID:          uuid.New(),
		UserID:      userID,
		FeatureCode: feature,
		Amount:      amount,
		ResourceID:  resourceID,
		CreatedAt:   now,
	}

	rest := amount
	if snap.sub != nil {
		if fromBase := take(snap.quota.Base.Remaining, rest); fromBase > 0 {
			period, err := c.tracker.Ensure(ctx, tx, *snap.sub, def, snap.period, now)
			if err != nil {
				return res, before, err
			}
			if err := tx.IncrementUsagePeriod(ctx, period.ID, fromBase, now); err != nil {
				return res, before, err
			}
			rec.BaseAmount = fromBase
			rec.UsagePeriodID = &period.ID
			rest -= fromBase
		}
	}

	for _, b := range snap.boosters {
		if rest == 0 {
			break
		}
		n := take(b.Remaining(), rest)
		if n <= 0 {
			continue
		}
		if err := tx.IncrementBoosterUsage(ctx, b.ID, n); err != nil {
			return res, before, err
		}
		res.BoosterDraws = append(res.BoosterDraws, BoosterDraw{BoosterQuotaID: b.ID, Amount: n, ExpiresAt: b.ExpiresAt})
		rec.BoosterAmount += n
		rest -= n
	}
	if rest > 0 {
		return res, before, errors.Join(ErrQuotaExceeded, fmt.Errorf("%d units left unallocated", rest))
	}

	if err := tx.InsertUsageRecord(ctx, rec); err != nil {
		return res, before, err
	}

	after, err := c.evaluate(ctx, tx, userID, def, now)
	if err != nil {
		return res, before, err
	}
	res.Success = true
	res.ConsumedFromBase = rec.BaseAmount
	fillRemaining(&res, after.quota)
	return res, before, nil
}

// afterConsume records metrics and publishes events for a committed call.
func (c *Coordinator) afterConsume(ctx context.Context, res ConsumptionResult, before Usage) {
	switch {
	case !res.Success:
		c.metrics.consumption(res.Feature, string(res.Kind))
		return
	case res.Duplicate:
		c.metrics.consumption(res.Feature, "duplicate")
		return
	}

	c.metrics.consumption(res.Feature, "consumed")
	c.metrics.consumed(res.Feature, res.ConsumedFromBase, res.ConsumedFromBoosters())

	c.notify(ctx, Event{
		Type:      EventQuotaUpdated,
		UserID:    res.UserID,
		Feature:   res.Feature,
		Amount:    res.Amount,
		Remaining: res.CombinedRemaining,
	})

	if before.Limit <= 0 || res.ConsumedFromBase == 0 {
		return
	}
	prev := percentage(before.Limit, before.Used)
	next := percentage(before.Limit, before.Used+res.ConsumedFromBase)
	var crossed *AlertThreshold
	for i, th := range c.thresholds {
		if prev < th.Percent && next >= th.Percent {
			if crossed == nil || th.Percent > crossed.Percent {
				crossed = &c.thresholds[i]
			}
		}
	}
	if crossed == nil {
		return
	}
	c.log.InfoContext(ctx, "quota usage threshold crossed",
		logger.UserID(res.UserID),
		logger.Feature(string(res.Feature)),
		"alert_level", crossed.Level,
	)
	c.notify(ctx, Event{
		Type:       EventQuotaAlert,
		UserID:     res.UserID,
		Feature:    res.Feature,
		Level:      crossed.Level,
		Percentage: next,
		Remaining:  res.BaseRemaining,
	})
}

// ListUsageRecords returns one page of the consumption audit log, newest
// first. An empty feature lists all features.
func (c *Coordinator) ListUsageRecords(ctx context.Context, userID uuid.UUID, feature FeatureCode, page, pageSize int) (UsageRecordPage, error) {
	if userID == uuid.Nil {
		return UsageRecordPage{}, ErrNotAuthenticated
	}
	page, pageSize = c.pagination(page, pageSize)
	recs, total, err := c.store.UsageRecords(ctx, userID, feature, pageSize, (page-1)*pageSize)
	if err != nil {
		return UsageRecordPage{}, err
	}
	return UsageRecordPage{
		Records:    recs,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

// VerifyUsage compares the counter of the current period with the sum of
// base amounts recorded in the audit log.
func (c *Coordinator) VerifyUsage(ctx context.Context, userID uuid.UUID, feature FeatureCode) (UsageDrift, error) {
	return c.reconcileUsage(ctx, userID, feature, false)
}

// RepairUsage rewrites the counter of the current period from the audit log.
func (c *Coordinator) RepairUsage(ctx context.Context, userID uuid.UUID, feature FeatureCode) (UsageDrift, error) {
	return c.reconcileUsage(ctx, userID, feature, true)
}

func (c *Coordinator) reconcileUsage(ctx context.Context, userID uuid.UUID, feature FeatureCode, repair bool) (UsageDrift, error) {
	drift := UsageDrift{UserID: userID, Feature: feature}
	if userID == uuid.Nil {
		return drift, ErrNotAuthenticated
	}

	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockUsage(ctx, userID, feature); err != nil {
			return err
		}
		p, err := tx.CurrentUsagePeriod(ctx, userID, feature)
		if err != nil {
			return err
		}
		sum, err := tx.SumBaseUsage(ctx, p.ID)
		if err != nil {
			return err
		}
		drift.PeriodID = p.ID
		drift.Stored = p.UsageCount
		drift.Reconstructed = sum
		if !repair || !drift.HasDrift() {
			return nil
		}
		p.UsageCount = sum
		p.UpdatedAt = c.now()
		return tx.UpdateUsagePeriod(ctx, p)
	})
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			c.metrics.lockTimeout("verify_usage")
		}
		return drift, err
	}

	if drift.HasDrift() {
		c.log.WarnContext(ctx, "usage counter drift detected",
			logger.UserID(userID),
			logger.Feature(string(feature)),
			"stored", drift.Stored,
			"reconstructed", drift.Reconstructed,
			"repaired", repair,
		)
	}
	return drift, nil
}

func fillRemaining(res *ConsumptionResult, q CombinedQuota) {
	res.BaseRemaining = q.Base.Remaining
	res.BoosterRemaining = q.Booster.TotalRemaining
	res.CombinedRemaining = q.CombinedRemaining
}

// Message renders a refusal for end users.
func (r ConsumptionResult) Message() string {
	switch r.Kind {
	case KindNone:
		if r.Duplicate {
			return "already recorded"
		}
		return ""
	case KindNotAuthenticated:
		return "sign in to use this feature"
	case KindNoActiveSubscription:
		return "an active subscription is required"
	case KindUnknownFeature:
		return fmt.Sprintf("feature %q is not available", r.Feature)
	case KindQuotaExceeded:
		return fmt.Sprintf("quota exceeded: %d remaining", max(r.CombinedRemaining, 0))
	case KindRetry:
		return "the ledger is busy, try again"
	case KindReservationExpired:
		return "the reservation has expired"
	case KindReservationClosed:
		return "the reservation is no longer held"
	}
	return string(r.Kind)
}
