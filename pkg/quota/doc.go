// Package quota implements a quota ledger and consumption engine for
// rate-limited product features.
//
// A user's remaining allowance for a feature is combined from three sources:
// the base subscription plan, per-user custom overrides stored on that
// subscription, and any number of temporary booster packs. Each source has
// its own validity window. The package answers "how much is left" without
// side effects and performs consumption atomically so that concurrent
// requests can never push cumulative usage past the combined limit.
//
// # Architecture
//
// The engine is split into small cooperating components that share a
// [Store], a [Catalog] and a set of options (clock, logger, metrics,
// notifier):
//
//   - [Resolver] computes [CombinedQuota] values and overviews. It never writes.
//   - [Coordinator] is the only write path for usage counters. Each
//     [Coordinator.TryConsume] call runs in one transaction holding the
//     (user, feature) lock, spends the base allowance first and then spills
//     into boosters ordered by the soonest expiry. [Coordinator.Reserve]
//     holds units for a task that reports back later; held units are not
//     available to other callers until the hold is confirmed, released or
//     lapses.
//   - [UsagePeriodTracker] opens, rolls over and expires usage periods.
//     A period never ends after its subscription.
//   - [BoosterLedger] and [SubscriptionLedger] own the billing write path
//     and are idempotent per order id.
//   - [Reconciler] expires subscriptions, periods, boosters and reservations
//     whose window has passed. Overlapping runs are skipped.
//
// [NewService] wires all of them behind the [Service] interface.
//
// # Unlimited quotas
//
// A limit of [Unlimited] (-1) means "no cap". The value propagates through
// every sum: use [AddLimits] and [Remaining] instead of plain arithmetic.
//
// # Storage
//
// [NewMemoryStore] keeps the ledger in process and is suitable for tests and
// single-instance deployments. The pgstore sub-package provides the
// PostgreSQL implementation with advisory and row-level locks.
//
// # Usage
//
//	catalog, err := quota.LoadCatalogFile("catalog.yaml")
//	if err != nil {
//		return err
//	}
//	svc := quota.NewService(catalog, quota.NewMemoryStore(),
//		quota.WithLogger(log),
//		quota.WithMetrics(quota.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//
//	res, err := svc.TryConsume(ctx, userID, "articles_per_month", 1, articleID.String())
//	if err != nil {
//		return err
//	}
//	if !res.Success {
//		return fmt.Errorf("%s: %s", res.Kind, res.Message())
//	}
package quota
