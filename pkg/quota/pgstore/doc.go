// Package pgstore implements quota.Store on PostgreSQL with pgx/v5.
//
// Consumption and billing writes are serialized with transaction-scoped
// advisory locks keyed by (user, feature) and by user; every transaction sets
// lock_timeout so that contention surfaces as quota.ErrLockTimeout instead of
// blocking callers indefinitely. The reconcile job takes a global advisory
// lock without waiting, which makes overlapping runs skip.
//
// The schema ships as goose migrations embedded in the package:
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations(), pgCfg, log); err != nil {
//	    return err
//	}
//	store := pgstore.New(pool, pgstore.Config{LockTimeout: 5 * time.Second})
//	svc := quota.NewService(catalog, store, quota.WithLogger(log))
//
// Partial unique indexes back the ledger rules: one active subscription
// per user, one current usage period per (user, feature), one audit record
// per (user, feature, resource id). A CHECK constraint keeps booster usage
// within its limit and a trigger keeps usage periods inside their
// subscription window.
package pgstore
