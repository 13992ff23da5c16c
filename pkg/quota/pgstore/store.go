package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/quotaledger/pkg/pg"
	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

const reconcileLockKey = "quota:reconcile"

// Store implements quota.Store on a pgx connection pool.
type Store struct {
	queries
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ quota.Store = (*Store)(nil)

// New returns a Store backed by pool. Zero config fields take their defaults.
func New(pool *pgxpool.Pool, cfg Config) *Store {
	if pool == nil {
		panic("pgstore: nil pool")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	return &Store{
		queries:     queries{db: pool},
		pool:        pool,
		lockTimeout: cfg.LockTimeout,
	}
}

// InTx implements quota.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx quota.Tx) error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(ptx pgx.Tx) error {
		if err := s.setLockTimeout(ctx, ptx); err != nil {
			return err
		}
		return fn(ctx, newTx(ptx))
	})
	return mapError(err)
}

// WithReconcileLock implements quota.Store.
func (s *Store) WithReconcileLock(ctx context.Context, fn func(ctx context.Context, tx quota.Tx) error) (bool, error) {
	var acquired bool
	err := pgx.BeginFunc(ctx, s.pool, func(ptx pgx.Tx) error {
		if err := s.setLockTimeout(ctx, ptx); err != nil {
			return err
		}
		if err := ptx.QueryRow(ctx,
			`SELECT pg_try_advisory_xact_lock(hashtextextended($1, 0))`, reconcileLockKey,
		).Scan(&acquired); err != nil {
			return err
		}
		if !acquired {
			return nil
		}
		return fn(ctx, newTx(ptx))
	})
	if err != nil {
		return acquired, mapError(err)
	}
	return acquired, nil
}

func (s *Store) setLockTimeout(ctx context.Context, ptx pgx.Tx) error {
	_, err := ptx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", s.lockTimeout.Milliseconds()))
	return err
}

func (s *Store) BoosterSubscriptions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]quota.BoosterSubscription, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM quota_booster_subscriptions WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+boosterSubColumns+` FROM quota_booster_subscriptions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, mapError(err)
	}
	subs, err := pgx.CollectRows(rows, collect(scanBoosterSubscription))
	if err != nil {
		return nil, 0, mapError(err)
	}
	return subs, total, nil
}

func (s *Store) BoosterQuotasBySubscription(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]quota.BoosterQuota, error) {
	out := make(map[uuid.UUID][]quota.BoosterQuota, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.boosterQuotas(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, q := range rows {
		out[q.BoosterSubscriptionID] = append(out[q.BoosterSubscriptionID], q)
	}
	return out, nil
}

func (s *Store) UsageRecords(ctx context.Context, userID uuid.UUID, feature quota.FeatureCode, limit, offset int) ([]quota.UsageRecord, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM quota_usage_records
		 WHERE user_id = $1 AND ($2::text = '' OR feature_code = $2)`,
		userID, string(feature),
	).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM quota_usage_records
		 WHERE user_id = $1 AND ($2::text = '' OR feature_code = $2)
		 ORDER BY created_at DESC, id
		 LIMIT $3 OFFSET $4`,
		userID, string(feature), limit, offset,
	)
	if err != nil {
		return nil, 0, mapError(err)
	}
	recs, err := pgx.CollectRows(rows, collect(scanUsageRecord))
	if err != nil {
		return nil, 0, mapError(err)
	}
	return recs, total, nil
}

func (s *Store) SubscriptionsEndingBetween(ctx context.Context, after, notAfter time.Time) ([]quota.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM quota_subscriptions
		 WHERE status = 'active' AND end_date > $1 AND end_date <= $2
		 ORDER BY end_date, id`,
		after, notAfter,
	)
	if err != nil {
		return nil, mapError(err)
	}
	subs, err := pgx.CollectRows(rows, collect(scanSubscription))
	return subs, mapError(err)
}

func (s *Store) Reservations(ctx context.Context, userID uuid.UUID, status quota.ReservationStatus, limit int) ([]quota.Reservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reservationColumns+` FROM quota_reservations
		 WHERE user_id = $1 AND ($2::text = '' OR status = $2)
		 ORDER BY created_at DESC, id
		 LIMIT $3`,
		userID, string(status), limit,
	)
	if err != nil {
		return nil, mapError(err)
	}
	out, err := pgx.CollectRows(rows, collect(scanReservation))
	return out, mapError(err)
}

// mapError translates driver errors into quota sentinels. Unknown errors
// are returned unchanged.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case pg.IsNotFoundError(err):
		return quota.ErrNotFound
	case pg.IsLockTimeoutError(err):
		return errors.Join(quota.ErrLockTimeout, err)
	case pg.IsDuplicateKeyError(err):
		switch pg.ConstraintName(err) {
		case "quota_subscriptions_one_active":
			return errors.Join(quota.ErrSubscriptionAlreadyActive, err)
		case "quota_subscription_orders_pkey", "quota_booster_subscriptions_order":
			return errors.Join(quota.ErrOrderConflict, err)
		case "quota_usage_periods_one_current":
			return errors.Join(quota.ErrPeriodConflict, err)
		case "quota_usage_records_resource":
			return errors.Join(quota.ErrDuplicateUsageRecord, err)
		}
	case pg.IsCheckViolationError(err):
		switch pg.ConstraintName(err) {
		case "quota_booster_quotas_within_limit":
			return errors.Join(quota.ErrQuotaExceeded, err)
		case "quota_usage_periods_within_subscription":
			return errors.Join(quota.ErrPeriodBeyondSubscription, err)
		}
	case pg.IsForeignKeyViolationError(err):
		return errors.Join(quota.ErrNotFound, err)
	}
	return err
}
