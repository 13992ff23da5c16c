package pgstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

// tx implements quota.Tx on top of a pgx transaction.
type tx struct {
	queries
	ptx pgx.Tx
}

var _ quota.Tx = (*tx)(nil)

func newTx(ptx pgx.Tx) *tx {
	return &tx{queries: queries{db: ptx, lockRows: true}, ptx: ptx}
}

func (t *tx) advisoryLock(ctx context.Context, key string) error {
	_, err := t.ptx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	return mapError(err)
}

func (t *tx) LockUsage(ctx context.Context, userID uuid.UUID, feature quota.FeatureCode) error {
	return t.advisoryLock(ctx, "quota:usage:"+userID.String()+":"+string(feature))
}

func (t *tx) LockUser(ctx context.Context, userID uuid.UUID) error {
	return t.advisoryLock(ctx, "quota:user:"+userID.String())
}

func (t *tx) SubscriptionByOrder(ctx context.Context, orderID string) (quota.Subscription, error) {
	row := t.ptx.QueryRow(ctx,
		`SELECT s.id, s.user_id, s.plan_id, s.order_id, s.status, s.start_date, s.end_date, s.custom_quotas, s.created_at, s.updated_at
		 FROM quota_subscription_orders o
		 JOIN quota_subscriptions s ON s.id = o.subscription_id
		 WHERE o.order_id = $1`,
		orderID,
	)
	sub, err := scanSubscription(row)
	return sub, mapError(err)
}

func (t *tx) CreateSubscription(ctx context.Context, sub quota.Subscription) error {
	custom, err := encodeCustomQuotas(sub.CustomQuotas)
	if err != nil {
		return err
	}
	if _, err := t.ptx.Exec(ctx,
		`INSERT INTO quota_subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.UserID, sub.PlanID, sub.OrderID, string(sub.Status),
		sub.StartDate, sub.EndDate, custom, sub.CreatedAt, sub.UpdatedAt,
	); err != nil {
		return mapError(err)
	}
	return t.AttachOrder(ctx, sub.OrderID, sub)
}

func (t *tx) UpdateSubscription(ctx context.Context, sub quota.Subscription) error {
	custom, err := encodeCustomQuotas(sub.CustomQuotas)
	if err != nil {
		return err
	}
	tag, err := t.ptx.Exec(ctx,
		`UPDATE quota_subscriptions
		 SET status = $2, end_date = $3, custom_quotas = $4, updated_at = $5
		 WHERE id = $1`,
		sub.ID, string(sub.Status), sub.EndDate, custom, sub.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return quota.ErrNotFound
	}
	return nil
}

func (t *tx) AttachOrder(ctx context.Context, orderID string, sub quota.Subscription) error {
	_, err := t.ptx.Exec(ctx,
		`INSERT INTO quota_subscription_orders (order_id, subscription_id, created_at)
		 VALUES ($1, $2, $3)`,
		orderID, sub.ID, sub.UpdatedAt,
	)
	return mapError(err)
}

func (t *tx) CurrentUsagePeriodsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]quota.UsagePeriod, error) {
	rows, err := t.ptx.Query(ctx,
		`SELECT `+periodColumns+` FROM quota_usage_periods
		 WHERE subscription_id = $1 AND status = 'current'
		 ORDER BY feature_code
		 FOR UPDATE`,
		subscriptionID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	out, err := pgx.CollectRows(rows, collect(scanPeriod))
	return out, mapError(err)
}

func (t *tx) CreateUsagePeriod(ctx context.Context, p quota.UsagePeriod) error {
	_, err := t.ptx.Exec(ctx,
		`INSERT INTO quota_usage_periods (`+periodColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.UserID, string(p.FeatureCode), p.SubscriptionID, p.PeriodStart, p.PeriodEnd,
		p.UsageCount, string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	return mapError(err)
}

func (t *tx) UpdateUsagePeriod(ctx context.Context, p quota.UsagePeriod) error {
	tag, err := t.ptx.Exec(ctx,
		`UPDATE quota_usage_periods
		 SET status = $2, period_end = $3, usage_count = $4, updated_at = $5
		 WHERE id = $1`,
		p.ID, string(p.Status), p.PeriodEnd, p.UsageCount, p.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return quota.ErrNotFound
	}
	return nil
}

func (t *tx) IncrementUsagePeriod(ctx context.Context, periodID uuid.UUID, amount int64, now time.Time) error {
	tag, err := t.ptx.Exec(ctx,
		`UPDATE quota_usage_periods SET usage_count = usage_count + $2, updated_at = $3 WHERE id = $1`,
		periodID, amount, now,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return quota.ErrNotFound
	}
	return nil
}

func (t *tx) SumBaseUsage(ctx context.Context, periodID uuid.UUID) (int64, error) {
	var sum int64
	err := t.ptx.QueryRow(ctx,
		`SELECT COALESCE(SUM(base_amount), 0)::bigint FROM quota_usage_records WHERE usage_period_id = $1`,
		periodID,
	).Scan(&sum)
	return sum, mapError(err)
}

func (t *tx) BoosterSubscriptionByOrder(ctx context.Context, orderID string) (quota.BoosterSubscription, error) {
	row := t.ptx.QueryRow(ctx,
		`SELECT `+boosterSubColumns+` FROM quota_booster_subscriptions WHERE order_id = $1`,
		orderID,
	)
	b, err := scanBoosterSubscription(row)
	return b, mapError(err)
}

func (t *tx) BoosterQuotasForSubscription(ctx context.Context, boosterSubscriptionID uuid.UUID) ([]quota.BoosterQuota, error) {
	return t.boosterQuotas(ctx, []uuid.UUID{boosterSubscriptionID})
}

func (t *tx) CreateBoosterSubscription(ctx context.Context, sub quota.BoosterSubscription, quotas []quota.BoosterQuota) error {
	if _, err := t.ptx.Exec(ctx,
		`INSERT INTO quota_booster_subscriptions (`+boosterSubColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.UserID, sub.OrderID, sub.PlanID, string(sub.Status), sub.StartDate, sub.EndDate, sub.CreatedAt,
	); err != nil {
		return mapError(err)
	}
	if len(quotas) == 0 {
		return nil
	}

	_, err := t.ptx.CopyFrom(ctx,
		pgx.Identifier{"quota_booster_quotas"},
		[]string{"id", "booster_subscription_id", "user_id", "feature_code", "quota_limit", "used", "status", "expires_at", "created_at"},
		pgx.CopyFromSlice(len(quotas), func(i int) ([]any, error) {
			q := quotas[i]
			return []any{q.ID, q.BoosterSubscriptionID, q.UserID, string(q.FeatureCode), q.Limit, q.Used, string(q.Status), q.ExpiresAt, q.CreatedAt}, nil
		}),
	)
	return mapError(err)
}

func (t *tx) IncrementBoosterUsage(ctx context.Context, quotaID uuid.UUID, amount int64) error {
	tag, err := t.ptx.Exec(ctx,
		`UPDATE quota_booster_quotas SET used = used + $2 WHERE id = $1`,
		quotaID, amount,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return quota.ErrNotFound
	}
	return nil
}

func (t *tx) UsageRecordByResource(ctx context.Context, userID uuid.UUID, feature quota.FeatureCode, resourceID string) (quota.UsageRecord, error) {
	row := t.ptx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM quota_usage_records
		 WHERE user_id = $1 AND feature_code = $2 AND resource_id = $3`,
		userID, string(feature), resourceID,
	)
	r, err := scanUsageRecord(row)
	return r, mapError(err)
}

func (t *tx) InsertUsageRecord(ctx context.Context, rec quota.UsageRecord) error {
	_, err := t.ptx.Exec(ctx,
		`INSERT INTO quota_usage_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.UserID, string(rec.FeatureCode), rec.Amount, rec.BaseAmount, rec.BoosterAmount,
		rec.UsagePeriodID, nullString(rec.ResourceID), rec.CreatedAt,
	)
	return mapError(err)
}

func (t *tx) CreateReservation(ctx context.Context, r quota.Reservation) error {
	_, err := t.ptx.Exec(ctx,
		`INSERT INTO quota_reservations (`+reservationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.UserID, string(r.FeatureCode), r.Amount, string(r.Status),
		nullString(r.ClientID), nullString(r.ReleaseReason),
		r.CreatedAt, r.ExpiresAt, r.ConfirmedAt, r.ReleasedAt,
	)
	return mapError(err)
}

func (t *tx) UpdateReservation(ctx context.Context, r quota.Reservation) error {
	tag, err := t.ptx.Exec(ctx,
		`UPDATE quota_reservations
		 SET status = $2, confirmed_at = $3, released_at = $4, release_reason = $5
		 WHERE id = $1`,
		r.ID, string(r.Status), r.ConfirmedAt, r.ReleasedAt, nullString(r.ReleaseReason),
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return quota.ErrNotFound
	}
	return nil
}

func (t *tx) ExpireSubscriptions(ctx context.Context, now time.Time) ([]quota.Subscription, error) {
	rows, err := t.ptx.Query(ctx,
		`UPDATE quota_subscriptions SET status = 'expired', updated_at = $1
		 WHERE id IN (
		     SELECT id FROM quota_subscriptions
		     WHERE status = 'active' AND end_date <= $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+subscriptionColumns,
		now,
	)
	if err != nil {
		return nil, mapError(err)
	}
	subs, err := pgx.CollectRows(rows, collect(scanSubscription))
	if err != nil {
		return nil, mapError(err)
	}
	slices.SortFunc(subs, func(a, b quota.Subscription) int { return a.EndDate.Compare(b.EndDate) })
	return subs, nil
}

func (t *tx) ExpireUsagePeriods(ctx context.Context, subscriptionID uuid.UUID, now time.Time) (int, error) {
	tag, err := t.ptx.Exec(ctx,
		`UPDATE quota_usage_periods SET status = 'expired', updated_at = $2
		 WHERE subscription_id = $1 AND status = 'current'`,
		subscriptionID, now,
	)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *tx) ExpireBoosterQuotas(ctx context.Context, now time.Time) ([]quota.BoosterQuota, error) {
	rows, err := t.ptx.Query(ctx,
		`UPDATE quota_booster_quotas SET status = 'expired'
		 WHERE id IN (
		     SELECT id FROM quota_booster_quotas
		     WHERE status = 'active' AND expires_at <= $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+boosterQuotaColumns,
		now,
	)
	if err != nil {
		return nil, mapError(err)
	}
	out, err := pgx.CollectRows(rows, collect(scanBoosterQuota))
	if err != nil {
		return nil, mapError(err)
	}
	slices.SortFunc(out, quota.CompareBoosterQuotas)
	return out, nil
}

func (t *tx) ExpireBoosterSubscriptions(ctx context.Context, now time.Time) (int, error) {
	tag, err := t.ptx.Exec(ctx,
		`UPDATE quota_booster_subscriptions SET status = 'expired'
		 WHERE status = 'active' AND end_date <= $1`,
		now,
	)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *tx) ExpireReservations(ctx context.Context, now time.Time) (int, error) {
	tag, err := t.ptx.Exec(ctx,
		`UPDATE quota_reservations SET status = 'expired'
		 WHERE id IN (
		     SELECT id FROM quota_reservations
		     WHERE status = 'reserved' AND expires_at <= $1
		     FOR UPDATE SKIP LOCKED
		 )`,
		now,
	)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}
