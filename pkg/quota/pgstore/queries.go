package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	subscriptionColumns = `id, user_id, plan_id, order_id, status, start_date, end_date, custom_quotas, created_at, updated_at`
	periodColumns       = `id, user_id, feature_code, subscription_id, period_start, period_end, usage_count, status, created_at, updated_at`
	boosterSubColumns   = `id, user_id, order_id, plan_id, status, start_date, end_date, created_at`
	boosterQuotaColumns = `id, booster_subscription_id, user_id, feature_code, quota_limit, used, status, expires_at, created_at`
	recordColumns       = `id, user_id, feature_code, amount, base_amount, booster_amount, usage_period_id, resource_id, created_at`
	reservationColumns  = `id, user_id, feature_code, amount, status, client_id, release_reason, created_at, expires_at, confirmed_at, released_at`
)

// queries holds the reads shared by the pool and transactions. Inside a
// transaction lockRows is set and single-row reads take row locks.
type queries struct {
	db       querier
	lockRows bool
}

func (q queries) forUpdate() string {
	if q.lockRows {
		return " FOR UPDATE"
	}
	return ""
}

// forShare locks rows that writers only change under the user lock.
func (q queries) forShare() string {
	if q.lockRows {
		return " FOR SHARE"
	}
	return ""
}

func (q queries) ActiveSubscription(ctx context.Context, userID uuid.UUID) (quota.Subscription, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM quota_subscriptions
		 WHERE user_id = $1 AND status = 'active'`+q.forShare(),
		userID,
	)
	sub, err := scanSubscription(row)
	return sub, mapError(err)
}

func (q queries) CurrentUsagePeriod(ctx context.Context, userID uuid.UUID, feature quota.FeatureCode) (quota.UsagePeriod, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+periodColumns+` FROM quota_usage_periods
		 WHERE user_id = $1 AND feature_code = $2 AND status = 'current'`+q.forUpdate(),
		userID, string(feature),
	)
	p, err := scanPeriod(row)
	return p, mapError(err)
}

func (q queries) ActiveBoosterQuotas(ctx context.Context, userID uuid.UUID, feature quota.FeatureCode, now time.Time) ([]quota.BoosterQuota, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+boosterQuotaColumns+` FROM quota_booster_quotas
		 WHERE user_id = $1 AND ($2::text = '' OR feature_code = $2) AND status = 'active' AND expires_at > $3
		 ORDER BY expires_at, created_at, id`+q.forUpdate(),
		userID, string(feature), now,
	)
	if err != nil {
		return nil, mapError(err)
	}
	out, err := pgx.CollectRows(rows, collect(scanBoosterQuota))
	return out, mapError(err)
}

func (q queries) ReservedUnits(ctx context.Context, userID uuid.UUID, feature quota.FeatureCode, now time.Time) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx,
		`SELECT coalesce(sum(amount), 0)::bigint FROM quota_reservations
		 WHERE user_id = $1 AND feature_code = $2 AND status = 'reserved' AND expires_at > $3`,
		userID, string(feature), now,
	).Scan(&sum)
	return sum, mapError(err)
}

func (q queries) Reservation(ctx context.Context, id uuid.UUID) (quota.Reservation, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM quota_reservations
		 WHERE id = $1`+q.forUpdate(),
		id,
	)
	r, err := scanReservation(row)
	return r, mapError(err)
}

func (q queries) boosterQuotas(ctx context.Context, ids []uuid.UUID) ([]quota.BoosterQuota, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+boosterQuotaColumns+` FROM quota_booster_quotas
		 WHERE booster_subscription_id = ANY($1)
		 ORDER BY booster_subscription_id, feature_code`,
		ids,
	)
	if err != nil {
		return nil, mapError(err)
	}
	out, err := pgx.CollectRows(rows, collect(scanBoosterQuota))
	return out, mapError(err)
}

// collect adapts a single-row scanner to pgx.CollectRows.
func collect[T any](scan func(pgx.Row) (T, error)) pgx.RowToFunc[T] {
	return func(row pgx.CollectableRow) (T, error) {
		return scan(row)
	}
}

func scanSubscription(row pgx.Row) (quota.Subscription, error) {
	var (
		s      quota.Subscription
		status string
		custom []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PlanID,
		&s.OrderID,
		&status,
		&s.StartDate,
		&s.EndDate,
		&custom,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return quota.Subscription{}, err
	}
	s.Status = quota.SubscriptionStatus(status)
	s.StartDate, s.EndDate = s.StartDate.UTC(), s.EndDate.UTC()
	s.CreatedAt, s.UpdatedAt = s.CreatedAt.UTC(), s.UpdatedAt.UTC()

	if len(custom) > 0 {
		var m map[quota.FeatureCode]int64
		if err := json.Unmarshal(custom, &m); err != nil {
			return quota.Subscription{}, fmt.Errorf("decode custom quotas of subscription %s: %w", s.ID, err)
		}
		if len(m) > 0 {
			s.CustomQuotas = m
		}
	}
	return s, nil
}

func encodeCustomQuotas(m map[quota.FeatureCode]int64) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func scanPeriod(row pgx.Row) (quota.UsagePeriod, error) {
	var (
		p       quota.UsagePeriod
		feature string
		status  string
	)
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&feature,
		&p.SubscriptionID,
		&p.PeriodStart,
		&p.PeriodEnd,
		&p.UsageCount,
		&status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return quota.UsagePeriod{}, err
	}
	p.FeatureCode = quota.FeatureCode(feature)
	p.Status = quota.PeriodStatus(status)
	p.PeriodStart, p.PeriodEnd = p.PeriodStart.UTC(), p.PeriodEnd.UTC()
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return p, nil
}

func scanBoosterSubscription(row pgx.Row) (quota.BoosterSubscription, error) {
	var (
		b      quota.BoosterSubscription
		status string
	)
	if err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.OrderID,
		&b.PlanID,
		&status,
		&b.StartDate,
		&b.EndDate,
		&b.CreatedAt,
	); err != nil {
		return quota.BoosterSubscription{}, err
	}
	b.Status = quota.SubscriptionStatus(status)
	b.StartDate, b.EndDate, b.CreatedAt = b.StartDate.UTC(), b.EndDate.UTC(), b.CreatedAt.UTC()
	return b, nil
}

func scanBoosterQuota(row pgx.Row) (quota.BoosterQuota, error) {
	var (
		b       quota.BoosterQuota
		feature string
		status  string
	)
	if err := row.Scan(
		&b.ID,
		&b.BoosterSubscriptionID,
		&b.UserID,
		&feature,
		&b.Limit,
		&b.Used,
		&status,
		&b.ExpiresAt,
		&b.CreatedAt,
	); err != nil {
		return quota.BoosterQuota{}, err
	}
	b.FeatureCode = quota.FeatureCode(feature)
	b.Status = quota.BoosterStatus(status)
	b.ExpiresAt, b.CreatedAt = b.ExpiresAt.UTC(), b.CreatedAt.UTC()
	return b, nil
}

func scanUsageRecord(row pgx.Row) (quota.UsageRecord, error) {
	var (
		r          quota.UsageRecord
		feature    string
		resourceID *string
	)
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&feature,
		&r.Amount,
		&r.BaseAmount,
		&r.BoosterAmount,
		&r.UsagePeriodID,
		&resourceID,
		&r.CreatedAt,
	); err != nil {
		return quota.UsageRecord{}, err
	}
	r.FeatureCode = quota.FeatureCode(feature)
	if resourceID != nil {
		r.ResourceID = *resourceID
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func scanReservation(row pgx.Row) (quota.Reservation, error) {
	var (
		r                quota.Reservation
		feature, status  string
		client, reason   *string
		confirmed, freed *time.Time
	)
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&feature,
		&r.Amount,
		&status,
		&client,
		&reason,
		&r.CreatedAt,
		&r.ExpiresAt,
		&confirmed,
		&freed,
	); err != nil {
		return quota.Reservation{}, err
	}
	r.FeatureCode = quota.FeatureCode(feature)
	r.Status = quota.ReservationStatus(status)
	if client != nil {
		r.ClientID = *client
	}
	if reason != nil {
		r.ReleaseReason = *reason
	}
	r.CreatedAt, r.ExpiresAt = r.CreatedAt.UTC(), r.ExpiresAt.UTC()
	r.ConfirmedAt, r.ReleasedAt = utcPtr(confirmed), utcPtr(freed)
	return r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// nullString maps the empty string to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
