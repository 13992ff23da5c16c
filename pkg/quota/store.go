package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ledgerReader is the subset of queries shared by Store and Tx that is
// needed to resolve a combined quota.
type ledgerReader interface {
	// ActiveSubscription returns the user's subscription with status active or ErrNotFound.
	ActiveSubscription(ctx context.Context, userID uuid.UUID) (Subscription, error)
	// CurrentUsagePeriod returns the period with status current or ErrNotFound.
	CurrentUsagePeriod(ctx context.Context, userID uuid.UUID, feature FeatureCode) (UsagePeriod, error)
	// ActiveBoosterQuotas returns active rows with ExpiresAt after now, ordered by
	// ExpiresAt, CreatedAt, ID. An empty feature returns rows of all features.
	ActiveBoosterQuotas(ctx context.Context, userID uuid.UUID, feature FeatureCode, now time.Time) ([]BoosterQuota, error)
	// ReservedUnits sums the reservations of a feature still held at now.
	ReservedUnits(ctx context.Context, userID uuid.UUID, feature FeatureCode, now time.Time) (int64, error)
	// Reservation returns a reservation by id or ErrNotFound.
	Reservation(ctx context.Context, id uuid.UUID) (Reservation, error)
}

// Store persists the ledger. Read methods take no locks; all writes go
// through InTx.
type Store interface {
	ledgerReader

	// BoosterSubscriptions returns one page of the user's booster
	// subscriptions, newest first, and the total count.
	BoosterSubscriptions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]BoosterSubscription, int, error)
	// BoosterQuotasBySubscription returns quota rows grouped by booster subscription id.
	BoosterQuotasBySubscription(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]BoosterQuota, error)
	// UsageRecords returns one page of audit records, newest first, and the
	// total count. An empty feature returns records of all features.
	UsageRecords(ctx context.Context, userID uuid.UUID, feature FeatureCode, limit, offset int) ([]UsageRecord, int, error)
	// SubscriptionsEndingBetween returns active subscriptions with
	// after < EndDate <= notAfter.
	SubscriptionsEndingBetween(ctx context.Context, after, notAfter time.Time) ([]Subscription, error)
	// Reservations returns up to limit reservations of the user, newest
	// first. An empty status returns every status.
	Reservations(ctx context.Context, userID uuid.UUID, status ReservationStatus, limit int) ([]Reservation, error)

	// InTx runs fn in a transaction. Returning an error rolls it back.
	// Lock waits longer than the store's lock timeout fail with ErrLockTimeout.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// WithReconcileLock runs fn in a transaction holding the global reconcile
	// lock. It does not wait: acquired is false when another run holds it.
	WithReconcileLock(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (acquired bool, err error)
}

// Tx is a unit of work. Reads inside a Tx lock the rows they return until
// the transaction ends.
type Tx interface {
	ledgerReader

	// LockUsage serializes consumption for one (user, feature) pair.
	LockUsage(ctx context.Context, userID uuid.UUID, feature FeatureCode) error
	// LockUser serializes billing writes for one user.
	LockUser(ctx context.Context, userID uuid.UUID) error

	SubscriptionByOrder(ctx context.Context, orderID string) (Subscription, error)
	// CreateSubscription inserts a subscription and records its order id.
	// A second active row for the user fails with ErrSubscriptionAlreadyActive,
	// a reused order id with ErrOrderConflict.
	CreateSubscription(ctx context.Context, sub Subscription) error
	// UpdateSubscription persists Status, EndDate, CustomQuotas and UpdatedAt.
	UpdateSubscription(ctx context.Context, sub Subscription) error
	// AttachOrder records an additional order id (a renewal) for a subscription.
	AttachOrder(ctx context.Context, orderID string, sub Subscription) error

	CurrentUsagePeriodsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]UsagePeriod, error)
	// CreateUsagePeriod inserts a period. A second current row for the pair
	// fails with ErrPeriodConflict; a window ending after the subscription
	// fails with ErrPeriodBeyondSubscription.
	CreateUsagePeriod(ctx context.Context, p UsagePeriod) error
	// UpdateUsagePeriod persists Status, PeriodEnd, UsageCount and UpdatedAt.
	UpdateUsagePeriod(ctx context.Context, p UsagePeriod) error
	IncrementUsagePeriod(ctx context.Context, periodID uuid.UUID, amount int64, now time.Time) error
	// SumBaseUsage sums BaseAmount of the audit records of a period.
	SumBaseUsage(ctx context.Context, periodID uuid.UUID) (int64, error)

	BoosterSubscriptionByOrder(ctx context.Context, orderID string) (BoosterSubscription, error)
	BoosterQuotasForSubscription(ctx context.Context, boosterSubscriptionID uuid.UUID) ([]BoosterQuota, error)
	// CreateBoosterSubscription inserts a booster pack with its quota rows.
	// A reused order id fails with ErrOrderConflict.
	CreateBoosterSubscription(ctx context.Context, sub BoosterSubscription, quotas []BoosterQuota) error
	IncrementBoosterUsage(ctx context.Context, quotaID uuid.UUID, amount int64) error

	UsageRecordByResource(ctx context.Context, userID uuid.UUID, feature FeatureCode, resourceID string) (UsageRecord, error)
	// InsertUsageRecord appends an audit record. A reused resource id fails
	// with ErrDuplicateUsageRecord.
	InsertUsageRecord(ctx context.Context, rec UsageRecord) error

	CreateReservation(ctx context.Context, r Reservation) error
	// UpdateReservation persists Status, ConfirmedAt, ReleasedAt and ReleaseReason.
	UpdateReservation(ctx context.Context, r Reservation) error

	// ExpireSubscriptions marks active subscriptions with EndDate <= now as
	// expired and returns them. Rows locked by other transactions are skipped.
	ExpireSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error)
	// ExpireUsagePeriods marks the current periods of a subscription as expired.
	ExpireUsagePeriods(ctx context.Context, subscriptionID uuid.UUID, now time.Time) (int, error)
	// ExpireBoosterQuotas marks active rows with ExpiresAt <= now as expired and returns them.
	ExpireBoosterQuotas(ctx context.Context, now time.Time) ([]BoosterQuota, error)
	// ExpireBoosterSubscriptions marks active booster subscriptions with EndDate <= now as expired.
	ExpireBoosterSubscriptions(ctx context.Context, now time.Time) (int, error)
	// ExpireReservations marks held reservations with ExpiresAt <= now as expired.
	ExpireReservations(ctx context.Context, now time.Time) (int, error)
}
