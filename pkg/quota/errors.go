package quota

import "errors"

// Kind classifies a business outcome so callers can render an actionable message.
type Kind string

const (
	KindNone                   Kind = ""
	KindNotAuthenticated       Kind = "NOT_AUTHENTICATED"
	KindNoActiveSubscription   Kind = "NO_ACTIVE_SUBSCRIPTION"
	KindUnknownFeature         Kind = "UNKNOWN_FEATURE"
	KindQuotaExceeded          Kind = "QUOTA_EXCEEDED"
	KindDuplicateActivation    Kind = "DUPLICATE_ACTIVATION"
	KindRetry                  Kind = "RETRY"
	KindReconciliationConflict Kind = "RECONCILIATION_CONFLICT"
	KindReservationExpired     Kind = "RESERVATION_EXPIRED"
	KindReservationClosed      Kind = "RESERVATION_CLOSED"
)

var (
	// Business errors
	ErrNotAuthenticated       = errors.New("quota.errors.not_authenticated")
	ErrNoActiveSubscription   = errors.New("quota.errors.no_active_subscription")
	ErrUnknownFeature         = errors.New("quota.errors.unknown_feature")
	ErrQuotaExceeded          = errors.New("quota.errors.quota_exceeded")
	ErrDuplicateActivation    = errors.New("quota.errors.duplicate_activation")
	ErrLockTimeout            = errors.New("quota.errors.lock_timeout")
	ErrReconciliationConflict = errors.New("quota.errors.reconciliation_conflict")
	ErrReservationExpired     = errors.New("quota.errors.reservation_expired")
	ErrReservationClosed      = errors.New("quota.errors.reservation_closed")
	ErrReservationNotFound    = errors.New("quota.errors.reservation_not_found")

	// Write path errors
	ErrPlanNotFound              = errors.New("quota.errors.plan_not_found")
	ErrNotBoosterPlan            = errors.New("quota.errors.not_booster_plan")
	ErrNotBasePlan               = errors.New("quota.errors.not_base_plan")
	ErrOrderConflict             = errors.New("quota.errors.order_conflict")
	ErrSubscriptionAlreadyActive = errors.New("quota.errors.subscription_already_active")
	ErrInvalidArgument           = errors.New("quota.errors.invalid_argument")

	// Storage errors
	ErrNotFound                 = errors.New("quota.errors.not_found")
	ErrDuplicateUsageRecord     = errors.New("quota.errors.duplicate_usage_record")
	ErrPeriodConflict           = errors.New("quota.errors.period_conflict")
	ErrPeriodBeyondSubscription = errors.New("quota.errors.period_beyond_subscription")

	// Catalog errors
	ErrInvalidCatalog      = errors.New("quota.errors.invalid_catalog")
	ErrFailedToLoadCatalog = errors.New("quota.errors.failed_to_load_catalog")
)

// KindOf maps an error returned by this package to its business kind.
// Infrastructure errors map to KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotAuthenticated):
		return KindNotAuthenticated
	case errors.Is(err, ErrNoActiveSubscription):
		return KindNoActiveSubscription
	case errors.Is(err, ErrUnknownFeature):
		return KindUnknownFeature
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrDuplicateActivation):
		return KindDuplicateActivation
	case errors.Is(err, ErrLockTimeout):
		return KindRetry
	case errors.Is(err, ErrReconciliationConflict):
		return KindReconciliationConflict
	case errors.Is(err, ErrReservationExpired):
		return KindReservationExpired
	case errors.Is(err, ErrReservationClosed):
		return KindReservationClosed
	}
	return KindNone
}

// IsRetryable reports whether the operation may succeed when repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsPermanent reports whether err is a business refusal that will not change on retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrNotBoosterPlan) ||
		errors.Is(err, ErrNotBasePlan) ||
		errors.Is(err, ErrOrderConflict) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrReservationExpired) ||
		errors.Is(err, ErrReservationClosed)
}
