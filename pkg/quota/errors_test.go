package quota_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want quota.Kind
	}{
		{nil, quota.KindNone},
		{errors.New("connection reset"), quota.KindNone},
		{quota.ErrNotAuthenticated, quota.KindNotAuthenticated},
		{fmt.Errorf("activate: %w", quota.ErrNoActiveSubscription), quota.KindNoActiveSubscription},
		{quota.ErrUnknownFeature, quota.KindUnknownFeature},
		{errors.Join(quota.ErrQuotaExceeded, errors.New("3 units left")), quota.KindQuotaExceeded},
		{quota.ErrDuplicateActivation, quota.KindDuplicateActivation},
		{errors.Join(quota.ErrLockTimeout, errors.New("55P03")), quota.KindRetry},
		{quota.ErrReconciliationConflict, quota.KindReconciliationConflict},
		{quota.ErrReservationExpired, quota.KindReservationExpired},
		{errors.Join(quota.ErrReservationClosed, errors.New("released")), quota.KindReservationClosed},
		{quota.ErrReservationNotFound, quota.KindNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quota.KindOf(tt.err), "KindOf(%v)", tt.err)
	}
}

func TestErrorClasses(t *testing.T) {
	permanent := []error{
		quota.ErrNotAuthenticated,
		quota.ErrPlanNotFound,
		quota.ErrNotBoosterPlan,
		quota.ErrNotBasePlan,
		fmt.Errorf("order: %w", quota.ErrOrderConflict),
		quota.ErrInvalidArgument,
		quota.ErrReservationNotFound,
		quota.ErrReservationClosed,
	}
	for _, err := range permanent {
		assert.True(t, quota.IsPermanent(err), "%v", err)
		assert.False(t, quota.IsRetryable(err), "%v", err)
	}

	transient := []error{quota.ErrNoActiveSubscription, quota.ErrLockTimeout, errors.New("boom")}
	for _, err := range transient {
		assert.False(t, quota.IsPermanent(err), "%v", err)
	}
	assert.True(t, quota.IsRetryable(errors.Join(quota.ErrLockTimeout, errors.New("deadlock"))))
}

func TestConsumptionResultMessage(t *testing.T) {
	tests := []struct {
		res  quota.ConsumptionResult
		want string
	}{
		{quota.ConsumptionResult{Success: true}, ""},
		{quota.ConsumptionResult{Success: true, Duplicate: true}, "already recorded"},
		{quota.ConsumptionResult{Kind: quota.KindNotAuthenticated}, "sign in to use this feature"},
		{quota.ConsumptionResult{Kind: quota.KindNoActiveSubscription}, "an active subscription is required"},
		{quota.ConsumptionResult{Kind: quota.KindUnknownFeature, Feature: "exports"}, `feature "exports" is not available`},
		{quota.ConsumptionResult{Kind: quota.KindQuotaExceeded, CombinedRemaining: 2}, "quota exceeded: 2 remaining"},
		{quota.ConsumptionResult{Kind: quota.KindRetry}, "the ledger is busy, try again"},
		{quota.ConsumptionResult{Kind: quota.KindReservationExpired}, "the reservation has expired"},
		{quota.ConsumptionResult{Kind: quota.KindReservationClosed}, "the reservation is no longer held"},
		{quota.ConsumptionResult{Kind: quota.KindReconciliationConflict}, "RECONCILIATION_CONFLICT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.res.Message())
	}
}
