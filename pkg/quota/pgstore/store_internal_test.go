package pgstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

func pgErr(code, constraint string) error {
	return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, ConstraintName: constraint})
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, quota.ErrNotFound},
		{"lock not available", pgErr("55P03", ""), quota.ErrLockTimeout},
		{"deadlock", pgErr("40P01", ""), quota.ErrLockTimeout},
		{"second active subscription", pgErr("23505", "quota_subscriptions_one_active"), quota.ErrSubscriptionAlreadyActive},
		{"reused subscription order", pgErr("23505", "quota_subscription_orders_pkey"), quota.ErrOrderConflict},
		{"reused booster order", pgErr("23505", "quota_booster_subscriptions_order"), quota.ErrOrderConflict},
		{"second current period", pgErr("23505", "quota_usage_periods_one_current"), quota.ErrPeriodConflict},
		{"reused resource id", pgErr("23505", "quota_usage_records_resource"), quota.ErrDuplicateUsageRecord},
		{"booster overdraw", pgErr("23514", "quota_booster_quotas_within_limit"), quota.ErrQuotaExceeded},
		{"period beyond subscription", pgErr("23514", "quota_usage_periods_within_subscription"), quota.ErrPeriodBeyondSubscription},
		{"missing parent", pgErr("23503", "quota_usage_periods_subscription_id_fkey"), quota.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}

	assert.NoError(t, mapError(nil))

	other := errors.New("connection reset")
	assert.Same(t, other, mapError(other))

	unknown := pgErr("23505", "some_other_index")
	assert.Equal(t, unknown, mapError(unknown), "unmapped constraints pass through")
}
