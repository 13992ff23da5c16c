package quota_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

func TestAddLimits(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{0, 0, 0},
		{5, 20, 25},
		{quota.Unlimited, 20, quota.Unlimited},
		{20, quota.Unlimited, quota.Unlimited},
		{quota.Unlimited, quota.Unlimited, quota.Unlimited},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quota.AddLimits(tt.a, tt.b), "AddLimits(%d, %d)", tt.a, tt.b)
	}
}

func TestRemaining(t *testing.T) {
	assert.Equal(t, int64(3), quota.Remaining(5, 2))
	assert.Equal(t, int64(0), quota.Remaining(5, 5))
	assert.Equal(t, int64(0), quota.Remaining(5, 9), "overuse clamps to zero")
	assert.Equal(t, int64(0), quota.Remaining(0, 0))
	assert.Equal(t, quota.Unlimited, quota.Remaining(quota.Unlimited, 1_000_000))
}

func TestFits(t *testing.T) {
	assert.True(t, quota.Fits(5, 5))
	assert.False(t, quota.Fits(5, 6))
	assert.False(t, quota.Fits(0, 1))
	assert.True(t, quota.Fits(quota.Unlimited, 1<<40))
	assert.True(t, quota.IsUnlimited(quota.Unlimited))
	assert.False(t, quota.IsUnlimited(0))
}
