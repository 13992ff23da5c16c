package quota_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestCurrentPeriod(t *testing.T) {
	t.Run("daily", func(t *testing.T) {
		subStart := date(2025, time.January, 15, 10)
		subEnd := subStart.AddDate(0, 0, 30)

		start, end, ok := quota.CurrentPeriod(quota.CycleDaily, subStart, subEnd, subStart.Add(time.Hour), time.UTC)
		require.True(t, ok)
		assert.Equal(t, subStart, start, "first day starts with the subscription")
		assert.Equal(t, date(2025, time.January, 16, 0), end)

		start, end, ok = quota.CurrentPeriod(quota.CycleDaily, subStart, subEnd, date(2025, time.January, 20, 23), time.UTC)
		require.True(t, ok)
		assert.Equal(t, date(2025, time.January, 20, 0), start)
		assert.Equal(t, date(2025, time.January, 21, 0), end)

		start, end, ok = quota.CurrentPeriod(quota.CycleDaily, subStart, subEnd, subEnd.Add(-time.Hour), time.UTC)
		require.True(t, ok)
		assert.Equal(t, date(2025, time.February, 14, 0), start)
		assert.Equal(t, subEnd, end, "last day ends with the subscription")
	})

	t.Run("daily in location", func(t *testing.T) {
		loc := time.FixedZone("UTC+3", 3*60*60)
		subStart := date(2025, time.January, 1, 0)
		subEnd := subStart.AddDate(0, 0, 30)

		start, end, ok := quota.CurrentPeriod(quota.CycleDaily, subStart, subEnd, date(2025, time.January, 10, 22), loc)
		require.True(t, ok)
		assert.Equal(t, date(2025, time.January, 10, 21), start)
		assert.Equal(t, date(2025, time.January, 11, 21), end)
		assert.Equal(t, time.UTC, start.Location())
	})

	t.Run("monthly", func(t *testing.T) {
		subStart := date(2025, time.January, 15, 10)
		subEnd := subStart.AddDate(1, 0, 0)

		start, end, ok := quota.CurrentPeriod(quota.CycleMonthly, subStart, subEnd, date(2025, time.March, 20, 0), time.UTC)
		require.True(t, ok)
		assert.Equal(t, date(2025, time.March, 15, 10), start)
		assert.Equal(t, date(2025, time.April, 15, 10), end)

		start, end, ok = quota.CurrentPeriod(quota.CycleMonthly, subStart, subEnd, date(2025, time.March, 15, 9), time.UTC)
		require.True(t, ok)
		assert.Equal(t, date(2025, time.February, 15, 10), start)
		assert.Equal(t, date(2025, time.March, 15, 10), end)
	})

	t.Run("monthly clamps to month end", func(t *testing.T) {
		subStart := date(2025, time.January, 31, 0)
		subEnd := subStart.AddDate(1, 0, 0)

		start, end, ok := quota.CurrentPeriod(quota.CycleMonthly, subStart, subEnd, date(2025, time.February, 10, 0), time.UTC)
		require.True(t, ok)
		assert.Equal(t, subStart, start)
		assert.Equal(t, date(2025, time.February, 28, 0), end)

		start, end, ok = quota.CurrentPeriod(quota.CycleMonthly, subStart, subEnd, date(2025, time.March, 1, 0), time.UTC)
		require.True(t, ok)
		assert.Equal(t, date(2025, time.February, 28, 0), start)
		assert.Equal(t, date(2025, time.March, 31, 0), end)
	})

	t.Run("monthly clamped to subscription end", func(t *testing.T) {
		subStart := date(2025, time.January, 15, 10)
		subEnd := subStart.AddDate(0, 0, 30)

		_, end, ok := quota.CurrentPeriod(quota.CycleMonthly, subStart, subEnd, subStart, time.UTC)
		require.True(t, ok)
		assert.Equal(t, subEnd, end)
	})

	t.Run("none spans the subscription", func(t *testing.T) {
		subStart := date(2025, time.January, 15, 10)
		subEnd := subStart.AddDate(0, 0, 30)

		start, end, ok := quota.CurrentPeriod(quota.CycleNone, subStart, subEnd, date(2025, time.January, 30, 0), nil)
		require.True(t, ok)
		assert.Equal(t, subStart, start)
		assert.Equal(t, subEnd, end)
	})

	t.Run("outside the subscription", func(t *testing.T) {
		subStart := date(2025, time.January, 15, 10)
		subEnd := subStart.AddDate(0, 0, 30)

		_, _, ok := quota.CurrentPeriod(quota.CycleDaily, subStart, subEnd, subStart.Add(-time.Second), time.UTC)
		assert.False(t, ok)
		_, _, ok = quota.CurrentPeriod(quota.CycleDaily, subStart, subEnd, subEnd, time.UTC)
		assert.False(t, ok, "the window is half-open")
	})

	t.Run("window always contains now", func(t *testing.T) {
		rng := rand.New(rand.NewPCG(1, 2))
		for range 500 {
			subStart := date(2024, time.January, 1, 0).Add(time.Duration(rng.Int64N(int64(365 * 24 * time.Hour))))
			subEnd := subStart.AddDate(0, 0, 1+rng.IntN(400))
			now := subStart.Add(time.Duration(rng.Int64N(int64(subEnd.Sub(subStart)))))

			for _, cycle := range []quota.Cycle{quota.CycleNone, quota.CycleDaily, quota.CycleMonthly} {
				start, end, ok := quota.CurrentPeriod(cycle, subStart, subEnd, now, time.UTC)
				require.True(t, ok)
				p := quota.UsagePeriod{PeriodStart: start, PeriodEnd: end}
				require.True(t, p.Contains(now), "%s window [%s, %s) misses %s", cycle, start, end, now)
				require.False(t, start.Before(subStart))
				require.False(t, end.After(subEnd))
			}
		}
	})
}
