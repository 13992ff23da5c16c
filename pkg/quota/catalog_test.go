package quota_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

func TestCycleForCode(t *testing.T) {
	assert.Equal(t, quota.CycleDaily, quota.CycleForCode("images_per_day"))
	assert.Equal(t, quota.CycleMonthly, quota.CycleForCode("articles_per_month"))
	assert.Equal(t, quota.CycleNone, quota.CycleForCode("seats"))
}

func TestNewMemoryCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		features := []quota.FeatureDefinition{
			{Code: "seats", Name: "Seats"},
			{Code: "articles_per_month", Name: "Articles"},
			{Code: "exports", Cycle: quota.CycleDaily},
		}
		plans := []quota.Plan{
			{ID: "pro", DurationDays: 30, Features: map[quota.FeatureCode]int64{"seats": -1, "articles_per_month": 100}},
		}
		c, err := quota.NewMemoryCatalog(features, plans)
		require.NoError(t, err)

		plans[0].Features["seats"] = 1
		limit, err := c.FeatureLimit(ctx, "pro", "seats")
		require.NoError(t, err)
		assert.Equal(t, quota.Unlimited, limit, "catalog keeps its own copy")

		limit, err = c.FeatureLimit(ctx, "pro", "exports")
		require.NoError(t, err)
		assert.Zero(t, limit)

		p, err := c.Plan(ctx, "pro")
		require.NoError(t, err)
		assert.Equal(t, quota.PlanTypeBase, p.Type, "type defaults to base")

		days, err := c.PlanDuration(ctx, "pro")
		require.NoError(t, err)
		assert.Equal(t, 30, days)

		f, err := c.Feature(ctx, "articles_per_month")
		require.NoError(t, err)
		assert.Equal(t, quota.CycleMonthly, f.Cycle, "cycle is derived from the code")

		f, err = c.Feature(ctx, "exports")
		require.NoError(t, err)
		assert.Equal(t, quota.CycleDaily, f.Cycle, "explicit cycle wins")

		all, err := c.Features(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, quota.FeatureCode("articles_per_month"), all[0].Code)
		assert.Equal(t, quota.FeatureCode("exports"), all[1].Code)
		assert.Equal(t, quota.FeatureCode("seats"), all[2].Code)
	})

	t.Run("lookups of unknown ids", func(t *testing.T) {
		c, err := quota.NewMemoryCatalog(nil, nil)
		require.NoError(t, err)

		_, err = c.Plan(ctx, "missing")
		assert.ErrorIs(t, err, quota.ErrPlanNotFound)
		_, err = c.FeatureLimit(ctx, "missing", "seats")
		assert.ErrorIs(t, err, quota.ErrPlanNotFound)
		_, err = c.PlanDuration(ctx, "missing")
		assert.ErrorIs(t, err, quota.ErrPlanNotFound)
		_, err = c.Feature(ctx, "seats")
		assert.ErrorIs(t, err, quota.ErrUnknownFeature)
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name     string
			features []quota.FeatureDefinition
			plans    []quota.Plan
			contains string
		}{
			{"empty feature code", []quota.FeatureDefinition{{}}, nil, "feature code is empty"},
			{"duplicate feature", []quota.FeatureDefinition{{Code: "seats"}, {Code: "seats"}}, nil, "defined twice"},
			{"invalid cycle", []quota.FeatureDefinition{{Code: "seats", Cycle: "weekly"}}, nil, "invalid cycle"},
			{"empty plan id", nil, []quota.Plan{{DurationDays: 1}}, "plan id is empty"},
			{"duplicate plan", nil, []quota.Plan{{ID: "a", DurationDays: 1}, {ID: "a", DurationDays: 1}}, "defined twice"},
			{"invalid type", nil, []quota.Plan{{ID: "a", Type: "addon", DurationDays: 1}}, "invalid type"},
			{"zero duration", nil, []quota.Plan{{ID: "a"}}, "duration must be positive"},
			{"unknown feature", nil, []quota.Plan{{ID: "a", DurationDays: 1, Features: map[quota.FeatureCode]int64{"seats": 1}}}, "unknown feature"},
			{
				"limit below unlimited",
				[]quota.FeatureDefinition{{Code: "seats"}},
				[]quota.Plan{{ID: "a", DurationDays: 1, Features: map[quota.FeatureCode]int64{"seats": -2}}},
				"invalid limit",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := quota.NewMemoryCatalog(tt.features, tt.plans)
				require.ErrorIs(t, err, quota.ErrInvalidCatalog)
				assert.Contains(t, err.Error(), tt.contains)
			})
		}
	})
}

const catalogYAML = `
features:
  - code: articles_per_month
    name: Articles
    unit: article
    preserve_on_plan_change: true
  - code: seats
    name: Seats
plans:
  - id: pro
    name: Pro
    duration_days: 30
    features:
      articles_per_month: 100
      seats: -1
  - id: boost
    type: booster
    duration_days: 3
    features:
      articles_per_month: 25
`

func TestLoadCatalogYAML(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		c, err := quota.LoadCatalogYAML(strings.NewReader(catalogYAML))
		require.NoError(t, err)

		f, err := c.Feature(ctx, "articles_per_month")
		require.NoError(t, err)
		assert.True(t, f.PreserveOnPlanChange)
		assert.Equal(t, quota.CycleMonthly, f.Cycle)

		p, err := c.Plan(ctx, "boost")
		require.NoError(t, err)
		assert.Equal(t, quota.PlanTypeBooster, p.Type)
		assert.Equal(t, map[quota.FeatureCode]int64{"articles_per_month": 25}, p.Features)
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		_, err := quota.LoadCatalogYAML(strings.NewReader("features:\n  - code: seats\n    colour: red\n"))
		assert.ErrorIs(t, err, quota.ErrFailedToLoadCatalog)
	})

	t.Run("empty document", func(t *testing.T) {
		c, err := quota.LoadCatalogYAML(strings.NewReader(""))
		require.NoError(t, err)
		all, err := c.Features(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("validation errors", func(t *testing.T) {
		_, err := quota.LoadCatalogYAML(strings.NewReader("plans:\n  - id: a\n    duration_days: 0\n"))
		assert.ErrorIs(t, err, quota.ErrInvalidCatalog)
	})
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	c, err := quota.LoadCatalogFile(path)
	require.NoError(t, err)
	days, err := c.PlanDuration(context.Background(), "pro")
	require.NoError(t, err)
	assert.Equal(t, 30, days)

	_, err = quota.LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, quota.ErrFailedToLoadCatalog)
}
