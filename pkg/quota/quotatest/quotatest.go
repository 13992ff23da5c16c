// Package quotatest provides fixtures and a behavioural suite for quota.Store
// implementations.
package quotatest

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotaledger/pkg/quota"
)

// Epoch is the mock clock start used by the suite. Whole seconds keep the
// timestamps exact in stores with microsecond precision.
var Epoch = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

// Feature codes of the test catalog.
const (
	Articles quota.FeatureCode = "articles_per_month"
	Images   quota.FeatureCode = "images_per_day"
	Seats    quota.FeatureCode = "seats"
)

// Plan ids of the test catalog.
const (
	PlanBasic           = "basic"
	PlanPro             = "pro"
	PlanArticles25      = "articles_boost_25"
	PlanArticles50      = "articles_boost_50"
	PlanArticlesWeek    = "articles_boost_10_week"
	PlanImagesUnlimited = "images_unlimited_boost"
)

// Catalog returns the catalog used by the suite:
//
//	basic   30 days  articles 5,   images 3,  seats 1
//	pro     30 days  articles 100, images 20, seats unlimited
//	boosters: 25 articles for 3 days, 50 articles for 30 days,
//	10 articles for 7 days, unlimited images for 7 days.
func Catalog(tb testing.TB) quota.Catalog {
	tb.Helper()
	return CatalogWithout(tb)
}

// CatalogWithout returns Catalog minus the given plans, the way a catalog
// looks after those plans were retired.
func CatalogWithout(tb testing.TB, planIDs ...string) quota.Catalog {
	tb.Helper()
	plans := []quota.Plan{
		{ID: PlanBasic, Type: quota.PlanTypeBase, DurationDays: 30, Features: map[quota.FeatureCode]int64{Articles: 5, Images: 3, Seats: 1}},
		{ID: PlanPro, Type: quota.PlanTypeBase, DurationDays: 30, Features: map[quota.FeatureCode]int64{Articles: 100, Images: 20, Seats: quota.Unlimited}},
		{ID: PlanArticles25, Type: quota.PlanTypeBooster, DurationDays: 3, Features: map[quota.FeatureCode]int64{Articles: 25}},
		{ID: PlanArticles50, Type: quota.PlanTypeBooster, DurationDays: 30, Features: map[quota.FeatureCode]int64{Articles: 50}},
		{ID: PlanArticlesWeek, Type: quota.PlanTypeBooster, DurationDays: 7, Features: map[quota.FeatureCode]int64{Articles: 10}},
		{ID: PlanImagesUnlimited, Type: quota.PlanTypeBooster, DurationDays: 7, Features: map[quota.FeatureCode]int64{Images: quota.Unlimited, Seats: 0}},
	}
	plans = slices.DeleteFunc(plans, func(p quota.Plan) bool { return slices.Contains(planIDs, p.ID) })

	c, err := quota.NewMemoryCatalog(
		[]quota.FeatureDefinition{
			{Code: Articles, Name: "Articles", Unit: "article", PreserveOnPlanChange: true},
			{Code: Images, Name: "Images", Unit: "image"},
			{Code: Seats, Name: "Seats", Unit: "seat"},
		},
		plans,
	)
	require.NoError(tb, err)
	return c
}

// Recorder is a Notifier that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []quota.Event
}

var _ quota.Notifier = (*Recorder)(nil)

func (r *Recorder) Notify(_ context.Context, ev quota.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []quota.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// OfType returns the recorded events of one type in publication order.
func (r *Recorder) OfType(t quota.EventType) []quota.Event {
	var out []quota.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
