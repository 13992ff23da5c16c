package quota

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// PlanType distinguishes base plans from booster packs.
type PlanType string

const (
	PlanTypeBase    PlanType = "base"
	PlanTypeBooster PlanType = "booster"
)

// Plan is a purchasable plan. Features maps a feature to its limit:
// Unlimited (-1), 0 (not granted) or a positive allowance.
type Plan struct {
	ID           string                `json:"id" yaml:"id"`
	Name         string                `json:"name" yaml:"name"`
	Type         PlanType              `json:"type" yaml:"type"`
	DurationDays int                   `json:"duration_days" yaml:"duration_days"`
	Features     map[FeatureCode]int64 `json:"features" yaml:"features"`
}

// FeatureDefinition describes a rate-limited feature.
type FeatureDefinition struct {
	Code                 FeatureCode `json:"code" yaml:"code"`
	Name                 string      `json:"name" yaml:"name"`
	Unit                 string      `json:"unit" yaml:"unit"`
	Cycle                Cycle       `json:"cycle" yaml:"cycle"`
	PreserveOnPlanChange bool        `json:"preserve_on_plan_change" yaml:"preserve_on_plan_change"`
}

// Catalog is the read-only plan catalog.
type Catalog interface {
	// Plan returns a plan by id or ErrPlanNotFound.
	Plan(ctx context.Context, planID string) (Plan, error)
	// Feature returns a feature definition or ErrUnknownFeature.
	Feature(ctx context.Context, code FeatureCode) (FeatureDefinition, error)
	// Features returns all feature definitions ordered by code.
	Features(ctx context.Context) ([]FeatureDefinition, error)
	// FeatureLimit returns the plan limit for a feature: -1 unlimited, 0 disabled.
	FeatureLimit(ctx context.Context, planID string, code FeatureCode) (int64, error)
	// PlanDuration returns the plan duration in days.
	PlanDuration(ctx context.Context, planID string) (int, error)
}

// CycleForCode derives the reset cycle from the conventional feature code suffix.
func CycleForCode(code FeatureCode) Cycle {
	switch {
	case strings.HasSuffix(string(code), "_per_day"):
		return CycleDaily
	case strings.HasSuffix(string(code), "_per_month"):
		return CycleMonthly
	default:
		return CycleNone
	}
}

// ResolveBaseLimit returns the effective base limit of a feature for a
// subscription: the custom override when present, the plan default otherwise.
func ResolveBaseLimit(ctx context.Context, catalog Catalog, sub Subscription, code FeatureCode) (int64, error) {
	if v, ok := sub.CustomQuotas[code]; ok {
		return v, nil
	}
	return catalog.FeatureLimit(ctx, sub.PlanID, code)
}

// memoryCatalog implements Catalog on top of immutable in-memory maps.
type memoryCatalog struct {
	features map[FeatureCode]FeatureDefinition
	plans    map[string]Plan
}

// NewMemoryCatalog validates and returns an in-memory catalog holding a deep
// copy of the given definitions. Features with an empty cycle get the cycle
// derived by CycleForCode.
func NewMemoryCatalog(features []FeatureDefinition, plans []Plan) (Catalog, error) {
	c := &memoryCatalog{
		features: make(map[FeatureCode]FeatureDefinition, len(features)),
		plans:    make(map[string]Plan, len(plans)),
	}

	var errs []error
	for _, f := range features {
		if f.Code == "" {
			errs = append(errs, errors.New("feature code is empty"))
			continue
		}
		if _, dup := c.features[f.Code]; dup {
			errs = append(errs, fmt.Errorf("feature %q is defined twice", f.Code))
			continue
		}
		if f.Cycle == "" {
			f.Cycle = CycleForCode(f.Code)
		}
		switch f.Cycle {
		case CycleNone, CycleDaily, CycleMonthly:
		default:
			errs = append(errs, fmt.Errorf("feature %q: invalid cycle %q", f.Code, f.Cycle))
			continue
		}
		c.features[f.Code] = f
	}

	for _, p := range plans {
		if p.ID == "" {
			errs = append(errs, errors.New("plan id is empty"))
			continue
		}
		if _, dup := c.plans[p.ID]; dup {
			errs = append(errs, fmt.Errorf("plan %q is defined twice", p.ID))
			continue
		}
		if p.Type == "" {
			p.Type = PlanTypeBase
		}
		if p.Type != PlanTypeBase && p.Type != PlanTypeBooster {
			errs = append(errs, fmt.Errorf("plan %q: invalid type %q", p.ID, p.Type))
		}
		if p.DurationDays <= 0 {
			errs = append(errs, fmt.Errorf("plan %q: duration must be positive", p.ID))
		}
		for code, limit := range p.Features {
			if _, ok := c.features[code]; !ok {
				errs = append(errs, fmt.Errorf("plan %q: unknown feature %q", p.ID, code))
			}
			if limit < Unlimited {
				errs = append(errs, fmt.Errorf("plan %q: feature %q has invalid limit %d", p.ID, code, limit))
			}
		}
		p.Features = maps.Clone(p.Features)
		if p.Features == nil {
			p.Features = map[FeatureCode]int64{}
		}
		c.plans[p.ID] = p
	}

	if len(errs) > 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.Join(errs...))
	}
	return c, nil
}

func (c *memoryCatalog) Plan(_ context.Context, planID string) (Plan, error) {
	p, ok := c.plans[planID]
	if !ok {
		return Plan{}, errors.Join(ErrPlanNotFound, fmt.Errorf("plan %q", planID))
	}
	p.Features = maps.Clone(p.Features)
	return p, nil
}

func (c *memoryCatalog) Feature(_ context.Context, code FeatureCode) (FeatureDefinition, error) {
	f, ok := c.features[code]
	if !ok {
		return FeatureDefinition{}, errors.Join(ErrUnknownFeature, fmt.Errorf("feature %q", code))
	}
	return f, nil
}

func (c *memoryCatalog) Features(_ context.Context) ([]FeatureDefinition, error) {
	out := slices.Collect(maps.Values(c.features))
	slices.SortFunc(out, func(a, b FeatureDefinition) int {
		return strings.Compare(string(a.Code), string(b.Code))
	})
	return out, nil
}

func (c *memoryCatalog) FeatureLimit(_ context.Context, planID string, code FeatureCode) (int64, error) {
	p, ok := c.plans[planID]
	if !ok {
		return 0, errors.Join(ErrPlanNotFound, fmt.Errorf("plan %q", planID))
	}
	return p.Features[code], nil
}

func (c *memoryCatalog) PlanDuration(_ context.Context, planID string) (int, error) {
	p, ok := c.plans[planID]
	if !ok {
		return 0, errors.Join(ErrPlanNotFound, fmt.Errorf("plan %q", planID))
	}
	return p.DurationDays, nil
}
