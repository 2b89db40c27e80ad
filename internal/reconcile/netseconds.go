package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/smallbiznis/allocsync/internal/allocation"
)

// limitTotal is the summed limit and usage of one component type across the
// resources of a project.
type limitTotal struct {
	Type       string
	OfferingID string
	Limit      float64
	Usage      float64
}

// aggregateLimits sums same-typed limit and usage entries across resources,
// keeping the order in which each type was first seen. The unit of a type is
// resolved against the offering of the first resource that listed it.
func aggregateLimits(resources []allocation.Resource) []limitTotal {
	var totals []limitTotal
	index := make(map[string]int)
	for _, res := range resources {
		for _, entry := range res.Limits {
			i, ok := index[entry.Type]
			if !ok {
				i = len(totals)
				index[entry.Type] = i
				totals = append(totals, limitTotal{Type: entry.Type, OfferingID: res.OfferingUUID})
			}
			totals[i].Limit += entry.Value
		}
	}
	for _, res := range resources {
		for _, entry := range res.LimitUsage {
			if i, ok := index[entry.Type]; ok {
				totals[i].Usage += entry.Value
			}
		}
	}
	return totals
}

// netSeconds converts the remaining allotment of every component into seconds
// and sums it.
func netSeconds(ctx context.Context, cache *passCache, resources []allocation.Resource) (float64, error) {
	total := decimal.Zero
	for _, t := range aggregateLimits(resources) {
		comp, ok, err := cache.component(ctx, t.OfferingID, t.Type)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("offering %s component %q: %w", t.OfferingID, t.Type, ErrComponentNotFound)
		}
		unit, err := comp.Unit()
		if err != nil {
			return 0, err
		}
		remaining := decimal.NewFromFloat(t.Limit).Sub(decimal.NewFromFloat(t.Usage))
		total = total.Add(remaining.Mul(decimal.NewFromInt(unit.Seconds())))
	}
	return total.InexactFloat64(), nil
}
