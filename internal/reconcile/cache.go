package reconcile

import (
	"context"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/smallbiznis/allocsync/internal/allocation"
)

// passCache memoizes allocation lookups for the duration of one task run.
// Concurrent misses on the same key share one upstream call.
type passCache struct {
	api        AllocationAPI
	providerID string

	offerings  *lru.Cache[string, allocation.Offering]
	components *lru.Cache[string, allocation.Component]
	resources  *lru.Cache[string, []allocation.Resource]
	periods    *lru.Cache[string, []allocation.PlanPeriod]
	group      singleflight.Group
}

func newPassCache(api AllocationAPI, providerID string, resourceSize, componentSize int) (*passCache, error) {
	if resourceSize <= 0 {
		resourceSize = 256
	}
	if componentSize <= 0 {
		componentSize = 512
	}
	offerings, err := lru.New[string, allocation.Offering](componentSize)
	if err != nil {
		return nil, err
	}
	components, err := lru.New[string, allocation.Component](componentSize)
	if err != nil {
		return nil, err
	}
	resources, err := lru.New[string, []allocation.Resource](resourceSize)
	if err != nil {
		return nil, err
	}
	periods, err := lru.New[string, []allocation.PlanPeriod](resourceSize)
	if err != nil {
		return nil, err
	}
	return &passCache{
		api:        api,
		providerID: providerID,
		offerings:  offerings,
		components: components,
		resources:  resources,
		periods:    periods,
	}, nil
}

func cached[V any](c *passCache, cache *lru.Cache[string, V], key string, load func() (V, error)) (V, error) {
	if value, ok := cache.Get(key); ok {
		return value, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if value, ok := cache.Get(key); ok {
			return value, nil
		}
		value, err := load()
		if err != nil {
			return nil, err
		}
		cache.Add(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *passCache) offering(ctx context.Context, offeringID string) (allocation.Offering, error) {
	return cached(c, c.offerings, "offering|"+offeringID, func() (allocation.Offering, error) {
		offering, err := c.api.GetOffering(ctx, offeringID)
		if err != nil {
			return allocation.Offering{}, fmt.Errorf("get offering %s: %w", offeringID, err)
		}
		return offering, nil
	})
}

// component returns the descriptor of componentType in the offering. ok is
// false when the offering does not define it.
func (c *passCache) component(ctx context.Context, offeringID, componentType string) (allocation.Component, bool, error) {
	key := "component|" + offeringID + "|" + componentType
	if comp, ok := c.components.Get(key); ok {
		return comp, true, nil
	}
	offering, err := c.offering(ctx, offeringID)
	if err != nil {
		return allocation.Component{}, false, err
	}
	comp, ok := offering.Component(componentType)
	if !ok {
		return allocation.Component{}, false, nil
	}
	c.components.Add(key, comp)
	return comp, true, nil
}

func (c *passCache) defaultComponent(ctx context.Context, offeringID string) (allocation.Component, error) {
	offering, err := c.offering(ctx, offeringID)
	if err != nil {
		return allocation.Component{}, err
	}
	comp, ok := offering.DefaultComponent()
	if !ok {
		return allocation.Component{}, fmt.Errorf("offering %s: %w", offeringID, ErrComponentNotFound)
	}
	return comp, nil
}

// projectResources lists the approved resources of a project.
func (c *passCache) projectResources(ctx context.Context, projectID string) ([]allocation.Resource, error) {
	return cached(c, c.resources, "resources|"+projectID, func() ([]allocation.Resource, error) {
		resources, err := c.api.ListResources(ctx, allocation.ResourceFilter{
			ProviderID: c.providerID,
			ProjectID:  projectID,
			State:      allocation.ResourceStateOK,
		})
		if err != nil {
			return nil, fmt.Errorf("list resources of project %s: %w", projectID, err)
		}
		return resources, nil
	})
}

func (c *passCache) planPeriods(ctx context.Context, resourceID string, month, year int) ([]allocation.PlanPeriod, error) {
	key := "periods|" + resourceID + "|" + strconv.Itoa(year) + "-" + strconv.Itoa(month)
	return cached(c, c.periods, key, func() ([]allocation.PlanPeriod, error) {
		periods, err := c.api.PlanPeriods(ctx, resourceID, month, year)
		if err != nil {
			return nil, fmt.Errorf("plan periods of resource %s: %w", resourceID, err)
		}
		return periods, nil
	})
}
