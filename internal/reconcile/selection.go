package reconcile

import (
	"context"
	"fmt"

	"github.com/smallbiznis/allocsync/internal/allocation"
)

// Selection is the resource and component a usage event is billed against.
type Selection struct {
	Resource  allocation.Resource
	Component allocation.Component
}

type componentSource interface {
	component(ctx context.Context, offeringID, componentType string) (allocation.Component, bool, error)
	defaultComponent(ctx context.Context, offeringID string) (allocation.Component, error)
}

// selectComponent picks where seconds of usage are billed:
//
//  1. without limit-based resources, the first usage-based resource with its
//     offering's default component;
//  2. otherwise the first limit-based resource and limit entry, in listed
//     order, whose limit converted to seconds covers the usage;
//  3. failing that, the first usage-based resource, else the first
//     limit-based one, with the default component.
func selectComponent(ctx context.Context, src componentSource, resources []allocation.Resource, seconds float64) (Selection, error) {
	var usageBased, limitBased []allocation.Resource
	for _, res := range resources {
		if res.LimitBased() {
			limitBased = append(limitBased, res)
		} else {
			usageBased = append(usageBased, res)
		}
	}

	if len(limitBased) == 0 {
		if len(usageBased) == 0 {
			return Selection{}, ErrNoResources
		}
		return withDefaultComponent(ctx, src, usageBased[0])
	}

	for _, res := range limitBased {
		for _, entry := range res.Limits {
			comp, ok, err := src.component(ctx, res.OfferingUUID, entry.Type)
			if err != nil {
				return Selection{}, err
			}
			if !ok {
				return Selection{}, fmt.Errorf("offering %s component %q: %w", res.OfferingUUID, entry.Type, ErrComponentNotFound)
			}
			unit, err := comp.Unit()
			if err != nil {
				return Selection{}, err
			}
			if allocation.ToSeconds(entry.Value, unit) >= seconds {
				return Selection{Resource: res, Component: comp}, nil
			}
		}
	}

	if len(usageBased) > 0 {
		return withDefaultComponent(ctx, src, usageBased[0])
	}
	return withDefaultComponent(ctx, src, limitBased[0])
}

func withDefaultComponent(ctx context.Context, src componentSource, res allocation.Resource) (Selection, error) {
	comp, err := src.defaultComponent(ctx, res.OfferingUUID)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Resource: res, Component: comp}, nil
}
