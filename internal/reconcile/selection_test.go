package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/allocsync/internal/allocation"
)

func newSelectionCache(t *testing.T, offerings ...allocation.Offering) *passCache {
	t.Helper()
	api := newFakeAPI()
	for _, o := range offerings {
		api.offerings[o.UUID] = o
	}
	cache, err := newPassCache(api, testProvider, 8, 8)
	require.NoError(t, err)
	return cache
}

func limitResource(id, offering string, limits allocation.Limits) allocation.Resource {
	return allocation.Resource{UUID: id, ProjectUUID: "p1", OfferingUUID: offering, State: allocation.ResourceStateOK, Limits: limits}
}

func TestSelectShortJobAgainstHourLimit(t *testing.T) {
	cache := newSelectionCache(t, hourOffering("off-1"))
	resources := []allocation.Resource{
		limitResource("r1", "off-1", allocation.Limits{{Type: "pre-paid", Value: 1}}),
	}

	sel, err := selectComponent(context.Background(), cache, resources, 2.24)
	require.NoError(t, err)
	assert.Equal(t, "r1", sel.Resource.UUID)
	assert.Equal(t, "pre-paid", sel.Component.Type)

	unit, err := sel.Component.Unit()
	require.NoError(t, err)
	assert.Equal(t, int64(1), allocation.ComponentAmount(2.24, unit))
}

func TestSelectUsageBasedOnly(t *testing.T) {
	cache := newSelectionCache(t, hourOffering("off-1"))
	resources := []allocation.Resource{
		limitResource("u1", "off-1", nil),
		limitResource("u2", "off-1", nil),
	}

	sel, err := selectComponent(context.Background(), cache, resources, 10_000)
	require.NoError(t, err)
	assert.Equal(t, "u1", sel.Resource.UUID)
	assert.Equal(t, "metered", sel.Component.Type)
}

func TestSelectFirstFitFollowsListedOrder(t *testing.T) {
	offering := allocation.Offering{
		UUID: "off-2",
		Components: []allocation.Component{
			{Type: "small", MeasuredUnit: "minute", BillingType: allocation.BillingTypeLimit},
			{Type: "big", MeasuredUnit: "hour", BillingType: allocation.BillingTypeLimit},
			{Type: "huge", MeasuredUnit: "day", BillingType: allocation.BillingTypeLimit},
		},
	}
	cache := newSelectionCache(t, offering)
	resources := []allocation.Resource{
		limitResource("r1", "off-2", allocation.Limits{{Type: "small", Value: 1}, {Type: "big", Value: 1}}),
		limitResource("r2", "off-2", allocation.Limits{{Type: "huge", Value: 30}}),
	}

	for i := 0; i < 5; i++ {
		sel, err := selectComponent(context.Background(), cache, resources, 120)
		require.NoError(t, err)
		assert.Equal(t, "r1", sel.Resource.UUID)
		assert.Equal(t, "big", sel.Component.Type)
	}

	sel, err := selectComponent(context.Background(), cache, resources, 30)
	require.NoError(t, err)
	assert.Equal(t, "small", sel.Component.Type)

	sel, err = selectComponent(context.Background(), cache, resources, 7200)
	require.NoError(t, err)
	assert.Equal(t, "r2", sel.Resource.UUID)
	assert.Equal(t, "huge", sel.Component.Type)
}

func TestSelectFallsBackWhenNothingFits(t *testing.T) {
	cache := newSelectionCache(t, hourOffering("off-1"))
	limited := limitResource("r1", "off-1", allocation.Limits{{Type: "pre-paid", Value: 1}})
	usage := limitResource("u1", "off-1", nil)

	sel, err := selectComponent(context.Background(), cache, []allocation.Resource{limited, usage}, 7200)
	require.NoError(t, err)
	assert.Equal(t, "u1", sel.Resource.UUID)
	assert.Equal(t, "metered", sel.Component.Type)

	sel, err = selectComponent(context.Background(), cache, []allocation.Resource{limited}, 7200)
	require.NoError(t, err)
	assert.Equal(t, "r1", sel.Resource.UUID)
	assert.Equal(t, "metered", sel.Component.Type)
}

func TestSelectDataErrors(t *testing.T) {
	cache := newSelectionCache(t, hourOffering("off-1"))

	_, err := selectComponent(context.Background(), cache, nil, 1)
	assert.ErrorIs(t, err, ErrNoResources)

	_, err = selectComponent(context.Background(), cache, []allocation.Resource{
		limitResource("r1", "off-1", allocation.Limits{{Type: "gpu", Value: 1}}),
	}, 1)
	assert.ErrorIs(t, err, ErrComponentNotFound)

	_, err = selectComponent(context.Background(), cache, []allocation.Resource{
		limitResource("r1", "missing", nil),
	}, 1)
	assert.ErrorIs(t, err, allocation.ErrNotFound)
}

func TestAggregateLimitsSumsSameType(t *testing.T) {
	totals := aggregateLimits([]allocation.Resource{
		{UUID: "r1", OfferingUUID: "off-1", Limits: allocation.Limits{{Type: "pre-paid", Value: 10}}},
		{UUID: "r2", OfferingUUID: "off-1", Limits: allocation.Limits{{Type: "pre-paid", Value: 20}, {Type: "metered", Value: 5}},
			LimitUsage: allocation.Limits{{Type: "pre-paid", Value: 4}, {Type: "unknown", Value: 9}}},
	})

	require.Len(t, totals, 2)
	assert.Equal(t, limitTotal{Type: "pre-paid", OfferingID: "off-1", Limit: 30, Usage: 4}, totals[0])
	assert.Equal(t, "metered", totals[1].Type)
}

func TestNetSeconds(t *testing.T) {
	cache := newSelectionCache(t, hourOffering("off-1"))
	net, err := netSeconds(context.Background(), cache, []allocation.Resource{
		{UUID: "r1", OfferingUUID: "off-1", Limits: allocation.Limits{{Type: "pre-paid", Value: 10}}, LimitUsage: allocation.Limits{{Type: "pre-paid", Value: 2.5}}},
		{UUID: "r2", OfferingUUID: "off-1", Limits: allocation.Limits{{Type: "metered", Value: 30}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7.5*3600+30*60, net)
}

func TestPassCacheCollapsesLookups(t *testing.T) {
	api := newFakeAPI()
	api.offerings["off-1"] = hourOffering("off-1")
	cache, err := newPassCache(api, testProvider, 8, 8)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, ok, err := cache.component(context.Background(), "off-1", "pre-paid")
		require.NoError(t, err)
		assert.True(t, ok)
		_, err = cache.defaultComponent(context.Background(), "off-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, api.count(allocation.OpGetOffering))
}
