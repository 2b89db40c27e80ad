package reconcile

import (
	"context"

	"github.com/smallbiznis/allocsync/internal/allocation"
)

// AllocationAPI is the subset of the allocation service used by the sync
// tasks. *allocation.Client implements it.
type AllocationAPI interface {
	ListOrders(ctx context.Context, providerID string, state allocation.OrderState) ([]allocation.Order, error)
	ApproveOrder(ctx context.Context, orderID string) error
	ListResources(ctx context.Context, filter allocation.ResourceFilter) ([]allocation.Resource, error)
	ResourceTeam(ctx context.Context, resourceID string) ([]allocation.TeamMember, error)
	GetOffering(ctx context.Context, offeringID string) (allocation.Offering, error)
	PlanPeriods(ctx context.Context, resourceID string, month, year int) ([]allocation.PlanPeriod, error)
	SubmitUsage(ctx context.Context, report allocation.UsageReport) error
}

var _ AllocationAPI = (*allocation.Client)(nil)
