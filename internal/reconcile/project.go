package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/allocation"
	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	"github.com/smallbiznis/allocsync/internal/reconcile/fanout"
)

// ProjectReconciler turns pending provider orders into local projects and
// approves them.
type ProjectReconciler struct {
	deps Deps
}

func NewProjectReconciler(d Deps) (*ProjectReconciler, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if d.GenID == nil {
		return nil, fmt.Errorf("%w: id generator is required", ErrInvalidConfig)
	}
	d = d.withDefaults()
	d.Log = d.Log.Named("project_sync")
	return &ProjectReconciler{deps: d}, nil
}

func (r *ProjectReconciler) Name() string { return TaskProjectSync }

type projectOrders struct {
	projectID string
	orders    []allocation.Order
}

// groupOrders groups orders by project, keeping first-seen order.
func groupOrders(orders []allocation.Order) []projectOrders {
	var groups []projectOrders
	index := make(map[string]int)
	for _, order := range orders {
		if order.ProjectUUID == "" {
			continue
		}
		i, ok := index[order.ProjectUUID]
		if !ok {
			i = len(groups)
			index[order.ProjectUUID] = i
			groups = append(groups, projectOrders{projectID: order.ProjectUUID})
		}
		groups[i].orders = append(groups[i].orders, order)
	}
	return groups
}

// orderResources pairs every order with the resource it creates. Orders whose
// resource is not listed yet contribute their own limits with no usage.
func orderResources(orders []allocation.Order, listed []allocation.Resource) []allocation.Resource {
	byID := make(map[string]allocation.Resource, len(listed))
	for _, res := range listed {
		byID[res.UUID] = res
	}
	out := make([]allocation.Resource, 0, len(orders))
	seen := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		if _, dup := seen[order.ResourceUUID]; dup {
			continue
		}
		seen[order.ResourceUUID] = struct{}{}
		if res, ok := byID[order.ResourceUUID]; ok {
			out = append(out, res)
			continue
		}
		out = append(out, allocation.Resource{
			UUID:         order.ResourceUUID,
			ProjectUUID:  order.ProjectUUID,
			OfferingUUID: order.OfferingUUID,
			State:        allocation.ResourceStateCreating,
			PlanUnit:     order.PlanUnit,
			Limits:       order.Limits.Clone(),
		})
	}
	return out
}

func (r *ProjectReconciler) Run(ctx context.Context) (Report, error) {
	report := newReport(TaskProjectSync)
	d := r.deps
	log := d.logger(ctx)

	orders, err := d.API.ListOrders(ctx, d.ProviderID, allocation.OrderStatePendingProvider)
	if err != nil {
		return report, fmt.Errorf("list pending orders: %w", err)
	}
	if len(orders) == 0 {
		log.Debug("no pending orders")
		return report, nil
	}

	cache, err := d.newCache()
	if err != nil {
		return report, err
	}
	width := d.tuning().FanOutWidth
	groups := groupOrders(orders)

	listed := fanout.Map(ctx, width, groups, func(ctx context.Context, g projectOrders) ([]allocation.Resource, error) {
		return d.API.ListResources(ctx, allocation.ResourceFilter{
			ProviderID: d.ProviderID,
			ProjectID:  g.projectID,
			State:      allocation.ResourceStateCreating,
		})
	})

	var approvals []allocation.Order
	for i, g := range groups {
		if err := listed[i].Err; err != nil {
			report.Fail(g.projectID, fmt.Errorf("list creating resources: %w", err))
			continue
		}
		resources := orderResources(g.orders, listed[i].Value)
		if err := r.upsertProject(ctx, cache, g.projectID, resources); err != nil {
			report.Fail(g.projectID, err)
			continue
		}
		approvals = append(approvals, g.orders...)
	}

	approved := fanout.Map(ctx, width, approvals, func(ctx context.Context, order allocation.Order) (struct{}, error) {
		return struct{}{}, d.API.ApproveOrder(ctx, order.UUID)
	})

	pending := make(map[string]bool)
	for i, order := range approvals {
		if _, ok := pending[order.ProjectUUID]; !ok {
			pending[order.ProjectUUID] = false
		}
		if err := approved[i].Err; err != nil {
			pending[order.ProjectUUID] = true
			report.Fail(order.UUID, fmt.Errorf("approve order: %w", err))
			continue
		}
		report.Processed++
	}

	for _, g := range groups {
		stillPending, ok := pending[g.projectID]
		if !ok {
			continue
		}
		if stillPending {
			log.Info("project left inactive, approvals pending", zap.String("project_id", g.projectID))
			report.Skipped++
			continue
		}
		if err := d.Projects.SetActive(ctx, g.projectID, true); err != nil {
			report.Fail(g.projectID, fmt.Errorf("activate project: %w", err))
		}
	}
	return report, nil
}

// upsertProject links resources to the project and credits the net seconds
// of the ones that were not linked before.
func (r *ProjectReconciler) upsertProject(ctx context.Context, cache *passCache, projectID string, resources []allocation.Resource) error {
	d := r.deps
	project, err := d.Projects.FindByExternalID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("find project: %w", err)
	}

	created := project == nil
	if created {
		now := d.Clock.Now().UTC()
		project = &projectdomain.Project{
			ID:         d.GenID.Generate(),
			ExternalID: projectID,
			Name:       projectName(resources),
			Source:     projectdomain.SourceExternal,
			Active:     false,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	var fresh []allocation.Resource
	for _, res := range resources {
		if res.UUID != "" && !project.HasResource(res.UUID) {
			fresh = append(fresh, res)
		}
	}
	if len(fresh) == 0 && !created {
		return nil
	}

	credit, err := netSeconds(ctx, cache, fresh)
	if err != nil {
		return fmt.Errorf("net seconds: %w", err)
	}
	ids := make([]string, 0, len(fresh))
	for _, res := range fresh {
		ids = append(ids, res.UUID)
	}
	project.LinkResources(ids)
	project.NetSeconds += credit
	project.UpdatedAt = d.Clock.Now().UTC()

	if created {
		if err := d.Projects.Create(ctx, project); err != nil {
			return fmt.Errorf("create project: %w", err)
		}
	} else if err := d.Projects.Save(ctx, project); err != nil {
		return fmt.Errorf("save project: %w", err)
	}

	d.logger(ctx).Info("project linked resources",
		zap.String("project_id", projectID),
		zap.Bool("created", created),
		zap.Strings("resource_ids", ids),
		zap.Float64("credited_seconds", credit),
	)
	return nil
}

// projectName reads the project name the allocation service attaches to
// resources, if any.
func projectName(resources []allocation.Resource) string {
	for _, res := range resources {
		raw, ok := res.Extra["project_name"]
		if !ok {
			continue
		}
		var name string
		if err := json.Unmarshal(raw, &name); err == nil && name != "" {
			return name
		}
	}
	return ""
}
