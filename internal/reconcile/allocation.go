package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/allocation"
	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
)

// AllocationReconciler rewrites the budget and resource set of every project
// from its approved resources.
type AllocationReconciler struct {
	deps Deps
}

func NewAllocationReconciler(d Deps) (*AllocationReconciler, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	d = d.withDefaults()
	d.Log = d.Log.Named("allocation_resync")
	return &AllocationReconciler{deps: d}, nil
}

func (r *AllocationReconciler) Name() string { return TaskAllocationResync }

type projectResources struct {
	projectID string
	resources []allocation.Resource
}

func groupResources(resources []allocation.Resource) []projectResources {
	var groups []projectResources
	index := make(map[string]int)
	for _, res := range resources {
		if res.ProjectUUID == "" || res.UUID == "" {
			continue
		}
		i, ok := index[res.ProjectUUID]
		if !ok {
			i = len(groups)
			index[res.ProjectUUID] = i
			groups = append(groups, projectResources{projectID: res.ProjectUUID})
		}
		groups[i].resources = append(groups[i].resources, res)
	}
	return groups
}

// Run replaces net seconds and resource ids of projects that already share at
// least one resource with the approved set. Projects that are missing or do
// not overlap are reported in the joined error.
func (r *AllocationReconciler) Run(ctx context.Context) (Report, error) {
	report := newReport(TaskAllocationResync)
	d := r.deps

	resources, err := d.API.ListResources(ctx, allocation.ResourceFilter{
		ProviderID: d.ProviderID,
		State:      allocation.ResourceStateOK,
	})
	if err != nil {
		return report, fmt.Errorf("list approved resources: %w", err)
	}
	groups := groupResources(resources)
	if len(groups) == 0 {
		return report, nil
	}

	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.projectID)
	}
	projects, err := d.Projects.ListByExternalIDs(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("load projects: %w", err)
	}
	byID := make(map[string]*projectdomain.Project, len(projects))
	for i := range projects {
		byID[projects[i].ExternalID] = &projects[i]
	}

	cache, err := d.newCache()
	if err != nil {
		return report, err
	}

	var mismatches []error
	for _, g := range groups {
		project, ok := byID[g.projectID]
		if !ok {
			mismatches = append(mismatches, fmt.Errorf("project %s: %w", g.projectID, ErrProjectNotFound))
			report.Skipped++
			continue
		}
		resourceIDs := make([]string, 0, len(g.resources))
		for _, res := range g.resources {
			resourceIDs = append(resourceIDs, res.UUID)
		}
		if !project.Overlaps(resourceIDs) {
			mismatches = append(mismatches, fmt.Errorf("project %s: %w", g.projectID, ErrNoOverlap))
			report.Skipped++
			continue
		}

		net, err := netSeconds(ctx, cache, g.resources)
		if err != nil {
			report.Fail(g.projectID, fmt.Errorf("net seconds: %w", err))
			continue
		}
		previous := project.NetSeconds
		project.ResourceIDs = nil
		project.LinkResources(resourceIDs)
		project.NetSeconds = net
		project.Active = true
		project.UpdatedAt = d.Clock.Now().UTC()
		if err := d.Projects.Save(ctx, project); err != nil {
			report.Fail(g.projectID, fmt.Errorf("save project: %w", err))
			continue
		}
		report.Processed++
		if previous != net {
			d.logger(ctx).Info("project allocation replaced",
				zap.String("project_id", g.projectID),
				zap.Float64("previous_seconds", previous),
				zap.Float64("net_seconds", net),
				zap.Int("resources", len(resourceIDs)),
			)
		}
	}
	return report, errors.Join(mismatches...)
}
