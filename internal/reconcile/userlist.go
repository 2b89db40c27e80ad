package reconcile

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/allocation"
	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	"github.com/smallbiznis/allocsync/internal/reconcile/fanout"
)

// UserListReconciler mirrors the team members of approved resources onto the
// member list of their project.
type UserListReconciler struct {
	deps Deps
}

func NewUserListReconciler(d Deps) (*UserListReconciler, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	d = d.withDefaults()
	d.Log = d.Log.Named("user_sync")
	return &UserListReconciler{deps: d}, nil
}

func (r *UserListReconciler) Name() string { return TaskUserSync }

func (r *UserListReconciler) Run(ctx context.Context) (Report, error) {
	report := newReport(TaskUserSync)
	d := r.deps

	resources, err := d.API.ListResources(ctx, allocation.ResourceFilter{
		ProviderID: d.ProviderID,
		State:      allocation.ResourceStateOK,
	})
	if err != nil {
		return report, fmt.Errorf("list approved resources: %w", err)
	}

	teams := fanout.Map(ctx, d.tuning().FanOutWidth, resources, func(ctx context.Context, res allocation.Resource) ([]allocation.TeamMember, error) {
		return d.API.ResourceTeam(ctx, res.UUID)
	})

	members := make(map[string][]string)
	failed := make(map[string]bool)
	for i, res := range resources {
		if res.ProjectUUID == "" {
			continue
		}
		if err := teams[i].Err; err != nil {
			failed[res.ProjectUUID] = true
			report.Fail(res.UUID, fmt.Errorf("resource team: %w", err))
			continue
		}
		members[res.ProjectUUID] = append(members[res.ProjectUUID], allocation.Emails(teams[i].Value)...)
	}

	replace := make(map[string][]string, len(members))
	for projectID, emails := range members {
		if failed[projectID] {
			continue
		}
		slices.Sort(emails)
		replace[projectID] = slices.Compact(emails)
	}

	external, err := d.Projects.ListBySource(ctx, projectdomain.SourceExternal)
	if err != nil {
		report.Fail("projects", fmt.Errorf("list external projects: %w", err))
	}
	for _, project := range external {
		if _, ok := replace[project.ExternalID]; ok || failed[project.ExternalID] {
			continue
		}
		if len(project.MemberEmails) == 0 {
			continue
		}
		replace[project.ExternalID] = []string{}
	}

	for projectID := range failed {
		report.Skipped++
		d.logger(ctx).Warn("member list left untouched", zap.String("project_id", projectID))
	}
	if len(replace) == 0 {
		return report, nil
	}
	if err := d.Projects.ReplaceMembers(ctx, replace); err != nil {
		return report, fmt.Errorf("replace members: %w", err)
	}
	report.Processed = len(replace)
	return report, nil
}
