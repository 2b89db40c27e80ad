package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) projectdomain.Repository {
	return &repo{db: db}
}

func (r *repo) FindByExternalID(ctx context.Context, externalID string) (*projectdomain.Project, error) {
	var project projectdomain.Project
	err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &project, nil
}

func (r *repo) ListByExternalIDs(ctx context.Context, externalIDs []string) ([]projectdomain.Project, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	var projects []projectdomain.Project
	err := r.db.WithContext(ctx).
		Where("external_id IN ?", externalIDs).
		Order("external_id ASC").
		Find(&projects).Error
	return projects, err
}

func (r *repo) ListBySource(ctx context.Context, source projectdomain.Source) ([]projectdomain.Project, error) {
	var projects []projectdomain.Project
	err := r.db.WithContext(ctx).
		Where("source = ?", source).
		Order("external_id ASC").
		Find(&projects).Error
	return projects, err
}

func (r *repo) Create(ctx context.Context, project *projectdomain.Project) error {
	now := time.Now().UTC()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	project.UpdatedAt = now
	normalizeSlices(project)
	return r.db.WithContext(ctx).Create(project).Error
}

func (r *repo) Save(ctx context.Context, project *projectdomain.Project) error {
	project.UpdatedAt = time.Now().UTC()
	normalizeSlices(project)
	return r.db.WithContext(ctx).
		Model(&projectdomain.Project{}).
		Where("id = ?", project.ID).
		Updates(map[string]any{
			"name":          project.Name,
			"source":        project.Source,
			"net_seconds":   project.NetSeconds,
			"active":        project.Active,
			"resource_ids":  project.ResourceIDs,
			"member_emails": project.MemberEmails,
			"updated_at":    project.UpdatedAt,
		}).Error
}

func (r *repo) SetActive(ctx context.Context, externalID string, active bool) error {
	return r.db.WithContext(ctx).
		Model(&projectdomain.Project{}).
		Where("external_id = ?", externalID).
		Updates(map[string]any{
			"active":     active,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repo) ReplaceMembers(ctx context.Context, members map[string][]string) error {
	if len(members) == 0 {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			emails := members[id]
			if emails == nil {
				emails = []string{}
			}
			err := tx.Model(&projectdomain.Project{}).
				Where("external_id = ?", id).
				Updates(map[string]any{
					"member_emails": datatypes.JSONSlice[string](emails),
					"updated_at":    now,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func normalizeSlices(project *projectdomain.Project) {
	if project.ResourceIDs == nil {
		project.ResourceIDs = datatypes.JSONSlice[string]{}
	}
	if project.MemberEmails == nil {
		project.MemberEmails = datatypes.JSONSlice[string]{}
	}
}
