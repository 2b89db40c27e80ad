package domain

import (
	"context"
	"errors"
)

var ErrProjectNotFound = errors.New("project_not_found")

// Repository persists projects. Implementations exist for gorm and MongoDB.
type Repository interface {
	// FindByExternalID returns nil, nil when no project matches.
	FindByExternalID(ctx context.Context, externalID string) (*Project, error)
	ListByExternalIDs(ctx context.Context, externalIDs []string) ([]Project, error)
	ListBySource(ctx context.Context, source Source) ([]Project, error)
	Create(ctx context.Context, project *Project) error
	Save(ctx context.Context, project *Project) error
	SetActive(ctx context.Context, externalID string, active bool) error
	// ReplaceMembers overwrites the member list of every listed project.
	// Unknown external ids are ignored.
	ReplaceMembers(ctx context.Context, members map[string][]string) error
}
