// Package domain contains the local project model synchronized with the
// external allocation service.
package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Source string

const (
	SourceInternal Source = "internal"
	SourceExternal Source = "external"
)

// Project holds the compute-time budget of one external project.
type Project struct {
	ID           snowflake.ID                `gorm:"primaryKey"`
	ExternalID   string                      `gorm:"type:varchar(64);not null;uniqueIndex:ux_projects_external_id"`
	Name         string                      `gorm:"type:text;not null;default:''"`
	Source       Source                      `gorm:"type:varchar(16);not null;index:ix_projects_source"`
	NetSeconds   float64                     `gorm:"not null;default:0"`
	Active       bool                        `gorm:"not null;default:false"`
	ResourceIDs  datatypes.JSONSlice[string] `gorm:"type:json"`
	MemberEmails datatypes.JSONSlice[string] `gorm:"type:json"`
	CreatedAt    time.Time                   `gorm:"not null"`
	UpdatedAt    time.Time                   `gorm:"not null"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

func (p *Project) HasResource(resourceID string) bool {
	return slices.Contains(p.ResourceIDs, resourceID)
}

// LinkResources adds ids not yet linked and returns the ones that were new.
func (p *Project) LinkResources(ids []string) []string {
	var added []string
	for _, id := range ids {
		if id == "" || p.HasResource(id) || slices.Contains(added, id) {
			continue
		}
		added = append(added, id)
	}
	p.ResourceIDs = append(p.ResourceIDs, added...)
	return added
}

// Overlaps reports whether any of ids is already linked.
func (p *Project) Overlaps(ids []string) bool {
	for _, id := range ids {
		if p.HasResource(id) {
			return true
		}
	}
	return false
}
