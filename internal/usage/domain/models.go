// Package domain contains persistence models for job usage accounting.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RawUsageEvent is written by the job-completion handler when a job finishes.
// Accounting only ever flips Processed from false to true.
type RawUsageEvent struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	JobID             string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_raw_usage_events_job_id"`
	ProjectExternalID string       `gorm:"type:varchar(64);not null;index:ix_raw_usage_events_project"`
	Seconds           float64      `gorm:"not null"`
	Processed         bool         `gorm:"not null;default:false;index:ix_raw_usage_events_processed"`
	CreatedAt         time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (RawUsageEvent) TableName() string { return "raw_usage_events" }

// ProcessedUsageRecord is the billed form of one raw event. Immutable.
type ProcessedUsageRecord struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	JobID             string       `gorm:"type:varchar(128);not null;uniqueIndex:ux_processed_usage_records_job_id"`
	ProjectExternalID string       `gorm:"type:varchar(64);not null"`
	ResourceID        string       `gorm:"type:varchar(64);not null"`
	Month             int          `gorm:"not null;index:ix_processed_usage_records_period,priority:2"`
	Year              int          `gorm:"not null;index:ix_processed_usage_records_period,priority:1"`
	PlanPeriodID      string       `gorm:"type:varchar(64);not null"`
	ComponentType     string       `gorm:"type:varchar(128);not null"`
	Amount            int64        `gorm:"not null"`
	Seconds           float64      `gorm:"not null"`
	CreatedAt         time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (ProcessedUsageRecord) TableName() string { return "processed_usage_records" }

// FailedSubmission keeps a usage report the allocation service rejected so it
// can be remediated out of band.
type FailedSubmission struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	PlanPeriodID  string         `gorm:"type:varchar(64);not null"`
	ComponentType string         `gorm:"type:varchar(128);not null"`
	Month         int            `gorm:"not null"`
	Year          int            `gorm:"not null"`
	Payload       datatypes.JSON `gorm:"type:json;not null"`
	Reason        string         `gorm:"type:text;not null"`
	CreatedAt     time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (FailedSubmission) TableName() string { return "failed_submissions" }

// UsageAggregate is the sum of processed records sharing a plan period and
// component type.
type UsageAggregate struct {
	PlanPeriodID  string
	ComponentType string
	Amount        int64
	Seconds       float64
	Records       int64
}
