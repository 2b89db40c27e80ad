package mongo

import (
	"time"

	"github.com/bwmarrin/snowflake"
	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	usagedomain "github.com/smallbiznis/allocsync/internal/usage/domain"
)

// ==================== Project models ====================

type projectModel struct {
	ID           int64     `bson:"_id"`
	ExternalID   string    `bson:"external_id"`
	Name         string    `bson:"name"`
	Source       string    `bson:"source"`
	NetSeconds   float64   `bson:"net_seconds"`
	Active       bool      `bson:"active"`
	ResourceIDs  []string  `bson:"resource_ids"`
	MemberEmails []string  `bson:"member_emails"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toProjectModel(p *projectdomain.Project) *projectModel {
	return &projectModel{
		ID:           p.ID.Int64(),
		ExternalID:   p.ExternalID,
		Name:         p.Name,
		Source:       string(p.Source),
		NetSeconds:   p.NetSeconds,
		Active:       p.Active,
		ResourceIDs:  nonNil(p.ResourceIDs),
		MemberEmails: nonNil(p.MemberEmails),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func fromProjectModel(m *projectModel) projectdomain.Project {
	return projectdomain.Project{
		ID:           snowflake.ID(m.ID),
		ExternalID:   m.ExternalID,
		Name:         m.Name,
		Source:       projectdomain.Source(m.Source),
		NetSeconds:   m.NetSeconds,
		Active:       m.Active,
		ResourceIDs:  nonNil(m.ResourceIDs),
		MemberEmails: nonNil(m.MemberEmails),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// ==================== Usage models ====================

type rawUsageEventModel struct {
	ID                int64     `bson:"_id"`
	JobID             string    `bson:"job_id"`
	ProjectExternalID string    `bson:"project_external_id"`
	Seconds           float64   `bson:"seconds"`
	Processed         bool      `bson:"processed"`
	CreatedAt         time.Time `bson:"created_at"`
}

func toRawUsageEventModel(e *usagedomain.RawUsageEvent) *rawUsageEventModel {
	return &rawUsageEventModel{
		ID:                e.ID.Int64(),
		JobID:             e.JobID,
		ProjectExternalID: e.ProjectExternalID,
		Seconds:           e.Seconds,
		Processed:         e.Processed,
		CreatedAt:         e.CreatedAt,
	}
}

func fromRawUsageEventModel(m *rawUsageEventModel) usagedomain.RawUsageEvent {
	return usagedomain.RawUsageEvent{
		ID:                snowflake.ID(m.ID),
		JobID:             m.JobID,
		ProjectExternalID: m.ProjectExternalID,
		Seconds:           m.Seconds,
		Processed:         m.Processed,
		CreatedAt:         m.CreatedAt,
	}
}

type processedUsageRecordModel struct {
	ID                int64     `bson:"_id"`
	JobID             string    `bson:"job_id"`
	ProjectExternalID string    `bson:"project_external_id"`
	ResourceID        string    `bson:"resource_id"`
	Month             int       `bson:"month"`
	Year              int       `bson:"year"`
	PlanPeriodID      string    `bson:"plan_period_id"`
	ComponentType     string    `bson:"component_type"`
	Amount            int64     `bson:"amount"`
	Seconds           float64   `bson:"seconds"`
	CreatedAt         time.Time `bson:"created_at"`
}

func toProcessedUsageRecordModel(r *usagedomain.ProcessedUsageRecord) *processedUsageRecordModel {
	return &processedUsageRecordModel{
		ID:                r.ID.Int64(),
		JobID:             r.JobID,
		ProjectExternalID: r.ProjectExternalID,
		ResourceID:        r.ResourceID,
		Month:             r.Month,
		Year:              r.Year,
		PlanPeriodID:      r.PlanPeriodID,
		ComponentType:     r.ComponentType,
		Amount:            r.Amount,
		Seconds:           r.Seconds,
		CreatedAt:         r.CreatedAt,
	}
}

type failedSubmissionModel struct {
	ID            int64     `bson:"_id"`
	PlanPeriodID  string    `bson:"plan_period_id"`
	ComponentType string    `bson:"component_type"`
	Month         int       `bson:"month"`
	Year          int       `bson:"year"`
	Payload       string    `bson:"payload"`
	Reason        string    `bson:"reason"`
	CreatedAt     time.Time `bson:"created_at"`
}

func toFailedSubmissionModel(f *usagedomain.FailedSubmission) *failedSubmissionModel {
	return &failedSubmissionModel{
		ID:            f.ID.Int64(),
		PlanPeriodID:  f.PlanPeriodID,
		ComponentType: f.ComponentType,
		Month:         f.Month,
		Year:          f.Year,
		Payload:       string(f.Payload),
		Reason:        f.Reason,
		CreatedAt:     f.CreatedAt,
	}
}

type aggregateModel struct {
	Key struct {
		PlanPeriodID  string `bson:"plan_period_id"`
		ComponentType string `bson:"component_type"`
	} `bson:"_id"`
	Amount  int64   `bson:"amount"`
	Seconds float64 `bson:"seconds"`
	Records int64   `bson:"records"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
