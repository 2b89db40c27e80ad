package repository

import (
	"context"
	"time"

	projectdomain "github.com/smallbiznis/allocsync/internal/project/domain"
	usagedomain "github.com/smallbiznis/allocsync/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) usagedomain.Repository {
	return &repo{db: db}
}

func (r *repo) InsertRawEvent(ctx context.Context, event *usagedomain.RawUsageEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repo) StreamUnprocessed(ctx context.Context, batchSize int, fn func([]usagedomain.RawUsageEvent) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	var batch []usagedomain.RawUsageEvent
	return r.db.WithContext(ctx).
		Where("processed = ?", false).
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(append([]usagedomain.RawUsageEvent(nil), batch...))
		}).Error
}

func (r *repo) RecordProcessed(ctx context.Context, rec *usagedomain.ProcessedUsageRecord) (bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoNothing: true,
		}).Create(rec)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0

		err := tx.Model(&usagedomain.RawUsageEvent{}).
			Where("job_id = ? AND processed = ?", rec.JobID, false).
			Update("processed", true).Error
		if err != nil {
			return err
		}

		if !applied {
			return nil
		}
		return tx.Model(&projectdomain.Project{}).
			Where("external_id = ?", rec.ProjectExternalID).
			Updates(map[string]any{
				"net_seconds": gorm.Expr("net_seconds - ?", rec.Seconds),
				"updated_at":  rec.CreatedAt,
			}).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *repo) AggregateProcessed(ctx context.Context, month, year int) ([]usagedomain.UsageAggregate, error) {
	var rows []usagedomain.UsageAggregate
	err := r.db.WithContext(ctx).
		Model(&usagedomain.ProcessedUsageRecord{}).
		Select("plan_period_id, component_type, SUM(amount) AS amount, SUM(seconds) AS seconds, COUNT(*) AS records").
		Where("month = ? AND year = ?", month, year).
		Group("plan_period_id, component_type").
		Order("plan_period_id ASC, component_type ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *repo) InsertFailedSubmission(ctx context.Context, failed *usagedomain.FailedSubmission) error {
	if failed.CreatedAt.IsZero() {
		failed.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(failed).Error
}
