package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/reconcile"
	obslogger "github.com/smallbiznis/allocsync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/allocsync/internal/observability/metrics"
)

type jobRun struct {
	job       string
	runID     string
	timeout   time.Duration
	startedAt time.Time
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.Duration("timeout", run.timeout),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun, report reconcile.Report, err error) {
	fields := []zap.Field{
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", report.Processed),
		zap.Int("skipped_count", report.Skipped),
		zap.Int("error_count", report.Failed),
	}
	log := s.logger(ctx)
	if err != nil {
		log.Error("scheduler.job.finish", append(fields,
			zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
			zap.Error(err),
		)...)
		return
	}
	if report.Failed > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logJobOverran(ctx context.Context, run *jobRun, elapsed time.Duration) {
	s.logger(ctx).Warn("scheduler.job.overran",
		zap.Duration("timeout", run.timeout),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)
}

// logItemErrors writes one line per failed item so operators can follow up on
// a specific order, resource or job id.
func (s *Scheduler) logItemErrors(ctx context.Context, report reconcile.Report) {
	if len(report.Errors) == 0 {
		return
	}
	log := s.logger(ctx)
	for key, err := range report.Errors {
		log.Warn("scheduler.job.item_failed",
			zap.String("item", key),
			zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
			zap.Error(err),
		)
	}
}
