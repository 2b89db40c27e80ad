package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/clock"
	"github.com/smallbiznis/allocsync/internal/config"
	obslogger "github.com/smallbiznis/allocsync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/allocsync/internal/observability/metrics"
	"github.com/smallbiznis/allocsync/internal/observability/tracing"
	"github.com/smallbiznis/allocsync/internal/reconcile"
	"github.com/smallbiznis/allocsync/internal/reconcile/fanout"
)

var ErrInvalidConfig = errors.New("invalid scheduler config")

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Tuning  *config.TuningHolder
	Metrics *obsmetrics.SyncMetrics `optional:"true"`
	Lock    *PassLock               `optional:"true"`
	Config  Config                  `optional:"true"`

	ProjectSync      *reconcile.ProjectReconciler
	UserSync         *reconcile.UserListReconciler
	AllocationResync *reconcile.AllocationReconciler
	UsageAccounting  *reconcile.UsageAccountingPipeline
}

// Tasks are the steps of one cycle, run in field order.
type Tasks struct {
	ProjectSync      reconcile.Task
	UserSync         reconcile.Task
	AllocationResync reconcile.Task
	UsageAccounting  reconcile.Task
}

// Scheduler drives the sync cycle. Tasks never interleave.
type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	tuning  *config.TuningHolder
	metrics *obsmetrics.SyncMetrics
	lock    passLocker
	tasks   Tasks

	// resyncDue alternates allocation_resync between cycles, starting with
	// the first one.
	resyncDue bool
}

func New(p Params) (*Scheduler, error) {
	if p.ProjectSync == nil || p.UserSync == nil || p.AllocationResync == nil || p.UsageAccounting == nil {
		return nil, ErrInvalidConfig
	}
	tasks := Tasks{
		ProjectSync:      p.ProjectSync,
		UserSync:         p.UserSync,
		AllocationResync: p.AllocationResync,
		UsageAccounting:  p.UsageAccounting,
	}
	var lock passLocker
	if p.Lock != nil {
		lock = p.Lock
	}
	return newScheduler(p.Log, p.Config, p.Clock, p.Tuning, p.Metrics, lock, tasks)
}

func newScheduler(
	log *zap.Logger,
	cfg Config,
	clk clock.Clock,
	tuning *config.TuningHolder,
	m *obsmetrics.SyncMetrics,
	lock passLocker,
	tasks Tasks,
) (*Scheduler, error) {
	if log == nil || clk == nil {
		return nil, ErrInvalidConfig
	}
	if tasks.ProjectSync == nil || tasks.UserSync == nil || tasks.AllocationResync == nil || tasks.UsageAccounting == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       cfg.withDefaults(),
		clock:     clk,
		tuning:    tuning,
		metrics:   m,
		lock:      lock,
		tasks:     tasks,
		resyncDue: true,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, task reconcile.Task, timeout time.Duration) (err error) {
	name := task.Name()
	run := &jobRun{
		job:       name,
		runID:     ulid.Make().String(),
		timeout:   timeout,
		startedAt: s.clock.Now(),
	}

	// the budget is observed, not enforced; tasks always run to completion
	ctx := obslogger.WithRun(parent, name, run.runID)
	ctx, span := tracing.StartJob(ctx, name, run.runID)

	s.metrics.IncJobRun(name)
	s.logJobStart(ctx, run)

	var report reconcile.Report
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			s.metrics.IncJobPanic(name)
			err = &fanout.PanicError{Value: r, Stack: stack}
			s.logger(ctx).Error("scheduler.job.panic",
				zap.Any("panic", r),
				zap.ByteString("stack", stack),
			)
		}

		elapsed := s.clock.Now().Sub(run.startedAt)
		s.metrics.ObserveJobDuration(name, elapsed)
		if run.timeout > 0 && elapsed > run.timeout {
			s.metrics.IncJobTimeout(name)
			s.logJobOverran(ctx, run, elapsed)
		}
		s.metrics.AddItems(name, obsmetrics.ItemOutcomeProcessed, report.Processed)
		s.metrics.AddItems(name, obsmetrics.ItemOutcomeSkipped, report.Skipped)
		s.metrics.AddItems(name, obsmetrics.ItemOutcomeFailed, report.Failed)
		s.logItemErrors(ctx, report)
		s.logJobFinish(ctx, run, report, err)
		tracing.EndJob(span, report.Processed, report.Skipped, report.Failed, err)

		if err == nil {
			return
		}
		// a caller deadline or cancellation; the work is picked up next cycle
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.metrics.IncJobError(name, err)
			err = nil
			return
		}
		if !isPanic(err) {
			s.metrics.IncJobError(name, err)
		}
		err = fmt.Errorf("%s: %w", name, err)
	}()

	report, err = task.Run(ctx)
	return err
}

func isPanic(err error) bool {
	var panicErr *fanout.PanicError
	return errors.As(err, &panicErr)
}

// RunOnce runs a single cycle. With a pass lock configured, the cycle is
// skipped when another replica holds it.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.lock != nil {
		token, ok, err := s.lock.TryLock(ctx)
		if err != nil {
			s.metrics.IncCycle(obsmetrics.CycleOutcomeLockErr)
			s.log.Warn("scheduler.cycle.lock_failed", zap.Error(err))
			return fmt.Errorf("acquire pass lock: %w", err)
		}
		if !ok {
			s.metrics.IncCycle(obsmetrics.CycleOutcomeLocked)
			s.log.Info("scheduler.cycle.skipped", zap.String("reason", "pass lock held elsewhere"))
			return nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), token); err != nil {
				s.log.Warn("scheduler.cycle.unlock_failed", zap.Error(err))
			}
		}()
	}

	s.metrics.IncCycle(obsmetrics.CycleOutcomeRan)
	tuning := s.tuning.Get()

	var err error
	err = errors.Join(err, s.runJob(ctx, s.tasks.ProjectSync, tuning.JobTimeout))
	err = errors.Join(err, s.runJob(ctx, s.tasks.UserSync, tuning.JobTimeout))
	if s.resyncDue {
		err = errors.Join(err, s.runJob(ctx, s.tasks.AllocationResync, tuning.JobTimeout))
	}
	s.resyncDue = !s.resyncDue
	err = errors.Join(err, s.runJob(ctx, s.tasks.UsageAccounting, tuning.AccountingTimeout))
	return err
}

// RunForever runs cycles until ctx is cancelled. A pass in progress always
// completes; ctx is only checked between cycles.
func (s *Scheduler) RunForever(ctx context.Context) {
	nextRun := s.clock.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		s.metrics.ObserveRunLoopLag(s.clock.Now().Sub(nextRun))

		if err := s.RunOnce(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = s.clock.Now().Add(s.cfg.Interval)

		if !s.sleep(ctx, s.cfg.Interval) {
			s.log.Info("scheduler stopped")
			return
		}
	}
}

// sleep waits d in one second steps and reports false once ctx is done.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	for d > 0 {
		if ctx.Err() != nil {
			return false
		}
		step := min(time.Second, d)
		select {
		case <-ctx.Done():
			return false
		case <-s.clock.After(step):
		}
		d -= step
	}
	return ctx.Err() == nil
}
