package cli

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/config"
	"github.com/smallbiznis/allocsync/internal/observability/metrics"
	"github.com/smallbiznis/allocsync/internal/scheduler"
)

const lifecycleTimeout = 30 * time.Second

func newOnceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()

			var (
				sched  *scheduler.Scheduler
				pusher metrics.Pusher
				log    *zap.Logger
			)
			app := fx.New(append(syncOptions(cfg), fx.Populate(&sched, &pusher, &log))...)
			if err := app.Err(); err != nil {
				return err
			}
			return withApp(cmd.Context(), app, func(ctx context.Context) error {
				runErr := sched.RunOnce(ctx)
				if pusher != nil {
					pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lifecycleTimeout)
					defer cancel()
					if err := pusher.Push(pushCtx, prometheus.DefaultGatherer); err != nil {
						log.Warn("metrics push failed", zap.Error(err))
					}
				}
				return runErr
			})
		},
	}
}

// withApp starts app, runs fn and stops app, returning the first error.
func withApp(parent context.Context, app *fx.App, fn func(ctx context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}
	startCtx, cancel := context.WithTimeout(parent, lifecycleTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(parent)

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(parent), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
