// Package cli provides the allocsync command-line interface.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/allocation"
	"github.com/smallbiznis/allocsync/internal/clock"
	"github.com/smallbiznis/allocsync/internal/config"
	"github.com/smallbiznis/allocsync/internal/observability"
	"github.com/smallbiznis/allocsync/internal/reconcile"
	"github.com/smallbiznis/allocsync/internal/scheduler"
	"github.com/smallbiznis/allocsync/internal/store"
)

// Version is set at build time.
var Version = "0.1.0"

var ErrSyncDisabled = errors.New("allocation sync disabled")

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "allocsync",
		Short: "Reconcile local projects and job usage with the allocation service",
		Long: `allocsync keeps local projects, their members and their remaining compute
time in step with an external resource-allocation service, and bills finished
jobs back to it as component usage.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newOnceCommand())
	root.AddCommand(newMigrateCommand())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// baseOptions wires the backend and observability around an already loaded
// config.
func baseOptions(cfg config.Config) []fx.Option {
	return []fx.Option{
		config.Module,
		fx.Replace(cfg),
		observability.Module,
		clock.Module,
		store.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	}
}

// syncOptions adds everything a sync cycle needs.
func syncOptions(cfg config.Config) []fx.Option {
	return append(baseOptions(cfg),
		allocation.Module,
		reconcile.Module,
		scheduler.Module,
	)
}
