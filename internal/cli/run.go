package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/smallbiznis/allocsync/internal/config"
	"github.com/smallbiznis/allocsync/internal/scheduler"
	"github.com/smallbiznis/allocsync/internal/server"
)

// passStopTimeout bounds how long shutdown waits for the pass in progress.
const passStopTimeout = 30 * time.Minute

func newRunCommand() *cobra.Command {
	var ignoreDisabled bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync loop until interrupted",
		Long: `Run the sync loop until SIGINT or SIGTERM.

A pass in progress always completes before the process exits. Health and
metrics endpoints are served on HTTP_ADDR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if !cfg.Sync.Enabled {
				if ignoreDisabled {
					fmt.Fprintln(cmd.ErrOrStderr(), ErrSyncDisabled.Error())
					return nil
				}
				return ErrSyncDisabled
			}

			app := fx.New(append(syncOptions(cfg),
				server.Module,
				fx.Invoke(scheduler.Start),
				fx.StopTimeout(passStopTimeout),
			)...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignoreDisabled, "ignore-disabled", false, "exit successfully when SYNC_ENABLED is false")
	return cmd
}
